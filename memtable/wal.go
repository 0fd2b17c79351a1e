package memtable

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrCorruptedWAL is returned when a WAL record fails its checksum.
var ErrCorruptedWAL = errors.New("memtable: corrupted WAL record")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// A record is [crc32c u32][flags u8][keyLen u32][valLen u32][key][value];
// the checksum covers everything after itself.
const walHeaderSize = 4 + 1 + 4 + 4

const flagTombstone = 1

type WALEntry struct {
	Key       string
	Value     []byte
	Tombstone bool
}

type Wal struct {
	mu     sync.Mutex
	writer *os.File
	dir    string
	path   string
}

func NewWal(dir, filename string) (*Wal, error) {
	w := &Wal{
		dir:  dir,
		path: filepath.Join(dir, filename),
	}
	return w, w.Open()
}

func (w *Wal) Open() error {
	file, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("WAL %q cannot open file: %w", w.path, err)
	}

	w.writer = file
	return nil
}

func encodeRecord(entry WALEntry) []byte {
	buf := make([]byte, walHeaderSize, walHeaderSize+len(entry.Key)+len(entry.Value))
	if entry.Tombstone {
		buf[4] = flagTombstone
	}
	binary.LittleEndian.PutUint32(buf[5:], uint32(len(entry.Key)))
	binary.LittleEndian.PutUint32(buf[9:], uint32(len(entry.Value)))
	buf = append(buf, entry.Key...)
	buf = append(buf, entry.Value...)
	binary.LittleEndian.PutUint32(buf[0:], crc32.Checksum(buf[4:], castagnoli))
	return buf
}

func (w *Wal) Append(entry WALEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, err := w.writer.Write(encodeRecord(entry))
	return err
}

// Sync flushes appended records to stable storage.
func (w *Wal) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.writer.Sync()
}

// Retrieve replays the log in append order. A torn record at the tail is
// dropped; a checksum failure before the tail is an error.
func (w *Wal) Retrieve() ([]WALEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.Open(w.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	remaining := info.Size()

	r := bufio.NewReader(file)
	var entries []WALEntry
	header := make([]byte, walHeaderSize)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return entries, nil
			}
			return nil, err
		}
		remaining -= walHeaderSize
		keyLen := binary.LittleEndian.Uint32(header[5:])
		valLen := binary.LittleEndian.Uint32(header[9:])
		bodyLen := int64(keyLen) + int64(valLen)
		if bodyLen > remaining {
			// Lengths past the end of the file only come from a torn header.
			return entries, nil
		}
		remaining -= bodyLen
		body := make([]byte, bodyLen)
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return entries, nil
			}
			return nil, err
		}

		sum := crc32.Update(crc32.Checksum(header[4:], castagnoli), castagnoli, body)
		if sum != binary.LittleEndian.Uint32(header[0:]) {
			return nil, fmt.Errorf("%w in %s after %d records", ErrCorruptedWAL, w.path, len(entries))
		}

		entries = append(entries, WALEntry{
			Key:       string(body[:keyLen]),
			Value:     body[keyLen:],
			Tombstone: header[4]&flagTombstone != 0,
		})
	}
}

func (w *Wal) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.writer.Truncate(0)
}

func (w *Wal) Close() error {
	return w.writer.Close()
}

// Delete closes the log and removes its file.
func (w *Wal) Delete() error {
	w.writer.Close()
	return os.Remove(w.path)
}
