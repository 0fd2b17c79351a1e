package sstable

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

const (
	manifestName  = "MANIFEST"
	manifestMagic = uint64(0x4E564D4D414E4946)
)

var (
	castagnoli = crc32.MakeTable(crc32.Castagnoli)

	// ErrCorruptedManifest is returned when the manifest fails its checksum
	// or does not parse.
	ErrCorruptedManifest = errors.New("sstable: corrupted manifest")
)

// Manifest lists the live tables of a store directory.
type Manifest struct {
	ID         uuid.UUID
	NextFileID uint64
	FileIDs    []uint64
}

func newManifest() *Manifest {
	return &Manifest{ID: uuid.New(), NextFileID: 1}
}

func tableFileName(fileID uint64) string {
	return fmt.Sprintf("%06d.sst", fileID)
}

// encode lays the manifest out as
// [magic u64][uuid 16][next u64][count u32][ids u64...][crc32c u32].
func (m *Manifest) encode() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, manifestMagic)
	buf.Write(m.ID[:])
	binary.Write(buf, binary.LittleEndian, m.NextFileID)
	binary.Write(buf, binary.LittleEndian, uint32(len(m.FileIDs)))
	for _, id := range m.FileIDs {
		binary.Write(buf, binary.LittleEndian, id)
	}
	binary.Write(buf, binary.LittleEndian, crc32.Checksum(buf.Bytes(), castagnoli))
	return buf.Bytes()
}

func decodeManifest(data []byte) (*Manifest, error) {
	const fixed = 8 + 16 + 8 + 4 + 4
	if len(data) < fixed {
		return nil, ErrCorruptedManifest
	}
	body, sum := data[:len(data)-4], binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.Checksum(body, castagnoli) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptedManifest)
	}
	if binary.LittleEndian.Uint64(body[0:8]) != manifestMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptedManifest)
	}

	m := &Manifest{}
	copy(m.ID[:], body[8:24])
	m.NextFileID = binary.LittleEndian.Uint64(body[24:32])
	count := int(binary.LittleEndian.Uint32(body[32:36]))
	ids := body[36:]
	if len(ids) != count*8 {
		return nil, fmt.Errorf("%w: %d file ids in %d bytes", ErrCorruptedManifest, count, len(ids))
	}
	m.FileIDs = make([]uint64, count)
	for i := range m.FileIDs {
		m.FileIDs[i] = binary.LittleEndian.Uint64(ids[i*8:])
	}
	return m, nil
}

func writeManifest(dir string, m *Manifest) error {
	sort.Slice(m.FileIDs, func(i, j int) bool { return m.FileIDs[i] < m.FileIDs[j] })

	tmp := filepath.Join(dir, manifestName+".tmp")
	if err := os.WriteFile(tmp, m.encode(), 0644); err != nil {
		return fmt.Errorf("failed to write manifest file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, manifestName)); err != nil {
		return fmt.Errorf("failed to install manifest file: %w", err)
	}
	return nil
}

// readManifest returns the stored manifest, or nil if none exists yet.
func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	return decodeManifest(data)
}
