package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/AmrMurad1/nvmstore"
	"github.com/AmrMurad1/nvmstore/sstable"
	"github.com/kballard/go-shellquote"
)

const help = `commands:
  set <key> <value>     store a value
  get <key>             read a value
  del <key>             delete a key
  scan <start> <end>    list live pairs in [start, end]
  flush                 write the memtable to an sstable
  compact               merge all sstables
  intervals             print the location directory
  files                 print indexed file ids
  stats                 print engine statistics
  help                  show this text
  exit                  quit`

func main() {
	dir := flag.String("dir", "./data", "data directory")
	readLatency := flag.Duration("read-latency", 300*time.Nanosecond, "emulated NVM read latency")
	writeLatency := flag.Duration("write-latency", 100*time.Nanosecond, "emulated NVM write latency")
	compression := flag.String("compression", "s2", "block compression: none, s2, snappy, lz4, zstd")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	codec, err := sstable.ParseCompression(*compression)
	if err != nil {
		log.Fatal(err)
	}
	config := sstable.DefaultConfig()
	config.Compression = codec

	db, err := nvmstore.Open(*dir,
		nvmstore.WithLogger(logger),
		nvmstore.WithSSTableConfig(config),
		nvmstore.WithIndexLatency(*readLatency, *writeLatency),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	fmt.Printf("Opened %s\n", *dir)
	fmt.Println("Type commands. 'help' for information or 'exit' to quit.")

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")

		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				fmt.Println("input error:", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" {
			return
		}

		args, err := shellquote.Split(line)
		if err != nil {
			fmt.Println("parse error:", err)
			continue
		}

		if err := execute(db, os.Stdout, args); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func execute(db *nvmstore.Engine, w io.Writer, args []string) error {
	if len(args) == 0 {
		return nil
	}

	cmd, args := strings.ToLower(args[0]), args[1:]
	want := map[string]int{"set": 2, "get": 1, "del": 1, "scan": 2}
	if n, ok := want[cmd]; ok && len(args) != n {
		return fmt.Errorf("%s takes %d argument(s), got %d", cmd, n, len(args))
	}

	switch cmd {
	case "set":
		if err := db.Set(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintln(w, "OK")
	case "get":
		val, err := db.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(w, val)
	case "del":
		if err := db.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(w, "OK")
	case "scan":
		pairs, err := db.Scan(args[0], args[1])
		if err != nil {
			return err
		}
		for _, kv := range pairs {
			fmt.Fprintf(w, "%s=%s\n", kv.Key, kv.Value)
		}
		fmt.Fprintf(w, "(%d pairs)\n", len(pairs))
	case "flush":
		if err := db.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w, "OK")
	case "compact":
		if err := db.Compact(); err != nil {
			return err
		}
		fmt.Fprintln(w, "OK")
	case "intervals":
		return db.DisplayIntervals(w)
	case "files":
		fmt.Fprintln(w, db.Files())
	case "stats":
		s := db.Stats()
		fmt.Fprintf(w, "memtable: %d entries, %d bytes\n", s.MemtableEntries, s.MemtableBytes)
		fmt.Fprintf(w, "tables:   %v\n", s.Tables)
		fmt.Fprintf(w, "index:    %d ranges over %d files\n", s.Directory.Size, s.Directory.Files)
		fmt.Fprintf(w, "nvm:      %d reads, %d writes, %d overlap queries\n",
			s.Directory.MemReads, s.Directory.MemWrites, s.Directory.OverlapQueries)
	case "help":
		fmt.Fprintln(w, help)
	default:
		return fmt.Errorf("unknown command %q, try 'help'", cmd)
	}
	return nil
}
