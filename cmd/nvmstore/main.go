package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AmrMurad1/nvmstore"
)

func main() {
	dir := flag.String("dir", "./data", "data directory")
	readLatency := flag.Duration("read-latency", 300*time.Nanosecond, "emulated NVM read latency")
	writeLatency := flag.Duration("write-latency", 100*time.Nanosecond, "emulated NVM write latency")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	db, err := nvmstore.Open(*dir,
		nvmstore.WithLogger(logger),
		nvmstore.WithIndexLatency(*readLatency, *writeLatency),
	)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer db.Close()

	pairs := [][2]string{
		{"name", "john"}, {"age", "25"}, {"city", "paris"}, {"country", "france"},
		{"job", "engineer"}, {"company", "tech-corp"}, {"salary", "75000"},
		{"department", "backend"}, {"level", "senior"}, {"experience", "5years"},
		{"skills", "go,python,sql"}, {"education", "masters"}, {"university", "sorbonne"},
		{"hobby", "reading"}, {"sport", "tennis"}, {"music", "jazz"}, {"food", "italian"},
		{"color", "green"}, {"season", "spring"}, {"pet", "cat"},
	}
	for _, p := range pairs {
		if err := db.Set(p[0], p[1]); err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}
	}
	if err := db.Flush(); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}

	db.Set("name", "alice")
	db.Set("job", "developer")

	for _, key := range []string{"name", "job", "city"} {
		val, err := db.Get(key)
		if err == nil {
			fmt.Printf("%s: %s\n", key, val)
		} else {
			fmt.Println("Error:", err)
		}
	}

	db.Delete("age")
	if val, err := db.Get("age"); err == nil {
		fmt.Println("age:", val)
	} else {
		fmt.Println("age deleted:", err)
	}

	db.DisplayIntervals(os.Stdout)
	stats := db.Stats()
	fmt.Printf("ranges=%d files=%v mem_reads=%d mem_writes=%d\n",
		stats.Directory.Size, stats.Tables, stats.Directory.MemReads, stats.Directory.MemWrites)
}
