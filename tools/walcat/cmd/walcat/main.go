package main

import (
	"flag"
	"fmt"
	"os"

	"doorcam/tools/walcat"
)

func main() {
	root := flag.String("dir", ".", "storage root containing wal/ and metadata/")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := walcat.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := walcat.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		fmt.Printf("%s\n", entry.EventID)
		fmt.Printf("  wal: %s\n", entry.WALPath)
		if entry.HasMetadata {
			fmt.Printf("  frames: %d  truncated: %v\n", entry.Metadata.FrameCount, entry.Metadata.Truncated)
		} else {
			fmt.Printf("  (no metadata — capture may still be active or was never finalized)\n")
		}
	}
}
