package main

import (
	"flag"
	"fmt"
	"os"

	"doorcam/tools/waltool"
)

func main() {
	source := flag.String("source", "", "WAL file or directory to process (required)")
	out := flag.String("out", "", "output directory (defaults next to source)")
	frames := flag.Bool("frames", false, "extract JPEG frames")
	video := flag.Bool("video", false, "mux frames into a video via ffmpeg")
	metadata := flag.Bool("metadata", false, "write a metadata JSON document")
	quality := flag.Int("quality", 85, "JPEG re-encode quality (1-100)")
	fps := flag.Int("fps", 15, "frame rate for muxed video")
	ffmpegPath := flag.String("ffmpeg", "", "path to ffmpeg binary (defaults to PATH lookup)")
	flag.Parse()

	if *source == "" {
		fmt.Fprintln(os.Stderr, "waltool: -source is required")
		flag.Usage()
		os.Exit(2)
	}
	if !*frames && !*video && !*metadata {
		fmt.Fprintln(os.Stderr, "waltool: at least one of -frames, -video, -metadata must be set")
		os.Exit(2)
	}

	results, err := waltool.Run(waltool.Options{
		Source:       *source,
		OutputDir:    *out,
		EmitFrames:   *frames,
		EmitVideo:    *video,
		EmitMetadata: *metadata,
		JPEGQuality:  *quality,
		VideoFPS:     *fps,
		FFmpegPath:   *ffmpegPath,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	for _, r := range results {
		fmt.Printf("%s: %d frame(s)", r.EventID, len(r.FramePaths))
		if r.VideoPath != "" {
			fmt.Printf(", video=%s", r.VideoPath)
		}
		if r.MetaPath != "" {
			fmt.Printf(", metadata=%s", r.MetaPath)
		}
		if r.Truncated {
			fmt.Printf(" (truncated)")
		}
		fmt.Println()
	}
}
