// Package waltool implements the door-camera WAL tooling contract: given a
// WAL file or a directory of WAL files, produce JPEG frames, a muxed video,
// and/or a metadata JSON document, each independently selectable. Decoding
// reuses internal/wal's truncation-tolerant reader so tooling output always
// matches what the capture engine itself would recover.
package waltool

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"doorcam/internal/storage"
	"doorcam/internal/wal"
)

// Options selects which outputs to produce for a single WAL source.
type Options struct {
	// Source is a single .wal/.wal.zst file, or a directory to scan for them.
	Source string
	// OutputDir receives <event>/frames/, <event>.mp4 and
	// metadata/<event>.json; empty means the WAL file's own directory.
	OutputDir    string
	EmitFrames   bool
	EmitVideo    bool
	EmitMetadata bool
	// JPEGQuality controls re-encode quality for non-MJPEG sources.
	JPEGQuality int
	// FFmpegPath names the encoder invoked to mux frames into EmitVideo's
	// container; empty means "ffmpeg" looked up on PATH.
	FFmpegPath string
	// VideoFPS controls the muxed video's frame rate.
	VideoFPS int
}

// Result summarises what was produced for a single WAL file.
type Result struct {
	EventID    string
	FramePaths []string
	VideoPath  string
	MetaPath   string
	Truncated  bool
}

// Run resolves opts.Source to one or more WAL files and processes each.
func Run(opts Options) ([]Result, error) {
	files, err := resolveWALFiles(opts.Source)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("waltool: no wal files found under %s", opts.Source)
	}

	results := make([]Result, 0, len(files))
	for _, path := range files {
		res, err := processOne(path, opts)
		if err != nil {
			return results, fmt.Errorf("waltool: %s: %w", path, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func resolveWALFiles(source string) ([]string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{source}, nil
	}
	var files []string
	err = filepath.WalkDir(source, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".wal") || strings.HasSuffix(path, ".wal.zst") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func eventIDFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".wal.zst")
	base = strings.TrimSuffix(base, ".wal")
	return base
}

func processOne(path string, opts Options) (Result, error) {
	eventID := eventIDFromPath(path)
	result := Result{EventID: eventID}

	read, err := wal.ReadFile(path)
	if err != nil {
		return result, err
	}
	result.Truncated = read.Truncated

	if len(read.Records) == 0 {
		return result, nil
	}

	outDir := opts.OutputDir
	if outDir == "" {
		outDir = filepath.Dir(path)
	}

	if opts.EmitFrames || opts.EmitVideo {
		framesDir := filepath.Join(outDir, eventID, "frames")
		if err := os.MkdirAll(framesDir, 0o755); err != nil {
			return result, err
		}
		for i, f := range read.Records {
			jpegBytes, err := f.EncodeJPEG(opts.JPEGQuality)
			if err != nil {
				return result, fmt.Errorf("encode frame %d: %w", f.ID, err)
			}
			framePath := filepath.Join(framesDir, fmt.Sprintf("%010d.jpg", i))
			if err := os.WriteFile(framePath, jpegBytes, 0o644); err != nil {
				return result, err
			}
			result.FramePaths = append(result.FramePaths, framePath)
		}
	}

	if opts.EmitVideo {
		videoPath := filepath.Join(outDir, eventID+".mp4")
		if err := muxVideo(opts, filepath.Join(outDir, eventID, "frames"), videoPath); err != nil {
			return result, err
		}
		result.VideoPath = videoPath
	}

	if opts.EmitMetadata {
		metaPath := filepath.Join(outDir, "metadata", eventID+".json")
		meta := buildMetadata(eventID, read, result)
		if err := storage.WriteMetadata(metaPath, meta); err != nil {
			return result, err
		}
		result.MetaPath = metaPath
	}

	return result, nil
}

func buildMetadata(eventID string, read wal.ReadResult, result Result) storage.Metadata {
	meta := storage.Metadata{
		EventID:    eventID,
		FrameCount: len(read.Records),
		Truncated:  read.Truncated,
	}
	if len(read.Records) > 0 {
		meta.StartedAt = read.Records[0].Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00")
		meta.EndedAt = read.Records[len(read.Records)-1].Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	if result.VideoPath != "" {
		meta.Artifacts = append(meta.Artifacts, storage.Artifact{Kind: "video", Path: result.VideoPath})
	}
	for _, p := range result.FramePaths {
		meta.Artifacts = append(meta.Artifacts, storage.Artifact{Kind: "frame", Path: p})
	}
	return meta
}

// muxVideo shells out to an external encoder (ffmpeg by default) to mux
// already-extracted JPEG frames into a container. The encoder itself is an
// out-of-scope external collaborator; this function only wires the CLI
// invocation together, failing loudly if it cannot be found.
func muxVideo(opts Options, framesDir, videoPath string) error {
	ffmpeg := opts.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	fps := opts.VideoFPS
	if fps <= 0 {
		fps = 15
	}
	if _, err := exec.LookPath(ffmpeg); err != nil {
		return fmt.Errorf("muxVideo: encoder %q not found: %w", ffmpeg, err)
	}
	pattern := filepath.Join(framesDir, "%010d.jpg")
	args := []string{
		"-y",
		"-framerate", fmt.Sprintf("%d", fps),
		"-i", pattern,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		videoPath,
	}
	cmd := exec.Command(ffmpeg, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("muxVideo: %s failed: %w: %s", ffmpeg, err, strings.TrimSpace(string(output)))
	}
	return nil
}
