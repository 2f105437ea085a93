package sources

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/anatolykoptev/go_recap/internal/engine"
)

// lowest viable audio quality keeps transfers small
const ytDlpFormat = "worstaudio[ext=m4a]/worstaudio/bestaudio"

// CommandRunner runs an external program and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) (stdout []byte, err error)

// ExecRunner runs commands with os/exec. Stderr is folded into the error.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, engine.Snippet(stderr.String(), 300))
	}
	return stdout.Bytes(), nil
}

// Extractor downloads audio with yt-dlp.
type Extractor struct {
	fs       afero.Fs
	run      CommandRunner
	binary   string
	cookies  string
	dir      string
	minAudio int64
	timeout  time.Duration
}

// NewExtractor creates a yt-dlp extractor. fs must be the filesystem yt-dlp writes to.
func NewExtractor(fs afero.Fs, run CommandRunner, cfg engine.Config) *Extractor {
	if run == nil {
		run = ExecRunner
	}
	return &Extractor{
		fs:       fs,
		run:      run,
		binary:   cfg.YtDlpPath,
		cookies:  cfg.YtDlpCookies,
		dir:      cfg.AudioDir,
		minAudio: cfg.MinAudioBytes,
		timeout:  cfg.ExtractorTimeout,
	}
}

// Extract downloads the video's audio track. Undersized results are deleted.
func (e *Extractor) Extract(ctx context.Context, ref VideoRef) (*engine.AudioArtifact, error) {
	engine.IncrExtractorRuns()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	base := engine.ArtifactBase(e.dir, ref.ID)
	out, err := e.run(ctx, e.binary, e.args(base, ref.URL)...)
	path := printedPath(out)
	if path == "" {
		path = e.findOutput(base)
	}
	if err != nil {
		engine.IncrExtractorFailures()
		e.removeAll(base, "")
		return nil, engine.Upstream("yt-dlp", 0, err)
	}
	if path == "" {
		engine.IncrExtractorFailures()
		e.removeAll(base, "")
		return nil, fmt.Errorf("%w: yt-dlp produced no file", engine.ErrNotFound)
	}

	fi, err := e.fs.Stat(path)
	if err != nil {
		engine.IncrExtractorFailures()
		e.removeAll(base, "")
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.Size() < e.minAudio {
		engine.IncrExtractorFailures()
		e.removeAll(base, "")
		return nil, fmt.Errorf("%w: yt-dlp artifact %d bytes", engine.ErrNotFound, fi.Size())
	}
	// fragments and partials next to the finished file are not part of the artifact
	e.removeAll(base, path)

	art := engine.NewAudioArtifact(e.fs, path, fi.Size(), "yt-dlp")
	engine.IncrAudioDownloads()
	slog.Info("extractor: audio ready", slog.String("id", ref.ID), slog.Int64("bytes", art.Size))
	return art, nil
}

// args builds the yt-dlp command line. A cookies file, when present,
// takes precedence over client impersonation.
func (e *Extractor) args(base, videoURL string) []string {
	args := []string{
		"-f", ytDlpFormat,
		"--no-playlist",
		"--ignore-errors",
		"--no-warnings",
		"--no-progress",
		"-o", base + ".%(ext)s",
		"--print", "after_move:filepath",
	}
	if e.hasCookies() {
		args = append(args, "--cookies", e.cookies)
	} else {
		args = append(args,
			"--extractor-args", "youtube:player_client=android",
			"--user-agent", engine.RandomUserAgent(),
		)
	}
	return append(args, videoURL)
}

func (e *Extractor) hasCookies() bool {
	if e.cookies == "" {
		return false
	}
	fi, err := e.fs.Stat(e.cookies)
	return err == nil && !fi.IsDir()
}

// findOutput locates the artifact when yt-dlp exited without printing its path.
func (e *Extractor) findOutput(base string) string {
	matches, err := afero.Glob(e.fs, base+".*")
	if err != nil || len(matches) == 0 {
		return ""
	}
	for _, m := range matches {
		if !strings.HasSuffix(m, ".part") {
			return m
		}
	}
	return ""
}

// removeAll deletes every file (partials included) under the artifact stem
// except keep.
func (e *Extractor) removeAll(base, keep string) {
	matches, _ := afero.Glob(e.fs, base+".*")
	for _, m := range matches {
		if m == keep {
			continue
		}
		if err := e.fs.Remove(m); err != nil {
			slog.Warn("extractor: cleanup failed", slog.String("path", m), slog.Any("error", err))
		}
	}
}

// printedPath returns the last non-empty stdout line.
func printedPath(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
