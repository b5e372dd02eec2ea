package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

// FFmpegMerger concatenates scene clips into one final video with ffmpeg.
// Clips are fetched from the object store into a scratch directory, joined,
// and the result is uploaded back under the workflow's key prefix.
//
// Concatenation is attempted in three passes. Stream copy is near instant but
// requires every clip to share codec parameters; when it fails the clips are
// re-encoded, and when audio streams are inconsistent a final video-only pass
// runs.
type FFmpegMerger struct {
	store      domain.ObjectStore
	ffmpegPath string
	workDir    string
	log        zerolog.Logger
}

type MergerOptions struct {
	Store      domain.ObjectStore
	FFmpegPath string
	WorkDir    string
	Logger     zerolog.Logger
}

func NewFFmpegMerger(opts MergerOptions) (*FFmpegMerger, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("media: object store is required")
	}
	ffmpegPath := opts.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &FFmpegMerger{
		store:      opts.Store,
		ffmpegPath: ffmpegPath,
		workDir:    workDir,
		log:        opts.Logger,
	}, nil
}

// Merge joins the clips in order and returns the durable URL of the result.
// A single clip is still passed through ffmpeg so the output container is
// normalized.
func (m *FFmpegMerger) Merge(ctx context.Context, workflowID string, clipURLs []string) (string, error) {
	if len(clipURLs) == 0 {
		return "", fmt.Errorf("media: no clips to merge")
	}

	scratch, err := os.MkdirTemp(m.workDir, "merge-*")
	if err != nil {
		return "", fmt.Errorf("media: scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	listFile, err := m.fetchClips(ctx, scratch, clipURLs)
	if err != nil {
		return "", err
	}

	outFile := filepath.Join(scratch, "merged.mp4")
	passes := []struct {
		name string
		args []string
	}{
		{"stream copy", m.concatArgs(listFile, outFile, "-c", "copy")},
		{"re-encode", m.concatArgs(listFile, outFile,
			"-c:v", "libx264", "-preset", "fast", "-crf", "22",
			"-pix_fmt", "yuv420p", "-c:a", "aac")},
		{"video only", m.concatArgs(listFile, outFile,
			"-c:v", "libx264", "-preset", "fast", "-crf", "22",
			"-pix_fmt", "yuv420p", "-an")},
	}

	var lastErr error
	for _, pass := range passes {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := m.run(ctx, pass.args); err != nil {
			m.log.Warn().Err(err).Str("pass", pass.name).Msg("ffmpeg concat pass failed")
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return "", fmt.Errorf("media: concat: %w", lastErr)
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		return "", fmt.Errorf("media: read merged output: %w", err)
	}
	key := fmt.Sprintf("workflows/%s/final.mp4", workflowID)
	url, err := m.store.PutBytes(ctx, key, data, "video/mp4")
	if err != nil {
		return "", fmt.Errorf("media: upload merged output: %w", err)
	}
	return url, nil
}

func (m *FFmpegMerger) fetchClips(ctx context.Context, scratch string, clipURLs []string) (string, error) {
	var lines []string
	for i, clipURL := range clipURLs {
		data, err := m.store.Fetch(ctx, clipURL)
		if err != nil {
			return "", fmt.Errorf("media: fetch clip %d: %w", i, err)
		}
		clipPath := filepath.Join(scratch, fmt.Sprintf("clip-%03d.mp4", i))
		if err := os.WriteFile(clipPath, data, 0o644); err != nil {
			return "", fmt.Errorf("media: write clip %d: %w", i, err)
		}
		lines = append(lines, fmt.Sprintf("file '%s'", clipPath))
	}
	listFile := filepath.Join(scratch, "concat.txt")
	if err := os.WriteFile(listFile, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("media: write concat list: %w", err)
	}
	return listFile, nil
}

func (m *FFmpegMerger) concatArgs(listFile, outFile string, codec ...string) []string {
	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listFile}
	args = append(args, codec...)
	args = append(args, "-movflags", "+faststart", outFile)
	return args
}

func (m *FFmpegMerger) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %s", err, tail(stderr.String(), 400))
	}
	return nil
}

var _ domain.Merger = (*FFmpegMerger)(nil)

// tail returns at most n trailing bytes of s, for error messages.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
