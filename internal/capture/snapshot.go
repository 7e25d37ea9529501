package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/smazurov/screenlink/internal/ffmpeg"
	"github.com/smazurov/screenlink/internal/sources"
)

const (
	snapshotTimeout = 10 * time.Second
	// DefaultThumbnailWidth is the width thumbnails are scaled down to.
	DefaultThumbnailWidth = 320
)

// Snapshot grabs one frame of src as a JPEG no wider than maxWidth.
func Snapshot(ctx context.Context, src sources.Source, opts Options, maxWidth int) ([]byte, error) {
	if maxWidth <= 0 {
		maxWidth = DefaultThumbnailWidth
	}
	opts.FPS = 1
	opts.Indicator = false
	params, err := Params(src, opts)
	if err != nil {
		return nil, err
	}
	args, err := ffmpeg.SnapshotArgs(params, maxWidth)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, ffmpeg.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("snapshot of %s timed out: %w", src.ID, ctx.Err())
		}
		_, msg := ffmpeg.ParseLogLevel(lastLine(stderr.String()))
		return nil, fmt.Errorf("%w: %s: %s", ErrSourceUnavailable, src.ID, msg)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: %s: empty snapshot", ErrSourceUnavailable, src.ID)
	}
	return stdout.Bytes(), nil
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
