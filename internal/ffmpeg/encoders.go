package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Encoder is one line of "ffmpeg -encoders" output.
type Encoder struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Video       bool   `json:"video"`
	HWAccel     bool   `json:"hwaccel"`
}

var (
	encoderLine = regexp.MustCompile(`^\s*([VASF.XBD]{6})\s+(\S+)\s+(.+)$`)
	hwaccelName = regexp.MustCompile(`(?i)(nvenc|qsv|amf|vaapi|videotoolbox|v4l2m2m|rkmpp|vulkan)`)
)

// Installed reports whether the ffmpeg binary is on PATH.
func Installed() bool {
	_, err := exec.LookPath(Binary)
	return err == nil
}

// ListEncoders runs "ffmpeg -encoders" and parses the result.
func ListEncoders(ctx context.Context) ([]Encoder, error) {
	out, err := exec.CommandContext(ctx, Binary, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("list ffmpeg encoders: %w", err)
	}
	return ParseEncoders(string(out))
}

// ParseEncoders parses "ffmpeg -encoders" output. Lines before the
// "------" separator are legend and are skipped.
func ParseEncoders(output string) ([]Encoder, error) {
	var encoders []Encoder
	started := false

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !started {
			if strings.HasPrefix(strings.TrimSpace(line), "------") {
				started = true
			}
			continue
		}
		m := encoderLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		encoders = append(encoders, Encoder{
			Name:        m[2],
			Description: strings.TrimSpace(m[3]),
			Video:       m[1][0] == 'V',
			HWAccel:     hwaccelName.MatchString(m[2]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read encoder list: %w", err)
	}
	return encoders, nil
}

// Version returns the ffmpeg version string, or "unknown".
func Version(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, Binary, "-version").Output()
	if err != nil {
		return "unknown"
	}
	first, _, _ := strings.Cut(string(out), "\n")
	if fields := strings.Fields(first); len(fields) >= 3 {
		return fields[2]
	}
	return "unknown"
}
