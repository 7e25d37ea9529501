package ffmpeg

import "strings"

// ParseLogLevel splits an ffmpeg stderr line produced with "-loglevel level+..."
// into its level and message. Lines look like "[info] message" or
// "[component @ 0x...] [level] message"; the component prefix is kept.
// Lines without a recognized level are reported as info.
func ParseLogLevel(line string) (level, msg string) {
	if len(line) < 3 || line[0] != '[' {
		return "info", line
	}

	end := strings.Index(line, "] ")
	if end == -1 {
		return "info", line
	}

	if tag := line[1:end]; isLogLevel(tag) {
		return tag, line[end+2:]
	}

	component, rest := line[:end+2], line[end+2:]
	if len(rest) > 2 && rest[0] == '[' {
		if next := strings.Index(rest, "] "); next != -1 && isLogLevel(rest[1:next]) {
			return rest[1:next], component + rest[next+2:]
		}
	}

	return "info", line
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}

// SourceLost reports whether an ffmpeg error line means the capture surface is gone.
func SourceLost(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range []string{
		"badwindow",
		"baddrawable",
		"cannot open display",
		"window has been destroyed",
		"failed to get window attributes",
		"xcb_get_geometry",
		"capture area",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
