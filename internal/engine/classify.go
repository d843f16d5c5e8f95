package engine

import "strings"

// ReencodeSuggestion is attached to unsupported-media failures.
const ReencodeSuggestion = "Reencode o arquivo para MP4 (H.264/AAC) ou WAV (PCM 16 kHz) e tente novamente."

// unsupportedMediaPatterns is the known vocabulary the engine and its
// decoder emit for inputs they cannot read. Matching is a heuristic
// tied to upstream error text; keep the list in sync with what ffmpeg
// and faster-whisper actually print.
var unsupportedMediaPatterns = []string{
	"invalid data",
	"unsupported",
	"codec",
	"invalid argument",
	"moov atom",
	"malformed",
	"failed to load audio",
	"format not recognized",
}

// IsUnsupportedMedia reports whether an engine error message indicates
// a broken or unsupported input file rather than an engine problem.
func IsUnsupportedMedia(message string) bool {
	lower := strings.ToLower(message)
	for _, pattern := range unsupportedMediaPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
