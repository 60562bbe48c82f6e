package audio

import (
	"bytes"
	"errors"
	"net/http"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Format is an audio container, named after the file extension the
// transcription service expects for it.
type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatWebM    Format = "webm"
	FormatOgg     Format = "ogg"
	FormatMP4     Format = "mp4"
	FormatMP3     Format = "mp3"
	FormatFLAC    Format = "flac"
)

// DetectFormat sniffs the container from the leading bytes. Browsers record
// WebM (Chrome, Firefox), Ogg or MP4 (Safari); server recorders write WAV.
func DetectFormat(data []byte) Format {
	if bytes.HasPrefix(data, []byte("fLaC")) {
		return FormatFLAC
	}
	// the content sniffer only knows "mp4" brands, Safari writes "M4A " and "iso5"
	if len(data) >= 12 && string(data[4:8]) == "ftyp" {
		return FormatMP4
	}
	switch http.DetectContentType(data) {
	case "audio/wave":
		return FormatWAV
	case "video/webm":
		return FormatWebM
	case "application/ogg":
		return FormatOgg
	case "audio/mpeg":
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// Filename is the upload name for a recording in this format.
func (f Format) Filename() string {
	if f == FormatUnknown {
		return "audio.wav"
	}
	return "audio." + string(f)
}
