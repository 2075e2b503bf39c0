package domain

import (
	"path"
	"strings"
)

// ContentTypeFor maps a file name's extension to its MIME type using a fixed
// table. Unknown or missing extensions resolve to an opaque binary type so
// the browser never tries to render torrent payloads it can't identify.
func ContentTypeFor(name string) string {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(name), ".")) {
	case "mp4":
		return "video/mp4"
	case "webm":
		return "video/webm"
	case "mkv":
		return "video/x-matroska"
	case "avi":
		return "video/x-msvideo"
	case "mov":
		return "video/quicktime"
	case "mp3":
		return "audio/mpeg"
	case "m4a":
		return "audio/mp4"
	case "wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

var videoExtensions = map[string]struct{}{
	"mp4": {}, "webm": {}, "mkv": {}, "avi": {}, "mov": {},
}

var audioExtensions = map[string]struct{}{
	"mp3": {}, "m4a": {}, "wav": {},
}

// IsVideoFile reports whether the file name carries a supported video extension.
func IsVideoFile(name string) bool {
	_, ok := videoExtensions[lowerExt(name)]
	return ok
}

// IsAudioFile reports whether the file name carries a supported audio extension.
func IsAudioFile(name string) bool {
	_, ok := audioExtensions[lowerExt(name)]
	return ok
}

// PickStreamCandidate selects the file the engine should fetch first: the
// first video file by index order, falling back to the first audio file.
// Returns false when nothing in the list looks like media.
func PickStreamCandidate(files []FileEntry) (FileEntry, bool) {
	for _, f := range files {
		if IsVideoFile(f.Name) {
			return f, true
		}
	}
	for _, f := range files {
		if IsAudioFile(f.Name) {
			return f, true
		}
	}
	return FileEntry{}, false
}

func lowerExt(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}
