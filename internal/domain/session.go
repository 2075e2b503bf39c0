package domain

import "time"

// InfoHash is the stable hex identifier of torrent content, derived from its
// metadata. It is the key under which sessions are registered.
type InfoHash string

func (h InfoHash) String() string { return string(h) }

// FileEntry is one file inside a torrent. Index is the position within the
// torrent's file list and doubles as the streaming key; it never changes for
// the lifetime of a session.
type FileEntry struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	Length int64  `json:"length"`
}

// ProgressSnapshot is one sample of a session's live download state.
type ProgressSnapshot struct {
	InfoHash      InfoHash  `json:"infoHash"`
	Progress      float64   `json:"progress"`
	DownloadSpeed int64     `json:"downloadSpeed"`
	Peers         int       `json:"peers"`
	SampledAt     time.Time `json:"sampledAt"`
}

// Done reports whether the snapshot represents a fully downloaded torrent.
func (s ProgressSnapshot) Done() bool {
	return s.Progress >= 1.0
}

// SessionRecord is the catalog entry persisted for every torrent that was
// ever added. It is write-mostly history: the live registry never restores
// sessions from it.
type SessionRecord struct {
	InfoHash   InfoHash    `json:"infoHash"`
	Magnet     string      `json:"magnet"`
	Name       string      `json:"name"`
	Files      []FileEntry `json:"files"`
	TotalBytes int64       `json:"totalBytes"`
	DoneBytes  int64       `json:"doneBytes"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// TotalLength sums the lengths of the given file entries.
func TotalLength(files []FileEntry) int64 {
	var total int64
	for _, f := range files {
		total += f.Length
	}
	return total
}
