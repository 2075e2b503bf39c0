package anacrolix

import (
	"time"

	"github.com/anacrolix/torrent"

	"magnetstream/internal/domain"
	"magnetstream/internal/domain/ports"
)

type Handle struct {
	engine  *Engine
	torrent *torrent.Torrent
	id      domain.InfoHash
	files   []domain.FileEntry
}

func (h *Handle) InfoHash() domain.InfoHash {
	return h.id
}

func (h *Handle) Files() []domain.FileEntry {
	return append([]domain.FileEntry(nil), h.files...)
}

func (h *Handle) Prioritize(file domain.FileEntry) {
	if h.closed() {
		return
	}
	files := h.torrent.Files()
	if file.Index < 0 || file.Index >= len(files) {
		return
	}
	files[file.Index].SetPriority(torrent.PiecePriorityHigh)
}

func (h *Handle) Snapshot() (domain.ProgressSnapshot, bool) {
	if h.closed() {
		return domain.ProgressSnapshot{}, false
	}

	length := h.torrent.Length()
	completed := h.torrent.BytesCompleted()
	progress := float64(0)
	if length > 0 {
		progress = float64(completed) / float64(length)
	}
	if progress > 1 {
		progress = 1
	}

	now := time.Now().UTC()
	stats := h.torrent.Stats()

	return domain.ProgressSnapshot{
		InfoHash:      h.id,
		Progress:      progress,
		DownloadSpeed: h.engine.sampleSpeed(h.id, stats, now),
		Peers:         stats.ActivePeers,
		SampledAt:     now,
	}, true
}

func (h *Handle) NewReader(file domain.FileEntry) (ports.StreamReader, error) {
	if h.closed() {
		return nil, ErrSessionNotFound
	}
	files := h.torrent.Files()
	if file.Index < 0 || file.Index >= len(files) {
		return nil, ErrSessionNotFound
	}
	return files[file.Index].NewReader(), nil
}

func (h *Handle) closed() bool {
	select {
	case <-h.torrent.Closed():
		return true
	default:
		return false
	}
}
