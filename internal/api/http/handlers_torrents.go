package apihttp

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"magnetstream/internal/domain"
)

type torrentSummary struct {
	InfoHash      domain.InfoHash    `json:"infoHash"`
	Name          string             `json:"name"`
	Live          bool               `json:"live"`
	Progress      float64            `json:"progress"`
	DownloadSpeed int64              `json:"downloadSpeed"`
	Peers         int                `json:"peers"`
	TotalBytes    int64              `json:"totalBytes"`
	Files         []domain.FileEntry `json:"files"`
	CreatedAt     time.Time          `json:"createdAt"`
}

func (s *Server) handleTorrents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	summaries := make([]torrentSummary, 0)
	live := make(map[domain.InfoHash]struct{})

	for _, session := range s.registry.List() {
		summary := torrentSummary{
			InfoHash:   session.InfoHash,
			Name:       session.Name,
			Live:       true,
			TotalBytes: domain.TotalLength(session.Files),
			Files:      session.Files,
			CreatedAt:  session.CreatedAt,
		}
		if snap, ok := session.Snapshot(); ok {
			summary.Progress = snap.Progress
			summary.DownloadSpeed = snap.DownloadSpeed
			summary.Peers = snap.Peers
		}
		summaries = append(summaries, summary)
		live[session.InfoHash] = struct{}{}
	}

	if s.catalog != nil {
		records, err := s.catalog.List(r.Context())
		if err != nil {
			s.logger.Warn("catalog list failed", slog.Any("error", err))
		}
		for _, record := range records {
			if _, ok := live[record.InfoHash]; ok {
				continue
			}
			summaries = append(summaries, torrentSummary{
				InfoHash:   record.InfoHash,
				Name:       record.Name,
				Progress:   progressRatio(record.DoneBytes, record.TotalBytes),
				TotalBytes: record.TotalBytes,
				Files:      record.Files,
				CreatedAt:  record.CreatedAt,
			})
		}
	}

	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleTorrentByID(w http.ResponseWriter, r *http.Request) {
	id := domain.InfoHash(strings.Trim(strings.TrimPrefix(r.URL.Path, "/torrents/"), "/"))
	if id == "" {
		writeError(w, http.StatusNotFound, "not_found", "torrent not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetTorrent(w, r, id)
	case http.MethodDelete:
		s.handleDeleteTorrent(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) handleGetTorrent(w http.ResponseWriter, r *http.Request, id domain.InfoHash) {
	if session, ok := s.registry.Get(id); ok {
		summary := torrentSummary{
			InfoHash:   session.InfoHash,
			Name:       session.Name,
			Live:       true,
			TotalBytes: domain.TotalLength(session.Files),
			Files:      session.Files,
			CreatedAt:  session.CreatedAt,
		}
		if snap, ok := session.Snapshot(); ok {
			summary.Progress = snap.Progress
			summary.DownloadSpeed = snap.DownloadSpeed
			summary.Peers = snap.Peers
		}
		writeJSON(w, http.StatusOK, summary)
		return
	}

	if s.catalog == nil {
		writeError(w, http.StatusNotFound, "not_found", "torrent not found")
		return
	}
	record, err := s.catalog.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, torrentSummary{
		InfoHash:   record.InfoHash,
		Name:       record.Name,
		Progress:   progressRatio(record.DoneBytes, record.TotalBytes),
		TotalBytes: record.TotalBytes,
		Files:      record.Files,
		CreatedAt:  record.CreatedAt,
	})
}

// handleDeleteTorrent drops the live session only. The catalog keeps its
// record so the torrent stays visible in history after removal.
func (s *Server) handleDeleteTorrent(w http.ResponseWriter, _ *http.Request, id domain.InfoHash) {
	if err := s.registry.Remove(id); err != nil {
		writeDomainError(w, err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast("torrent-removed", map[string]string{"infoHash": string(id)})
	}
	w.WriteHeader(http.StatusNoContent)
}
