package apihttp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"magnetstream/internal/domain"
	"magnetstream/internal/metrics"
)

// streamReadahead is how far ahead of the last read position the engine keeps
// fetching pieces. Large enough to hide swarm latency during playback.
const streamReadahead int64 = 8 << 20

// handleStream serves /stream/{infoHash}/{fileIndex}. It streams file bytes
// straight from the torrent reader; reads block until the requested pieces
// have been downloaded, so playback can start long before the download
// finishes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/stream/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not_found", "torrent not found")
		return
	}

	session, ok := s.registry.Get(domain.InfoHash(parts[0]))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "torrent not found")
		return
	}

	fileIndex, err := parseFileIndex(parts[1])
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "file not found")
		return
	}
	file, ok := session.File(fileIndex)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "file not found")
		return
	}

	reader, err := session.NewReader(file)
	if err != nil {
		s.logger.Error("stream reader open failed",
			slog.String("infoHash", string(session.InfoHash)),
			slog.Int("fileIndex", fileIndex),
			slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal_error", "stream reader not available")
		return
	}
	defer reader.Close()

	// Tie the reader to the request so a client disconnect unblocks any read
	// waiting on pieces that never arrive.
	reader.SetContext(r.Context())
	reader.SetReadahead(streamReadahead)

	w.Header().Set("Content-Type", domain.ContentTypeFor(file.Name))
	w.Header().Set("Accept-Ranges", "bytes")
	// Close the connection after streaming so keep-alive does not pin the
	// reader open after the player stops playback.
	w.Header().Set("Connection", "close")

	size := file.Length

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()

	rangeHeader := r.Header.Get("Range")
	if rangeHeader != "" {
		start, end, err := parseByteRange(rangeHeader, size)
		if errors.Is(err, errInvalidRange) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid range")
			return
		}
		if errors.Is(err, errRangeNotSatisfiable) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}

		if _, err := reader.Seek(start, io.SeekStart); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to seek stream")
			return
		}
		length := end - start + 1
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusPartialContent)
		written, err := io.CopyN(w, reader, length)
		metrics.StreamBytesTotal.Add(float64(written))
		if err != nil {
			s.logger.Debug("stream range copy interrupted",
				slog.String("infoHash", string(session.InfoHash)),
				slog.Int("fileIndex", fileIndex),
				slog.String("error", err.Error()))
		}
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	written, err := io.Copy(w, reader)
	metrics.StreamBytesTotal.Add(float64(written))
	if err != nil {
		s.logger.Debug("stream copy interrupted",
			slog.String("infoHash", string(session.InfoHash)),
			slog.Int("fileIndex", fileIndex),
			slog.String("error", err.Error()))
	}
}
