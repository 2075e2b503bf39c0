package registry

import "magnetstream/internal/domain"

// EventType enumerates the push-channel events a subscriber can receive.
type EventType string

const (
	EventInfo     EventType = "torrent-info"
	EventProgress EventType = "download-progress"
	EventDone     EventType = "torrent-done"
	EventError    EventType = "error"
)

// Event is one push-channel notification. Only the fields relevant to the
// event type are populated.
type Event struct {
	Type     EventType
	InfoHash domain.InfoHash
	Files    []domain.FileEntry      // EventInfo
	Snapshot domain.ProgressSnapshot // EventProgress
	Message  string                  // EventError
}
