package registry

import (
	"sync/atomic"
	"time"

	"magnetstream/internal/domain"
	"magnetstream/internal/domain/ports"
)

// Session is one live torrent tracked by the registry: the engine handle,
// its resolved file list and the broadcaster pushing progress to
// subscribers.
type Session struct {
	InfoHash  domain.InfoHash
	Magnet    string
	Name      string
	Files     []domain.FileEntry
	CreatedAt time.Time

	handle      ports.Handle
	broadcaster *broadcaster
	lastActive  atomic.Int64 // unix nanos
}

func newSession(magnet string, handle ports.Handle) *Session {
	info := handle.InfoHash()
	files := handle.Files()
	s := &Session{
		InfoHash:  info,
		Magnet:    magnet,
		Name:      info.String(),
		Files:     files,
		CreatedAt: time.Now(),
		handle:    handle,
	}
	if len(files) > 0 {
		s.Name = files[0].Name
	}
	s.Touch()
	return s
}

// Snapshot reads the current progress from the engine. ok is false once the
// underlying handle has been dropped.
func (s *Session) Snapshot() (domain.ProgressSnapshot, bool) {
	return s.handle.Snapshot()
}

// NewReader opens a stream over one of the session's files.
func (s *Session) NewReader(file domain.FileEntry) (ports.StreamReader, error) {
	s.Touch()
	return s.handle.NewReader(file)
}

// File returns the entry at index, or false when the index is out of range.
func (s *Session) File(index int) (domain.FileEntry, bool) {
	if index < 0 || index >= len(s.Files) {
		return domain.FileEntry{}, false
	}
	return s.Files[index], true
}

// Touch marks the session as recently used. Streaming and subscription both
// count as activity for eviction purposes.
func (s *Session) Touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// LastActive reports the most recent activity timestamp.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Subscribe attaches a subscriber to the session's progress stream. The
// info event for the resolved file list is delivered first.
func (s *Session) Subscribe(sub *Subscriber) {
	s.Touch()
	sub.deliver(Event{Type: EventInfo, InfoHash: s.InfoHash, Files: s.Files})
	s.broadcaster.subscribe(sub)
}

// Unsubscribe detaches a subscriber without closing it.
func (s *Session) Unsubscribe(sub *Subscriber) {
	s.broadcaster.unsubscribe(sub)
}

// Subscribers reports how many subscribers are currently attached.
func (s *Session) Subscribers() int {
	return s.broadcaster.subscriberCount()
}
