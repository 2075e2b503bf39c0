package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"magnetstream/internal/domain"
	"magnetstream/internal/domain/ports"
	"magnetstream/internal/metrics"
)

const persistEvery = 5 * time.Second

// Config tunes registry behaviour.
type Config struct {
	// ProgressInterval is how often each session samples the engine.
	ProgressInterval time.Duration
	// Retention is how long a finished or idle session survives without
	// subscribers or stream activity before the janitor evicts it.
	Retention time.Duration
}

// Registry owns the set of live sessions. Adding the same magnet twice, or
// two magnets resolving to the same info hash, attaches to the existing
// session instead of creating a duplicate.
type Registry struct {
	engine    ports.Engine
	catalog   ports.Catalog
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration

	group singleflight.Group

	mu       sync.RWMutex
	sessions map[domain.InfoHash]*Session
	byMagnet map[string]domain.InfoHash
}

func New(engine ports.Engine, catalog ports.Catalog, logger *slog.Logger, cfg Config) *Registry {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	return &Registry{
		engine:    engine,
		catalog:   catalog,
		logger:    logger,
		interval:  cfg.ProgressInterval,
		retention: cfg.Retention,
		sessions:  make(map[domain.InfoHash]*Session),
		byMagnet:  make(map[string]domain.InfoHash),
	}
}

// Add resolves a magnet into a session and attaches the subscriber to it.
// Resolution errors are pushed to the subscriber as an error event as well
// as returned, so transport handlers only need to log.
func (r *Registry) Add(ctx context.Context, magnet string, sub *Subscriber) (*Session, error) {
	if s, ok := r.lookupByMagnet(magnet); ok {
		s.Subscribe(sub)
		return s, nil
	}

	v, err, _ := r.group.Do(magnet, func() (any, error) {
		return r.resolveOrCreate(ctx, magnet)
	})
	if err != nil {
		sub.deliver(Event{Type: EventError, Message: err.Error()})
		return nil, err
	}

	s := v.(*Session)
	s.Subscribe(sub)
	return s, nil
}

func (r *Registry) resolveOrCreate(ctx context.Context, magnet string) (*Session, error) {
	// Re-check under singleflight: a concurrent caller may have won.
	if s, ok := r.lookupByMagnet(magnet); ok {
		return s, nil
	}

	handle, err := r.engine.Resolve(ctx, magnet)
	if err != nil {
		r.logger.Error("magnet resolution failed",
			slog.String("magnet", magnet), slog.Any("error", err))
		return nil, err
	}

	info := handle.InfoHash()

	r.mu.Lock()
	if existing, ok := r.sessions[info]; ok {
		// Different magnet, same torrent. Alias it and reuse the session.
		r.byMagnet[magnet] = info
		r.mu.Unlock()
		return existing, nil
	}

	s := newSession(magnet, handle)
	s.broadcaster = newBroadcaster(s, r.interval, r.logger, r.persistFunc(s))
	r.sessions[info] = s
	r.byMagnet[magnet] = info
	r.mu.Unlock()

	if candidate, ok := domain.PickStreamCandidate(s.Files); ok {
		handle.Prioritize(candidate)
	}

	if r.catalog != nil {
		record := domain.SessionRecord{
			InfoHash:   info,
			Magnet:     magnet,
			Name:       s.Name,
			Files:      s.Files,
			TotalBytes: domain.TotalLength(s.Files),
			CreatedAt:  s.CreatedAt,
			UpdatedAt:  s.CreatedAt,
		}
		if err := r.catalog.Create(ctx, record); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			r.logger.Warn("catalog create failed",
				slog.String("infoHash", string(info)), slog.Any("error", err))
		}
	}

	go s.broadcaster.run()

	metrics.SessionsCreatedTotal.Inc()
	metrics.ActiveSessions.Set(float64(r.Len()))
	r.logger.Info("session created",
		slog.String("infoHash", string(info)),
		slog.String("name", s.Name),
		slog.Int("files", len(s.Files)))
	return s, nil
}

// persistFunc throttles catalog progress writes to one per persistEvery.
func (r *Registry) persistFunc(s *Session) func(domain.ProgressSnapshot) {
	if r.catalog == nil {
		return nil
	}
	var last time.Time
	total := domain.TotalLength(s.Files)
	return func(snap domain.ProgressSnapshot) {
		now := time.Now()
		if !snap.Done() && now.Sub(last) < persistEvery {
			return
		}
		last = now
		done := int64(snap.Progress * float64(total))
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := r.catalog.UpdateProgress(ctx, s.InfoHash, done); err != nil {
			r.logger.Warn("catalog progress update failed",
				slog.String("infoHash", string(s.InfoHash)), slog.Any("error", err))
		}
	}
}

func (r *Registry) lookupByMagnet(magnet string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byMagnet[magnet]
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[info]
	return s, ok
}

// Get returns the session for an info hash.
func (r *Registry) Get(info domain.InfoHash) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[info]
	return s, ok
}

// List returns all live sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Remove tears a session down: stops its broadcaster and drops the torrent
// from the engine. Subscribers see their channels go quiet, not an error.
func (r *Registry) Remove(info domain.InfoHash) error {
	r.mu.Lock()
	s, ok := r.sessions[info]
	if !ok {
		r.mu.Unlock()
		return domain.ErrNotFound
	}
	delete(r.sessions, info)
	for magnet, aliased := range r.byMagnet {
		if aliased == info {
			delete(r.byMagnet, magnet)
		}
	}
	r.mu.Unlock()

	s.broadcaster.shutdown()
	if err := r.engine.Drop(info); err != nil {
		r.logger.Warn("engine drop failed",
			slog.String("infoHash", string(info)), slog.Any("error", err))
	}

	metrics.ActiveSessions.Set(float64(r.Len()))
	r.logger.Info("session removed", slog.String("infoHash", string(info)))
	return nil
}

// Shutdown removes every session. Used on server exit.
func (r *Registry) Shutdown() {
	for _, s := range r.List() {
		_ = r.Remove(s.InfoHash)
	}
}

// RunJanitor evicts idle sessions until ctx is cancelled. A session is idle
// when it has no subscribers and saw no stream activity for the retention
// window.
func (r *Registry) RunJanitor(ctx context.Context) {
	interval := r.retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.retention)
	for _, s := range r.List() {
		if s.Subscribers() > 0 {
			continue
		}
		if s.LastActive().After(cutoff) {
			continue
		}
		r.logger.Info("evicting idle session",
			slog.String("infoHash", string(s.InfoHash)),
			slog.Time("lastActive", s.LastActive()))
		if err := r.Remove(s.InfoHash); err == nil {
			metrics.SessionsEvictedTotal.Inc()
		}
	}
}
