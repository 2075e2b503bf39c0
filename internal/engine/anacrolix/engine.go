package anacrolix

import (
	"context"
	"errors"
	"path"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"magnetstream/internal/domain"
	"magnetstream/internal/domain/ports"
)

var ErrSessionNotFound = domain.ErrNotFound

// ErrMetadataTimeout is returned when a magnet's metadata could not be
// fetched from the swarm within the configured window (typically a
// zero-peer torrent).
var ErrMetadataTimeout = errors.New("torrent metadata timed out")

// addMagnetTimeout caps the time we wait for the anacrolix client to accept
// a magnet link. AddMagnet can block on an internal client mutex when the
// client is busy resolving metadata for another torrent.
const addMagnetTimeout = 10 * time.Second

const defaultMetadataTimeout = 2 * time.Minute

type Config struct {
	DataDir         string
	MetadataTimeout time.Duration // 0 = defaultMetadataTimeout
}

type Engine struct {
	client          *torrent.Client
	metadataTimeout time.Duration

	mu      sync.RWMutex
	handles map[domain.InfoHash]*Handle

	speedMu sync.Mutex
	speeds  map[domain.InfoHash]speedSample
}

func New(cfg Config) (*Engine, error) {
	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, cfg.MetadataTimeout), nil
}

func NewWithClient(client *torrent.Client, metadataTimeout time.Duration) *Engine {
	if metadataTimeout <= 0 {
		metadataTimeout = defaultMetadataTimeout
	}
	return &Engine{
		client:          client,
		metadataTimeout: metadataTimeout,
		handles:         make(map[domain.InfoHash]*Handle),
		speeds:          make(map[domain.InfoHash]speedSample),
	}
}

func (e *Engine) Resolve(ctx context.Context, magnet string) (ports.Handle, error) {
	if e.client == nil {
		return nil, errors.New("torrent client not configured")
	}

	// Run AddMagnet with a timeout so we never block the caller indefinitely
	// if the anacrolix client is busy.
	type addResult struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		t, err := e.client.AddMagnet(magnet)
		ch <- addResult{t, err}
	}()

	var t *torrent.Torrent
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		t = res.t
	case <-time.After(addMagnetTimeout):
		// The goroutine may still complete AddMagnet after we return.
		// Spawn a cleanup goroutine to drop the orphaned torrent.
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
		return nil, errors.New("torrent client busy, try again later")
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
		return nil, ctx.Err()
	}

	id := domain.InfoHash(t.InfoHash().HexString())

	// Wait for metadata. Without it there is no file list and nothing to
	// register; a magnet with no reachable peers is an error, not a hang.
	select {
	case <-t.GotInfo():
	case <-time.After(e.metadataTimeout):
		e.dropIfUntracked(id, t)
		return nil, ErrMetadataTimeout
	case <-ctx.Done():
		e.dropIfUntracked(id, t)
		return nil, ctx.Err()
	}

	e.mu.Lock()
	if existing, ok := e.handles[id]; ok {
		e.mu.Unlock()
		return existing, nil
	}
	h := &Handle{engine: e, torrent: t, id: id, files: mapFiles(t)}
	e.handles[id] = h
	e.mu.Unlock()

	t.AllowDataDownload()
	return h, nil
}

// dropIfUntracked releases a torrent that never made it into the handle map.
// Two concurrent Resolve calls for the same content share one anacrolix
// torrent, so only drop when nobody else holds it.
func (e *Engine) dropIfUntracked(id domain.InfoHash, t *torrent.Torrent) {
	e.mu.RLock()
	_, tracked := e.handles[id]
	e.mu.RUnlock()
	if !tracked {
		t.Drop()
	}
}

func (e *Engine) Drop(id domain.InfoHash) error {
	e.mu.Lock()
	h, ok := e.handles[id]
	if ok {
		delete(e.handles, id)
	}
	e.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	e.forgetSpeed(id)
	h.torrent.Drop()
	return nil
}

func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	errList := e.client.Close()
	if len(errList) > 0 {
		return errList[0]
	}
	return nil
}

func mapFiles(t *torrent.Torrent) []domain.FileEntry {
	files := t.Files()
	mapped := make([]domain.FileEntry, 0, len(files))
	for i, f := range files {
		mapped = append(mapped, domain.FileEntry{
			Index:  i,
			Name:   path.Base(f.Path()),
			Path:   f.Path(),
			Length: f.Length(),
		})
	}
	return mapped
}

type speedSample struct {
	at        time.Time
	bytesRead int64
}

// sampleSpeed derives bytes/sec from the delta of useful payload bytes since
// the previous sample. The first sample for a torrent reports 0.
func (e *Engine) sampleSpeed(id domain.InfoHash, stats torrent.TorrentStats, now time.Time) int64 {
	currentRead := stats.BytesReadUsefulData.Int64()

	e.speedMu.Lock()
	defer e.speedMu.Unlock()

	prev, ok := e.speeds[id]
	e.speeds[id] = speedSample{at: now, bytesRead: currentRead}

	if !ok || prev.at.IsZero() {
		return 0
	}
	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0
	}
	delta := currentRead - prev.bytesRead
	if delta < 0 {
		delta = 0
	}
	return int64(float64(delta) / dt)
}

func (e *Engine) forgetSpeed(id domain.InfoHash) {
	e.speedMu.Lock()
	delete(e.speeds, id)
	e.speedMu.Unlock()
}
