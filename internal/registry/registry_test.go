package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"magnetstream/internal/domain"
	"magnetstream/internal/domain/ports"
)

type fakeHandle struct {
	info  domain.InfoHash
	files []domain.FileEntry

	mu          sync.Mutex
	progress    float64
	dropped     bool
	prioritized []int
}

func (h *fakeHandle) InfoHash() domain.InfoHash { return h.info }
func (h *fakeHandle) Files() []domain.FileEntry { return h.files }

func (h *fakeHandle) Prioritize(f domain.FileEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prioritized = append(h.prioritized, f.Index)
}

func (h *fakeHandle) Snapshot() (domain.ProgressSnapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dropped {
		return domain.ProgressSnapshot{}, false
	}
	return domain.ProgressSnapshot{
		InfoHash:  h.info,
		Progress:  h.progress,
		SampledAt: time.Now(),
	}, true
}

func (h *fakeHandle) NewReader(domain.FileEntry) (ports.StreamReader, error) {
	return nil, errors.New("not implemented")
}

func (h *fakeHandle) setProgress(p float64) {
	h.mu.Lock()
	h.progress = p
	h.mu.Unlock()
}

type fakeEngine struct {
	mu       sync.Mutex
	handles  map[string]*fakeHandle
	resolves int32
	delay    time.Duration
	err      error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{handles: make(map[string]*fakeHandle)}
}

func (e *fakeEngine) register(magnet string, h *fakeHandle) {
	e.mu.Lock()
	e.handles[magnet] = h
	e.mu.Unlock()
}

func (e *fakeEngine) Resolve(ctx context.Context, magnet string) (ports.Handle, error) {
	atomic.AddInt32(&e.resolves, 1)
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handles[magnet]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return h, nil
}

func (e *fakeEngine) Drop(id domain.InfoHash) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range e.handles {
		if h.info == id {
			h.mu.Lock()
			h.dropped = true
			h.mu.Unlock()
		}
	}
	return nil
}

func (e *fakeEngine) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func videoFiles() []domain.FileEntry {
	return []domain.FileEntry{
		{Index: 0, Name: "sample.srt", Path: "movie/sample.srt", Length: 100},
		{Index: 1, Name: "movie.mp4", Path: "movie/movie.mp4", Length: 5000},
	}
}

func waitEvent(t *testing.T, sub *Subscriber, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", want)
		}
	}
}

func TestAddSameMagnetReusesSession(t *testing.T) {
	eng := newFakeEngine()
	eng.register("magnet:?xt=urn:btih:aaa", &fakeHandle{info: "aaa", files: videoFiles()})

	r := New(eng, nil, testLogger(), Config{ProgressInterval: 10 * time.Millisecond})
	defer r.Shutdown()

	sub1 := NewSubscriber()
	defer sub1.Close()
	s1, err := r.Add(context.Background(), "magnet:?xt=urn:btih:aaa", sub1)
	if err != nil {
		t.Fatalf("first Add: %v", err)
	}

	sub2 := NewSubscriber()
	defer sub2.Close()
	s2, err := r.Add(context.Background(), "magnet:?xt=urn:btih:aaa", sub2)
	if err != nil {
		t.Fatalf("second Add: %v", err)
	}

	if s1 != s2 {
		t.Fatal("same magnet produced two sessions")
	}
	if got := atomic.LoadInt32(&eng.resolves); got != 1 {
		t.Fatalf("engine resolved %d times, want 1", got)
	}
	if r.Len() != 1 {
		t.Fatalf("registry holds %d sessions, want 1", r.Len())
	}
}

func TestAddDifferentMagnetSameInfoHash(t *testing.T) {
	eng := newFakeEngine()
	h := &fakeHandle{info: "bbb", files: videoFiles()}
	eng.register("magnet:?xt=urn:btih:bbb", h)
	eng.register("magnet:?xt=urn:btih:bbb&dn=alias", h)

	r := New(eng, nil, testLogger(), Config{ProgressInterval: 10 * time.Millisecond})
	defer r.Shutdown()

	sub1 := NewSubscriber()
	defer sub1.Close()
	s1, err := r.Add(context.Background(), "magnet:?xt=urn:btih:bbb", sub1)
	if err != nil {
		t.Fatalf("first Add: %v", err)
	}

	sub2 := NewSubscriber()
	defer sub2.Close()
	s2, err := r.Add(context.Background(), "magnet:?xt=urn:btih:bbb&dn=alias", sub2)
	if err != nil {
		t.Fatalf("aliased Add: %v", err)
	}

	if s1 != s2 {
		t.Fatal("aliased magnet produced a second session")
	}
	if r.Len() != 1 {
		t.Fatalf("registry holds %d sessions, want 1", r.Len())
	}
}

func TestAddConcurrentSingleResolve(t *testing.T) {
	eng := newFakeEngine()
	eng.delay = 50 * time.Millisecond
	eng.register("magnet:?xt=urn:btih:ccc", &fakeHandle{info: "ccc", files: videoFiles()})

	r := New(eng, nil, testLogger(), Config{ProgressInterval: 10 * time.Millisecond})
	defer r.Shutdown()

	const n = 8
	var wg sync.WaitGroup
	sessions := make([]*Session, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub := NewSubscriber()
			defer sub.Close()
			s, err := r.Add(context.Background(), "magnet:?xt=urn:btih:ccc", sub)
			if err != nil {
				t.Errorf("Add %d: %v", i, err)
				return
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&eng.resolves); got != 1 {
		t.Fatalf("engine resolved %d times, want 1", got)
	}
	for i := 1; i < n; i++ {
		if sessions[i] != sessions[0] {
			t.Fatalf("goroutine %d got a different session", i)
		}
	}
}

func TestAddPrioritizesFirstVideoFile(t *testing.T) {
	eng := newFakeEngine()
	h := &fakeHandle{info: "ddd", files: videoFiles()}
	eng.register("magnet:?xt=urn:btih:ddd", h)

	r := New(eng, nil, testLogger(), Config{ProgressInterval: 10 * time.Millisecond})
	defer r.Shutdown()

	sub := NewSubscriber()
	defer sub.Close()
	if _, err := r.Add(context.Background(), "magnet:?xt=urn:btih:ddd", sub); err != nil {
		t.Fatalf("Add: %v", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.prioritized) != 1 || h.prioritized[0] != 1 {
		t.Fatalf("prioritized %v, want [1]", h.prioritized)
	}
}

func TestAddResolveErrorReachesSubscriber(t *testing.T) {
	eng := newFakeEngine()
	eng.err = errors.New("no peers")

	r := New(eng, nil, testLogger(), Config{ProgressInterval: 10 * time.Millisecond})
	defer r.Shutdown()

	sub := NewSubscriber()
	defer sub.Close()
	_, err := r.Add(context.Background(), "magnet:?xt=urn:btih:eee", sub)
	if err == nil {
		t.Fatal("expected resolve error")
	}

	ev := waitEvent(t, sub, EventError)
	if ev.Message != "no peers" {
		t.Fatalf("error event message %q, want %q", ev.Message, "no peers")
	}
}

func TestSubscriberReceivesInfoThenProgress(t *testing.T) {
	eng := newFakeEngine()
	h := &fakeHandle{info: "fff", files: videoFiles(), progress: 0.25}
	eng.register("magnet:?xt=urn:btih:fff", h)

	r := New(eng, nil, testLogger(), Config{ProgressInterval: 10 * time.Millisecond})
	defer r.Shutdown()

	sub := NewSubscriber()
	defer sub.Close()
	if _, err := r.Add(context.Background(), "magnet:?xt=urn:btih:fff", sub); err != nil {
		t.Fatalf("Add: %v", err)
	}

	info := waitEvent(t, sub, EventInfo)
	if len(info.Files) != 2 {
		t.Fatalf("info event carries %d files, want 2", len(info.Files))
	}

	progress := waitEvent(t, sub, EventProgress)
	if progress.Snapshot.Progress != 0.25 {
		t.Fatalf("progress %v, want 0.25", progress.Snapshot.Progress)
	}
}

func TestDoneEmittedExactlyOnce(t *testing.T) {
	eng := newFakeEngine()
	h := &fakeHandle{info: "ggg", files: videoFiles(), progress: 0.9}
	eng.register("magnet:?xt=urn:btih:ggg", h)

	r := New(eng, nil, testLogger(), Config{ProgressInterval: 10 * time.Millisecond})
	defer r.Shutdown()

	sub := NewSubscriber()
	defer sub.Close()
	s, err := r.Add(context.Background(), "magnet:?xt=urn:btih:ggg", sub)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	h.setProgress(1.0)
	waitEvent(t, sub, EventDone)

	// The sampler stops after done; give it time to prove no second event.
	var extra int
	timeout := time.After(100 * time.Millisecond)
drain:
	for {
		select {
		case ev := <-sub.Events():
			if ev.Type == EventDone {
				extra++
			}
		case <-timeout:
			break drain
		}
	}
	if extra != 0 {
		t.Fatalf("received %d extra done events", extra)
	}

	// A subscriber joining after completion still learns it finished.
	late := NewSubscriber()
	defer late.Close()
	s.Subscribe(late)
	waitEvent(t, late, EventDone)
}

func TestDoneReachesSubscribersAttachingDuringCompletion(t *testing.T) {
	eng := newFakeEngine()
	h := &fakeHandle{info: "iii", files: videoFiles(), progress: 1.0}
	eng.register("magnet:?xt=urn:btih:iii", h)

	r := New(eng, nil, testLogger(), Config{ProgressInterval: time.Millisecond})
	defer r.Shutdown()

	first := NewSubscriber()
	defer first.Close()
	s, err := r.Add(context.Background(), "magnet:?xt=urn:btih:iii", first)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Attach while the sampler is finishing the session. Whether a
	// subscriber lands in the fanout set or on the replay path, it must
	// get exactly one done event.
	const n = 16
	subs := make([]*Subscriber, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		subs[i] = NewSubscriber()
		wg.Add(1)
		go func(sub *Subscriber) {
			defer wg.Done()
			s.Subscribe(sub)
		}(subs[i])
	}
	wg.Wait()

	for i, sub := range subs {
		waitEvent(t, sub, EventDone)

		var extra int
		timeout := time.After(50 * time.Millisecond)
	drain:
		for {
			select {
			case ev := <-sub.Events():
				if ev.Type == EventDone {
					extra++
				}
			case <-timeout:
				break drain
			}
		}
		if extra != 0 {
			t.Fatalf("subscriber %d received %d extra done events", i, extra)
		}
		sub.Close()
	}
}

func TestRemoveDropsEngineHandle(t *testing.T) {
	eng := newFakeEngine()
	h := &fakeHandle{info: "hhh", files: videoFiles()}
	eng.register("magnet:?xt=urn:btih:hhh", h)

	r := New(eng, nil, testLogger(), Config{ProgressInterval: 10 * time.Millisecond})

	sub := NewSubscriber()
	defer sub.Close()
	if _, err := r.Add(context.Background(), "magnet:?xt=urn:btih:hhh", sub); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := r.Remove("hhh"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := r.Get("hhh"); ok {
		t.Fatal("session still resolvable after Remove")
	}
	h.mu.Lock()
	dropped := h.dropped
	h.mu.Unlock()
	if !dropped {
		t.Fatal("engine handle not dropped")
	}

	if err := r.Remove("hhh"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second Remove error = %v, want ErrNotFound", err)
	}

	// The magnet alias must be gone too: a new Add resolves again.
	sub2 := NewSubscriber()
	defer sub2.Close()
	if _, err := r.Add(context.Background(), "magnet:?xt=urn:btih:hhh", sub2); err != nil {
		t.Fatalf("re-Add: %v", err)
	}
	if got := atomic.LoadInt32(&eng.resolves); got != 2 {
		t.Fatalf("engine resolved %d times, want 2", got)
	}
	r.Shutdown()
}
