package registry

import (
	"log/slog"
	"sync"
	"time"

	"magnetstream/internal/domain"
	"magnetstream/internal/metrics"
)

// broadcaster runs one sampling loop per session and fans snapshots out to
// every attached subscriber. The engine is queried once per tick no matter
// how many subscribers are listening.
type broadcaster struct {
	session  *Session
	interval time.Duration
	logger   *slog.Logger
	onSample func(domain.ProgressSnapshot)

	mu       sync.Mutex
	subs     map[*Subscriber]struct{}
	terminal bool // done event already fanned out, or handle torn down
	doneSent bool

	stop     chan struct{}
	stopOnce sync.Once
	finished chan struct{}
}

func newBroadcaster(session *Session, interval time.Duration, logger *slog.Logger, onSample func(domain.ProgressSnapshot)) *broadcaster {
	if interval <= 0 {
		interval = time.Second
	}
	return &broadcaster{
		session:  session,
		interval: interval,
		logger:   logger,
		onSample: onSample,
		subs:     make(map[*Subscriber]struct{}),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (b *broadcaster) run() {
	defer close(b.finished)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			b.markTerminal()
			return
		case <-ticker.C:
		}

		snap, ok := b.session.Snapshot()
		if !ok {
			// Handle dropped underneath us: session teardown, no done event.
			b.logger.Debug("progress sampling stopped, handle gone",
				slog.String("infoHash", string(b.session.InfoHash)))
			b.markTerminal()
			return
		}

		b.fanout(Event{Type: EventProgress, InfoHash: snap.InfoHash, Snapshot: snap})
		if b.onSample != nil {
			b.onSample(snap)
		}

		if snap.Done() {
			b.fanoutDone(snap.InfoHash)
			b.logger.Info("torrent complete",
				slog.String("infoHash", string(b.session.InfoHash)))
			return
		}
	}
}

// shutdown stops sampling without emitting a done event.
func (b *broadcaster) shutdown() {
	b.stopOnce.Do(func() {
		close(b.stop)
	})
	<-b.finished
}

// markTerminal ends the session without a done event (teardown paths).
func (b *broadcaster) markTerminal() {
	b.mu.Lock()
	b.terminal = true
	b.mu.Unlock()
}

// fanoutDone flips the broadcaster terminal and snapshots the recipients in
// one critical section. A subscriber attaching after the flip takes the
// replay path in subscribe; a subscriber snapshotted here gets the fanout.
// Either way exactly one done event reaches it.
func (b *broadcaster) fanoutDone(infoHash domain.InfoHash) {
	b.mu.Lock()
	b.terminal = true
	b.doneSent = true
	targets := make([]*Subscriber, 0, len(b.subs))
	for sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(Event{Type: EventDone, InfoHash: infoHash})
	}
}

func (b *broadcaster) fanout(ev Event) {
	b.mu.Lock()
	targets := make([]*Subscriber, 0, len(b.subs))
	for sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		if !sub.deliver(ev) {
			b.unsubscribe(sub)
		}
	}
	if ev.Type == EventProgress {
		metrics.ProgressEventsTotal.Add(float64(len(targets)))
	}
}

// subscribe attaches a subscriber. When the session already finished
// downloading, the subscriber immediately receives the terminal done event
// instead of waiting on a sampler that no longer runs.
func (b *broadcaster) subscribe(sub *Subscriber) {
	b.mu.Lock()
	terminal, doneSent := b.terminal, b.doneSent
	if !terminal {
		b.subs[sub] = struct{}{}
	}
	b.mu.Unlock()

	if terminal && doneSent {
		sub.deliver(Event{Type: EventDone, InfoHash: b.session.InfoHash})
	}
}

func (b *broadcaster) unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

func (b *broadcaster) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
