package main

import (
	"log/slog"
	"sync"

	"fireplaced/internal/noise"
)

// Prefetcher keeps at most one noise field loaded ahead of the render loop,
// refilling in the background so the loop normally never blocks on disk I/O.
//
// It is a single-slot mailbox with an in-flight flag: RequestNext spawns at
// most one asynchronous load; Take hands off the ready field, or loads
// synchronously on the rare race where the background load hasn't finished,
// and always re-arms the prefetch for the next cycle. Loads run outside the
// lock; only the slot hand-off is guarded.
type Prefetcher struct {
	load   func() (*noise.Field, error)
	logger *slog.Logger

	mu       sync.Mutex
	slot     *noise.Field
	inFlight bool
}

// NewPrefetcher wraps a load function (typically Store.Load with a random
// index).
func NewPrefetcher(load func() (*noise.Field, error), logger *slog.Logger) *Prefetcher {
	return &Prefetcher{load: load, logger: logger}
}

// RequestNext starts one background load unless a load is already pending
// or a field is already waiting in the slot.
func (p *Prefetcher) RequestNext() {
	p.mu.Lock()
	if p.inFlight || p.slot != nil {
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.mu.Unlock()

	go func() {
		field, err := p.load()

		p.mu.Lock()
		p.inFlight = false
		if err == nil {
			p.slot = field
		}
		p.mu.Unlock()

		if err != nil {
			p.logger.Warn("background noise load failed", "error", err)
		}
	}()
}

// Take returns the prefetched field if one is ready, otherwise loads one
// synchronously. Either way it triggers a new prefetch before returning.
func (p *Prefetcher) Take() (*noise.Field, error) {
	p.mu.Lock()
	field := p.slot
	p.slot = nil
	p.mu.Unlock()

	if field == nil {
		p.logger.Debug("prefetch slot empty, loading synchronously")
		var err error
		field, err = p.load()
		if err != nil {
			p.RequestNext()
			return nil, err
		}
	}

	p.RequestNext()
	return field, nil
}
