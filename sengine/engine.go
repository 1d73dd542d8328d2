package sengine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solid-engine/solid/internal/stick"
	"github.com/solid-engine/solid/scrypto"
	"github.com/solid-engine/solid/sproposal"
)

// Engine wraps Core for concurrent use and drives it over time:
// it serializes inputs, streams events to the caller, votes to skip
// unresponsive leaders on a timer, and rate-limits out-of-sync reports.
type Engine struct {
	log *slog.Logger

	cfg Config

	signer scrypto.Signer
	app    sproposal.App

	mu   sync.Mutex
	core *Core

	// Pending events plus a signal for the pump goroutine. gen rises on
	// every Reset; events queued under an older gen are never delivered.
	qMu    sync.Mutex
	gen    uint64
	queue  []queuedEvent
	qReady chan struct{}
	flush  chan uint64

	events chan Event

	// Deadline for voting to skip the current leader,
	// as unix nanoseconds; 0 means no deadline set.
	skipDeadline atomic.Int64

	// Earliest time another out-of-sync report may be sent.
	oosMu       sync.Mutex
	oosDeadline time.Time

	ticker *stick.Ticker

	wg sync.WaitGroup
}

// New returns an engine starting a fresh network from the genesis
// manifest of the given validator set. Call Run to start it.
func New(
	log *slog.Logger,
	signer scrypto.Signer,
	validators []scrypto.PubKey,
	app sproposal.App,
	cfg Config,
) *Engine {
	if len(validators) == 0 {
		panic(errors.New("sengine.New: at least one validator required"))
	}
	return NewWithLastConfirmed(log, signer, sproposal.GenesisManifest(validators), app, cfg)
}

// NewWithLastConfirmed returns an engine resuming from a previously
// confirmed manifest. Call Run to start it.
func NewWithLastConfirmed(
	log *slog.Logger,
	signer scrypto.Signer,
	lastConfirmed sproposal.Manifest,
	app sproposal.App,
	cfg Config,
) *Engine {
	return &Engine{
		log:    log,
		cfg:    cfg,
		signer: signer,
		app:    app,
		core:   NewCore(log.With("sys", "core"), signer, lastConfirmed, app, cfg),
		qReady: make(chan struct{}, 1),
		flush:  make(chan uint64, 1),
		events: make(chan Event),
		ticker: stick.NewTicker(),
	}
}

type queuedEvent struct {
	gen uint64
	ev  Event
}

// Run starts the engine's background work: the event pump and the skip
// timer. It returns immediately; use Wait to block until the background
// goroutines have stopped after ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.drainEvents()

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.pump(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.ticker.Run(ctx, e.tick)
	}()
}

// Wait blocks until the background goroutines started by Run have
// finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Events returns the stream of events the caller must act on.
// The channel is never closed.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// ReceiveProposal feeds a proposal manifest from the network into the
// engine and processes everything it unlocks.
func (e *Engine) ReceiveProposal(manifest sproposal.Manifest) error {
	e.mu.Lock()
	err := e.core.ReceiveProposal(manifest)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.drainEvents()
	return nil
}

// ReceiveAccept feeds a vote from the network into the engine.
// This normally only produces events when this node is the designated
// next leader.
func (e *Engine) ReceiveAccept(accept sproposal.ProposalAccept) error {
	e.mu.Lock()
	ev, err := e.core.ReceiveAccept(accept)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	if ev != nil {
		e.sendEvent(ev)
	}
	return nil
}

// Reset discards all consensus state and resumes from the given
// confirmed manifest. Used after catching up out-of-band.
// Events produced for the discarded chain are dropped,
// including any the pump has not handed off yet.
func (e *Engine) Reset(lastConfirmed sproposal.Manifest) {
	e.mu.Lock()
	e.core = NewCore(e.log.With("sys", "core"), e.signer, lastConfirmed, e.app, e.cfg)
	e.mu.Unlock()

	e.qMu.Lock()
	e.gen++
	e.queue = nil
	// Replace any pending flush signal; only the newest gen matters.
	select {
	case <-e.flush:
	default:
	}
	e.flush <- e.gen
	e.qMu.Unlock()

	e.log.Info("Engine reset", "height", lastConfirmed.Content.Height)
	e.resetSkipTimeout()
}

// Height returns the confirmed height.
func (e *Engine) Height() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.core.Height()
}

// Hash returns the hash of the confirmed head.
func (e *Engine) Hash() sproposal.ProposalHash {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.core.Hash()
}

// MaxHeight returns the highest proposal height observed from the
// network.
func (e *Engine) MaxHeight() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.core.MaxHeight()
}

// IsOutOfSync reports whether the node is missing proposals.
func (e *Engine) IsOutOfSync() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.core.IsOutOfSync()
}

// Contains reports whether the proposal hash is cached.
func (e *Engine) Contains(hash sproposal.ProposalHash) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.core.Contains(hash)
}

// Proposal returns a cached proposal's manifest by hash.
func (e *Engine) Proposal(hash sproposal.ProposalHash) (sproposal.Manifest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.core.Cache().Get(hash)
	if !ok {
		return sproposal.Manifest{}, false
	}
	return p.Manifest(), true
}

// CurrentProposal returns the manifest of the proposal this node is
// currently voting on.
func (e *Engine) CurrentProposal() sproposal.Manifest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.core.CurrentProposal().Manifest()
}

// ConfirmedProposalsFrom returns the confirmed manifests from the head
// down through fromHeight (plus the next one below it), newest first,
// for serving catch-up requests.
func (e *Engine) ConfirmedProposalsFrom(fromHeight uint64) []sproposal.Manifest {
	e.mu.Lock()
	defer e.mu.Unlock()

	ps := e.core.Cache().ConfirmedProposalsFrom(fromHeight)
	out := make([]sproposal.Manifest, len(ps))
	for i, p := range ps {
		out[i] = p.Manifest()
	}
	return out
}

// Descendants returns the manifests from tip down to, but excluding,
// ancestor, newest first.
func (e *Engine) Descendants(ancestor, tip sproposal.ProposalHash) []sproposal.Manifest {
	e.mu.Lock()
	defer e.mu.Unlock()

	ps := e.core.Cache().Descendants(ancestor, tip)
	out := make([]sproposal.Manifest, len(ps))
	for i, p := range ps {
		out[i] = p.Manifest()
	}
	return out
}

// drainEvents pulls events out of the core until it cannot progress,
// adjusting timers per event type and forwarding to the event stream.
func (e *Engine) drainEvents() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		ev := e.core.NextEvent()
		if ev == nil {
			return
		}

		switch ev := ev.(type) {
		case OutOfSyncEvent:
			// No leader to wait on while catching up; the timer
			// restarts when the next accept goes out.
			e.clearSkipTimeout()

			e.oosMu.Lock()
			if e.oosDeadline.After(time.Now()) {
				e.oosMu.Unlock()
				return
			}
			e.oosDeadline = time.Now().Add(e.cfg.OutOfSyncTimeout)
			e.oosMu.Unlock()

			e.sendEvent(ev)
			return

		case CommitEvent:
			e.resetSkipTimeout()

		case ProposeEvent:
			// Never vote to skip our own proposal.
			e.clearSkipTimeout()

		case AcceptEvent:
			// Sending an accept means we believe we are in sync; start
			// waiting for the proposal the vote should produce.
			e.oosMu.Lock()
			e.oosDeadline = time.Time{}
			e.oosMu.Unlock()
			e.resetSkipTimeout()

			// Our own proposal needs no vote over the network.
			if ev.Accept.LeaderID.Equal(e.signer.PubKey()) {
				return
			}
		}

		e.sendEvent(ev)
	}
}

// tick is the ticker callback: once the skip deadline passes, vote to
// skip the current leader and push the deadline forward one interval.
func (e *Engine) tick() (time.Time, bool) {
	d := e.skipDeadline.Load()
	if d == 0 {
		return time.Time{}, false
	}
	if deadline := time.Unix(0, d); deadline.After(time.Now()) {
		return deadline, true
	}

	e.mu.Lock()
	ev := e.core.Skip()
	e.mu.Unlock()
	if ev != nil {
		e.sendEvent(ev)
	}

	e.skipDeadline.CompareAndSwap(d, d+int64(e.cfg.SkipTimeout))

	next := e.skipDeadline.Load()
	if next == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, next), true
}

func (e *Engine) resetSkipTimeout() {
	e.skipDeadline.Store(time.Now().Add(e.cfg.SkipTimeout).UnixNano())
	e.ticker.Wake()
}

func (e *Engine) clearSkipTimeout() {
	e.skipDeadline.Store(0)
	e.ticker.Wake()
}

// sendEvent queues an event for the pump goroutine.
func (e *Engine) sendEvent(ev Event) {
	e.qMu.Lock()
	e.queue = append(e.queue, queuedEvent{gen: e.gen, ev: ev})
	e.qMu.Unlock()

	select {
	case e.qReady <- struct{}{}:
	default:
	}
}

// pump moves queued events onto the outbound channel in order,
// dropping events that a Reset has invalidated.
func (e *Engine) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.qReady:
		}

		for {
			e.qMu.Lock()
			if len(e.queue) == 0 {
				e.qMu.Unlock()
				break
			}
			q := e.queue[0]
			e.queue = e.queue[1:]
			cur := e.gen
			e.qMu.Unlock()

			if q.gen != cur {
				continue
			}

		deliver:
			for {
				select {
				case <-ctx.Done():
					return
				case e.events <- q.ev:
					break deliver
				case g := <-e.flush:
					if q.gen < g {
						// Reset caught this event mid-handoff.
						break deliver
					}
				}
			}
		}
	}
}
