// Package poller implements the Live Poller of spec §4.5: the state
// machine that turns a located buffer into a steady stream of
// PollOutcomes, preferring the container's O(1) pointer chase over a
// signature rescan and falling back gracefully when either source goes
// stale. The poll loop itself is grounded directly on the teacher's
// internal/watcher.LogWatcher.watchLoop: a ticker-driven goroutine with a
// done channel and sync.Once shutdown, generalized from "tail a log file"
// to "poll a buffer."
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apmlabs/memscan-core/internal/codec"
	"github.com/apmlabs/memscan-core/internal/container"
	"github.com/apmlabs/memscan-core/internal/herocache"
	"github.com/apmlabs/memscan-core/internal/locator"
	"github.com/apmlabs/memscan-core/internal/scanerr"
	"github.com/apmlabs/memscan-core/internal/winproc"
)

// Options configures a Poller for the lifetime of one session.
type Options struct {
	HeroHandle       string
	MaxEntries       int
	PollInterval     time.Duration
	ContainerEnabled bool
	// LocateConcurrency bounds parallel region scanning during a rescan.
	LocateConcurrency int
	// StaticSource marks a source that can never change after InitialScan
	// (spec §8.1 Scenario F: dump playback). The first poll after
	// InitialScan reports Lost rather than NoChange, signaling that no
	// further live updates will ever arrive.
	StaticSource bool
}

// Poller implements the full state machine of spec §4.5.2. All mutable
// tracking state is guarded by mu; the goroutine started by Run is the
// only writer, but InitialScan, Refresh and AbortGeneration may be called
// from the owning goroutine (Core) concurrently with Run's ticks.
type Poller struct {
	reader  winproc.Reader
	opts    Options
	tracker *container.Tracker
	cache   *herocache.Cache

	generation atomic.Uint64

	out       chan PollOutcome
	refreshCh chan struct{}
	done      chan struct{}
	stopOnce  sync.Once

	mu           sync.Mutex
	state        State
	bufAddr      codec.Address
	handID       codec.HandID
	entryCount   int
	retryCount   int
	lostReported bool
}

// New returns an idle Poller. Call InitialScan before Run.
func New(reader winproc.Reader, opts Options) *Poller {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 30
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	return &Poller{
		reader:    reader,
		opts:      opts,
		tracker:   container.New(),
		cache:     herocache.New(),
		out:       make(chan PollOutcome, 1),
		refreshCh: make(chan struct{}, 1),
		done:      make(chan struct{}),
		state:     StateIdle,
	}
}

// InitialScan runs the Buffer Locator once to establish the first tracked
// buffer (spec §4.5.1 initial_scan()). It also attempts opportunistic
// container discovery, per spec §4.4: discovery runs before InitialScan
// returns (bounded by its own wall-clock budget), and a failed discovery
// never fails the initial result.
func (p *Poller) InitialScan(ctx context.Context) (codec.HandData, error) {
	res, err := locator.Locate(ctx, p.reader, locator.Options{
		HeroHandle:  p.opts.HeroHandle,
		MaxEntries:  p.opts.MaxEntries,
		Concurrency: p.opts.LocateConcurrency,
	})
	if err != nil {
		p.mu.Lock()
		p.state = StateIdle
		p.mu.Unlock()
		return codec.HandData{}, err
	}

	p.mu.Lock()
	p.state = StateTracking
	p.bufAddr = res.BufAddr
	p.handID = res.Decoded.HandID
	p.entryCount = len(res.Decoded.Entries)
	p.retryCount = 0
	p.lostReported = false
	p.mu.Unlock()

	if p.opts.ContainerEnabled {
		if addr, ok := container.TryDiscover(ctx, p.reader, res.BufAddr); ok {
			p.tracker.SetAddr(addr)
		}
	}

	heroCards := res.HeroCards
	if heroCards == "" {
		// spec §8.1 Scenario D: a stale buffer whose string pointers have
		// all been freed still reports the last successfully read hero
		// cards, as long as the cache entry belongs to this same hand.
		if cached, ok := p.cache.Get(res.Decoded.HandID); ok {
			heroCards = cached
		}
	} else {
		p.cache.Put(res.Decoded.HandID, res.Decoded.HandID, heroCards)
	}

	// HandIDChanged is reserved for a poll that observed the container
	// moving to a different hand (spec §3.2); the initial signature scan
	// is not such a poll.
	data := p.toHandData(res.BufAddr, res.Decoded, res.Players, heroCards, codec.ScanInitial, false, res.Stale)
	return data, nil
}

// Run drives the ticker loop until ctx is cancelled or Stop is called
// (spec §4.5: "runs a timed loop at a configurable interval"). Outcomes
// computed under a generation that AbortGeneration has since superseded
// are dropped rather than delivered.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-p.refreshCh:
			p.mu.Lock()
			p.state = StateScanning
			p.lostReported = false
			p.mu.Unlock()
			p.tick(ctx)
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	gen := p.generation.Load()
	outcome, err := p.Poll(ctx)
	if err != nil {
		return
	}
	if p.generation.Load() != gen {
		return // abort_generation fired while this poll was in flight
	}
	select {
	case p.out <- outcome:
	case <-p.done:
	case <-ctx.Done():
	default:
		// Drop the stale queued outcome in favor of the fresh one; the
		// consumer only ever wants the latest state, never a backlog.
		select {
		case <-p.out:
		default:
		}
		select {
		case p.out <- outcome:
		case <-p.done:
		case <-ctx.Done():
		}
	}
}

// NextUpdate blocks until Run delivers the next PollOutcome, ctx is
// cancelled, or the poller is stopped.
func (p *Poller) NextUpdate(ctx context.Context) (PollOutcome, error) {
	select {
	case o := <-p.out:
		return o, nil
	case <-ctx.Done():
		return PollOutcome{}, ctx.Err()
	case <-p.done:
		return PollOutcome{}, scanerr.ErrLost
	}
}

// Refresh requests an immediate signature rescan on the next tick (spec
// §4.5.1 refresh()). Non-blocking and idempotent: a refresh already
// pending is not queued twice.
func (p *Poller) Refresh() {
	p.mu.Lock()
	p.state = StateScanning
	p.lostReported = false
	p.mu.Unlock()

	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

// AbortGeneration invalidates any poll already in flight so its result is
// dropped rather than delivered (spec §4.5.1 abort_generation()).
func (p *Poller) AbortGeneration() {
	p.generation.Add(1)
}

// Stop ends the Run loop and wakes any blocked NextUpdate call.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
}

// Poll runs exactly one state-machine step (spec §4.5.1 poll()). It is
// the synchronous core that Run's ticker drives, but may also be called
// directly by a caller that wants to poll on its own schedule.
func (p *Poller) Poll(ctx context.Context) (PollOutcome, error) {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	if p.opts.StaticSource && state == StateTracking {
		p.mu.Lock()
		p.state = StateLost
		p.mu.Unlock()
		return p.pollLost(), nil
	}

	switch state {
	case StateLost:
		return p.pollLost(), nil
	case StateTracking, StateRetrying:
		return p.pollTracking(ctx)
	default: // Idle, Scanning
		return p.rescan(ctx)
	}
}

// pollLost returns Lost on every call while the poller is in Lost, until a
// Refresh moves the state back to Scanning (spec §4.5.2: "further calls
// while in Lost return Lost idempotently").
func (p *Poller) pollLost() PollOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lostReported = true
	return PollOutcome{Kind: Lost}
}

// pollTracking implements the Tracking/Retrying half of spec §4.5.2: try
// the container first, fall back to re-decoding the currently tracked
// buffer, and escalate to a rescan once the retry budget is exhausted.
func (p *Poller) pollTracking(ctx context.Context) (PollOutcome, error) {
	p.mu.Lock()
	curBuf := p.bufAddr
	curHand := p.handID
	curCount := p.entryCount
	p.mu.Unlock()

	if p.opts.ContainerEnabled {
		if containerAddr, known := p.tracker.Addr(); known {
			reportedHand, reportedBuf, ok := container.ReadHandAndBuffer(p.reader, containerAddr)
			if !ok {
				// A single dereference failure is treated as transient
				// (spec §8.1 Scenario C: "the container hasn't caught
				// up"): retry against the same container next poll rather
				// than discarding it. Invalidate is reserved for the
				// persistent-failure escalation in afterFailure.
				return p.afterFailure(ctx)
			}
			if reportedBuf != curBuf {
				// Container correctness guard (spec §4.4): a new buffer
				// address is trusted as a new hand only once the
				// container's own hand_id diverges from the one we are
				// currently tracking. Equal hand_id means the pointer
				// swap is still in flight; retry rather than re-cache.
				if reportedHand == curHand {
					return PollOutcome{Kind: NoChange}, nil
				}
				if !reportedHand.Valid() {
					return p.afterFailure(ctx)
				}
				return p.adoptNewHand(ctx, reportedBuf, codec.ScanContainer)
			}
		}
	}

	return p.pollCurrentBuffer(ctx, curBuf, curHand, curCount)
}

func (p *Poller) pollCurrentBuffer(ctx context.Context, bufAddr codec.Address, curHand codec.HandID, curCount int) (PollOutcome, error) {
	decoded, err := codec.DecodeBuffer(readFuncOf(p.reader), bufAddr, p.opts.MaxEntries)
	if err != nil {
		if err == scanerr.ErrHeterogeneousEntries {
			// spec §4.5.4: a mid-buffer hand_id change is a torn read,
			// not a hand transition. Report nothing this cycle; the next
			// poll re-reads the now-settled buffer.
			return PollOutcome{Kind: NoChange}, nil
		}
		return p.afterFailure(ctx)
	}
	p.resetFailures()

	if decoded.HandID != 0 && decoded.HandID != curHand {
		// The buffer's contents changed out from under us without the
		// container (or without one enabled) telling us first. Treat it
		// as a new hand at the same address.
		return p.finishNewHand(bufAddr, decoded, codec.ScanCached)
	}

	if len(decoded.Entries) <= curCount {
		return PollOutcome{Kind: NoChange}, nil
	}

	players, heroCards := codec.ResolveNames(p.reader.ReadCString, decoded.Entries, p.opts.HeroHandle)
	if heroCards == "" {
		if cached, ok := p.cache.Get(decoded.HandID); ok {
			heroCards = cached
		}
	} else {
		p.cache.Put(decoded.HandID, decoded.HandID, heroCards)
	}

	p.mu.Lock()
	p.entryCount = len(decoded.Entries)
	p.mu.Unlock()

	data := p.toHandData(bufAddr, decoded, players, heroCards, codec.ScanCached, false, false)
	return PollOutcome{Kind: Grew, Data: data}, nil
}

// adoptNewHand re-derives the container-reported buffer's contents before
// handing it to finishNewHand; the container only gives us an address, a
// fresh decode is still required to get names and cards.
func (p *Poller) adoptNewHand(ctx context.Context, bufAddr codec.Address, kind codec.ScanKind) (PollOutcome, error) {
	decoded, err := codec.DecodeBuffer(readFuncOf(p.reader), bufAddr, p.opts.MaxEntries)
	if err != nil {
		return p.afterFailure(ctx)
	}
	p.resetFailures()
	return p.finishNewHand(bufAddr, decoded, kind)
}

func (p *Poller) finishNewHand(bufAddr codec.Address, decoded codec.DecodedBuffer, kind codec.ScanKind) (PollOutcome, error) {
	players, heroCards := codec.ResolveNames(p.reader.ReadCString, decoded.Entries, p.opts.HeroHandle)

	p.cache.Clear() // spec §4.5.3: cleared on every NewHand, never otherwise
	p.cache.Put(decoded.HandID, decoded.HandID, heroCards)

	p.mu.Lock()
	p.bufAddr = bufAddr
	p.handID = decoded.HandID
	p.entryCount = len(decoded.Entries)
	p.state = StateTracking
	p.mu.Unlock()

	data := p.toHandData(bufAddr, decoded, players, heroCards, kind, true, false)
	return PollOutcome{Kind: NewHand, Data: data}, nil
}

// afterFailure records a failed read and either stays in Retrying within
// budget or forces a rescan once the budget is exhausted (spec §4.5.2
// Retrying transitions).
func (p *Poller) afterFailure(ctx context.Context) (PollOutcome, error) {
	p.mu.Lock()
	p.retryCount++
	exhausted := p.retryCount >= retryBudget
	p.state = StateRetrying
	p.mu.Unlock()

	if !exhausted {
		return PollOutcome{Kind: NoChange}, nil
	}

	p.mu.Lock()
	p.state = StateScanning
	p.mu.Unlock()
	p.tracker.Invalidate()
	return p.rescan(ctx)
}

func (p *Poller) resetFailures() {
	p.mu.Lock()
	p.retryCount = 0
	if p.state == StateRetrying {
		p.state = StateTracking
	}
	p.mu.Unlock()
}

// rescan runs the Buffer Locator afresh, either to recover from Retrying
// exhaustion or to service a Refresh/Idle request. A rescan that fails
// transitions to Lost (spec §4.5.2 Scanning -> Lost).
func (p *Poller) rescan(ctx context.Context) (PollOutcome, error) {
	p.mu.Lock()
	priorHand := p.handID
	p.mu.Unlock()

	res, err := locator.Locate(ctx, p.reader, locator.Options{
		HeroHandle:  p.opts.HeroHandle,
		MaxEntries:  p.opts.MaxEntries,
		Concurrency: p.opts.LocateConcurrency,
	})
	if err != nil {
		p.mu.Lock()
		p.state = StateLost
		p.lostReported = false
		p.mu.Unlock()
		p.tracker.Invalidate()
		return p.pollLost(), nil
	}

	p.mu.Lock()
	p.retryCount = 0
	p.state = StateTracking
	p.mu.Unlock()

	if p.opts.ContainerEnabled {
		if addr, ok := container.TryDiscover(ctx, p.reader, res.BufAddr); ok {
			p.tracker.SetAddr(addr)
		}
	}

	if priorHand != 0 && res.Decoded.HandID == priorHand {
		// Recovered the same hand we were already tracking (e.g. a
		// transient container loss): report it as ongoing progress, not
		// a new hand, so the consumer's cache isn't needlessly reset.
		p.mu.Lock()
		p.bufAddr = res.BufAddr
		p.entryCount = len(res.Decoded.Entries)
		p.mu.Unlock()
		data := p.toHandData(res.BufAddr, res.Decoded, res.Players, res.HeroCards, codec.ScanInitial, false, res.Stale)
		return PollOutcome{Kind: Grew, Data: data}, nil
	}

	return p.finishNewHand(res.BufAddr, res.Decoded, codec.ScanInitial)
}

func (p *Poller) toHandData(bufAddr codec.Address, decoded codec.DecodedBuffer, players map[codec.SeatIndex]string, heroCards string, kind codec.ScanKind, changed, stale bool) codec.HandData {
	containerAddr, _ := p.tracker.Addr()
	return codec.HandData{
		HandID:        decoded.HandID,
		BufferAddr:    bufAddr,
		ContainerAddr: containerAddr,
		EntryCount:    len(decoded.Entries),
		HeroCards:     heroCards,
		Players:       players,
		Actions:       codec.BuildActions(decoded.Entries, players),
		Position:      codec.ResolvePosition(decoded.Entries, players, p.opts.HeroHandle),
		HandIDChanged: changed,
		ScanKind:      kind,
		Stale:         stale,
	}
}

func readFuncOf(reader winproc.Reader) codec.ReadFunc {
	return func(addr codec.Address, length int) ([]byte, error) {
		return reader.Read(addr, length)
	}
}
