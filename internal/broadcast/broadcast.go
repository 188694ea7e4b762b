package broadcast

import (
	"sync"

	"ingen.audio/ingen/internal/ingenlog"
)

// Client is a registered message sink, one per connected client transport
// (the transport itself is out of scope; only this interface is an
// external collaborator per spec.md §1).
type Client interface {
	Send(Message)
}

// Garbage is a deferred-reclamation entry: the audio thread appends a
// release closure for an object it has stopped referencing (an old
// CompiledGraph, a removed Block, a released Buffer), and the
// PostProcessor calls it once the cycle counter has advanced past the
// cycle the object was retired in (§4.8, §9 "realtime-safe reclamation").
type Garbage struct {
	RetiredAtCycle uint64
	Release        func()
}

// Broadcaster is the PostProcessor (C8): a dedicated non-realtime
// goroutine that drains completed events, invokes their PostProcess
// phase, forwards outbound Messages to every registered Client, and
// drains the deferred-reclamation list strictly after the audio thread
// has published a cycle boundary past each garbage entry.
//
// Grounded on the teacher's internal/state.Handle consumer loop (a
// dedicated goroutine draining Eventc/errc) generalized from a single
// lifecycle-event channel to Ingen's completed-event and garbage queues.
type Broadcaster struct {
	log ingenlog.Logger

	mu      sync.Mutex
	clients map[Client]struct{}

	completed chan func(Broadcast)
	garbage   chan Garbage
	done      chan struct{}
	wg        sync.WaitGroup

	cycle uint64 // advanced by the engine after each published cycle
}

// Broadcast is the narrow interface a completed event's PostProcess phase
// uses to notify clients, keeping internal/event decoupled from
// Broadcaster's internals.
type Broadcast interface {
	Send(Message)
}

// New returns a Broadcaster with the given completed-event and garbage
// queue capacities (mirroring Options.QueueSize for the symmetric
// PreProcessor queue).
func New(log ingenlog.Logger, queueSize int) *Broadcaster {
	if queueSize < 1 {
		queueSize = 1
	}
	b := &Broadcaster{
		log:       log,
		clients:   make(map[Client]struct{}),
		completed: make(chan func(Broadcast), queueSize),
		garbage:   make(chan Garbage, queueSize),
		done:      make(chan struct{}),
	}
	b.wg.Add(1) // released by Run, so Stop waits even if Run has not started yet
	return b
}

// Register adds a client to the broadcast set.
func (b *Broadcaster) Register(c Client) {
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
}

// Unregister removes a client from the broadcast set.
func (b *Broadcaster) Unregister(c Client) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
}

// Send implements Broadcast: forward msg to every registered client.
func (b *Broadcaster) Send(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		c.Send(msg)
	}
}

// Post hands a completed event's post_process closure to the
// Broadcaster's queue. Called by the engine's audio thread after
// Execute; never blocks the caller for long since the queue is buffered,
// but back-pressure (full queue) is the caller's problem, matching the
// spec's "overflow events remain queued for the next cycle" (§4.7)
// applied symmetrically to completion.
func (b *Broadcaster) Post(postProcess func(Broadcast)) bool {
	select {
	case b.completed <- postProcess:
		return true
	default:
		return false
	}
}

// Retire enqueues a garbage entry to be released once cycle has advanced
// past retiredAtCycle.
func (b *Broadcaster) Retire(retiredAtCycle uint64, release func()) bool {
	select {
	case b.garbage <- Garbage{RetiredAtCycle: retiredAtCycle, Release: release}:
		return true
	default:
		return false
	}
}

// AdvanceCycle records that the audio thread has published cycle n. The
// Broadcaster goroutine only releases garbage retired at or before n-1,
// guaranteeing the realtime side has moved past the cycle that retired it.
func (b *Broadcaster) AdvanceCycle(n uint64) {
	b.mu.Lock()
	b.cycle = n
	b.mu.Unlock()
}

func (b *Broadcaster) currentCycle() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cycle
}

// Run drains the completed-event and garbage queues until Stop is called.
// Intended to run on its own goroutine, started by the engine at Activate.
func (b *Broadcaster) Run() {
	defer b.wg.Done()
	pending := make([]Garbage, 0)
	for {
		select {
		case <-b.done:
			b.drainRemaining(&pending)
			return
		case fn := <-b.completed:
			func() {
				defer func() {
					if r := recover(); r != nil {
						b.log.Errorf("broadcast: post_process panicked: %v", r)
					}
				}()
				fn(b)
			}()
		case g := <-b.garbage:
			pending = append(pending, g)
			pending = b.releaseReady(pending)
		}
	}
}

func (b *Broadcaster) releaseReady(pending []Garbage) []Garbage {
	cur := b.currentCycle()
	kept := pending[:0]
	for _, g := range pending {
		if g.RetiredAtCycle < cur {
			g.Release()
		} else {
			kept = append(kept, g)
		}
	}
	return kept
}

func (b *Broadcaster) drainRemaining(pending *[]Garbage) {
	for {
		select {
		case fn := <-b.completed:
			fn(b)
		case g := <-b.garbage:
			*pending = append(*pending, g)
		default:
			for _, g := range *pending {
				g.Release()
			}
			return
		}
	}
}

// Stop signals Run to drain remaining work and return, then waits for it.
func (b *Broadcaster) Stop() {
	close(b.done)
	b.wg.Wait()
}
