package event

import (
	"golang.org/x/sync/errgroup"

	"ingen.audio/ingen/internal/store"
)

// Queue is the PreProcessor (C7): a bounded MPSC channel that decouples
// client request submission from the audio thread's per-cycle Execute
// pass. Events are pre_processed as soon as they are submitted, off the
// audio thread, so that by the time the engine calls Drain the only work
// left is the realtime-safe Execute step (§4.7).
//
// Grounded on the teacher's golang.org/x/sync/errgroup usage (fanning out
// independent validation work and collecting the first error) generalized
// from phono's single-pipe validation to pre_processing a whole submitted
// bundle concurrently before any of it is allowed onto the ready queue.
type Queue struct {
	store *store.Store
	log   warner

	submit chan Event
	ready  chan Event
	done   chan struct{}
}

// NewQueue returns a Queue backed by a bounded channel of the given
// capacity (Options.QueueSize). A full queue causes Submit to report
// overflow rather than block the submitter (§4.7: "overflow events remain
// queued for the next cycle" applies symmetrically to submission).
func NewQueue(s *store.Store, log warner, size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{
		store:  s,
		log:    log,
		submit: make(chan Event, size),
		ready:  make(chan Event, size),
		done:   make(chan struct{}),
	}
}

// Submit enqueues a single event for pre_processing. Returns false if the
// submit queue is full.
func (q *Queue) Submit(e Event) bool {
	select {
	case q.submit <- e:
		return true
	default:
		return false
	}
}

// SubmitBundle enqueues a client-correlated group of events bracketed by
// BundleBegin/BundleEnd markers (§4.7, §6). Each member's PreProcess runs
// concurrently against the (read-mostly) Store via errgroup, since
// pre_process only validates and allocates — it never mutates the live
// graph — so members of one bundle cannot observe each other's effects
// regardless of order. A member whose PreProcess fails is still queued
// (Err() is set, so Execute skips it and PostProcess reports the
// failure); SubmitBundle only returns an error when the queue itself
// overflows.
func (q *Queue) SubmitBundle(bundleID string, events []Event) error {
	begin := NewBundleBegin(bundleID, bundleID)
	end := NewBundleEnd(bundleID, bundleID)

	// The markers need no PreProcess, so they go straight onto the ready
	// queue alongside the members; routing them through submit/Run could
	// let them land on ready after (or before) the members they bracket.
	select {
	case q.ready <- begin:
	default:
		return errOverflow
	}

	var g errgroup.Group
	for _, e := range events {
		e := e
		g.Go(func() error {
			_ = e.PreProcess(q.store)
			return nil
		})
	}
	_ = g.Wait()

	for _, e := range events {
		select {
		case q.ready <- e:
		default:
			return errOverflow
		}
	}

	select {
	case q.ready <- end:
	default:
		return errOverflow
	}
	return nil
}

// Run drains submit, pre_processing each event in submission order and
// forwarding it to the ready queue, until Stop is called. Intended to run
// on its own goroutine, started by the engine at Activate.
func (q *Queue) Run() {
	for {
		select {
		case <-q.done:
			return
		case e := <-q.submit:
			if e.Kind() != BundleBegin && e.Kind() != BundleEnd {
				if err := e.PreProcess(q.store); err != nil {
					q.log.warnf("pre_process %s %s: %v", e.Kind(), e.Subject(), err)
				}
			}
			select {
			case q.ready <- e:
			default:
				q.log.warnf("ready queue full, dropping %s %s", e.Kind(), e.Subject())
			}
		}
	}
}

// Drain returns up to max pre_processed events ready for Execute this
// cycle, in FIFO order, without blocking.
func (q *Queue) Drain(max int) []Event {
	var out []Event
	for i := 0; i < max; i++ {
		select {
		case e := <-q.ready:
			out = append(out, e)
		default:
			return out
		}
	}
	return out
}

// Stop signals Run to return. Any events still queued are left unprocessed
// (the engine is expected to have already stopped submitting).
func (q *Queue) Stop() { close(q.done) }

type queueError string

func (e queueError) Error() string { return string(e) }

const errOverflow = queueError("event: queue overflow")
