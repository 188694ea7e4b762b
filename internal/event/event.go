// Package event implements the PreProcessor's three-phase Event model
// (§4.7, C7): pre_process validates against the live Store off the audio
// thread, execute mutates the live graph atomically inside a cycle, and
// post_process reports outcomes and hands garbage to the Broadcaster.
//
// Grounded on the teacher's mutable/mutability/mutate package family (a
// non-realtime goroutine "mutates" a Context that a realtime consumer
// later "applies"), generalized from a single MutatorFunc closure per
// mutable object into Ingen's three explicit phases with validation,
// structural mutation, and notification kept separate.
package event

import (
	"ingen.audio/ingen/internal/broadcast"
	"ingen.audio/ingen/internal/compile"
	"ingen.audio/ingen/internal/ingenerr"
	"ingen.audio/ingen/internal/ingenlog"
	"ingen.audio/ingen/internal/path"
	"ingen.audio/ingen/internal/runctx"
	"ingen.audio/ingen/internal/store"
)

// Kind identifies which client request an Event originated from (§4.7).
type Kind int

const (
	Create Kind = iota
	Delete
	Connect
	Disconnect
	DisconnectAll
	Move
	Copy
	SetProperty
	Get
	Undo
	Redo
	BundleBegin
	BundleEnd
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "Create"
	case Delete:
		return "Delete"
	case Connect:
		return "Connect"
	case Disconnect:
		return "Disconnect"
	case DisconnectAll:
		return "DisconnectAll"
	case Move:
		return "Move"
	case Copy:
		return "Copy"
	case SetProperty:
		return "SetProperty"
	case Get:
		return "Get"
	case Undo:
		return "Undo"
	case Redo:
		return "Redo"
	case BundleBegin:
		return "BundleBegin"
	default:
		return "BundleEnd"
	}
}

// Event is the interface every request-driven mutation implements.
type Event interface {
	Kind() Kind
	ID() string
	Subject() path.Path

	// PreProcess validates the request against s and prepares anything
	// Execute will need (newly allocated Blocks/Ports, a prospective
	// CompiledGraph). Runs off the audio thread. Any error it returns is
	// recorded and causes Execute to be skipped (§7).
	PreProcess(s *store.Store) error

	// Execute mutates the live graph. Only called when PreProcess
	// succeeded. Runs on the audio thread, inside a cycle.
	Execute(ctx *runctx.RunContext) error

	// PostProcess reports the outcome to clients and schedules any
	// garbage for deferred reclamation. Runs off the audio thread.
	PostProcess(b *Outcome)

	// Err returns the error recorded by PreProcess or Execute, if any.
	Err() error
}

// Outcome is what an event's PostProcess phase can do: send client
// messages and retire garbage, kept as a narrow interface so concrete
// event types don't need to import the engine or broadcaster directly.
type Outcome struct {
	Broadcast broadcast.Broadcast
	Retire    func(release func()) bool
}

// base is embedded by every concrete Event and implements the bookkeeping
// common to all of them: id, subject path, and the recorded error.
type base struct {
	id      string
	subject path.Path
	err     error
}

func (b *base) ID() string         { return b.id }
func (b *base) Subject() path.Path { return b.subject }
func (b *base) Err() error         { return b.err }
func (b *base) fail(err error)     { b.err = err }

// respond sends a Response message summarizing this event's outcome, the
// "every request carries a client-assigned id; every mutation returns a
// Response with status" contract of §6.
func (b *base) respond(o *Outcome, onSuccess broadcast.Status) {
	status := onSuccess
	if b.err != nil {
		status = statusOf(b.err)
	}
	o.Broadcast.Send(broadcast.ResponseMsg(b.id, status, string(b.subject)))
}

func statusOf(err error) broadcast.Status {
	switch ingenerr.KindOf(err) {
	case ingenerr.NotFound:
		return broadcast.NotFound
	case ingenerr.Exists:
		return broadcast.Exists
	case ingenerr.BadRequest, ingenerr.TypeMismatch:
		return broadcast.BadRequest
	case ingenerr.ParentDiffers:
		return broadcast.ParentDiffers
	default:
		return broadcast.InternalError
	}
}

// recompile builds a replacement CompiledGraph for g's parent scope from
// snapshot. On Feedback (or any other compile error) it logs a warning and
// returns Empty(path), so the event itself still succeeds structurally.
// The warning goes to the log only; no message is sent to clients.
func recompile(snap compile.DependencyGraph, log warner) *compile.CompiledGraph {
	cg, err := compile.Compile(snap)
	if err != nil {
		if fe, ok := err.(*compile.FeedbackError); ok {
			log.warnf("feedback: %v", fe)
			return compile.Empty(string(snap.Path()))
		}
		log.warnf("compile failed: %v", err)
		return compile.Empty(string(snap.Path()))
	}
	return cg
}

// warner is the narrow logging surface recompile needs.
type warner interface {
	warnf(format string, args ...interface{})
}

// logWarner adapts an ingenlog.Logger to warner.
type logWarner struct{ log ingenlog.Logger }

func (w logWarner) warnf(format string, args ...interface{}) { w.log.Warnf(format, args...) }

// Warner adapts log for use by concrete event constructors.
func Warner(log ingenlog.Logger) warner { return logWarner{log: log} }
