// Package broadcast implements the client interface's outbound message
// stream (§6) and the PostProcessor/Broadcaster (C8, §4.8): the
// non-realtime consumer of completed events that forwards notifications
// to every registered client and reclaims replaced objects.
//
// Grounded on the teacher's internal/state package (the Handle's Eventc/
// Paramc consumer loop and errorMerger fan-in) for the dedicated-thread
// consumer shape, generalized from phono's Ready/Running/Paused pipe
// lifecycle to Ingen's always-on event-draining loop.
package broadcast

import (
	"ingen.audio/ingen/internal/atom"
	"ingen.audio/ingen/internal/path"
)

// Status is the outcome of a client mutation request (§6).
type Status int

const (
	Success Status = iota
	NotFound
	Exists
	BadRequest
	ParentDiffers
	InternalError
)

func (s Status) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case NotFound:
		return "NOT_FOUND"
	case Exists:
		return "EXISTS"
	case BadRequest:
		return "BAD_REQUEST"
	case ParentDiffers:
		return "PARENT_DIFFERS"
	default:
		return "INTERNAL_ERROR"
	}
}

// Message is the tagged union of outbound client messages (§6). Exactly
// one of the typed fields is populated per the Kind tag, the way the
// teacher's message.go wraps one phono.Buffer/Params pair per Kind of
// pipe message.
type Message struct {
	Kind Kind

	Path           path.Path
	Properties     atom.PropertyBag
	Remove, Add    atom.PropertyBag
	Tail, Head     path.Path
	Parent         path.Path
	From, To       path.Path
	URI            string
	Subject        string
	Key            string
	Value          atom.Atom
	ResponseID     string
	ResponseStatus Status
	ErrorText      string
	BundleID       string
}

// Kind identifies which client message variant Message carries.
type Kind int

const (
	Put Kind = iota
	Delta
	Connect
	Disconnect
	DisconnectAll
	Move
	Copy
	Del
	SetProperty
	Get
	Response
	Error
	BundleBegin
	BundleEnd
	Undo
	Redo
)

// PutMsg builds a Put(path, properties) message.
func PutMsg(p path.Path, props atom.PropertyBag) Message {
	return Message{Kind: Put, Path: p, Properties: props}
}

// DeltaMsg builds a Delta(path, remove, add) message.
func DeltaMsg(p path.Path, remove, add atom.PropertyBag) Message {
	return Message{Kind: Delta, Path: p, Remove: remove, Add: add}
}

// ConnectMsg builds a Connect(tail, head) message.
func ConnectMsg(tail, head path.Path) Message {
	return Message{Kind: Connect, Tail: tail, Head: head}
}

// DisconnectMsg builds a Disconnect(tail, head) message.
func DisconnectMsg(tail, head path.Path) Message {
	return Message{Kind: Disconnect, Tail: tail, Head: head}
}

// DisconnectAllMsg builds a DisconnectAll(parent, path) message.
func DisconnectAllMsg(parent, p path.Path) Message {
	return Message{Kind: DisconnectAll, Parent: parent, Path: p}
}

// MoveMsg builds a Move(from, to) message.
func MoveMsg(from, to path.Path) Message {
	return Message{Kind: Move, From: from, To: to}
}

// CopyMsg builds a Copy(from, to) message.
func CopyMsg(from, to path.Path) Message {
	return Message{Kind: Copy, From: from, To: to}
}

// DelMsg builds a Del(uri) message.
func DelMsg(uri string) Message {
	return Message{Kind: Del, URI: uri}
}

// SetPropertyMsg builds a SetProperty(subject, key, value) message.
func SetPropertyMsg(subject, key string, v atom.Atom) Message {
	return Message{Kind: SetProperty, Subject: subject, Key: key, Value: v}
}

// GetMsg builds a Get(uri) message.
func GetMsg(uri string) Message {
	return Message{Kind: Get, URI: uri}
}

// ResponseMsg builds a Response(id, status, subject) message.
func ResponseMsg(id string, status Status, subject string) Message {
	return Message{Kind: Response, ResponseID: id, ResponseStatus: status, Subject: subject}
}

// ErrorMsg builds an Error(message) message.
func ErrorMsg(text string) Message {
	return Message{Kind: Error, ErrorText: text}
}

// BundleBeginMsg builds a BundleBegin(id) message.
func BundleBeginMsg(id string) Message {
	return Message{Kind: BundleBegin, BundleID: id}
}

// BundleEndMsg builds a BundleEnd(id) message.
func BundleEndMsg(id string) Message {
	return Message{Kind: BundleEnd, BundleID: id}
}

// UndoMsg builds an Undo message.
func UndoMsg() Message { return Message{Kind: Undo} }

// RedoMsg builds a Redo message.
func RedoMsg() Message { return Message{Kind: Redo} }
