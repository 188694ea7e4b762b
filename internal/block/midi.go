// Package block implements Ingen's built-in internal blocks — DSP
// primitives that carry no plugin identity and exist to illustrate the
// port contract (§2 C9). MidiNote is the representative example: a
// voice-stealing polyphonic note allocator.
//
// Grounded on _examples/original_source/src/server/MidiNoteNode.cpp for
// the state machine and _examples/pipelined-pipe's runner.go for the
// Processor hook shape (a small struct holding its own state, wired to a
// graph.Block via SetProcessor).
package block

import (
	"math"

	"ingen.audio/ingen/internal/atom"
	"ingen.audio/ingen/internal/buffer"
	"ingen.audio/ingen/internal/graph"
	"ingen.audio/ingen/internal/runctx"
)

// midiCmd tags the four message kinds MidiNote understands, packed into an
// Int atom on the input AtomSequence (there is no dedicated MIDI atom
// kind; §3's Atom taxonomy is scalar-only, so messages are encoded).
type midiCmd int64

const (
	cmdNoteOff midiCmd = iota
	cmdNoteOn
	cmdSustain
	cmdAllNotesOff
)

// EncodeNoteOn packs a note-on message for MidiNote's input port.
func EncodeNoteOn(note, velocity byte) atom.Atom {
	return atom.NewInt(int64(cmdNoteOn) | int64(note)<<8 | int64(velocity)<<16)
}

// EncodeNoteOff packs a note-off message.
func EncodeNoteOff(note byte) atom.Atom {
	return atom.NewInt(int64(cmdNoteOff) | int64(note)<<8)
}

// EncodeSustain packs a sustain-pedal message.
func EncodeSustain(on bool) atom.Atom {
	v := int64(cmdSustain)
	if on {
		v |= 1 << 24
	}
	return atom.NewInt(v)
}

// EncodeAllNotesOff packs an all-notes-off control message.
func EncodeAllNotesOff() atom.Atom {
	return atom.NewInt(int64(cmdAllNotesOff))
}

func decode(v int64) (cmd midiCmd, note, velocity byte, sustainOn bool) {
	cmd = midiCmd(v & 0xff)
	note = byte((v >> 8) & 0xff)
	velocity = byte((v >> 16) & 0xff)
	sustainOn = (v>>24)&1 != 0
	return
}

// noteToFreq converts a MIDI note number to Hz, A4 (note 69) = 440Hz.
func noteToFreq(note byte) float64 {
	return 440.0 * math.Pow(2, (float64(note)-69.0)/12.0)
}

// voiceState is the per-voice allocation state.
type voiceState int

const (
	voiceFree voiceState = iota
	voiceActive
	voiceHolding
)

type voice struct {
	state voiceState
	note  byte
	time  int64
}

// keyKind is the per-key (per MIDI note number) state.
type keyKind int

const (
	keyOff keyKind = iota
	keyAssigned
	keyUnassigned
)

type key struct {
	state keyKind
	voice int
	time  int64
}

// MidiNote is the voice-stealing polyphonic note allocator (§2 C9, P5).
// One input AtomSequence port carries encoded note-on/note-off/sustain/
// all-notes-off messages (read from voice 0 regardless of the block's
// polyphony: MIDI input is inherently monophonic control data); Gate,
// Frequency and Trigger are per-voice output ports sized to the block's
// polyphony.
type MidiNote struct {
	block *graph.Block

	in   *graph.Port
	gate *graph.Port
	freq *graph.Port
	trig *graph.Port

	keys    map[byte]*key
	voices  []voice
	sustain bool
	clock   int64
}

// NewMidiNote constructs a MidiNote block under parent, with the parent's
// polyphony (or 1, if explicitly monophonic). blockSize sizes the Trigger
// port's per-cycle CV buffer (Options.BlockSize).
func NewMidiNote(parent *graph.Graph, symbol string, polyphony, blockSize int) (*graph.Block, *MidiNote, error) {
	blk, err := graph.NewBlock(parent.Factory(), parent, symbol, graph.KindInternal, "", polyphony)
	if err != nil {
		return nil, nil, err
	}

	m := &MidiNote{block: blk, keys: make(map[byte]*key)}
	m.in = blk.AddPort(graph.PortSpec{
		Symbol: "midi_in", Direction: graph.Input, Type: buffer.AtomSequence,
		ValueType: atom.Int, Capacity: 4096,
	})
	m.gate = blk.AddPort(graph.PortSpec{
		Symbol: "gate", Direction: graph.Output, Type: buffer.Control, Default: atom.NewFloat(0),
	})
	m.freq = blk.AddPort(graph.PortSpec{
		Symbol: "freq", Direction: graph.Output, Type: buffer.Control, Default: atom.NewFloat(440),
	})
	m.trig = blk.AddPort(graph.PortSpec{
		Symbol: "trigger", Direction: graph.Output, Type: buffer.CV, Capacity: blockSize,
	})

	m.voices = make([]voice, blk.Polyphony())
	blk.SetProcessor(m)
	if err := parent.Attach(blk); err != nil {
		return nil, nil, err
	}
	return blk, m, nil
}

func (m *MidiNote) PreProcess(ctx *runctx.RunContext) {}

// Process consumes this cycle's MIDI input events in frame order, updating
// key/voice state and per-voice Gate/Frequency/Trigger outputs (§2 C9).
func (m *MidiNote) Process(ctx *runctx.RunContext) {
	nframes := ctx.NFrames
	for v := range m.voices {
		m.trig.Buffer(v).Clear()
	}

	src := m.in.Buffer(0)
	for _, ev := range src.Events() {
		if ev.EventType != atom.Int {
			continue
		}
		cmd, note, _, sustainOn := decode(ev.Payload.Int())
		switch cmd {
		case cmdNoteOn:
			m.noteOn(note, ev.FrameOffset, nframes)
		case cmdNoteOff:
			m.noteOff(note)
		case cmdSustain:
			m.setSustain(sustainOn)
		case cmdAllNotesOff:
			m.allNotesOff()
		}
	}

	for v := range m.voices {
		vs := &m.voices[v]
		if vs.state == voiceActive || vs.state == voiceHolding {
			m.gate.Buffer(v).SetConstant(1)
			m.freq.Buffer(v).SetConstant(noteToFreq(vs.note))
		} else {
			m.gate.Buffer(v).SetConstant(0)
		}
	}
}

func (m *MidiNote) PostProcess(ctx *runctx.RunContext) {}

func (m *MidiNote) noteOn(note byte, frame, nframes int64) {
	m.clock++
	now := m.clock

	if k, ok := m.keys[note]; ok && k.state == keyAssigned {
		// Retrigger: reuse the already-assigned voice.
		v := k.voice
		m.voices[v] = voice{state: voiceActive, note: note, time: now}
		k.time = now
		m.fireTrigger(v, frame, nframes)
		return
	}

	idx, ok := m.freeVoice()
	if !ok {
		idx = m.oldestActiveVoice()
		if stolen := m.keyForVoice(idx); stolen != nil {
			stolen.state = keyUnassigned
			stolen.voice = -1
		}
	}

	m.voices[idx] = voice{state: voiceActive, note: note, time: now}
	m.keys[note] = &key{state: keyAssigned, voice: idx, time: now}
	m.fireTrigger(idx, frame, nframes)
}

func (m *MidiNote) noteOff(note byte) {
	k, ok := m.keys[note]
	if !ok || k.state == keyOff {
		return
	}
	if k.state == keyUnassigned {
		delete(m.keys, note)
		return
	}

	v := k.voice
	if m.sustain {
		m.voices[v].state = voiceHolding
		delete(m.keys, note)
		return
	}

	if target := m.newestUnassignedKey(); target != nil {
		m.voices[v] = voice{state: voiceActive, note: target.note, time: m.voices[v].time}
		target.key.state = keyAssigned
		target.key.voice = v
		delete(m.keys, note)
		return
	}

	m.voices[v].state = voiceFree
	delete(m.keys, note)
}

// fireTrigger writes a single-sample pulse for voice at frame: 1 at frame,
// 0 at frame+1. If frame lands on the cycle's last frame, the reset write
// at frame+1 would fall outside the buffer, so the offset is backed up by
// one frame (MidiNoteNode.cpp::note_on's one-sample jitter hack).
func (m *MidiNote) fireTrigger(v int, frame, nframes int64) {
	if frame == nframes-1 {
		frame--
	}
	if frame < 0 {
		frame = 0
	}
	samples := m.trig.Buffer(v).Samples()
	if int(frame) < len(samples) {
		samples[frame] = 1
	}
	if int(frame)+1 < len(samples) {
		samples[frame+1] = 0
	}
}

func (m *MidiNote) setSustain(on bool) {
	m.sustain = on
	if !on {
		for v := range m.voices {
			if m.voices[v].state == voiceHolding {
				m.voices[v].state = voiceFree
			}
		}
	}
}

func (m *MidiNote) allNotesOff() {
	for v := range m.voices {
		m.voices[v].state = voiceFree
	}
	m.keys = make(map[byte]*key)
}

func (m *MidiNote) freeVoice() (int, bool) {
	for i, v := range m.voices {
		if v.state == voiceFree {
			return i, true
		}
	}
	return 0, false
}

func (m *MidiNote) oldestActiveVoice() int {
	oldest, oldestTime := -1, int64(math.MaxInt64)
	for i, v := range m.voices {
		if v.state == voiceActive && v.time < oldestTime {
			oldest, oldestTime = i, v.time
		}
	}
	if oldest == -1 {
		return 0
	}
	return oldest
}

func (m *MidiNote) keyForVoice(v int) *key {
	for _, k := range m.keys {
		if k.state == keyAssigned && k.voice == v {
			return k
		}
	}
	return nil
}

// unassignedTarget is the newest key still ON_UNASSIGNED (waiting for a
// voice), a candidate for reassignment when a voice frees up.
type unassignedTarget struct {
	note byte
	key  *key
}

func (m *MidiNote) newestUnassignedKey() *unassignedTarget {
	var best *unassignedTarget
	for note, k := range m.keys {
		if k.state != keyUnassigned {
			continue
		}
		if best == nil || k.time > best.key.time {
			best = &unassignedTarget{note: note, key: k}
		}
	}
	return best
}
