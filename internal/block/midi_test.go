package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingen.audio/ingen/internal/atom"
	"ingen.audio/ingen/internal/buffer"
	"ingen.audio/ingen/internal/graph"
	"ingen.audio/ingen/internal/runctx"
)

func newRootAndMidi(t *testing.T, polyphony int) (*graph.Graph, *MidiNote) {
	t.Helper()
	f := buffer.NewFactory()
	root := graph.NewRootGraph(f, polyphony)
	_, m, err := NewMidiNote(root, "midi_note", polyphony, 64)
	require.NoError(t, err)
	return root, m
}

func TestMidiNoteEncodeDecode(t *testing.T) {
	cmd, note, vel, sustain := decode(EncodeNoteOn(60, 100).Int())
	assert.Equal(t, cmdNoteOn, cmd)
	assert.EqualValues(t, 60, note)
	assert.EqualValues(t, 100, vel)
	assert.False(t, sustain)

	cmd, note, _, _ = decode(EncodeNoteOff(60).Int())
	assert.Equal(t, cmdNoteOff, cmd)
	assert.EqualValues(t, 60, note)

	_, _, _, sustain = decode(EncodeSustain(true).Int())
	assert.True(t, sustain)
}

func TestMidiNoteFreqA4(t *testing.T) {
	assert.InDelta(t, 440.0, noteToFreq(69), 0.001)
	assert.InDelta(t, 220.0, noteToFreq(57), 0.001)
}

func TestMidiNoteOnAssignsVoice(t *testing.T) {
	_, m := newRootAndMidi(t, 4)
	src := m.in.Buffer(0)
	src.PrepareOutputWrite()
	src.AppendEvent(0, atom.Int, EncodeNoteOn(60, 100))

	m.Process(&runctx.RunContext{NFrames: 64, SampleRate: 48000})

	assert.EqualValues(t, 1, m.gate.Buffer(0).ControlValue())
	assert.InDelta(t, noteToFreq(60), m.freq.Buffer(0).ControlValue(), 0.001)
}

func TestMidiNoteStealsOldestVoiceWhenFull(t *testing.T) {
	_, m := newRootAndMidi(t, 2)
	src := m.in.Buffer(0)

	src.PrepareOutputWrite()
	src.AppendEvent(0, atom.Int, EncodeNoteOn(60, 100))
	src.AppendEvent(1, atom.Int, EncodeNoteOn(61, 100))
	m.Process(&runctx.RunContext{NFrames: 64, SampleRate: 48000})

	src.PrepareOutputWrite()
	src.AppendEvent(0, atom.Int, EncodeNoteOn(62, 100))
	m.Process(&runctx.RunContext{NFrames: 64, SampleRate: 48000})

	// voice 0 held note 60, the oldest, and should have been stolen for 62.
	assert.InDelta(t, noteToFreq(62), m.freq.Buffer(0).ControlValue(), 0.001)
	assert.InDelta(t, noteToFreq(61), m.freq.Buffer(1).ControlValue(), 0.001)
}

func TestMidiNoteSustainHoldsAfterNoteOff(t *testing.T) {
	_, m := newRootAndMidi(t, 2)
	src := m.in.Buffer(0)

	src.PrepareOutputWrite()
	src.AppendEvent(0, atom.Int, EncodeSustain(true))
	src.AppendEvent(0, atom.Int, EncodeNoteOn(60, 100))
	m.Process(&runctx.RunContext{NFrames: 64, SampleRate: 48000})

	src.PrepareOutputWrite()
	src.AppendEvent(0, atom.Int, EncodeNoteOff(60))
	m.Process(&runctx.RunContext{NFrames: 64, SampleRate: 48000})

	assert.Equal(t, voiceHolding, m.voices[0].state)
	assert.EqualValues(t, 1, m.gate.Buffer(0).ControlValue())

	src.PrepareOutputWrite()
	src.AppendEvent(0, atom.Int, EncodeSustain(false))
	m.Process(&runctx.RunContext{NFrames: 64, SampleRate: 48000})

	assert.Equal(t, voiceFree, m.voices[0].state)
}

func TestMidiNoteAllNotesOff(t *testing.T) {
	_, m := newRootAndMidi(t, 2)
	src := m.in.Buffer(0)

	src.PrepareOutputWrite()
	src.AppendEvent(0, atom.Int, EncodeNoteOn(60, 100))
	src.AppendEvent(1, atom.Int, EncodeNoteOn(61, 100))
	m.Process(&runctx.RunContext{NFrames: 64, SampleRate: 48000})

	src.PrepareOutputWrite()
	src.AppendEvent(0, atom.Int, EncodeAllNotesOff())
	m.Process(&runctx.RunContext{NFrames: 64, SampleRate: 48000})

	for _, v := range m.voices {
		assert.Equal(t, voiceFree, v.state)
	}
}

func TestMidiNoteTriggerJitterAtLastFrame(t *testing.T) {
	_, m := newRootAndMidi(t, 1)
	src := m.in.Buffer(0)
	src.PrepareOutputWrite()
	src.AppendEvent(63, atom.Int, EncodeNoteOn(60, 100))

	m.Process(&runctx.RunContext{NFrames: 64, SampleRate: 48000})

	samples := m.trig.Buffer(0).Samples()
	assert.EqualValues(t, 1, samples[62])
	assert.EqualValues(t, 0, samples[63])
}
