package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingen.audio/ingen/internal/atom"
)

func TestClear(t *testing.T) {
	f := NewFactory()
	audio := f.Get(Audio, atom.Invalid, 8)
	audio.SetConstant(1)
	audio.Clear()
	for _, s := range audio.Samples() {
		assert.Equal(t, float32(0), s)
	}

	control := f.Get(Control, atom.Invalid, 1)
	control.SetConstant(4)
	control.Clear()
	assert.Equal(t, float64(0), control.ControlValue())
}

func TestCopySameType(t *testing.T) {
	f := NewFactory()
	src := f.Get(Audio, atom.Invalid, 4)
	for i := range src.Samples() {
		src.Samples()[i] = float32(i + 1)
	}
	dst := f.Get(Audio, atom.Invalid, 4)
	dst.Copy(Context{NFrames: 4}, src)
	assert.Equal(t, src.Samples(), dst.Samples())
}

func TestCopyAudioToControlTakesFirstSample(t *testing.T) {
	f := NewFactory()
	src := f.Get(Audio, atom.Invalid, 4)
	src.Samples()[0] = 3.5

	dst := f.Get(Control, atom.Invalid, 1)
	dst.Copy(Context{NFrames: 4}, src)
	assert.EqualValues(t, 3.5, dst.ControlValue())
}

func TestCopyControlToAudioFillsConstant(t *testing.T) {
	f := NewFactory()
	src := f.Get(Control, atom.Invalid, 1)
	src.SetConstant(0.5)

	dst := f.Get(Audio, atom.Invalid, 4)
	dst.Copy(Context{NFrames: 4}, src)
	for _, s := range dst.Samples() {
		assert.EqualValues(t, 0.5, s)
	}
}

func TestCopyMismatchClears(t *testing.T) {
	f := NewFactory()
	dst := f.Get(Audio, atom.Invalid, 4)
	dst.SetConstant(9)

	src := f.Get(AtomSequence, atom.Invalid, 64)
	dst.Copy(Context{NFrames: 4}, src)
	for _, s := range dst.Samples() {
		assert.Equal(t, float32(0), s)
	}
}

func TestRenderSequencePiecewiseConstant(t *testing.T) {
	f := NewFactory()
	seq := f.Get(AtomSequence, atom.Float, 256)
	require.True(t, seq.AppendEvent(0, atom.Float, atom.NewFloat(1)))
	require.True(t, seq.AppendEvent(2, atom.Float, atom.NewFloat(2)))

	dst := f.Get(Audio, atom.Invalid, 4)
	dst.Copy(Context{Offset: 0, NFrames: 4}, seq)
	want := []float32{1, 1, 2, 2}
	assert.Equal(t, want, dst.Samples())
}

func TestPeak(t *testing.T) {
	f := NewFactory()
	b := f.Get(Audio, atom.Invalid, 4)
	copy(b.Samples(), []float32{-1, 2, -3, 0.5})
	assert.Equal(t, float32(3), b.Peak(Context{NFrames: 4}))
}

func TestAppendEventMonotonicity(t *testing.T) {
	f := NewFactory()
	seq := f.Get(AtomSequence, atom.Invalid, 256)
	require.True(t, seq.AppendEvent(5, atom.Int, atom.NewInt(1)))
	assert.Panics(t, func() {
		seq.AppendEvent(1, atom.Int, atom.NewInt(2))
	})
}

func TestAppendEventCapacity(t *testing.T) {
	f := NewFactory()
	seq := f.Get(AtomSequence, atom.Invalid, 8)
	require.True(t, seq.AppendEvent(0, atom.Blob, atom.NewBlob(make([]byte, 4))))
	assert.False(t, seq.AppendEvent(1, atom.Blob, atom.NewBlob(make([]byte, 8))))
}

func TestPrepareOutputWriteClearsOnFirstAppend(t *testing.T) {
	f := NewFactory()
	seq := f.Get(AtomSequence, atom.Invalid, 256)
	require.True(t, seq.AppendEvent(0, atom.Int, atom.NewInt(1)))
	seq.PrepareOutputWrite()
	require.True(t, seq.AppendEvent(0, atom.Int, atom.NewInt(2)))
	assert.Len(t, seq.Events(), 1)
}

func TestMergeSorted(t *testing.T) {
	f := NewFactory()
	a := f.Get(AtomSequence, atom.Invalid, 256)
	require.True(t, a.AppendEvent(0, atom.Int, atom.NewInt(1)))
	require.True(t, a.AppendEvent(10, atom.Int, atom.NewInt(2)))

	b := f.Get(AtomSequence, atom.Invalid, 256)
	require.True(t, b.AppendEvent(5, atom.Int, atom.NewInt(3)))

	a.MergeSorted(b)
	offsets := make([]int64, len(a.Events()))
	for i, ev := range a.Events() {
		offsets[i] = ev.FrameOffset
	}
	assert.Equal(t, []int64{0, 5, 10}, offsets)
}

func TestNextValueOffset(t *testing.T) {
	f := NewFactory()
	seq := f.Get(AtomSequence, atom.Float, 256)
	require.True(t, seq.AppendEvent(3, atom.Float, atom.NewFloat(1)))
	require.True(t, seq.AppendEvent(9, atom.Float, atom.NewFloat(2)))

	assert.EqualValues(t, 3, seq.NextValueOffset(0, 64))
	assert.EqualValues(t, 9, seq.NextValueOffset(3, 64))
	assert.EqualValues(t, 64, seq.NextValueOffset(9, 64))
}

func TestValueSidecar(t *testing.T) {
	f := NewFactory()
	seq := f.Get(AtomSequence, atom.Float, 256)
	assert.False(t, seq.Value().IsValid())
	seq.SetValue(atom.NewFloat(42))
	assert.EqualValues(t, 42, seq.Value().Float())

	require.True(t, seq.AppendEvent(0, atom.Float, atom.NewFloat(1)))
	require.True(t, seq.AppendEvent(5, atom.Float, atom.NewFloat(7)))
	seq.UpdateValueFromSequence(5)
	assert.EqualValues(t, 7, seq.Value().Float())
}

func TestFactoryRecyclesOnDeref(t *testing.T) {
	f := NewFactory()
	assert.Equal(t, 0, f.Pooled(Audio, atom.Invalid, 4))
	b := f.Get(Audio, atom.Invalid, 4)
	b.Deref()
	assert.Equal(t, 1, f.Pooled(Audio, atom.Invalid, 4))

	b2 := f.Get(Audio, atom.Invalid, 4)
	assert.Same(t, b, b2)
	assert.Equal(t, 0, f.Pooled(Audio, atom.Invalid, 4))
}

func TestAddSameTypeSums(t *testing.T) {
	f := NewFactory()
	dst := f.Get(Audio, atom.Invalid, 4)
	copy(dst.Samples(), []float32{1, 1, 1, 1})

	src := f.Get(Audio, atom.Invalid, 4)
	copy(src.Samples(), []float32{1, 2, 3, 4})

	dst.Add(Context{NFrames: 4}, src)
	assert.Equal(t, []float32{2, 3, 4, 5}, dst.Samples())
}

func TestAddControlSums(t *testing.T) {
	f := NewFactory()
	dst := f.Get(Control, atom.Invalid, 1)
	dst.SetConstant(1)
	src := f.Get(Control, atom.Invalid, 1)
	src.SetConstant(2)

	dst.Add(Context{NFrames: 4}, src)
	assert.Equal(t, float64(3), dst.ControlValue())
}

func TestAddAudioToControlAccumulatesFirstSample(t *testing.T) {
	f := NewFactory()
	dst := f.Get(Control, atom.Invalid, 1)
	dst.SetConstant(1)

	src := f.Get(Audio, atom.Invalid, 4)
	src.Samples()[0] = 3.5

	dst.Add(Context{NFrames: 4}, src)
	assert.EqualValues(t, 4.5, dst.ControlValue())
}

func TestAddControlToAudioAddsConstantToEverySample(t *testing.T) {
	f := NewFactory()
	dst := f.Get(Audio, atom.Invalid, 4)
	copy(dst.Samples(), []float32{1, 1, 1, 1})

	src := f.Get(Control, atom.Invalid, 1)
	src.SetConstant(0.5)

	dst.Add(Context{NFrames: 4}, src)
	for _, s := range dst.Samples() {
		assert.EqualValues(t, 1.5, s)
	}
}

func TestAddSequenceRendersOnTopOfExistingSamples(t *testing.T) {
	f := NewFactory()
	seq := f.Get(AtomSequence, atom.Float, 256)
	require.True(t, seq.AppendEvent(0, atom.Float, atom.NewFloat(1)))
	require.True(t, seq.AppendEvent(2, atom.Float, atom.NewFloat(2)))

	dst := f.Get(Audio, atom.Invalid, 4)
	copy(dst.Samples(), []float32{10, 10, 10, 10})

	dst.Add(Context{Offset: 0, NFrames: 4}, seq)
	want := []float32{11, 11, 12, 12}
	assert.Equal(t, want, dst.Samples())
}

func TestFactoryGetIsAlwaysFreshlyCleared(t *testing.T) {
	f := NewFactory()
	b := f.Get(Audio, atom.Invalid, 4)
	b.SetConstant(5)
	b.Deref()

	b2 := f.Get(Audio, atom.Invalid, 4)
	for _, s := range b2.Samples() {
		assert.Equal(t, float32(0), s)
	}
}
