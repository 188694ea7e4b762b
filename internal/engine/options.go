package engine

// Options configures an Engine, constructed with functional options the
// way the teacher's pipe.Option configures a Pipe (options.go) — no
// flag/env parsing, since CLI/config parsing is out of scope; the
// functional-options constructor is the ambient convention kept.
type Options struct {
	BlockSize         int
	SampleRate        int64
	NThreads          int
	QueueSize         int
	Trace             bool
	MaxEventsPerCycle int
	Polyphony         int
}

func defaultOptions() Options {
	return Options{
		BlockSize:         256,
		SampleRate:        48000,
		NThreads:          4,
		QueueSize:         256,
		MaxEventsPerCycle: 32,
		Polyphony:         1,
	}
}

// Option mutates an Options during construction.
type Option func(*Options)

// WithBlockSize sets the number of frames processed per cycle.
func WithBlockSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.BlockSize = n
		}
	}
}

// WithSampleRate sets the engine's nominal sample rate.
func WithSampleRate(n int64) Option {
	return func(o *Options) {
		if n > 0 {
			o.SampleRate = n
		}
	}
}

// WithThreads sets the Task executor's worker pool size.
func WithThreads(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.NThreads = n
		}
	}
}

// WithQueueSize sets the PreProcessor/Broadcaster channel capacities.
func WithQueueSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.QueueSize = n
		}
	}
}

// WithTrace enables dumping the compiled task tree through the log after
// every recompile (SUPPLEMENTED FEATURES item 1).
func WithTrace(on bool) Option {
	return func(o *Options) { o.Trace = on }
}

// WithMaxEventsPerCycle bounds how many pre_processed events Execute runs
// in a single cycle; the rest remain queued for the next one (§4.7).
func WithMaxEventsPerCycle(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxEventsPerCycle = n
		}
	}
}

// WithPolyphony sets the root graph's initial polyphony.
func WithPolyphony(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Polyphony = n
		}
	}
}
