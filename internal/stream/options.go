package stream

// Logger records decoder and interpreter diagnostics. It matches the method
// set of *logging.Logger.
type Logger interface {
	Printf(format string, args ...any)
	Debugf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
func (nopLogger) Debugf(string, ...any) {}

type options struct {
	logger        Logger
	maxFrameBytes int
}

// Option customizes decoding.
type Option func(*options)

// WithLogger routes diagnostics to l.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxFrameBytes overrides DefaultMaxFrameBytes. Non-positive values are
// ignored.
func WithMaxFrameBytes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFrameBytes = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: nopLogger{}, maxFrameBytes: DefaultMaxFrameBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
