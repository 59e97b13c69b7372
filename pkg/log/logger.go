package log

import "errors"

// Logger receives protocol events from the transport, session and host
// layers. Implementations must be safe for concurrent use and must not
// block: sessions call Log from their reader and writer goroutines.
type Logger interface {
	Log(event Event)
}

// Flusher is implemented by loggers that buffer events.
type Flusher interface {
	Flush() error
}

// NoopLogger discards every event.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// MultiLogger fans each event out to several loggers in order.
type MultiLogger []Logger

// Log passes event to every logger.
func (m MultiLogger) Log(event Event) {
	for _, l := range m {
		l.Log(event)
	}
}

// Flush flushes every logger that buffers.
func (m MultiLogger) Flush() error {
	var errs []error
	for _, l := range m {
		if f, ok := l.(Flusher); ok {
			errs = append(errs, f.Flush())
		}
	}
	return errors.Join(errs...)
}

// Combine joins loggers into one. Nil and no-op loggers are dropped and
// nested MultiLoggers are flattened. With nothing left it returns nil, which
// disables protocol capture; with one logger left it returns that logger.
func Combine(loggers ...Logger) Logger {
	var out MultiLogger
	for _, l := range loggers {
		switch v := l.(type) {
		case nil, NoopLogger, *NoopLogger:
		case MultiLogger:
			out = append(out, v...)
		default:
			out = append(out, l)
		}
	}

	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}

var (
	_ Logger  = NoopLogger{}
	_ Logger  = MultiLogger(nil)
	_ Flusher = MultiLogger(nil)
	_ Flusher = (*FileLogger)(nil)
)
