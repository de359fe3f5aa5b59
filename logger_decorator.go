package modwire

// LoggerDecorator wraps a Logger to add behaviour around it.
type LoggerDecorator interface {
	Logger

	// Inner returns the wrapped logger.
	Inner() Logger
}

// fieldLogger prepends fixed key-value pairs to every log call.
type fieldLogger struct {
	inner  Logger
	fields []any
}

// WithLogFields returns a logger that adds fields to every entry written
// through it. Fields are key-value pairs, as for Logger.Info.
//
//	watcherLog := modwire.WithLogFields(c.Logger(), "component", "deploy", "dir", dir)
func WithLogFields(inner Logger, fields ...any) LoggerDecorator {
	if inner == nil {
		inner = nopLogger{}
	}
	if fl, ok := inner.(*fieldLogger); ok {
		merged := make([]any, 0, len(fl.fields)+len(fields))
		merged = append(merged, fl.fields...)
		merged = append(merged, fields...)
		return &fieldLogger{inner: fl.inner, fields: merged}
	}
	return &fieldLogger{inner: inner, fields: fields}
}

func (l *fieldLogger) Inner() Logger { return l.inner }

func (l *fieldLogger) combine(args []any) []any {
	if len(l.fields) == 0 {
		return args
	}
	if len(args) == 0 {
		return l.fields
	}
	combined := make([]any, 0, len(l.fields)+len(args))
	combined = append(combined, l.fields...)
	return append(combined, args...)
}

func (l *fieldLogger) Info(msg string, args ...any)  { l.inner.Info(msg, l.combine(args)...) }
func (l *fieldLogger) Error(msg string, args ...any) { l.inner.Error(msg, l.combine(args)...) }
func (l *fieldLogger) Warn(msg string, args ...any)  { l.inner.Warn(msg, l.combine(args)...) }
func (l *fieldLogger) Debug(msg string, args ...any) { l.inner.Debug(msg, l.combine(args)...) }
