package logx

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger shared by every acsd component.
// Fields are passed as alternating key/value pairs after the message.
type Logger struct {
	entry *logrus.Entry
	base  *logrus.Logger
}

// NewLogger creates a logger at the given level tagged with a component name
func NewLogger(level, component string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	base.SetLevel(parseLevel(level))

	entry := logrus.NewEntry(base)
	if component != "" {
		entry = entry.WithField("component", component)
	}

	return &Logger{entry: entry, base: base}
}

// SetLevel changes the minimum level. Unknown names fall back to info.
func (l *Logger) SetLevel(level string) {
	l.base.SetLevel(parseLevel(level))
}

// SetFormat selects "json" or "text" output
func (l *Logger) SetFormat(format string) {
	if strings.EqualFold(format, "json") {
		l.base.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	l.base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetOutput redirects log output, mostly for tests
func (l *Logger) SetOutput(w io.Writer) {
	l.base.SetOutput(w)
}

// With returns a child logger carrying the given fields on every line
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(toFields(kv)), base: l.base}
}

func (l *Logger) Trace(msg string, kv ...interface{}) {
	l.entry.WithFields(toFields(kv)).Trace(msg)
}

func (l *Logger) Debug(msg string, kv ...interface{}) {
	l.entry.WithFields(toFields(kv)).Debug(msg)
}

func (l *Logger) Info(msg string, kv ...interface{}) {
	l.entry.WithFields(toFields(kv)).Info(msg)
}

func (l *Logger) Warn(msg string, kv ...interface{}) {
	l.entry.WithFields(toFields(kv)).Warn(msg)
}

func (l *Logger) Error(msg string, kv ...interface{}) {
	l.entry.WithFields(toFields(kv)).Error(msg)
}

// LogStateChange records a state machine transition
func (l *Logger) LogStateChange(component, from, to, reason string, fields map[string]interface{}) {
	f := logrus.Fields{
		"state_component": component,
		"from":            from,
		"to":              to,
		"reason":          reason,
	}
	for k, v := range fields {
		f[k] = v
	}
	l.entry.WithFields(f).Info("state_change")
}

// LogDebugVerbose logs an event with a field map at debug level
func (l *Logger) LogDebugVerbose(event string, fields map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(fields)).Debug(event)
}

// LogVerbose logs an event with a field map at trace level
func (l *Logger) LogVerbose(event string, fields map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(fields)).Trace(event)
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// toFields converts key/value pairs into logrus fields. A lone map argument
// is merged as is; a dangling key is kept under "extra".
func toFields(kv []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	if len(kv) == 1 {
		if m, ok := kv[0].(map[string]interface{}); ok {
			for k, v := range m {
				fields[k] = v
			}
			return fields
		}
	}

	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 >= len(kv) {
			fields["extra"] = kv[i]
			break
		}
		if err, ok := kv[i+1].(error); ok && err != nil {
			fields[key] = err.Error()
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}
