package diag

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// LogifaceLogger adapts a github.com/joeycumines/logiface Logger (backed
// by the stumpy JSON event encoder) to the Logger interface. This is the
// default non-test production logger, grounded on the same
// logiface+stumpy pairing the teacher's logiface-stumpy package wires
// up.
type LogifaceLogger struct {
	logger *logiface.Logger[*stumpy.Event]
}

// NewLogifaceLogger constructs a LogifaceLogger writing newline-delimited
// JSON to stumpy's default writer (os.Stderr), at or above minLevel.
func NewLogifaceLogger(minLevel Level) *LogifaceLogger {
	return &LogifaceLogger{
		logger: stumpy.L.New(
			stumpy.L.WithStumpy(),
			stumpy.L.WithLevel(toLogifaceLevel(minLevel)),
		),
	}
}

var _ Logger = (*LogifaceLogger)(nil)

func toLogifaceLevel(l Level) logiface.Level {
	switch l {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarning:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	case LevelFatal:
		return logiface.LevelAlert
	default:
		return logiface.LevelInformational
	}
}

func (l *LogifaceLogger) build(level Level, caller CallerInfo, fields []Field) *logiface.Builder[*stumpy.Event] {
	b := l.logger.Build(toLogifaceLevel(level))
	b.Str("file", caller.File).
		Str("member", caller.Member).
		Int("line", caller.Line)
	for _, f := range fields {
		b.Field(f.Key, f.Value)
	}
	return b
}

func (l *LogifaceLogger) WriteDiagnostic(level Level, message string, caller CallerInfo, fields ...Field) {
	l.build(level, caller, fields).Log(message)
}

func (l *LogifaceLogger) Debug(message string, caller CallerInfo, fields ...Field) {
	l.build(LevelDebug, caller, fields).Log(message)
}

func (l *LogifaceLogger) Info(message string, caller CallerInfo, fields ...Field) {
	l.build(LevelInfo, caller, fields).Log(message)
}

func (l *LogifaceLogger) Warning(message string, caller CallerInfo, fields ...Field) {
	l.build(LevelWarning, caller, fields).Log(message)
}

func (l *LogifaceLogger) Error(message string, caller CallerInfo, fields ...Field) {
	l.build(LevelError, caller, fields).Log(message)
}

func (l *LogifaceLogger) Fatal(message string, caller CallerInfo, fields ...Field) {
	l.build(LevelFatal, caller, fields).Log(message)
}

// Event logs a named lifecycle milestone (e.g. "worker_spawned",
// "child_added") at info level, with name attached as the "event" field.
func (l *LogifaceLogger) Event(name string, caller CallerInfo, fields ...Field) {
	b := l.build(LevelInfo, caller, fields)
	b.Str("event", name).Log(name)
}

// Exception logs a captured error at error level, attaching it via Err
// so implementations that special-case error fields (stumpy included)
// render it consistently.
func (l *LogifaceLogger) Exception(err error, caller CallerInfo, fields ...Field) {
	b := l.logger.Build(toLogifaceLevel(LevelError))
	b.Str("file", caller.File).
		Str("member", caller.Member).
		Int("line", caller.Line).
		Err(err)
	for _, f := range fields {
		b.Field(f.Key, f.Value)
	}
	b.Log("exception")
}
