// Copyright The Platformd Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"
)

// Level describes the severity of a log message.
type Level int

const (
	// LevelDebug is the severity of debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity of informational messages.
	LevelInfo
	// LevelWarn is the severity of warnings.
	LevelWarn
	// LevelError is the severity of errors.
	LevelError
	// levelPanic is the severity of panic messages.
	levelPanic
	// levelFatal is the severity of fatal errors.
	levelFatal
)

// Logger is the interface for producing log messages for a particular source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Panic formats and emits an error message, then panics with the same.
	Panic(format string, args ...interface{})
	// Fatal formats and emits an error message, then exits with status 1.
	Fatal(format string, args ...interface{})

	// Debugf is an alias for Debug.
	Debugf(format string, args ...interface{})
	// Infof is an alias for Info.
	Infof(format string, args ...interface{})
	// Warnf is an alias for Warn.
	Warnf(format string, args ...interface{})
	// Errorf is an alias for Error.
	Errorf(format string, args ...interface{})
	// Panicf is an alias for Panic.
	Panicf(format string, args ...interface{})
	// Fatalf is an alias for Fatal.
	Fatalf(format string, args ...interface{})

	// DebugBlock formats and emits a multiline debug message.
	DebugBlock(prefix string, format string, args ...interface{})
	// InfoBlock formats and emits a multiline informational message.
	InfoBlock(prefix string, format string, args ...interface{})
	// WarnBlock formats and emits a multiline warning message.
	WarnBlock(prefix string, format string, args ...interface{})
	// ErrorBlock formats and emits a multiline error message.
	ErrorBlock(prefix string, format string, args ...interface{})

	// EnableDebug enables or disables debug messages for this Logger,
	// returning the previous state.
	EnableDebug(bool) bool
	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool

	// Source returns the source name of this Logger.
	Source() string

	// Println provides compatibility with stdlib-style error loggers.
	Println(v ...interface{})

	// SlogHandler returns an slog.Handler backed by this Logger.
	SlogHandler() slog.Handler
}

// logging is the shared state of all loggers.
type logging struct {
	sync.RWMutex
	level   Level             // severity threshold for non-debug messages
	prefix  bool              // whether to tag messages with their source
	dbgmap  srcmap            // per-source debug settings
	forced  bool              // forced debugging for all sources
	sources map[string]*source // known sources by name
	out     io.Writer         // destination for emitted messages
	align   int                // longest source name seen, for prefix alignment
}

// source is the per-source state shared by all loggers of that source.
type source struct {
	name  string // source name given to Get or NewLogger
	tag   string // aligned "[ name ]" prefix
	debug bool   // debug messages enabled for this source
}

// logger implements Logger for a single source.
type logger struct {
	*source
}

var (
	log = &logging{
		level:   DefaultLevel,
		prefix:  true,
		dbgmap:  srcmap{},
		sources: map[string]*source{},
		out:     os.Stderr,
	}
	deflog = log.get("default")

	severityTags = map[Level]string{
		LevelDebug: "D:",
		LevelInfo:  "I:",
		LevelWarn:  "W:",
		LevelError: "E:",
		levelPanic: "P:",
		levelFatal: "F:",
	}
)

// Get returns the Logger for the given source, creating it if necessary.
func Get(source string) Logger {
	log.Lock()
	defer log.Unlock()
	return log.get(source)
}

// NewLogger is an alias for Get.
func NewLogger(source string) Logger {
	return Get(source)
}

// Default returns the default Logger.
func Default() Logger {
	return deflog
}

// SetLevel sets the severity threshold for non-debug messages.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.level = level
}

// EnableDebug enables or disables debug messages for the given source,
// returning the previous state.
func EnableDebug(source string, enabled bool) bool {
	log.Lock()
	defer log.Unlock()
	return log.setDebug(source, enabled)
}

// SetOutput redirects all messages to the given writer. It returns the
// previous writer. Only tests should have a reason to call this.
func SetOutput(w io.Writer) io.Writer {
	log.Lock()
	defer log.Unlock()
	old := log.out
	log.out = w
	return old
}

// SetupDebugToggleSignal arranges forced debugging for all sources to be
// toggled by the given signal.
func SetupDebugToggleSignal(sig os.Signal) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sig)
	go func() {
		for range sigCh {
			state := toggleForcedDebug()
			deflog.Warn("forced debugging turned %s by %v", enabledState(state), sig)
		}
	}()
}

func toggleForcedDebug() bool {
	log.Lock()
	defer log.Unlock()
	log.forced = !log.forced
	return log.forced
}

func enabledState(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

// get returns the logger for the source, creating it if necessary.
// Callers must hold the logging lock.
func (l *logging) get(name string) logger {
	src, ok := l.sources[name]
	if !ok {
		src = &source{
			name:  name,
			debug: l.dbgmap.enabled(name),
		}
		l.sources[name] = src
		if len(name) > l.align {
			l.align = len(name)
			l.realign()
		} else {
			src.retag(l.align)
		}
	}
	return logger{source: src}
}

// setDebug updates the debug state of a single source.
// Callers must hold the logging lock.
func (l *logging) setDebug(name string, enabled bool) bool {
	src, ok := l.sources[name]
	if !ok {
		src = l.get(name).source
	}
	old := src.debug
	src.debug = enabled
	l.dbgmap[name] = enabled
	return old
}

// setDbgMap replaces the per-source debug settings.
// Callers must hold the logging lock.
func (l *logging) setDbgMap(m srcmap) {
	l.dbgmap = m
	for name, src := range l.sources {
		src.debug = m.enabled(name)
	}
}

// setPrefix sets whether messages are tagged with their source.
// Callers must hold the logging lock.
func (l *logging) setPrefix(prefix bool) {
	l.prefix = prefix
}

// realign recomputes the aligned tag of every source.
// Callers must hold the logging lock.
func (l *logging) realign() {
	for _, src := range l.sources {
		src.retag(l.align)
	}
}

func (s *source) retag(width int) {
	s.tag = "[" + fmt.Sprintf("%-*s", width+2, " "+s.name) + "] "
}

// emit formats the message and writes it out, honoring severity and
// per-source debug state.
func (s *source) emit(level Level, format string, args ...interface{}) {
	log.RLock()
	defer log.RUnlock()

	if level == LevelDebug {
		if !s.debug && !log.forced {
			return
		}
	} else if level < log.level {
		return
	}

	s.write(level, "", format, args...)
}

// emitBlock formats the message and writes it out line by line.
func (s *source) emitBlock(level Level, prefix, format string, args ...interface{}) {
	log.RLock()
	defer log.RUnlock()

	if level == LevelDebug {
		if !s.debug && !log.forced {
			return
		}
	} else if level < log.level {
		return
	}

	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		s.write(level, prefix, "%s", line)
	}
}

// write emits a single line. Callers must hold the logging lock for reading.
func (s *source) write(level Level, prefix, format string, args ...interface{}) {
	var (
		stamp = time.Now().Format("0102 15:04:05.000000")
		tag   = ""
		msg   = fmt.Sprintf(format, args...)
	)
	if log.prefix {
		tag = s.tag
	}
	fmt.Fprintf(log.out, "%s %s %s%s%s\n", severityTags[level], stamp, tag, prefix, msg)
}

func (l logger) Debug(format string, args ...interface{}) {
	l.emit(LevelDebug, format, args...)
}

func (l logger) Info(format string, args ...interface{}) {
	l.emit(LevelInfo, format, args...)
}

func (l logger) Warn(format string, args ...interface{}) {
	l.emit(LevelWarn, format, args...)
}

func (l logger) Error(format string, args ...interface{}) {
	l.emit(LevelError, format, args...)
}

func (l logger) Panic(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.emit(levelPanic, "%s", msg)
	panic(msg)
}

func (l logger) Fatal(format string, args ...interface{}) {
	l.emit(levelFatal, format, args...)
	os.Exit(1)
}

func (l logger) Debugf(format string, args ...interface{}) {
	l.emit(LevelDebug, format, args...)
}

func (l logger) Infof(format string, args ...interface{}) {
	l.emit(LevelInfo, format, args...)
}

func (l logger) Warnf(format string, args ...interface{}) {
	l.emit(LevelWarn, format, args...)
}

func (l logger) Errorf(format string, args ...interface{}) {
	l.emit(LevelError, format, args...)
}

func (l logger) Panicf(format string, args ...interface{}) {
	l.Panic(format, args...)
}

func (l logger) Fatalf(format string, args ...interface{}) {
	l.Fatal(format, args...)
}

func (l logger) DebugBlock(prefix string, format string, args ...interface{}) {
	l.emitBlock(LevelDebug, prefix, format, args...)
}

func (l logger) InfoBlock(prefix string, format string, args ...interface{}) {
	l.emitBlock(LevelInfo, prefix, format, args...)
}

func (l logger) WarnBlock(prefix string, format string, args ...interface{}) {
	l.emitBlock(LevelWarn, prefix, format, args...)
}

func (l logger) ErrorBlock(prefix string, format string, args ...interface{}) {
	l.emitBlock(LevelError, prefix, format, args...)
}

func (l logger) EnableDebug(enabled bool) bool {
	log.Lock()
	defer log.Unlock()
	return log.setDebug(l.name, enabled)
}

func (l logger) DebugEnabled() bool {
	log.RLock()
	defer log.RUnlock()
	return l.debug || log.forced
}

func (l logger) Source() string {
	return l.name
}

func (l logger) Println(v ...interface{}) {
	l.emit(LevelInfo, "%s", strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

// MarshalJSON marshals a Level as a string.
func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON unmarshals a Level from a string.
func (l *Level) UnmarshalJSON(raw []byte) error {
	name := strings.Trim(string(raw), `"`)
	level, ok := map[string]Level{
		"debug": LevelDebug,
		"info":  LevelInfo,
		"warn":  LevelWarn,
		"error": LevelError,
	}[strings.ToLower(name)]
	if !ok {
		return loggerError("invalid log level %q", name)
	}
	*l = level
	return nil
}

// String returns the name of the Level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// loggerError returns a package-specific formatted error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}
