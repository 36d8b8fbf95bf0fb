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
	"context"
	"log/slog"
	"strings"
)

// slogger bridges a Logger to the slog package.
type slogger struct {
	l     Logger
	attrs []string
}

var _ slog.Handler = &slogger{}

// SetSlogLogger sets up the default slog logger to emit through the
// Logger of the given source.
func SetSlogLogger(source string) {
	l := Default()
	if source != "" {
		l = Get(source)
	}
	slog.SetDefault(slog.New(l.SlogHandler()))
}

func (l logger) SlogHandler() slog.Handler {
	return &slogger{l: l}
}

func (s *slogger) Enabled(_ context.Context, level slog.Level) bool {
	if level == slog.LevelDebug {
		return s.l.DebugEnabled()
	}

	log.RLock()
	defer log.RUnlock()

	switch level {
	case slog.LevelInfo:
		return log.level <= LevelInfo
	case slog.LevelWarn:
		return log.level <= LevelWarn
	case slog.LevelError:
		return log.level <= LevelError
	}
	return level >= slog.LevelInfo
}

func (s *slogger) Handle(_ context.Context, r slog.Record) error {
	msg := strings.TrimPrefix(r.Message, r.Level.String()+" ")
	r.Attrs(func(a slog.Attr) bool {
		msg += " " + a.String()
		return true
	})
	if len(s.attrs) > 0 {
		msg += " " + strings.Join(s.attrs, " ")
	}

	switch {
	case r.Level < slog.LevelInfo:
		s.l.Debug("%s", msg)
	case r.Level < slog.LevelWarn:
		s.l.Info("%s", msg)
	case r.Level < slog.LevelError:
		s.l.Warn("%s", msg)
	default:
		s.l.Error("%s", msg)
	}
	return nil
}

func (s *slogger) WithAttrs(attrs []slog.Attr) slog.Handler {
	h := &slogger{l: s.l, attrs: s.attrs}
	for _, a := range attrs {
		h.attrs = append(h.attrs, a.String())
	}
	return h
}

func (s *slogger) WithGroup(_ string) slog.Handler {
	return s
}
