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
	stdlog "log"
	"strings"
)

// stdWriter feeds standard library log output through a Logger.
type stdWriter struct {
	l Logger
}

// SetStdLogger redirects the standard library's default logger through
// the Logger of the given source. Libraries logging with the log
// package then emit in the same format as everything else.
func SetStdLogger(source string) {
	l := Default()
	if source != "" {
		l = Get(source)
	}
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdWriter{l: l})
}

// Write implements the io.Writer interface.
func (w stdWriter) Write(p []byte) (int, error) {
	w.l.Info("%s", strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}
