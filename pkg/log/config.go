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
	"os"
	"strings"

	"github.com/platformd/platformd/pkg/utils"
)

const (
	// DefaultLevel is the default logging severity level.
	DefaultLevel = LevelInfo
	// debugEnvVar is the environment variable used to seed debugging flags.
	debugEnvVar = "LOGGER_DEBUG"
	// sourceEnvVar is the environment variable used to seed source tagging.
	sourceEnvVar = "LOGGER_LOG_SOURCE"
)

// Config provides runtime configuration for logging.
type Config struct {
	// Level is the severity threshold for emitting non-debug messages.
	Level Level `json:"level,omitempty"`
	// Debug controls debug messages per source. Each entry is a comma-
	// separated list of sources, optionally preceded by a state and a
	// colon ("on:session,policy" or "off:*"). A bare source list enables
	// debugging for the listed sources. The wildcard "*" and the alias
	// "all" match every source.
	Debug []string `json:"debug,omitempty"`
	// Source controls whether messages are tagged with their source.
	Source *bool `json:"source,omitempty"`
}

// srcmap tracks debugging settings for sources.
type srcmap map[string]bool

// parse parses the given string and updates the srcmap accordingly.
func (m *srcmap) parse(value string) error {
	if *m == nil {
		*m = make(srcmap)
	}
	if value = strings.TrimSpace(value); value == "" {
		return nil
	}

	state := ""
	for _, entry := range strings.Split(value, ",") {
		if entry = strings.TrimSpace(entry); entry == "" {
			continue
		}

		src := entry
		if split := strings.SplitN(entry, ":", 2); len(split) == 2 {
			state, src = split[0], strings.TrimSpace(split[1])
		}
		if state == "" {
			state = "on"
		}
		if src == "all" {
			src = "*"
		}

		enabled, err := utils.ParseEnabled(state)
		if err != nil {
			return loggerError("invalid state %q in debug spec %q", state, entry)
		}
		(*m)[src] = enabled
	}

	return nil
}

// enabled returns the debug state for the given source.
func (m srcmap) enabled(source string) bool {
	if state, ok := m[source]; ok {
		return state
	}
	return m["*"]
}

// String returns a string representation of the srcmap.
func (m srcmap) String() string {
	on, off := []string{}, []string{}
	for src, state := range m {
		if state {
			on = append(on, src)
		} else {
			off = append(off, src)
		}
	}

	switch {
	case len(on) == 0 && len(off) == 0:
		return ""
	case len(off) == 0:
		return "on:" + strings.Join(on, ",")
	case len(on) == 0:
		return "off:" + strings.Join(off, ",")
	}
	return "on:" + strings.Join(on, ",") + ",off:" + strings.Join(off, ",")
}

// Configure updates the logging configuration.
func Configure(cfg *Config) error {
	deflog.Debug("logger configuration update %+v", cfg)

	debug := make(srcmap)
	for _, value := range cfg.Debug {
		if err := debug.parse(value); err != nil {
			return err
		}
	}

	log.Lock()
	defer log.Unlock()

	log.level = cfg.Level
	log.setDbgMap(debug)
	if cfg.Source != nil {
		log.setPrefix(*cfg.Source)
	}

	return nil
}

// Initialize logging from the environment.
func init() {
	cfg := &Config{
		Level: DefaultLevel,
	}
	if value, ok := os.LookupEnv(sourceEnvVar); ok {
		source, err := utils.ParseEnabled(value)
		if err != nil {
			deflog.Error("failed to parse $%s %q: %v", sourceEnvVar, value, err)
		} else {
			cfg.Source = &source
		}
	}
	if value, ok := os.LookupEnv(debugEnvVar); ok {
		debug := make(srcmap)
		if err := debug.parse(value); err != nil {
			deflog.Error("failed to parse $%s %q: %v", debugEnvVar, value, err)
		} else {
			cfg.Debug = []string{debug.String()}
		}
	}

	if err := Configure(cfg); err != nil {
		deflog.Error("initial logging configuration failed: %v", err)
	}
}
