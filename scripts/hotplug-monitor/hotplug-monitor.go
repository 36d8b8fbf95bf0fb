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

// hotplug-monitor dumps kernel uevents the way platformd's hotplug
// monitor sees them. Bare arguments select subsystems, KEY=glob
// arguments (comma-separated within one filter) select events by
// property.
package main

import (
	"os"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/platformd/platformd/pkg/hotplug"
	logger "github.com/platformd/platformd/pkg/log"
)

var (
	log = logger.Get("hotplug")
)

func main() {
	var (
		subsystems, globs = parseArgs()
		events            = make(chan *hotplug.Event, 64)
		options           []hotplug.MonitorOption
	)

	if len(subsystems) > 0 {
		options = append(options, hotplug.WithSubsystems(subsystems...))
	}
	if len(globs) > 0 {
		options = append(options, hotplug.WithPropertyGlobs(globs...))
	}

	m, err := hotplug.NewMonitor(options...)
	if err != nil {
		log.Fatalf("failed to set up hotplug monitor: %v", err)
	}

	m.Start(events)

	for evt := range events {
		dump(evt)
	}
}

func parseArgs() ([]string, []map[string]string) {
	var (
		subsystems []string
		globs      []map[string]string
	)

	for _, arg := range os.Args[1:] {
		if !strings.Contains(arg, "=") {
			subsystems = append(subsystems, arg)
			continue
		}

		glob := map[string]string{}
		for _, expr := range strings.Split(arg, ",") {
			kv := strings.SplitN(expr, "=", 2)
			if len(kv) != 2 {
				log.Fatalf("invalid filter expression %s (in %s)", expr, arg)
			}
			glob[strings.ToUpper(kv[0])] = kv[1]
		}
		if len(glob) > 0 {
			log.Info("using parsed filter: %v", glob)
			globs = append(globs, glob)
		}
	}

	return subsystems, globs
}

func dump(e *hotplug.Event) {
	data, err := yaml.Marshal(e)
	if err != nil {
		log.Errorf("failed to marshal event: %v", err)
		return
	}
	log.InfoBlock("monitor ", "%s", data)
}
