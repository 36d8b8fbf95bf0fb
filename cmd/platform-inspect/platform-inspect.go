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

// platform-inspect is an offline inspection tool for platformd
// configuration. It validates a board description and a policy table
// and shows which devices each policy rule grants, or resolves a
// single client label the way the daemon would.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"sigs.k8s.io/yaml"

	"github.com/platformd/platformd/pkg/broker"
	"github.com/platformd/platformd/pkg/devices"
)

var log *logrus.Logger

type ruleView struct {
	Label    string   `json:"label"`
	Devices  []string `json:"devices,omitempty"`
	Matched  []string `json:"matched,omitempty"`
	MemQuota uint64   `json:"memQuota"`
	CapQuota uint64   `json:"capQuota"`
	Info     bool     `json:"info,omitempty"`
	Debug    bool     `json:"debug,omitempty"`
}

type boardView struct {
	Name    string            `json:"name,omitempty"`
	Devices []*devices.Device `json:"devices"`
}

type inspectView struct {
	Version  string      `json:"version,omitempty"`
	IOMMU    bool        `json:"iommu,omitempty"`
	Board    *boardView  `json:"board,omitempty"`
	Policies []*ruleView `json:"policies,omitempty"`
}

type labelView struct {
	Label  string    `json:"label"`
	Policy *ruleView `json:"policy,omitempty"`
}

func main() {
	var (
		configFile string
		boardFile  string
		label      string
		output     string
		verbose    bool
	)

	log = logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{
		PadLevelText: true,
	})

	flag.StringVar(&configFile, "config", "", "daemon configuration file")
	flag.StringVar(&boardFile, "board", "", "board description file, overriding the configured one")
	flag.StringVar(&label, "label", "", "resolve this client label instead of showing the full table")
	flag.StringVar(&output, "output", "yaml", "output format, 'yaml' or 'json'")
	flag.BoolVar(&verbose, "v", false, "verbose output")
	flag.Parse()

	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	if configFile == "" && boardFile == "" {
		log.Fatalf("neither a configuration nor a board file given")
	}

	cfg := loadConfig(configFile, boardFile)
	board := loadBoard(&cfg.Board)

	if label != "" {
		render(output, resolveLabel(cfg, board, label))
		return
	}

	view := &inspectView{
		Version: cfg.Version,
		IOMMU:   cfg.IOMMU,
		Board:   board,
	}
	for _, rule := range cfg.Policies {
		rv := viewRule(rule, board)
		if board != nil && len(rv.Matched) == 0 {
			log.Warnf("policy %q grants no device on this board", rule.Label)
		}
		view.Policies = append(view.Policies, rv)
	}
	render(output, view)
}

func loadConfig(configFile, boardFile string) *broker.Config {
	cfg := &broker.Config{}
	if configFile != "" {
		dc, err := broker.ReadDaemonConfig(configFile)
		if err != nil {
			log.Fatalf("%v", err)
		}
		cfg = dc.Broker
	}
	if boardFile != "" {
		cfg.Board = broker.BoardConfig{Path: boardFile}
	}
	if err := cfg.Verify(); err != nil {
		log.Fatalf("%v", err)
	}
	return cfg
}

func loadBoard(cfg *broker.BoardConfig) *boardView {
	switch {
	case cfg.Path != "":
		data, err := os.ReadFile(cfg.Path)
		if err != nil {
			log.Fatalf("failed to read board file: %v", err)
		}
		board, err := devices.ParseBoardDevices(data)
		if err != nil {
			log.Fatalf("invalid board description: %v", err)
		}
		log.Debugf("board %q: %d devices", board.Name, len(board.Devices))
		return &boardView{Name: board.Name, Devices: board.Devices}

	case len(cfg.Devices) > 0:
		return &boardView{Name: cfg.Name, Devices: cfg.Devices}
	}
	return nil
}

func viewRule(rule *broker.Rule, board *boardView) *ruleView {
	rv := &ruleView{
		Label:    rule.Label,
		Devices:  rule.Devices,
		MemQuota: rule.MemQuota,
		CapQuota: rule.CapQuota,
		Info:     rule.Info,
		Debug:    rule.Debug,
	}
	if board != nil {
		for _, d := range board.Devices {
			if rule.Covers(d.Name) {
				rv.Matched = append(rv.Matched, d.Name)
			}
		}
	}
	return rv
}

func resolveLabel(cfg *broker.Config, board *boardView, label string) *labelView {
	view := &labelView{Label: label}
	if rule := cfg.Resolve(label); rule != nil {
		view.Policy = viewRule(rule, board)
	} else {
		log.Warnf("no policy covers label %q, sessions will be refused", label)
	}
	return view
}

func render(output string, view interface{}) {
	var (
		data []byte
		err  error
	)

	switch output {
	case "yaml":
		data, err = yaml.Marshal(view)
	case "json":
		data, err = json.MarshalIndent(view, "", "  ")
	default:
		log.Fatalf("invalid output format %q", output)
	}
	if err != nil {
		log.Fatalf("failed to render output: %v", err)
	}
	fmt.Printf("%s\n", data)
}
