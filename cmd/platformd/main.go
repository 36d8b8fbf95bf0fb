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

// platformd is the platform device-access broker daemon. It arbitrates
// exclusive access to platform devices among clients, accounts their
// DMA memory and capability budgets against configured quotas, and
// mirrors DMA buffers into per-device translation domains.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/platformd/platformd/pkg/broker"
	"github.com/platformd/platformd/pkg/healthz"
	"github.com/platformd/platformd/pkg/instrumentation"
	logger "github.com/platformd/platformd/pkg/log"
	"github.com/platformd/platformd/pkg/version"

	_ "github.com/platformd/platformd/pkg/metrics/collectors"
)

var log = logger.Default()

type daemon struct {
	configFile string
	boardFile  string
	cfg        *broker.DaemonConfig
	broker     *broker.Broker
}

func main() {
	d := &daemon{}
	d.setupLoggers()
	d.parseCmdline()

	if err := d.run(); err != nil {
		log.Fatal("%v", err)
	}
}

func (d *daemon) setupLoggers() {
	logger.SetStdLogger("stdlog")
	logger.SetupDebugToggleSignal(syscall.SIGUSR1)
}

func (d *daemon) parseCmdline() {
	flag.StringVar(&d.configFile, "config", "/etc/platformd/config.yaml",
		"Daemon configuration file.")
	flag.StringVar(&d.boardFile, "board", "",
		"Board description file, overriding the configured one.")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			fmt.Printf("version: %s\n", version.Version)
			fmt.Printf("build: %s\n", version.Build)
			os.Exit(0)
		default:
			log.Error("unknown command line arguments: %s", strings.Join(args, " "))
			flag.Usage()
			os.Exit(1)
		}
	}
}

func (d *daemon) run() error {
	cfg, err := d.readConfig()
	if err != nil {
		return err
	}
	if err := d.configure(cfg); err != nil {
		return err
	}
	d.cfg = cfg
	defer instrumentation.Stop()

	b, err := broker.New(cfg.Broker)
	if err != nil {
		return err
	}
	d.broker = b

	mux := instrumentation.HTTPServer().GetMux()
	healthz.Setup(mux)
	b.Mount(mux)

	if err := b.Start(); err != nil {
		return err
	}
	defer b.Stop()

	log.Info("platformd %s/build %s up and running", version.Version, version.Build)

	return d.mainLoop()
}

func (d *daemon) readConfig() (*broker.DaemonConfig, error) {
	cfg, err := broker.ReadDaemonConfig(d.configFile)
	if err != nil {
		return nil, err
	}
	if d.boardFile != "" {
		cfg.Broker.Board = broker.BoardConfig{Path: d.boardFile}
	}
	return cfg, nil
}

func (d *daemon) configure(cfg *broker.DaemonConfig) error {
	if cfg.Log != nil {
		if err := logger.Configure(cfg.Log); err != nil {
			return err
		}
	}
	return instrumentation.Reconfigure(cfg.Instrumentation)
}

func (d *daemon) mainLoop() error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for sig := range sigs {
		switch sig {
		case syscall.SIGHUP:
			d.reload()
		default:
			log.Info("received signal %v, shutting down...", sig)
			return nil
		}
	}
	return nil
}

func (d *daemon) reload() {
	log.Info("reloading configuration from %q...", d.configFile)

	cfg, err := d.readConfig()
	if err != nil {
		log.Error("failed to read configuration: %v", err)
		return
	}
	if err := d.configure(cfg); err != nil {
		log.Error("failed to apply configuration: %v", err)
		return
	}
	if err := d.broker.Reconfigure(cfg.Broker); err != nil {
		log.Error("failed to reconfigure broker: %v", err)
		return
	}
	d.cfg = cfg
}
