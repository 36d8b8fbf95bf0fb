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

package broker_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"

	"github.com/platformd/platformd/pkg/broker"
	"github.com/platformd/platformd/pkg/broker/report"
	"github.com/platformd/platformd/pkg/broker/session"
	"github.com/platformd/platformd/pkg/devices"
	"github.com/platformd/platformd/pkg/dmamem"
	xhttp "github.com/platformd/platformd/pkg/http"
	"github.com/platformd/platformd/pkg/utils"
)

const KiB = uint64(1) << 10

func testDevices() []*devices.Device {
	return []*devices.Device{
		{
			Name:       "uart0",
			Type:       "xilinx-uart",
			Domain:     "d0",
			Regions:    []devices.Region{{Base: 0xe0001000, Size: 0x1000}},
			Interrupts: []devices.Interrupt{{Number: 82}},
		},
		{Name: "gem0", Type: "cadence-gem", Domain: "d0"},
		{Name: "spi1", Type: "cadence-spi"},
		{Name: "spi2", Type: "cadence-spi"},
	}
}

// testConfig grants drivers the translated devices and everyone else
// the SPI controller, on much smaller budgets.
func testConfig() *broker.Config {
	return &broker.Config{
		Version: "v1",
		IOMMU:   true,
		Board: broker.BoardConfig{
			Name:    "testboard",
			Devices: testDevices(),
		},
		Policies: []*broker.Rule{
			{
				Label:    "drv-*",
				Devices:  []string{"uart*", "gem*"},
				MemQuota: 64 * KiB,
				CapQuota: 4,
				Info:     true,
			},
			{
				Label:    "*",
				Devices:  []string{"spi*"},
				MemQuota: 16 * KiB,
				CapQuota: 1,
			},
		},
		NotifyInterval: utils.Duration{Duration: time.Millisecond},
	}
}

func newBroker(t *testing.T, cfg *broker.Config, options ...broker.Option) *broker.Broker {
	b, err := broker.New(cfg, options...)
	require.NoError(t, err, "broker")
	t.Cleanup(b.Stop)
	return b
}

func TestPolicyResolution(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Verify())

	rule := cfg.Resolve("drv-uart")
	require.NotNil(t, rule)
	require.Equal(t, "drv-*", rule.Label)
	require.True(t, rule.Covers("uart0"))
	require.True(t, rule.Covers("gem0"))
	require.False(t, rule.Covers("spi1"))

	rule = cfg.Resolve("inspector")
	require.NotNil(t, rule)
	require.Equal(t, "*", rule.Label)

	cfg.Policies = cfg.Policies[:1]
	require.Nil(t, cfg.Resolve("inspector"))
}

func TestConfigVerify(t *testing.T) {
	var nilCfg *broker.Config
	require.ErrorIs(t, nilCfg.Verify(), broker.ErrInvalidConfig)

	cfg := testConfig()
	cfg.Policies[0].Label = "["
	require.ErrorIs(t, cfg.Verify(), broker.ErrInvalidConfig)

	cfg = testConfig()
	cfg.Policies[1].Devices = []string{"spi[0-"}
	require.ErrorIs(t, cfg.Verify(), broker.ErrInvalidConfig)

	cfg = testConfig()
	cfg.Policies = append(cfg.Policies, &broker.Rule{})
	require.ErrorIs(t, cfg.Verify(), broker.ErrInvalidConfig)

	cfg = testConfig()
	cfg.Board.Path = "/some/board.yaml"
	require.ErrorIs(t, cfg.Verify(), broker.ErrInvalidConfig)

	cfg = testConfig()
	cfg.Allocator.Kind = "bogus"
	require.ErrorIs(t, cfg.Verify(), broker.ErrInvalidConfig)

	cfg = testConfig()
	cfg.NotifyInterval = utils.Duration{Duration: -time.Second}
	require.ErrorIs(t, cfg.Verify(), broker.ErrInvalidConfig)
}

func TestOpenCloseSession(t *testing.T) {
	b := newBroker(t, testConfig())

	s, err := b.OpenSession("drv-uart")
	require.NoError(t, err)
	require.NotNil(t, s)

	_, err = b.OpenSession("drv-uart")
	require.ErrorIs(t, err, broker.ErrSessionExists)

	require.Same(t, s, b.Session("drv-uart"))
	require.Nil(t, b.Session("ghost"))
	require.Equal(t, []string{"drv-uart"}, b.Sessions())

	require.NoError(t, b.CloseSession("drv-uart"))
	require.ErrorIs(t, b.CloseSession("drv-uart"), broker.ErrUnknownSession)
	require.Empty(t, b.Sessions())

	_, err = s.AcquireDevice("uart0")
	require.Error(t, err, "closed session must not hand out devices")
}

func TestOpenSessionWithoutPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Policies = cfg.Policies[:1]
	b := newBroker(t, cfg)

	_, err := b.OpenSession("inspector")
	require.ErrorIs(t, err, broker.ErrNoPolicy)
}

func TestSessionThroughBroker(t *testing.T) {
	b := newBroker(t, testConfig())

	drv, err := b.OpenSession("drv-uart")
	require.NoError(t, err)
	cli, err := b.OpenSession("inspector")
	require.NoError(t, err)

	g, err := drv.AcquireDevice("uart0")
	require.NoError(t, err)
	require.Equal(t, "uart0", g.Device())

	_, err = drv.AcquireDevice("spi1")
	require.ErrorIs(t, err, session.ErrPolicyDenied)
	_, err = cli.AcquireDevice("uart0")
	require.ErrorIs(t, err, session.ErrPolicyDenied)

	_, err = cli.AcquireDevice("spi1")
	require.NoError(t, err)
	_, err = cli.AllocDMABuffer(32*KiB, dmamem.Cached)
	require.ErrorIs(t, err, session.ErrQuotaExceeded,
		"allocation beyond the rule's budget must fail")

	h, err := drv.AllocDMABuffer(32*KiB, dmamem.Cached)
	require.NoError(t, err)
	require.NotZero(t, drv.DMAAddr(h))
}

func TestUpgradeSession(t *testing.T) {
	b := newBroker(t, testConfig())

	cli, err := b.OpenSession("inspector")
	require.NoError(t, err)

	_, err = cli.AcquireDevice("spi1")
	require.NoError(t, err)
	_, err = cli.AcquireDevice("spi2")
	require.ErrorIs(t, err, session.ErrQuotaExceeded)
	_, err = cli.AllocDMABuffer(32*KiB, dmamem.Cached)
	require.ErrorIs(t, err, session.ErrQuotaExceeded)

	require.ErrorIs(t, b.UpgradeSession("ghost", 1, 1), broker.ErrUnknownSession)

	require.NoError(t, b.UpgradeSession("inspector", 32*KiB, 1))
	_, err = cli.AcquireDevice("spi2")
	require.NoError(t, err)
	_, err = cli.AllocDMABuffer(32*KiB, dmamem.Cached)
	require.NoError(t, err)
}

func TestReconfigurePolicyChange(t *testing.T) {
	b := newBroker(t, testConfig())

	drv, err := b.OpenSession("drv-uart")
	require.NoError(t, err)
	_, err = drv.AcquireDevice("uart0")
	require.NoError(t, err)
	_, err = drv.AcquireDevice("gem0")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Version = "v2"
	cfg.Policies[0].Devices = []string{"gem*"}
	require.NoError(t, b.Reconfigure(cfg))

	require.Equal(t, []string{"gem0"}, drv.OwnedDevices(),
		"uncovered device must be revoked")

	rep := drv.DevicesReport()
	require.Equal(t, "v2", rep.Version)

	_, err = drv.AcquireDevice("uart0")
	require.ErrorIs(t, err, session.ErrPolicyDenied)
}

func TestReconfigureBoardChange(t *testing.T) {
	b := newBroker(t, testConfig())

	drv, err := b.OpenSession("drv-uart")
	require.NoError(t, err)
	_, err = drv.AcquireDevice("uart0")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Version = "v2"
	cfg.Board.Devices = cfg.Board.Devices[1:] // uart0 vanishes
	require.NoError(t, b.Reconfigure(cfg))

	require.Empty(t, drv.OwnedDevices(), "vanished device must be revoked")

	_, err = drv.AcquireDevice("uart0")
	require.ErrorIs(t, err, session.ErrNotFound)
	_, err = drv.AcquireDevice("gem0")
	require.NoError(t, err)
}

func TestReconfigureRevert(t *testing.T) {
	b := newBroker(t, testConfig())

	drv, err := b.OpenSession("drv-uart")
	require.NoError(t, err)
	_, err = drv.AcquireDevice("uart0")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Board.Devices = nil
	cfg.Board.Path = filepath.Join(t.TempDir(), "no-such-board.yaml")
	require.Error(t, b.Reconfigure(cfg))

	require.Equal(t, []string{"uart0"}, drv.OwnedDevices(),
		"failed reload must leave sessions intact")
	require.Equal(t, "v1", drv.DevicesReport().Version)

	_, err = b.OpenSession("inspector")
	require.NoError(t, err, "old policy table must remain in effect")
}

func TestRescan(t *testing.T) {
	boardFile := filepath.Join(t.TempDir(), "board.yaml")
	writeBoard := func(devs []*devices.Device) {
		data, err := yaml.Marshal(&devices.Board{Name: "testboard", Devices: devs})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(boardFile, data, 0o644))
	}
	writeBoard(testDevices())

	cfg := testConfig()
	cfg.Board = broker.BoardConfig{Path: boardFile}
	b := newBroker(t, cfg)

	drv, err := b.OpenSession("drv-uart")
	require.NoError(t, err)
	_, err = drv.AcquireDevice("uart0")
	require.NoError(t, err)

	writeBoard(testDevices()[1:]) // uart0 unplugged
	require.NoError(t, b.Rescan())
	require.Empty(t, drv.OwnedDevices())

	writeBoard(testDevices())
	require.NoError(t, b.Rescan())
	_, err = drv.AcquireDevice("uart0")
	require.NoError(t, err)
}

func TestChangeNotification(t *testing.T) {
	notified := make(chan string, 16)
	b := newBroker(t, testConfig(),
		broker.WithNotifier(broker.NotifierFunc(func(label string) {
			notified <- label
		})))
	require.NoError(t, b.Start())

	drv, err := b.OpenSession("drv-uart")
	require.NoError(t, err)
	_, err = drv.AcquireDevice("uart0")
	require.NoError(t, err)

	select {
	case label := <-notified:
		require.Equal(t, "drv-uart", label)
	case <-time.After(5 * time.Second):
		t.Fatal("no report change notification")
	}
}

func TestHTTPEndpoints(t *testing.T) {
	b := newBroker(t, testConfig())

	drv, err := b.OpenSession("drv-uart")
	require.NoError(t, err)
	_, err = drv.AcquireDevice("uart0")
	require.NoError(t, err)

	mux := xhttp.NewServeMux()
	b.Mount(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	get := func(path string) (int, string, []byte) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, resp.Header.Get("Content-Type"), body
	}

	status, ctype, body := get("/sessions/")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "application/json", ctype)
	var index []struct {
		Label   string   `json:"label"`
		Devices []string `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(body, &index))
	require.Len(t, index, 1)
	require.Equal(t, "drv-uart", index[0].Label)
	require.Equal(t, []string{"uart0"}, index[0].Devices)

	status, _, body = get("/sessions/drv-uart")
	require.Equal(t, http.StatusOK, status)
	var rep report.Devices
	require.NoError(t, json.Unmarshal(body, &rep))
	require.Equal(t, "drv-uart", rep.Label)
	require.Equal(t, "v1", rep.Version)
	require.Len(t, rep.Devices, 1)
	require.Equal(t, "uart0", rep.Devices[0].Name)

	status, ctype, body = get("/sessions/drv-uart/devices?format=yaml")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "application/yaml", ctype)
	rep = report.Devices{}
	require.NoError(t, yaml.Unmarshal(body, &rep))
	require.Equal(t, "drv-uart", rep.Label)

	status, _, _ = get("/sessions/ghost")
	require.Equal(t, http.StatusNotFound, status)
	status, _, _ = get("/sessions/drv-uart/bogus")
	require.Equal(t, http.StatusNotFound, status)
	status, _, _ = get("/sessions/drv-uart?format=xml")
	require.Equal(t, http.StatusBadRequest, status)

	resp, err := http.Post(srv.URL+"/sessions/", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	b.Unmount(mux)
	status, _, _ = get("/sessions/")
	require.Equal(t, http.StatusNotFound, status)
}

func TestDaemonConfigParsing(t *testing.T) {
	data := []byte(`
broker:
  version: v7
  iommu: true
  board:
    name: testboard
    devices:
      - name: uart0
        type: xilinx-uart
        domain: d0
  allocator:
    kind: sim
    window:
      base: 0x40000000
      size: 0x1000000
  policies:
    - label: 'drv-*'
      devices: ['uart*']
      memQuota: 65536
      capQuota: 4
      info: true
  notifyInterval: 50ms
log:
  debug: ['broker']
`)
	cfg, err := broker.ParseDaemonConfig(data)
	require.NoError(t, err)
	require.NotNil(t, cfg.Broker)
	require.Equal(t, "v7", cfg.Broker.Version)
	require.True(t, cfg.Broker.IOMMU)
	require.Len(t, cfg.Broker.Policies, 1)
	require.Equal(t, uint64(65536), cfg.Broker.Policies[0].MemQuota)
	require.Equal(t, 50*time.Millisecond, cfg.Broker.NotifyInterval.Duration)
	require.Equal(t, dmamem.KindSim, cfg.Broker.Allocator.Kind)
	require.NotNil(t, cfg.Log)

	_, err = broker.ParseDaemonConfig([]byte("bogus: true\n"))
	require.Error(t, err)

	_, err = broker.ParseDaemonConfig([]byte("log: {}\n"))
	require.Error(t, err, "configuration without a broker section")
}
