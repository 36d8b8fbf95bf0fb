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

package session_test

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	libquota "github.com/platformd/platformd/pkg/broker/lib/quota"
	"github.com/platformd/platformd/pkg/broker/report"
	. "github.com/platformd/platformd/pkg/broker/session"
	"github.com/platformd/platformd/pkg/devices"
	"github.com/platformd/platformd/pkg/dmamem"
	"github.com/platformd/platformd/pkg/iommu"
)

const KiB = uint64(1) << 10

// testRig is a session environment: a board with two devices sharing
// translation domain d0, one untranslated device and one device in its
// own domain, plus a software translation table and a simulated DMA
// allocator.
type testRig struct {
	model *devices.Model
	table *iommu.SoftTable
	alloc *dmamem.SimAllocator
}

func newRig(t *testing.T) *testRig {
	model, err := devices.NewModel(
		&devices.Device{
			Name:       "uart0",
			Type:       "xilinx-uart",
			Domain:     "d0",
			Regions:    []devices.Region{{Base: 0xe0001000, Size: 0x1000}},
			Interrupts: []devices.Interrupt{{Number: 82}},
		},
		&devices.Device{Name: "gem0", Type: "cadence-gem", Domain: "d0"},
		&devices.Device{Name: "spi1", Type: "cadence-spi"},
		&devices.Device{Name: "can0", Type: "xilinx-can", Domain: "d1"},
	)
	require.NoError(t, err, "test board")

	alloc, err := dmamem.NewSimAllocator(dmamem.Window{})
	require.NoError(t, err, "test allocator")

	return &testRig{
		model: model,
		table: iommu.NewSoftTable(),
		alloc: alloc,
	}
}

func (r *testRig) config() Config {
	return Config{
		Label:    "client",
		MemQuota: 64 * KiB,
		CapQuota: 4,
		Version:  "v1",
		IOMMU:    true,
	}
}

func (r *testRig) session(t *testing.T, cfg Config, policy Policy) *Session {
	if policy == nil {
		policy = PolicyFunc(func(string, string) bool { return true })
	}
	s, err := New(cfg, r.model, r.table, r.alloc, policy)
	require.NoError(t, err, "session creation")
	return s
}

func allowOnly(names ...string) PolicyFunc {
	return func(_, device string) bool {
		for _, name := range names {
			if name == device {
				return true
			}
		}
		return false
	}
}

func TestAcquireRelease(t *testing.T) {
	rig := newRig(t)
	s := rig.session(t, rig.config(), nil)

	g, err := s.AcquireDevice("uart0")
	require.NoError(t, err)
	require.Equal(t, "uart0", g.Device())
	require.NotNil(t, rig.model.OwnerOf("uart0"))

	// a session cannot acquire a device twice, not even its own
	_, err = s.AcquireDevice("uart0")
	require.ErrorIs(t, err, ErrAlreadyOwned)

	_, err = s.AcquireDevice("nosuchdev")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.ReleaseDevice(g))
	require.Nil(t, rig.model.OwnerOf("uart0"))

	// releasing again, or releasing nonsense, is a no-op
	require.NoError(t, s.ReleaseDevice(g))
	require.NoError(t, s.ReleaseDevice(nil))
}

func TestPolicyDenied(t *testing.T) {
	rig := newRig(t)
	s := rig.session(t, rig.config(), allowOnly("uart0"))

	_, err := s.AcquireDevice("spi1")
	require.ErrorIs(t, err, ErrPolicyDenied)

	g, err := s.AcquireDevice("uart0")
	require.NoError(t, err)
	require.NoError(t, s.ReleaseDevice(g))
}

func TestForeignGrantIgnored(t *testing.T) {
	rig := newRig(t)
	cfg := rig.config()
	cfg.Label = "alice"
	s1 := rig.session(t, cfg, nil)
	cfg.Label = "bob"
	s2 := rig.session(t, cfg, nil)

	g, err := s1.AcquireDevice("uart0")
	require.NoError(t, err)

	// a grant is only usable with the session that issued it
	require.NoError(t, s2.ReleaseDevice(g))
	require.NotNil(t, rig.model.OwnerOf("uart0"))

	require.NoError(t, s1.ReleaseDevice(g))
	require.Nil(t, rig.model.OwnerOf("uart0"))
}

func TestContendedDevice(t *testing.T) {
	rig := newRig(t)
	cfg := rig.config()
	cfg.Label = "alice"
	s1 := rig.session(t, cfg, nil)
	cfg.Label = "bob"
	s2 := rig.session(t, cfg, nil)

	g1, err := s1.AcquireDevice("spi1")
	require.NoError(t, err)

	// the second claimant fails immediately instead of queuing
	_, err = s2.AcquireDevice("spi1")
	require.ErrorIs(t, err, ErrAlreadyOwned)

	// once released, a retry succeeds
	require.NoError(t, s1.ReleaseDevice(g1))
	g2, err := s2.AcquireDevice("spi1")
	require.NoError(t, err)
	require.NoError(t, s2.ReleaseDevice(g2))
}

func TestUARTBufferLifecycle(t *testing.T) {
	rig := newRig(t)
	s := rig.session(t, rig.config(), nil)

	g, err := s.AcquireDevice("uart0")
	require.NoError(t, err)
	require.Equal(t, 1, rig.table.Live(), "domain d0 created lazily")
	d0 := rig.table.Lookup("d0")[0]

	h, err := s.AllocDMABuffer(32*KiB, dmamem.Cached)
	require.NoError(t, err)
	require.NotEqual(t, dmamem.NoHandle, h)

	addr := s.DMAAddr(h)
	require.NotZero(t, addr)
	rng := iommu.Range{Base: addr, Size: 32 * KiB}
	require.True(t, d0.HasRange(rng), "buffer range mapped into d0")

	memUsed, memGranted, capsUsed, _ := s.QuotaUsage()
	require.Equal(t, 32*KiB, memUsed)
	require.Equal(t, 64*KiB, memGranted)
	require.Equal(t, uint64(1), capsUsed)

	require.NoError(t, s.FreeDMABuffer(h))
	require.False(t, d0.HasRange(rng), "buffer range withdrawn from d0")
	require.Equal(t, uint64(0), s.DMAAddr(h))
	require.Equal(t, 0, rig.alloc.Live())

	require.NoError(t, s.ReleaseDevice(g))
	require.Equal(t, 0, rig.table.Live(), "domain d0 destroyed with its last device")

	// all quota is back after a full release
	memUsed, _, capsUsed, _ = s.QuotaUsage()
	require.Equal(t, uint64(0), memUsed)
	require.Equal(t, uint64(0), capsUsed)
}

func TestMemQuotaExceeded(t *testing.T) {
	rig := newRig(t)
	s := rig.session(t, rig.config(), nil)

	_, err := s.AllocDMABuffer(100*KiB, dmamem.Cached)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	// a failed allocation leaves no trace
	memUsed, _, _, _ := s.QuotaUsage()
	require.Equal(t, uint64(0), memUsed)
	require.Equal(t, 0, s.DMABufferCount())
	require.Equal(t, 0, rig.alloc.Live())
}

func TestCapQuotaExceeded(t *testing.T) {
	rig := newRig(t)
	cfg := rig.config()
	cfg.CapQuota = 1
	s := rig.session(t, cfg, nil)

	g, err := s.AcquireDevice("uart0")
	require.NoError(t, err)

	_, err = s.AcquireDevice("spi1")
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.Nil(t, rig.model.OwnerOf("spi1"), "failed acquire must yield the claim")

	require.NoError(t, s.ReleaseDevice(g))
	g, err = s.AcquireDevice("spi1")
	require.NoError(t, err)
	require.NoError(t, s.ReleaseDevice(g))
}

func TestGrantQuota(t *testing.T) {
	rig := newRig(t)
	cfg := rig.config()
	cfg.MemQuota = 8 * KiB
	cfg.CapQuota = 1
	s := rig.session(t, cfg, nil)

	_, err := s.AcquireDevice("uart0")
	require.NoError(t, err)
	_, err = s.AcquireDevice("spi1")
	require.ErrorIs(t, err, ErrQuotaExceeded)
	_, err = s.AllocDMABuffer(16*KiB, dmamem.Cached)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	// a quota donation unblocks the session
	require.NoError(t, s.GrantQuota(16*KiB, 1))
	_, err = s.AcquireDevice("spi1")
	require.NoError(t, err)
	h, err := s.AllocDMABuffer(16*KiB, dmamem.Cached)
	require.NoError(t, err)

	_, memGranted, _, capsGranted := s.QuotaUsage()
	require.Equal(t, 24*KiB, memGranted)
	require.Equal(t, uint64(2), capsGranted)

	// an overflowing upgrade is rejected without touching either budget
	err = s.GrantQuota(math.MaxUint64, 1)
	require.ErrorIs(t, err, libquota.ErrInvalidGrant)
	_, memGranted, _, capsGranted = s.QuotaUsage()
	require.Equal(t, 24*KiB, memGranted)
	require.Equal(t, uint64(2), capsGranted)

	require.NoError(t, s.FreeDMABuffer(h))
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.GrantQuota(KiB, 1), ErrInternal)
}

func TestAllocatorExhausted(t *testing.T) {
	rig := newRig(t)
	cfg := rig.config()
	// quota far beyond what the allocator window can hold
	cfg.MemQuota = 2 * dmamem.DefaultWindow.Size
	s := rig.session(t, cfg, nil)

	_, err := s.AllocDMABuffer(dmamem.DefaultWindow.Size+KiB, dmamem.Cached)
	require.ErrorIs(t, err, ErrOutOfMemory)

	memUsed, _, _, _ := s.QuotaUsage()
	require.Equal(t, uint64(0), memUsed, "failed allocation must return its quota")
}

func TestSharedDomain(t *testing.T) {
	rig := newRig(t)
	s := rig.session(t, rig.config(), nil)

	gUART, err := s.AcquireDevice("uart0")
	require.NoError(t, err)
	gGEM, err := s.AcquireDevice("gem0")
	require.NoError(t, err)
	require.Equal(t, 1, rig.table.Live(), "one shared domain for d0")
	d0 := rig.table.Lookup("d0")[0]

	h, err := s.AllocDMABuffer(16*KiB, dmamem.Uncached)
	require.NoError(t, err)
	rng := iommu.Range{Base: s.DMAAddr(h), Size: 16 * KiB}
	require.Len(t, d0.Ranges(), 1, "range mapped exactly once")

	// the domain outlives the first device sharing it
	require.NoError(t, s.ReleaseDevice(gUART))
	require.Equal(t, 1, rig.table.Live())
	require.True(t, d0.HasRange(rng))

	// the last device takes the domain down, ranges withdrawn first
	require.NoError(t, s.ReleaseDevice(gGEM))
	require.Equal(t, 0, rig.table.Live())
	require.True(t, d0.Closed())

	// the buffer itself survives the domain
	require.Equal(t, rng.Base, s.DMAAddr(h))
	require.NoError(t, s.FreeDMABuffer(h))
}

func TestDomainSeededWithBuffers(t *testing.T) {
	rig := newRig(t)
	s := rig.session(t, rig.config(), nil)

	h1, err := s.AllocDMABuffer(8*KiB, dmamem.Cached)
	require.NoError(t, err)
	h2, err := s.AllocDMABuffer(4*KiB, dmamem.WriteCombined)
	require.NoError(t, err)

	// a domain created after allocation mirrors the full registry
	_, err = s.AcquireDevice("can0")
	require.NoError(t, err)
	d1 := rig.table.Lookup("d1")[0]
	require.True(t, d1.HasRange(iommu.Range{Base: s.DMAAddr(h1), Size: 8 * KiB}))
	require.True(t, d1.HasRange(iommu.Range{Base: s.DMAAddr(h2), Size: 4 * KiB}))

	// and so does every further domain
	_, err = s.AcquireDevice("uart0")
	require.NoError(t, err)
	d0 := rig.table.Lookup("d0")[0]
	require.Len(t, d0.Ranges(), 2)

	require.NoError(t, s.Close())
}

func TestUntranslatedDevices(t *testing.T) {
	rig := newRig(t)
	s := rig.session(t, rig.config(), nil)

	// a device without a domain needs no translation
	g, err := s.AcquireDevice("spi1")
	require.NoError(t, err)
	require.Equal(t, 0, rig.table.Live())
	require.NoError(t, s.ReleaseDevice(g))

	// with translation disabled no domains are kept at all
	cfg := rig.config()
	cfg.Label = "untranslated"
	cfg.IOMMU = false
	s = rig.session(t, cfg, nil)
	g, err = s.AcquireDevice("uart0")
	require.NoError(t, err)
	require.Equal(t, 0, rig.table.Live())
	require.NoError(t, s.ReleaseDevice(g))
}

func TestAcquireSingleDevice(t *testing.T) {
	rig := newRig(t)

	s := rig.session(t, rig.config(), allowOnly("spi1"))
	g, err := s.AcquireSingleDevice()
	require.NoError(t, err)
	require.Equal(t, "spi1", g.Device())
	require.NoError(t, s.ReleaseDevice(g))

	cfg := rig.config()
	cfg.Label = "ambiguous"
	s = rig.session(t, cfg, allowOnly("uart0", "spi1"))
	_, err = s.AcquireSingleDevice()
	require.ErrorIs(t, err, ErrAmbiguous)

	cfg.Label = "empty"
	s = rig.session(t, cfg, allowOnly())
	_, err = s.AcquireSingleDevice()
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFreeIdempotence(t *testing.T) {
	rig := newRig(t)
	s := rig.session(t, rig.config(), nil)

	h, err := s.AllocDMABuffer(4*KiB, dmamem.Cached)
	require.NoError(t, err)

	require.NoError(t, s.FreeDMABuffer(h))
	require.NoError(t, s.FreeDMABuffer(h), "second free is a no-op")
	require.NoError(t, s.FreeDMABuffer(dmamem.Handle(9999)))
	require.Equal(t, uint64(0), s.DMAAddr(dmamem.Handle(9999)))

	memUsed, _, _, _ := s.QuotaUsage()
	require.Equal(t, uint64(0), memUsed)
}

func TestDevicesReport(t *testing.T) {
	rig := newRig(t)
	s := rig.session(t, rig.config(), nil)

	doc := s.DevicesReport()
	require.Equal(t, "client", doc.Label)
	require.Equal(t, "v1", doc.Version)
	require.Empty(t, doc.Devices)

	// unchanged state returns the cached document
	require.Same(t, doc, s.DevicesReport())

	_, err := s.AcquireDevice("uart0")
	require.NoError(t, err)
	_, err = s.AcquireDevice("spi1")
	require.NoError(t, err)

	doc = s.DevicesReport()
	require.Len(t, doc.Devices, 2)
	require.Equal(t, "uart0", doc.Devices[0].Name, "acquisition order")
	require.Equal(t, "xilinx-uart", doc.Devices[0].Type)
	require.Equal(t, "d0", doc.Devices[0].Domain)
	require.Equal(t, "spi1", doc.Devices[1].Name)
	require.Nil(t, doc.Devices[0].Regions, "metadata withheld without info")

	// info and version update invalidates even without device changes
	s.UpdatePolicy(true, "v2")
	updated := s.DevicesReport()
	require.NotSame(t, doc, updated)

	want := &report.Devices{
		Label:   "client",
		Version: "v2",
		Devices: []report.Device{
			{
				Name:       "uart0",
				Type:       "xilinx-uart",
				Domain:     "d0",
				Regions:    []devices.Region{{Base: 0xe0001000, Size: 0x1000}},
				Interrupts: []devices.Interrupt{{Number: 82}},
			},
			{Name: "spi1", Type: "cadence-spi"},
		},
	}
	if diff := cmp.Diff(want, updated); diff != "" {
		t.Errorf("device report mismatch (-want +got):\n%s", diff)
	}
}

func TestReportNotification(t *testing.T) {
	rig := newRig(t)
	notified := 0
	cfg := rig.config()
	cfg.Notify = func() { notified++ }
	s := rig.session(t, cfg, nil)

	g, err := s.AcquireDevice("uart0")
	require.NoError(t, err)
	afterAcquire := notified
	require.Positive(t, afterAcquire)

	// buffer churn does not touch the device report
	h, err := s.AllocDMABuffer(4*KiB, dmamem.Cached)
	require.NoError(t, err)
	require.NoError(t, s.FreeDMABuffer(h))
	require.Equal(t, afterAcquire, notified)

	require.NoError(t, s.ReleaseDevice(g))
	require.Greater(t, notified, afterAcquire)
}

func TestMatches(t *testing.T) {
	rig := newRig(t)
	s := rig.session(t, rig.config(), allowOnly("uart0", "gem0"))

	uart, ok := rig.model.Lookup("uart0")
	require.True(t, ok)
	spi, ok := rig.model.Lookup("spi1")
	require.True(t, ok)

	require.True(t, s.Matches(uart))
	require.False(t, s.Matches(spi))
	require.False(t, s.Matches(nil))
}

func TestUpdateControlDevices(t *testing.T) {
	rig := newRig(t)
	s := rig.session(t, rig.config(), nil)

	_, err := s.AcquireDevice("uart0")
	require.NoError(t, err)
	h, err := s.AllocDMABuffer(8*KiB, dmamem.Cached)
	require.NoError(t, err)
	rng := iommu.Range{Base: s.DMAAddr(h), Size: 8 * KiB}

	// the platform moves uart0 into a different translation group
	_, err = rig.model.Replace([]*devices.Device{
		{Name: "uart0", Type: "xilinx-uart", Domain: "dX"},
		{Name: "gem0", Type: "cadence-gem", Domain: "d0"},
	})
	require.NoError(t, err)

	require.NoError(t, s.UpdateControlDevices())
	require.Equal(t, 1, rig.table.Live())
	dX := rig.table.Lookup("dX")[0]
	require.True(t, dX.HasRange(rng), "new domain seeded with live buffers")
	require.Empty(t, rig.table.Lookup("d0"), "old domain destroyed")

	require.Equal(t, "dX", s.DevicesReport().Devices[0].Domain)

	require.NoError(t, s.Close())
}

func TestRevokeDevice(t *testing.T) {
	rig := newRig(t)
	s := rig.session(t, rig.config(), nil)

	_, err := s.AcquireDevice("uart0")
	require.NoError(t, err)

	require.NoError(t, s.RevokeDevice("uart0"))
	require.Nil(t, rig.model.OwnerOf("uart0"))
	require.Equal(t, 0, rig.table.Live())

	require.NoError(t, s.RevokeDevice("uart0"), "revoking twice is a no-op")
	require.NoError(t, s.RevokeDevice("spi1"), "revoking an unowned device is a no-op")

	_, _, capsUsed, _ := s.QuotaUsage()
	require.Equal(t, uint64(0), capsUsed)
}

func TestVanishedDeviceRelease(t *testing.T) {
	rig := newRig(t)
	s := rig.session(t, rig.config(), nil)

	g, err := s.AcquireDevice("spi1")
	require.NoError(t, err)

	orphaned, err := rig.model.Replace([]*devices.Device{
		{Name: "uart0", Type: "xilinx-uart", Domain: "d0"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"spi1"}, orphaned)

	// releasing a grant for a vanished device still cleans up
	require.NoError(t, s.ReleaseDevice(g))
	require.Empty(t, s.OwnedDevices())

	_, _, capsUsed, _ := s.QuotaUsage()
	require.Equal(t, uint64(0), capsUsed)
}

func TestClose(t *testing.T) {
	rig := newRig(t)
	s := rig.session(t, rig.config(), nil)

	_, err := s.AcquireDevice("uart0")
	require.NoError(t, err)
	_, err = s.AcquireDevice("gem0")
	require.NoError(t, err)
	_, err = s.AcquireDevice("can0")
	require.NoError(t, err)
	_, err = s.AllocDMABuffer(16*KiB, dmamem.Cached)
	require.NoError(t, err)
	_, err = s.AllocDMABuffer(8*KiB, dmamem.Uncached)
	require.NoError(t, err)

	// a failed operation beforehand must not disturb teardown
	_, err = s.AllocDMABuffer(100*KiB, dmamem.Cached)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	require.NoError(t, s.Close())

	require.Equal(t, 0, rig.table.Live(), "all domains destroyed")
	require.Equal(t, 0, rig.alloc.Live(), "all buffers freed")
	require.Equal(t, 0, rig.model.Owned(), "all devices yielded")

	memUsed, memGranted, capsUsed, capsGranted := s.QuotaUsage()
	require.Equal(t, uint64(0), memUsed)
	require.Equal(t, 64*KiB, memGranted)
	require.Equal(t, uint64(0), capsUsed)
	require.Equal(t, uint64(4), capsGranted)

	// closing twice is harmless, using a closed session is an error
	require.NoError(t, s.Close())
	_, err = s.AcquireDevice("uart0")
	require.ErrorIs(t, err, ErrInternal)
	_, err = s.AllocDMABuffer(4*KiB, dmamem.Cached)
	require.ErrorIs(t, err, ErrInternal)
}
