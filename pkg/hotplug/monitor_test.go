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

package hotplug_test

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/platformd/platformd/pkg/hotplug"
)

// uevent encodes one synthetic event in the kernel wire format: a
// header followed by 0-terminated KEY=value properties ending with
// SEQNUM.
func uevent(seq int, action Action, subsystem, devpath string, extra ...string) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "%s@%s", action, devpath)
	b.WriteByte(0)
	for _, prop := range append([]string{
		fmt.Sprintf("ACTION=%s", action),
		fmt.Sprintf("DEVPATH=%s", devpath),
		fmt.Sprintf("SUBSYSTEM=%s", subsystem),
	}, extra...) {
		b.WriteString(prop)
		b.WriteByte(0)
	}
	fmt.Fprintf(&b, "SEQNUM=%d", seq)
	b.WriteByte(0)

	return b.Bytes()
}

func source(events ...[]byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(bytes.Join(events, nil)))
}

func collect(m *Monitor) []*Event {
	events := make(chan *Event, 16)
	m.Start(events)

	var received []*Event
	for evt := range events {
		received = append(received, evt)
	}
	return received
}

func TestEventReader(t *testing.T) {
	r := NewEventReaderFromReader(source(
		uevent(7, ActionAdd, "platform", "/devices/soc0/amba/e0001000.serial",
			"DRIVER=xuartps"),
	))
	defer r.Close()

	evt, err := r.Read()
	require.NoError(t, err)
	require.Equal(t, ActionAdd, evt.Action)
	require.Equal(t, "platform", evt.Subsystem)
	require.Equal(t, "/devices/soc0/amba/e0001000.serial", evt.DevPath)
	require.Equal(t, "e0001000.serial", evt.Name())
	require.Equal(t, "7", evt.SeqNum)
	require.Equal(t, "xuartps", evt.Properties[PropertyDriver])
	require.Equal(t, "add@/devices/soc0/amba/e0001000.serial", evt.Header)

	_, err = r.Read()
	require.ErrorIs(t, err, io.EOF)
}

func TestMonitorSubsystemFilter(t *testing.T) {
	m, err := NewMonitor(
		WithReader(source(
			uevent(1, ActionAdd, "platform", "/devices/soc0/amba/e0001000.serial"),
			uevent(2, ActionAdd, "block", "/devices/virtual/block/loop0"),
			uevent(3, ActionRemove, "platform", "/devices/soc0/amba/e0001000.serial"),
		)),
		WithSubsystems("platform"),
	)
	require.NoError(t, err)

	received := collect(m)
	require.Len(t, received, 2)
	require.Equal(t, ActionAdd, received[0].Action)
	require.Equal(t, ActionRemove, received[1].Action)
	require.Equal(t, "e0001000.serial", received[0].Name())
}

func TestMonitorActionFilter(t *testing.T) {
	m, err := NewMonitor(
		WithReader(source(
			uevent(1, ActionAdd, "platform", "/devices/soc0/amba/e000a000.gpio"),
			uevent(2, ActionChange, "platform", "/devices/soc0/amba/e000a000.gpio"),
			uevent(3, ActionRemove, "platform", "/devices/soc0/amba/e000a000.gpio"),
		)),
		WithActions(ActionAdd, ActionRemove),
	)
	require.NoError(t, err)

	received := collect(m)
	require.Len(t, received, 2)
	require.Equal(t, ActionAdd, received[0].Action)
	require.Equal(t, ActionRemove, received[1].Action)
}

func TestMonitorPropertyGlobs(t *testing.T) {
	m, err := NewMonitor(
		WithReader(source(
			uevent(1, ActionBind, "platform", "/devices/soc0/amba/e0001000.serial",
				"DRIVER=xuartps"),
			uevent(2, ActionBind, "platform", "/devices/soc0/amba/e000b000.ethernet",
				"DRIVER=macb"),
		)),
		WithPropertyGlobs(map[string]string{PropertyDriver: "xuart*"}),
	)
	require.NoError(t, err)

	received := collect(m)
	require.Len(t, received, 1)
	require.Equal(t, "e0001000.serial", received[0].Name())
}

func TestMonitorUnfiltered(t *testing.T) {
	m, err := NewMonitor(WithReader(source(
		uevent(1, ActionAdd, "platform", "/devices/soc0/amba/e0001000.serial"),
		uevent(2, ActionAdd, "block", "/devices/virtual/block/loop0"),
	)))
	require.NoError(t, err)

	received := collect(m)
	require.Len(t, received, 2)
}
