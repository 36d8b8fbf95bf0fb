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

// Package hotplug watches kernel uevents for platform device hotplug.
// The broker uses a Monitor to learn about devices appearing on or
// vanishing from the platform bus, then re-reads the board description
// and re-validates every open session against the new topology.
package hotplug

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"strings"

	logger "github.com/platformd/platformd/pkg/log"
)

var log = logger.Get("hotplug")

// Action is the kind of a hotplug event.
type Action string

const (
	// ActionAdd is sent when a device appears.
	ActionAdd Action = "add"
	// ActionRemove is sent when a device vanishes.
	ActionRemove Action = "remove"
	// ActionChange is sent when a device changes state.
	ActionChange Action = "change"
	// ActionBind is sent when a driver binds to a device.
	ActionBind Action = "bind"
	// ActionUnbind is sent when a driver unbinds from a device.
	ActionUnbind Action = "unbind"
)

const (
	// PropertyAction is the key for the ACTION property.
	PropertyAction = "ACTION"
	// PropertyDevPath is the key for the DEVPATH property.
	PropertyDevPath = "DEVPATH"
	// PropertySubsystem is the key for the SUBSYSTEM property.
	PropertySubsystem = "SUBSYSTEM"
	// PropertyDriver is the key for the DRIVER property.
	PropertyDriver = "DRIVER"
	// PropertySeqNum is the key for the SEQNUM property.
	PropertySeqNum = "SEQNUM"
)

// Event is one kernel hotplug event.
type Event struct {
	Header     string
	Action     Action
	Subsystem  string
	DevPath    string
	SeqNum     string
	Properties map[string]string
}

// Name returns the kernel device name of the event, the last element
// of its device path.
func (e *Event) Name() string {
	return path.Base(e.DevPath)
}

// String returns the event formatted for diagnostics.
func (e *Event) String() string {
	return fmt.Sprintf("%s %s (%s)", e.Action, e.Name(), e.Subsystem)
}

// EventReader reads and decodes hotplug events from a raw uevent
// stream.
type EventReader struct {
	r io.ReadCloser
	b *bufio.Reader
}

// NewEventReader creates an event reader fed by the kernel.
func NewEventReader() (*EventReader, error) {
	r, err := newKernelReader()
	if err != nil {
		return nil, err
	}
	return NewEventReaderFromReader(r), nil
}

// NewEventReaderFromReader creates an event reader from an existing
// io.ReadCloser. Tests use it to feed synthetic events.
func NewEventReaderFromReader(r io.ReadCloser) *EventReader {
	return &EventReader{
		r: r,
		b: bufio.NewReader(r),
	}
}

// Read reads one event, blocking until it is available. Events arrive
// as a header followed by 0-terminated KEY=value properties, with
// SEQNUM terminating the event.
func (r *EventReader) Read() (*Event, error) {
	e := &Event{
		Properties: map[string]string{},
	}

	hdr, err := r.b.ReadString(0)
	if err != nil {
		return nil, err
	}
	e.Header = strings.TrimSuffix(hdr, "\x00")

	for {
		next, err := r.b.ReadString(0)
		if err != nil {
			return nil, err
		}

		k, v, ok := strings.Cut(strings.TrimSuffix(next, "\x00"), "=")
		if !ok {
			return nil, fmt.Errorf("failed to read hotplug event: unknown format")
		}
		e.Properties[k] = v

		switch k {
		case PropertyAction:
			e.Action = Action(v)
		case PropertyDevPath:
			e.DevPath = v
		case PropertySubsystem:
			e.Subsystem = v
		case PropertySeqNum:
			e.SeqNum = v
			return e, nil
		}
	}
}

// Close closes the reader.
func (r *EventReader) Close() error {
	return r.r.Close()
}
