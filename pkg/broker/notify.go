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

package broker

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defaultNotifyInterval is the minimum delay between report change
// delivery rounds when none is configured.
const defaultNotifyInterval = 100 * time.Millisecond

// Notifier receives device report change notifications for delivery to
// clients. ReportChanged runs on the broker's notification goroutine
// and must not call back into the broker.
type Notifier interface {
	ReportChanged(label string)
}

// NotifierFunc is a function adapter for the Notifier interface.
type NotifierFunc func(label string)

// ReportChanged implements the Notifier interface.
func (f NotifierFunc) ReportChanged(label string) {
	f(label)
}

// notifier coalesces report change events and delivers them to the
// configured sink at a bounded rate: a burst of changes to one session
// collapses into a single notification per delivery round.
type notifier struct {
	sync.Mutex
	sink    Notifier
	limiter *rate.Limiter
	pending map[string]struct{}
	kick    chan struct{}
	stopC   chan struct{}
	doneC   chan struct{}
}

func newNotifier(sink Notifier, interval time.Duration) *notifier {
	return &notifier{
		sink:    sink,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		pending: make(map[string]struct{}),
		kick:    make(chan struct{}, 1),
	}
}

// reportChanged queues a notification for the label. It is safe to
// call with session locks held; delivery happens asynchronously.
func (n *notifier) reportChanged(label string) {
	if n.sink == nil {
		return
	}

	n.Lock()
	n.pending[label] = struct{}{}
	n.Unlock()

	select {
	case n.kick <- struct{}{}:
	default:
	}
}

func (n *notifier) start() {
	if n.sink == nil || n.stopC != nil {
		return
	}

	n.stopC = make(chan struct{})
	n.doneC = make(chan struct{})
	go n.deliver(n.stopC, n.doneC)
}

func (n *notifier) stop() {
	if n.stopC == nil {
		return
	}

	close(n.stopC)
	<-n.doneC
	n.stopC, n.doneC = nil, nil
}

func (n *notifier) deliver(stopC, doneC chan struct{}) {
	defer close(doneC)

	for {
		select {
		case <-stopC:
			return
		case <-n.kick:
		}

		// wait out the rate limit, letting further changes coalesce
		r := n.limiter.Reserve()
		if delay := r.Delay(); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-stopC:
				timer.Stop()
				r.Cancel()
				return
			case <-timer.C:
			}
		}

		for _, label := range n.take() {
			n.sink.ReportChanged(label)
		}
	}
}

// take returns and clears the pending label set.
func (n *notifier) take() []string {
	n.Lock()
	defer n.Unlock()

	labels := make([]string, 0, len(n.pending))
	for label := range n.pending {
		labels = append(labels, label)
	}
	n.pending = make(map[string]struct{})

	sort.Strings(labels)
	return labels
}
