// Copyright 2026 The vkrenderer Authors.
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

package renderer

import (
	"testing"
	"time"

	"github.com/venusgfx/vkrenderer/internal/rlog"
)

func TestRingMonitorMarksAttachedRingsAlive(t *testing.T) {
	driver := newFakeDriver()
	rs := newRingSet()
	rs.Attach(&Ring{RingID: 5, MonitoringEnabled: true})
	rs.Attach(&Ring{RingID: 6, MonitoringEnabled: false})

	m := newRingMonitor(driver, rs, rlog.Discard)
	m.Init(5 * time.Millisecond)
	defer m.Shutdown()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		driver.mu.Lock()
		n := len(driver.markedAlive)
		driver.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	driver.mu.Lock()
	defer driver.mu.Unlock()
	for _, id := range driver.markedAlive {
		if id != 5 {
			t.Errorf("marked ring %d alive, want only ring 5 (monitoring disabled on 6)", id)
		}
	}
	if len(driver.markedAlive) == 0 {
		t.Fatal("expected at least one mark-alive tick")
	}
}

func TestRingMonitorInitIsSetOnce(t *testing.T) {
	m := newRingMonitor(newFakeDriver(), newRingSet(), rlog.Discard)
	m.Init(5 * time.Millisecond)
	m.Init(time.Hour) // must be a no-op; period stays small
	defer m.Shutdown()

	m.mu.Lock()
	period := m.period
	m.mu.Unlock()
	if period != 5*time.Millisecond {
		t.Errorf("period = %v, want 5ms (second Init call should be ignored)", period)
	}
}

func TestRingMonitorShutdownWithoutInit(t *testing.T) {
	m := newRingMonitor(newFakeDriver(), newRingSet(), rlog.Discard)
	m.Shutdown() // must not block or panic
}

func TestRingMonitorShutdownIsIdempotent(t *testing.T) {
	m := newRingMonitor(newFakeDriver(), newRingSet(), rlog.Discard)
	m.Init(5 * time.Millisecond)
	m.Shutdown()
	m.Shutdown()
}
