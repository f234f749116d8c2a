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
)

func TestRingSetAttachDetach(t *testing.T) {
	rs := newRingSet()
	if err := rs.Attach(&Ring{RingID: 1}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := rs.Attach(&Ring{RingID: 1}); err == nil {
		t.Error("duplicate Attach should fail")
	}
	rs.Detach(1)
	if err := rs.Attach(&Ring{RingID: 1}); err != nil {
		t.Fatalf("Attach after Detach: %v", err)
	}
}

func TestRingSetTooManyRings(t *testing.T) {
	rs := newRingSet()
	for i := uint64(0); i < maxRings; i++ {
		if err := rs.Attach(&Ring{RingID: i + 1}); err != nil {
			t.Fatalf("Attach(%d): %v", i, err)
		}
	}
	if err := rs.Attach(&Ring{RingID: maxRings + 1}); err == nil {
		t.Error("attaching beyond maxRings should fail")
	}
}

// TestRingWaitWakesOnHeadUpdate is scenario 4 from §8.
func TestRingWaitWakesOnHeadUpdate(t *testing.T) {
	rs := newRingSet()
	rs.Attach(&Ring{RingID: 1})

	done := make(chan error, 1)
	go func() {
		done <- rs.WaitForSeqno(1, 1000)
	}()

	time.Sleep(10 * time.Millisecond) // let the waiter park
	rs.OnHeadUpdate(1, 1001)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitForSeqno: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForSeqno did not wake on head update")
	}
}

func TestRingWaitConcurrentWaitIsContractViolation(t *testing.T) {
	rs := newRingSet()
	rs.Attach(&Ring{RingID: 1})

	started := make(chan struct{})
	go func() {
		close(started)
		rs.WaitForSeqno(1, 1000)
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	if err := rs.WaitForSeqno(1, 2000); err == nil {
		t.Error("concurrent WaitForSeqno should be rejected")
	}
	rs.Shutdown()
}

func TestRingWaitAbortsOnShutdown(t *testing.T) {
	rs := newRingSet()
	rs.Attach(&Ring{RingID: 1})

	done := make(chan error, 1)
	go func() {
		done <- rs.WaitForSeqno(1, 1000)
	}()
	time.Sleep(10 * time.Millisecond)
	rs.Shutdown()

	select {
	case err := <-done:
		if err == nil {
			t.Error("WaitForSeqno should report an error on shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForSeqno did not abort on Shutdown")
	}
}
