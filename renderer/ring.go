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
	"github.com/venusgfx/vkrenderer/internal/rerrors"
	"github.com/venusgfx/vkrenderer/internal/rsync"
	"github.com/venusgfx/vkrenderer/internal/seqno"
)

// maxRings bounds the context's ring set at 64, per §3 ("set of up to
// 64 protocol rings").
const maxRings = 64

// Ring is a single shared-memory producer/consumer queue (C4 / §3).
// HeadSeqno is updated out-of-band by the guest through
// RingSet.OnHeadUpdate; the ring set tracks it locally rather than
// reading guest memory directly, matching the original's reliance on a
// transport-delivered notification instead of polling shared memory.
type Ring struct {
	RingID           uint64
	HeadSeqno        uint32
	MonitoringEnabled bool
	MaxReportPeriod  uint64 // microseconds; 0 means "no preference"
}

// ringSetMutex is the ring-set guard of §5: "held only around list
// mutation and waiter bookkeeping, never across driver calls."
type ringSetMutex struct{ rsync.Mutex }

// RingSet implements C4: the context's set of attached rings plus the
// single-waiter wait_for_seqno contract of §4.4.
type RingSet struct {
	mu    ringSetMutex
	cond  *rsync.Cond
	rings map[uint64]*Ring

	// waitActive is true while a wait_for_seqno call is blocked;
	// waitRingID and waitTarget name the ring and target seqno the
	// condvar broadcast in OnHeadUpdate is checked against. Only one wait may be outstanding per
	// context, per §4.4.
	waitActive  bool
	waitRingID  uint64
	waitTarget  uint32

	shutdown bool
}

func newRingSet() *RingSet {
	rs := &RingSet{rings: make(map[uint64]*Ring)}
	rs.cond = rsync.NewCond(&rs.mu)
	return rs
}

// Attach adds ring to the set. Attaching beyond maxRings is a protocol
// violation (§7 "too-many-rings").
func (rs *RingSet) Attach(ring *Ring) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, exists := rs.rings[ring.RingID]; exists {
		return rerrors.Protocolf("attach_ring", "duplicate ring id %d", ring.RingID)
	}
	if len(rs.rings) >= maxRings {
		return rerrors.Protocolf("attach_ring", "too many rings (max %d)", maxRings)
	}
	rs.rings[ring.RingID] = ring
	return nil
}

// Detach removes ringID from the set. A detach of an unknown ring is a
// no-op.
func (rs *RingSet) Detach(ringID uint64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.rings, ringID)
}

// OnHeadUpdate records newHead for ringID and wakes a blocked waiter if
// it is waiting on this ring and newHead has reached its target, per
// §4.4's wake rule: "(uint32)(new_head - wait_seqno) < 2^31".
func (rs *RingSet) OnHeadUpdate(ringID uint64, newHead uint32) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if r, ok := rs.rings[ringID]; ok {
		r.HeadSeqno = newHead
	}
	if rs.waitActive && rs.waitRingID == ringID && seqno.After(newHead, rs.waitTarget) {
		rs.cond.Broadcast()
	}
}

// WaitForSeqno blocks the calling goroutine until ring's head seqno has
// reached target, or the ring set is shut down. It is a contract
// violation to call WaitForSeqno while another wait is active (§4.4);
// the violation is reported as an error rather than silently queued.
func (rs *RingSet) WaitForSeqno(ringID uint64, target uint32) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.waitActive {
		return rerrors.Invariantf("wait_for_seqno called while another wait is active")
	}
	if rs.shutdown {
		return rerrors.Protocolf("wait_for_seqno", "ring set is shut down")
	}

	rs.waitActive = true
	rs.waitRingID = ringID
	rs.waitTarget = target
	defer func() {
		rs.waitActive = false
	}()

	for {
		if rs.shutdown {
			return rerrors.Protocolf("wait_for_seqno", "ring set shut down while waiting")
		}
		if r, ok := rs.rings[ringID]; ok && seqno.After(r.HeadSeqno, target) {
			return nil
		}
		rs.cond.Wait()
	}
}

// Shutdown aborts any outstanding wait and marks the ring set so that
// future waits return immediately, per §5's cancellation rule: context
// destruction is the sole cancellation signal.
func (rs *RingSet) Shutdown() {
	rs.mu.Lock()
	rs.shutdown = true
	rs.mu.Unlock()
	rs.cond.Broadcast()
}

// Rings returns a snapshot slice of every attached ring, used by the
// ring monitor's per-tick sweep.
func (rs *RingSet) Rings() []*Ring {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]*Ring, 0, len(rs.rings))
	for _, r := range rs.rings {
		out = append(out, r)
	}
	return out
}
