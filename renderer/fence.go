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
	"sync"

	"github.com/venusgfx/vkrenderer/internal/rerrors"
	"github.com/venusgfx/vkrenderer/internal/rsync"
	"github.com/venusgfx/vkrenderer/internal/seqno"
)

// numTimelines is the fixed §3/§9 bound: "64 per-ring timelines."
const numTimelines = 64

// Fence is a single in-flight fence on a timeline (§3 Fence).
type Fence struct {
	RingIdx uint32
	Seqno   uint32
	FenceID uint64
	Flags   uint32

	next *Fence // intrusive link within its timeline's ordered list
}

// timeline is one per ring index (§3 Timeline): an ordered, in-flight
// fence list plus the seqno counters that drive it.
type timeline struct {
	curSeqno  uint32
	nextSeqno uint32
	head      *Fence // oldest in-flight fence
	tail      *Fence
}

func (t *timeline) pushBack(f *Fence) {
	f.next = nil
	if t.tail != nil {
		t.tail.next = f
	} else {
		t.head = f
	}
	t.tail = f
}

func (t *timeline) popFront() *Fence {
	f := t.head
	if f == nil {
		return nil
	}
	t.head = f.next
	if t.head == nil {
		t.tail = nil
	}
	f.next = nil
	return f
}

// timelinesMutex guards the fence layer's timeline array and busy mask.
// §5 names this as a distinct lock from the object/resource/ring-set
// guards. It is never held across a driver call or a retire callback:
// SubmitFence releases it before forwarding to the driver, and OnRetire
// releases it before invoking Callbacks.Retire.
type timelinesMutex struct{ rsync.Mutex }

// FenceLayer implements C8: submission, async retirement and periodic
// sweep of fences across the context's 64 timelines.
type FenceLayer struct {
	driver   Driver
	callback Callbacks
	ctxID    uint32

	mu        timelinesMutex
	timelines [numTimelines]timeline
	busyMask  uint64

	freePool sync.Pool
}

func newFenceLayer(driver Driver, callback Callbacks, ctxID uint32) *FenceLayer {
	fl := &FenceLayer{driver: driver, callback: callback, ctxID: ctxID}
	fl.freePool.New = func() any { return &Fence{} }
	return fl
}

// SubmitFence implements §4.8's submit_fence: assigns the next seqno on
// ringIdx's timeline, marks the timeline busy, and forwards to the
// driver. On driver failure the list insertion and busy bit are rolled
// back atomically with respect to other submitters on the same ring.
func (fl *FenceLayer) SubmitFence(flags, ringIdx uint32, fenceID uint64) error {
	if ringIdx >= numTimelines {
		return rerrors.Protocolf("submit_fence", "ring_idx %d out of range", ringIdx)
	}

	fl.mu.Lock()
	t := &fl.timelines[ringIdx]
	f := fl.freePool.Get().(*Fence)
	f.RingIdx = ringIdx
	f.FenceID = fenceID
	f.Flags = flags
	f.Seqno = t.nextSeqno
	t.nextSeqno++
	t.pushBack(f)
	fl.busyMask |= 1 << ringIdx
	fl.mu.Unlock()

	if err := fl.driver.SubmitFence(fl.ctxID, flags, ringIdx, fenceID); err != nil {
		fl.mu.Lock()
		fl.removeLocked(t, f)
		if t.head == nil {
			fl.busyMask &^= 1 << ringIdx
		}
		fl.mu.Unlock()
		fl.freePool.Put(f)
		return err
	}
	return nil
}

// removeLocked splices f out of t's list. f need not be the head; used
// by the SubmitFence rollback path where f is always the tail, but
// written generally for clarity with the list's invariants.
func (fl *FenceLayer) removeLocked(t *timeline, f *Fence) {
	if t.head == f {
		t.head = f.next
		if t.head == nil {
			t.tail = nil
		}
		return
	}
	for cur := t.head; cur != nil; cur = cur.next {
		if cur.next == f {
			cur.next = f.next
			if t.tail == f {
				t.tail = cur
			}
			return
		}
	}
}

// OnRetire implements §4.8's on_retire: the driver's async completion
// path reports the latest observed seqno for ringIdx as the low 32 bits
// of fenceID, and every fence up to and including that seqno (by the
// wraparound rule) is popped and reported to the upper layer in order.
func (fl *FenceLayer) OnRetire(ringIdx uint32, fenceID uint64) {
	if ringIdx >= numTimelines {
		return
	}
	observed := seqno.Low32(fenceID)

	fl.mu.Lock()
	t := &fl.timelines[ringIdx]
	t.curSeqno = observed
	var retired []*Fence
	for t.head != nil && seqno.After(observed, t.head.Seqno) {
		retired = append(retired, t.popFront())
	}
	if t.head == nil {
		fl.busyMask &^= 1 << ringIdx
	}
	fl.mu.Unlock()

	for _, f := range retired {
		fl.callback.Retire(fl.ctxID, ringIdx, f.FenceID)
		f.next = nil
		fl.freePool.Put(f)
	}
}

// RetireAll implements §4.8's retire_all: for every busy timeline, reads
// the shared-memory seqno via readSeqno and runs the same retirement
// walk as OnRetire.
func (fl *FenceLayer) RetireAll(readSeqno func(ringIdx uint32) (uint32, bool)) {
	fl.mu.Lock()
	mask := fl.busyMask
	fl.mu.Unlock()
	for ringIdx := uint32(0); ringIdx < numTimelines; ringIdx++ {
		if mask&(1<<ringIdx) == 0 {
			continue
		}
		observed, ok := readSeqno(ringIdx)
		if !ok {
			continue
		}
		fl.OnRetire(ringIdx, uint64(observed))
	}
}

// BusyMask returns the current busy-mask bitmap, bit i set iff timeline
// i has an unretired fence. Exposed for tests verifying §8's "busy mask
// matches fence-list emptiness" invariant.
func (fl *FenceLayer) BusyMask() uint64 {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.busyMask
}
