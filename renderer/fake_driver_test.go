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

	"github.com/google/uuid"
	"github.com/venusgfx/vkrenderer/internal/fdutil"
)

// fakeDriver is an in-process stand-in for a real Vulkan loader plus
// physical device, used across this package's tests. It records calls
// it cares about and lets tests inject failures, following the same
// shape as the hand-rolled fake drivers gVisor's device tests use for
// their ioctl-handling layers.
type fakeDriver struct {
	mu sync.Mutex

	caps PhysicalDeviceCaps

	submittedFences []fakeSubmittedFence
	failSubmitFence bool

	allocated        map[DeviceMemoryHandle]bool
	nextMemHandle    uint64
	failAllocate     bool
	lastAllocateInfo MemoryAllocateInfo

	destroyed   []ObjectHandle
	failDestroy bool

	exportFd    int
	failExport  bool
	mappedBytes []byte
	failMap     bool
	unmapped    []DeviceMemoryHandle

	markedAlive []uint64
}

type fakeSubmittedFence struct {
	ctxID, ringIdx uint32
	fenceID        uint64
}

func newFakeDriver() *fakeDriver {
	d := &fakeDriver{
		allocated: make(map[DeviceMemoryHandle]bool),
	}
	deviceUUID, driverUUID := uuid.New(), uuid.New()
	copy(d.caps.DeviceUUID[:], deviceUUID[:])
	copy(d.caps.DriverUUID[:], driverUUID[:])
	return d
}

func (d *fakeDriver) SubmitFence(ctxID, flags, ringIdx uint32, fenceID uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failSubmitFence {
		return errFakeDriver
	}
	d.submittedFences = append(d.submittedFences, fakeSubmittedFence{ctxID, ringIdx, fenceID})
	return nil
}

func (d *fakeDriver) SubmitCmd(ctxID uint32, cmd []byte) error {
	return nil
}

func (d *fakeDriver) GetMemoryFd(mem DeviceMemoryHandle, handleType ExternalMemoryHandleType) (*fdutil.FD, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failExport {
		return nil, errFakeDriver
	}
	fd, err := fdutil.AnonBuffer(4096)
	if err != nil {
		return nil, err
	}
	return fd, nil
}

func (d *fakeDriver) MapMemory(mem DeviceMemoryHandle, offset, size uint64) ([]byte, error) {
	if d.failMap {
		return nil, errFakeDriver
	}
	return make([]byte, size), nil
}

func (d *fakeDriver) UnmapMemory(mem DeviceMemoryHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unmapped = append(d.unmapped, mem)
	return nil
}

func (d *fakeDriver) AllocateMemory(dev DeviceHandle, info *MemoryAllocateInfo) (DeviceMemoryHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastAllocateInfo = *info
	if d.failAllocate {
		return 0, errFakeDriver
	}
	d.nextMemHandle++
	h := DeviceMemoryHandle(d.nextMemHandle)
	d.allocated[h] = true
	return h, nil
}

func (d *fakeDriver) FreeMemory(mem DeviceMemoryHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.allocated, mem)
	return nil
}

func (d *fakeDriver) Capabilities(dev DeviceHandle) PhysicalDeviceCaps {
	return d.caps
}

func (d *fakeDriver) DestroyObject(obj ObjectHandle, class ObjectType) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failDestroy {
		return errFakeDriver
	}
	d.destroyed = append(d.destroyed, obj)
	return nil
}

func (d *fakeDriver) MarkRingAlive(ringID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markedAlive = append(d.markedAlive, ringID)
}

var errFakeDriver = fakeError("fake driver failure")

type fakeError string

func (e fakeError) Error() string { return string(e) }

// fakeCallbacks records retire callbacks in arrival order, for tests
// asserting §8's in-order-per-ring retirement property.
type fakeCallbacks struct {
	mu      sync.Mutex
	retired []fakeRetirement
}

type fakeRetirement struct {
	ctxID, ringIdx uint32
	fenceID        uint64
}

func (c *fakeCallbacks) Retire(ctxID uint32, ringIdx uint32, fenceID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retired = append(c.retired, fakeRetirement{ctxID, ringIdx, fenceID})
}

func (c *fakeCallbacks) snapshot() []fakeRetirement {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]fakeRetirement, len(c.retired))
	copy(out, c.retired)
	return out
}
