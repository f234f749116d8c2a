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
	"github.com/venusgfx/vkrenderer/internal/fdutil"
	"github.com/venusgfx/vkrenderer/internal/rerrors"
	"github.com/venusgfx/vkrenderer/internal/rsync"
)

// deviceMemoryMutex guards only the sticky Exported flag and the
// fields read alongside it; per §3's "at most one export succeeds"
// invariant, check-and-set must be atomic with respect to concurrent
// export attempts on the same memory.
type deviceMemoryMutex struct{ rsync.Mutex }

// DeviceMemory is the C6 specialization of Object described in §3: a
// device-memory allocation plus the bookkeeping the export-as-blob path
// needs.
type DeviceMemory struct {
	Handle          DeviceMemoryHandle
	Device          DeviceHandle
	MemoryTypeIndex uint32
	AllocationSize  uint64
	PropertyFlags   PropertyFlags
	ValidFDTypes    uint32
	GBMBO           *GBMBufferObject

	mu       deviceMemoryMutex
	Exported bool
	mapPtr   []byte // set iff Exported via the host-map fallback branch

	origInfo MemoryAllocateInfo
}

// maxGBMAllocationSize is the §4.8 boundary: "allocations larger than
// 2^32 - 1 bytes along the gbm path fail with an out-of-device-memory
// error." 2^32 itself is the first failing size.
const maxGBMAllocationSize = 1<<32 - 1

// GBMBufferObject is an owned buffer object from the fallback allocator
// (§3 Device memory's gbm_bo handle).
type GBMBufferObject struct {
	FD   *fdutil.FD
	Size uint64
}

// GBMAllocator is the process-global fallback allocator §5 describes as
// "used under the assumption that the underlying library is
// thread-safe for concurrent gbm_bo_create" — so implementations of
// this interface must be safe for concurrent use without an external
// lock.
type GBMAllocator interface {
	// CreateLinearBO allocates a linear, R8, single-row, SW-rarely
	// read/write buffer object of at least size bytes, per §4.6's gbm
	// fallback row.
	CreateLinearBO(size uint64) (*GBMBufferObject, error)
}

// fakeGBMAllocator is an in-process stand-in for a real gbm device, used
// where no real gbm binding is wired (see SPEC_FULL.md's domain-stack
// notes on the unavailable cgo gbm binding). It fabricates a memfd-backed
// anonymous buffer per allocation, which is good enough to exercise the
// fd-export half of the decision table without a real DMA-buf.
type fakeGBMAllocator struct{}

func (fakeGBMAllocator) CreateLinearBO(size uint64) (*GBMBufferObject, error) {
	fd, err := fdutil.AnonBuffer(size)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrOutOfDeviceMemory, "gbm_bo_create: "+err.Error())
	}
	return &GBMBufferObject{FD: fd, Size: size}, nil
}

// roundUp4KiB rounds size up to the nearest 4 KiB, per §4.6's gbm row.
func roundUp4KiB(size uint64) uint64 {
	const page = 4096
	return (size + page - 1) &^ (page - 1)
}

// allocateGBMBO checks size against the §4.8 gbm-path boundary before
// aligning it, mirroring vkr_device_memory.c's order: it checks
// alloc_info->allocationSize against UINT32_MAX first, then aligns to
// 4 KiB. Checking after alignment would push exactly 2^32-1 over the
// 2^32-1 limit and wrongly reject the boundary-success case.
func (p *MemoryPolicy) allocateGBMBO(size uint64) (*GBMBufferObject, error) {
	if size > maxGBMAllocationSize {
		return nil, rerrors.New(rerrors.ErrOutOfDeviceMemory, "gbm allocation exceeds 2^32-1 bytes")
	}
	return p.gbm.CreateLinearBO(roundUp4KiB(size))
}

// MemoryPolicy implements C6: the allocate-time externalization decision
// table and the export-as-blob priority logic of §4.6.
type MemoryPolicy struct {
	driver Driver
	gbm    GBMAllocator
}

func newMemoryPolicy(driver Driver, gbm GBMAllocator) *MemoryPolicy {
	if gbm == nil {
		gbm = fakeGBMAllocator{}
	}
	return &MemoryPolicy{driver: driver, gbm: gbm}
}

// Allocate runs the §4.6 "on allocate" decision table against info and
// caps, top to bottom, first match wins, then performs the host-driver
// allocation. The returned DeviceMemory carries valid_fd_types and, if
// the gbm fallback fired, the owned buffer object.
func (p *MemoryPolicy) Allocate(dev DeviceHandle, info MemoryAllocateInfo) (*DeviceMemory, error) {
	caps := p.driver.Capabilities(dev)
	hostVisible := info.MemoryTypeIndex < uint32(len(caps.MemoryTypePropertyFlags)) &&
		caps.MemoryTypePropertyFlags[info.MemoryTypeIndex]&PropertyHostVisible != 0

	dm := &DeviceMemory{
		MemoryTypeIndex: info.MemoryTypeIndex,
		AllocationSize:  info.AllocationSize,
	}
	if info.MemoryTypeIndex < uint32(len(caps.MemoryTypePropertyFlags)) {
		dm.PropertyFlags = caps.MemoryTypePropertyFlags[info.MemoryTypeIndex]
	}

	rewritten := info
	var bo *GBMBufferObject

	switch {
	case info.ImportResourceID != 0:
		// Row 1: a resource import always wins and never forces external.
		// The caller (Context.AllocateMemory) resolves ImportResourceID to
		// a resource and populates ImportFd with a dup of its fd before
		// this point; here we only refrain from touching valid_fd_types.
		dm.ValidFDTypes = 0

	case hostVisible && caps.DmaBufFdExportSupported:
		// Row 2.
		rewritten.ExportHandleType = HandleTypeDmaBuf
		dm.ValidFDTypes = fdTypeBit(HandleTypeDmaBuf) | existingExportBits(info)

	case hostVisible && caps.OpaqueFdExportSupported && info.ExportHandleType != HandleTypeDmaBuf:
		// Row 3.
		rewritten.ExportHandleType = HandleTypeOpaqueFd
		dm.ValidFDTypes = fdTypeBit(HandleTypeOpaqueFd) | existingExportBits(info)

	case hostVisible && caps.ExternalMemoryDmaBufSupported:
		// Row 4: gbm fallback. dup the bo's fd so the driver allocation
		// holds its own reference, per §9's fd-ownership rule; bo itself
		// stays owned by dm.GBMBO for later export/teardown.
		var err error
		bo, err = p.allocateGBMBO(info.AllocationSize)
		if err != nil {
			return nil, err
		}
		dup, err := fdutil.Dup(bo.FD.FD())
		if err != nil {
			bo.FD.Close()
			return nil, rerrors.New(rerrors.ErrOutOfDeviceMemory, "dup gbm bo fd: "+err.Error())
		}
		rewritten.ImportHandleType = HandleTypeDmaBuf
		rewritten.ImportFd = int32(dup.Release())
		rewritten.ExportHandleType = HandleTypeNone
		dm.ValidFDTypes = fdTypeBit(HandleTypeDmaBuf)

	default:
		// Row 5: no forced externalization.
		dm.ValidFDTypes = existingExportBits(info)
	}

	handle, err := p.driver.AllocateMemory(dev, &rewritten)
	if err != nil {
		if bo != nil {
			bo.FD.Close()
		}
		return nil, err
	}

	dm.Handle = handle
	dm.Device = dev
	dm.GBMBO = bo
	dm.origInfo = info
	return dm, nil
}

// Free releases dm's Go-owned state and the host-driver allocation, in
// the order vkr_dispatch_vkFreeMemory uses: unmap the host mapping (if
// the memory was ever exported via the map fallback), destroy the gbm
// fallback buffer object (if one was allocated), then free the driver
// allocation itself.
func (p *MemoryPolicy) Free(dm *DeviceMemory) error {
	dm.mu.Lock()
	mapped := dm.mapPtr
	dm.mapPtr = nil
	dm.mu.Unlock()

	if mapped != nil {
		if err := p.driver.UnmapMemory(dm.Handle); err != nil {
			return err
		}
	}
	if dm.GBMBO != nil {
		dm.GBMBO.FD.Close()
		dm.GBMBO = nil
	}
	return p.driver.FreeMemory(dm.Handle)
}

// exportDmaBufFd resolves the dma-buf fd for dm's export, preferring the
// gbm fallback buffer object's own fd (duped) over a driver round-trip
// when one was allocated, mirroring vkr_device_memory_export_blob's
// "if (mem->gbm_bo) { fd = vkr_gbm_bo_get_fd(mem->gbm_bo); } else {
// GetMemoryFdKHR(...) }" structure.
func (p *MemoryPolicy) exportDmaBufFd(dm *DeviceMemory) (*fdutil.FD, error) {
	if dm.GBMBO != nil {
		dup, err := fdutil.Dup(dm.GBMBO.FD.FD())
		if err != nil {
			return nil, rerrors.New(rerrors.ErrInvalidExternalHandle, "dup gbm bo fd: "+err.Error())
		}
		return dup, nil
	}
	fd, err := p.driver.GetMemoryFd(dm.Handle, HandleTypeDmaBuf)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrInvalidExternalHandle, "GetMemoryFdKHR: "+err.Error())
	}
	return fd, nil
}

// ExportBlob implements §4.6's "on export-as-blob" priority logic. crossDevice
// indicates the export request crosses a device boundary, which requires
// DMA-buf and nothing else. A memory may be exported at most once; dm.Exported
// is checked and set here under dm's own guard.
func (p *MemoryPolicy) ExportBlob(dev DeviceHandle, dm *DeviceMemory, crossDevice bool) (*BlobDescriptor, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.Exported {
		return nil, rerrors.New(rerrors.ErrInvalidExternalHandle, "device memory already exported")
	}

	caps := p.driver.Capabilities(dev)

	switch {
	case crossDevice:
		if dm.ValidFDTypes&fdTypeBit(HandleTypeDmaBuf) == 0 {
			return nil, rerrors.New(rerrors.ErrInvalidExternalHandle, "cross-device export requires dma-buf")
		}
		fd, err := p.exportDmaBufFd(dm)
		if err != nil {
			return nil, err
		}
		dm.Exported = true
		return &BlobDescriptor{Type: ResourceFDDmaBuf, FD: fd.Release()}, nil

	case dm.ValidFDTypes&fdTypeBit(HandleTypeDmaBuf) != 0:
		fd, err := p.exportDmaBufFd(dm)
		if err != nil {
			return nil, err
		}
		dm.Exported = true
		return &BlobDescriptor{Type: ResourceFDDmaBuf, FD: fd.Release()}, nil

	case dm.ValidFDTypes&fdTypeBit(HandleTypeOpaqueFd) != 0:
		fd, err := p.driver.GetMemoryFd(dm.Handle, HandleTypeOpaqueFd)
		if err != nil {
			return nil, rerrors.New(rerrors.ErrInvalidExternalHandle, "GetMemoryFdKHR: "+err.Error())
		}
		dm.Exported = true
		return &BlobDescriptor{
			Type: ResourceFDOpaque,
			FD:   fd.Release(),
			Vulkan: VulkanBlobInfo{
				DeviceUUID:      caps.DeviceUUID,
				DriverUUID:      caps.DriverUUID,
				AllocationSize:  dm.AllocationSize,
				MemoryTypeIndex: dm.MemoryTypeIndex,
			},
		}, nil

	default:
		mapped, err := p.driver.MapMemory(dm.Handle, 0, dm.AllocationSize)
		if err != nil {
			return nil, rerrors.New(rerrors.ErrOutOfHostMemory, "vkMapMemory: "+err.Error())
		}
		dm.Exported = true
		dm.mapPtr = mapped
		info := MapInfoWriteCombined
		if dm.PropertyFlags&PropertyHostCoherent != 0 && dm.PropertyFlags&PropertyHostCached != 0 {
			info = MapInfoCached
		}
		return &BlobDescriptor{Type: ResourceFDNone, FD: -1, MapPtr: mapped, MapInfo: info}, nil
	}
}

// BlobFlags mirrors §6's context_create_resource blob_flags bitmask.
type BlobFlags uint32

const (
	// BlobFlagMappable requests a blob the guest can map directly
	// (map_ptr/map_info) rather than a bare fd.
	BlobFlagMappable BlobFlags = 1 << iota
	// BlobFlagShareable requests a blob exportable as a shareable fd
	// that can cross a device or process boundary, preferring DMA-buf
	// and falling back to an opaque fd per driver capability.
	BlobFlagShareable
)

// createBlob backs C1's create_resource: a blob with no prior device
// memory object behind it, sized and exported per flags and the
// driver's externalization capabilities. It follows the same priority
// order as §4.6's export-as-blob logic: a shareable request prefers
// DMA-buf, then opaque fd; a mappable-only request gets an anonymous
// host mapping; with neither requested, or neither available, it falls
// back to the gbm allocator as an unshared DMA-buf, matching the
// allocate path's row 4.
func (p *MemoryPolicy) createBlob(size uint64, flags BlobFlags) (*BlobDescriptor, ResourceFDType, *fdutil.FD, []byte, error) {
	caps := p.driver.Capabilities(0)

	if flags&BlobFlagShareable != 0 {
		switch {
		case caps.DmaBufFdExportSupported:
			bo, err := p.allocateGBMBO(size)
			if err != nil {
				return nil, ResourceFDNone, nil, nil, err
			}
			return &BlobDescriptor{Type: ResourceFDDmaBuf, FD: bo.FD.FD(), MapInfo: MapInfoWriteCombined},
				ResourceFDDmaBuf, bo.FD, nil, nil
		case caps.OpaqueFdExportSupported:
			bo, err := p.allocateGBMBO(size)
			if err != nil {
				return nil, ResourceFDNone, nil, nil, err
			}
			return &BlobDescriptor{Type: ResourceFDOpaque, FD: bo.FD.FD(), MapInfo: MapInfoWriteCombined},
				ResourceFDOpaque, bo.FD, nil, nil
		}
	}

	if flags&BlobFlagMappable != 0 {
		buf := make([]byte, size)
		return &BlobDescriptor{Type: ResourceFDNone, FD: -1, MapPtr: buf, MapInfo: MapInfoWriteCombined},
			ResourceFDShm, nil, buf, nil
	}

	bo, err := p.allocateGBMBO(size)
	if err != nil {
		return nil, ResourceFDNone, nil, nil, err
	}
	return &BlobDescriptor{Type: ResourceFDDmaBuf, FD: bo.FD.FD()},
		ResourceFDDmaBuf, bo.FD, nil, nil
}

func fdTypeBit(t ExternalMemoryHandleType) uint32 {
	switch t {
	case HandleTypeDmaBuf:
		return 1 << 0
	case HandleTypeOpaqueFd:
		return 1 << 1
	default:
		return 0
	}
}

func existingExportBits(info MemoryAllocateInfo) uint32 {
	return fdTypeBit(info.ExportHandleType)
}
