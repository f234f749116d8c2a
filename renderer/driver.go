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

import "github.com/venusgfx/vkrenderer/internal/fdutil"

// Driver is the host graphics driver function table this engine is
// built against (§6 "Host driver interface required by the core").
// §1 treats the driver as an external collaborator: a real
// implementation wraps a Vulkan loader and a physical device; this
// interface is the seam, matching the original source's reliance on a
// process-global vkr_renderer_* function table and a VkPhysicalDevice
// capability record.
type Driver interface {
	// SubmitFence forwards a fence submission to the host driver. It
	// returns an error if the driver rejects the submission outright;
	// the fence retires later, asynchronously, through Callbacks.Retire.
	SubmitFence(ctxID uint32, flags uint32, ringIdx uint32, fenceID uint64) error

	// SubmitCmd forwards a decoded command-stream buffer to the host
	// driver / Vulkan dispatch layer. Used by handlers that are uniform
	// thin shims over the driver (§1 "out of scope"); the device-memory
	// handlers in this package call more specific methods below instead.
	SubmitCmd(ctxID uint32, cmd []byte) error

	// GetMemoryFd is the GetMemoryFdKHR-equivalent: exports a device
	// memory allocation as a dma-buf or opaque fd.
	GetMemoryFd(mem DeviceMemoryHandle, handleType ExternalMemoryHandleType) (*fdutil.FD, error)

	// MapMemory maps a device memory allocation into host address space
	// for the host-mapped export fallback.
	MapMemory(mem DeviceMemoryHandle, offset, size uint64) ([]byte, error)
	// UnmapMemory unmaps a previously mapped device memory allocation.
	UnmapMemory(mem DeviceMemoryHandle) error

	// AllocateMemory performs the actual host-driver allocation once the
	// device-memory policy (§4.6) has finished rewriting the allocation
	// record's pNext-equivalent chain.
	AllocateMemory(dev DeviceHandle, info *MemoryAllocateInfo) (DeviceMemoryHandle, error)
	// FreeMemory releases a host-driver memory allocation.
	FreeMemory(mem DeviceMemoryHandle) error

	// Capabilities returns the physical-device capability record used by
	// the device-memory policy's decision table.
	Capabilities(dev DeviceHandle) PhysicalDeviceCaps

	// DestroyObject invokes the per-object-type destructor table entry
	// for obj's underlying driver resource. Called by the object
	// registry (C2) once for every object removed.
	DestroyObject(obj ObjectHandle, class ObjectType) error

	// MarkRingAlive is the ring monitor's (C5) per-tick "mark alive"
	// hook, telling the host watchdog that ringID is merely slow, not
	// stuck.
	MarkRingAlive(ringID uint64)
}

// Callbacks is the upper-layer notification interface a Context reports
// fence retirement through.
type Callbacks interface {
	// Retire is invoked by a context's fence layer once per retired
	// fence, in seqno order per ring. The driver's async completion path
	// reaches it through DriverRetire, which resolves ctxID via the
	// process-wide ContextTable; an unknown ctxID is swallowed there
	// without reaching Retire.
	Retire(ctxID uint32, ringIdx uint32, fenceID uint64)
}

// DeviceHandle, DeviceMemoryHandle and ObjectHandle are opaque
// driver-side handles threaded back through Driver calls. They are
// distinct types so a memory handle can never be passed where a device
// handle is expected.
type (
	DeviceHandle       uint64
	DeviceMemoryHandle uint64
	ObjectHandle       uint64
)

// ExternalMemoryHandleType mirrors the Vulkan external memory handle
// type bits this policy chooses between.
type ExternalMemoryHandleType int

const (
	HandleTypeNone ExternalMemoryHandleType = iota
	HandleTypeDmaBuf
	HandleTypeOpaqueFd
)

// MemoryAllocateInfo is the VkMemoryAllocateInfo-shaped record §4.6
// describes, trimmed to the fields this policy reads or rewrites.
type MemoryAllocateInfo struct {
	AllocationSize   uint64
	MemoryTypeIndex  uint32
	ImportResourceID uint32 // 0 if no VkImportMemoryResourceInfoMESA chain entry
	ImportFd         int32  // -1 unless the policy installed an ImportFd entry
	ImportHandleType ExternalMemoryHandleType
	ExportHandleType ExternalMemoryHandleType // bitmask-ish; 0 if no export requested
}

// PhysicalDeviceCaps is the capability record §4.6's decision table
// reads, plus the identifying UUIDs §4.6's opaque-fd export path reports.
type PhysicalDeviceCaps struct {
	MemoryTypeCount               uint32
	MemoryTypePropertyFlags       []PropertyFlags // indexed by memory type
	DmaBufFdExportSupported       bool
	OpaqueFdExportSupported       bool
	ExternalMemoryDmaBufSupported bool
	DeviceUUID                    [16]byte
	DriverUUID                    [16]byte
}

// PropertyFlags are the host-visible/coherent/cached bits §3 names on
// Device memory.
type PropertyFlags uint32

const (
	PropertyHostVisible PropertyFlags = 1 << iota
	PropertyHostCoherent
	PropertyHostCached
)

// ObjectType tags a driver object for destructor dispatch (C2).
type ObjectType uint32

const (
	ObjectTypeUnknown ObjectType = iota
	ObjectTypeDevice
	ObjectTypeDeviceMemory
	ObjectTypeBuffer
	ObjectTypeImage
	ObjectTypeSyncPrimitive
)
