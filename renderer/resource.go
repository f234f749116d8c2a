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

// ResourceFDType tags how a Resource's storage is held (§3 Resource).
type ResourceFDType int

const (
	ResourceFDNone ResourceFDType = iota
	ResourceFDDmaBuf
	ResourceFDOpaque
	ResourceFDShm
)

// Resource is a single entry in the resource registry (C1): a
// guest-named blob backed by either an owned fd or a mapped byte range,
// never both. Mirrors §3's Resource record.
type Resource struct {
	ResID  uint32
	BlobID uint64
	FDType ResourceFDType
	Size   uint64

	fd  *fdutil.FD // owned; nil when FDType == ResourceFDShm
	shm []byte     // mapped range; nil unless FDType == ResourceFDShm
}

// BlobDescriptor is the §6 "blob descriptor returned by export" record.
type BlobDescriptor struct {
	Type    ResourceFDType
	FD      int
	MapPtr  []byte
	MapInfo MapCacheability
	Vulkan  VulkanBlobInfo
}

// MapCacheability reports the cacheability of a host-mapped export, per
// §4.6's "cached iff host-coherent AND host-cached, else write-combined".
type MapCacheability int

const (
	MapInfoNone MapCacheability = iota
	MapInfoCached
	MapInfoWriteCombined
)

// VulkanBlobInfo carries the device/driver identification §6 requires on
// an opaque-fd export so the guest can re-derive compatibility.
type VulkanBlobInfo struct {
	DeviceUUID      [16]byte
	DriverUUID      [16]byte
	AllocationSize  uint64
	MemoryTypeIndex uint32
}

// resourcesMutex is the single per-registry guard §4.1 calls for: "no
// other lock may be acquired while held" (§5).
type resourcesMutex struct{ rsync.Mutex }

// ResourceRegistry implements C1: a 32-bit res_id -> Resource table.
type ResourceRegistry struct {
	policy *MemoryPolicy

	mu    resourcesMutex
	table map[uint32]*Resource
}

func newResourceRegistry(policy *MemoryPolicy) *ResourceRegistry {
	return &ResourceRegistry{
		policy: policy,
		table:  make(map[uint32]*Resource),
	}
}

// Create allocates a new blob-backed resource through the device-memory
// policy and registers it under resID. Double-create with an existing
// resID fails per §4.1.
func (r *ResourceRegistry) Create(resID uint32, blobID uint64, size uint64, flags BlobFlags) (*BlobDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.table[resID]; exists {
		return nil, rerrors.Protocolf("create_resource", "duplicate res_id %d", resID)
	}

	desc, fdType, fd, shm, err := r.policy.createBlob(size, flags)
	if err != nil {
		return nil, err
	}

	r.table[resID] = &Resource{
		ResID:  resID,
		BlobID: blobID,
		FDType: fdType,
		Size:   size,
		fd:     fd,
		shm:    shm,
	}
	return desc, nil
}

// Import registers a guest-supplied fd as a resource. The passed fd is
// duplicated so the caller retains ownership of its own copy, per §3
// ("memory-import always duplicates the fd") and §9's fd-ownership rule.
func (r *ResourceRegistry) Import(resID uint32, fdType ResourceFDType, fd int, size uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.table[resID]; exists {
		return rerrors.Protocolf("import_resource", "duplicate res_id %d", resID)
	}
	if fdType == ResourceFDShm {
		return rerrors.Protocolf("import_resource", "shm import not supported, res_id %d", resID)
	}

	owned, err := fdutil.Dup(fd)
	if err != nil {
		return rerrors.New(rerrors.ErrOutOfHostMemory, "dup import fd: "+err.Error())
	}

	r.table[resID] = &Resource{
		ResID:  resID,
		FDType: fdType,
		Size:   size,
		fd:     owned,
	}
	return nil
}

// Destroy releases resID's storage exactly once and drops it from the
// table. A destroy of an unknown id is a no-op, per §4.1.
func (r *ResourceRegistry) Destroy(resID uint32) {
	r.mu.Lock()
	res, exists := r.table[resID]
	if !exists {
		r.mu.Unlock()
		return
	}
	delete(r.table, resID)
	r.mu.Unlock()

	releaseResource(res)
}

// Attach registers resID as present in this context without taking
// ownership of any fd, for a resource the transport tracks by value
// outside of an explicit create_resource/import_resource command. It is
// idempotent: attaching an already-present res_id (e.g. one this context
// created itself via Create) is a no-op, mirroring the original's
// "avoid importing resources created from RENDER_CONTEXT_OP_CREATE_RESOURCE".
func (r *ResourceRegistry) Attach(resID uint32, fdType ResourceFDType, size uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.table[resID]; exists {
		return
	}
	r.table[resID] = &Resource{ResID: resID, FDType: fdType, Size: size}
}

// Detach is the idempotent counterpart to Attach: it is a no-op if resID
// is not present (a resource not belonging to this context), otherwise
// it behaves like Destroy.
func (r *ResourceRegistry) Detach(resID uint32) {
	r.Destroy(resID)
}

// Lookup returns the resource registered under resID, or ok=false.
func (r *ResourceRegistry) Lookup(resID uint32) (*Resource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.table[resID]
	return res, ok
}

// Len reports the number of live resources; used by teardown and tests.
func (r *ResourceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.table)
}

// DestroyAll tears down every remaining resource, used at context
// teardown (§4.9).
func (r *ResourceRegistry) DestroyAll() {
	r.mu.Lock()
	all := make([]*Resource, 0, len(r.table))
	for id, res := range r.table {
		all = append(all, res)
		delete(r.table, id)
	}
	r.mu.Unlock()

	for _, res := range all {
		releaseResource(res)
	}
}

// DupFD hands out a duplicate of res's owned fd, leaving the resource's
// own fd open, per the "ownership of its fd is not transferred" rule in
// §3. Returns an error if res has no backing fd (shm-backed resource).
func (res *Resource) DupFD() (*fdutil.FD, error) {
	if res.fd == nil {
		return nil, rerrors.Invariantf("DupFD on shm-backed resource %d", res.ResID)
	}
	return fdutil.Dup(res.fd.FD())
}

func releaseResource(res *Resource) {
	if res.fd != nil {
		res.fd.Close()
	}
	// shm ranges are owned by the allocator that produced them (the gbm
	// fallback path or the host driver's mmap); this registry only drops
	// its reference. A real embedding munmaps via the driver here.
	res.shm = nil
}
