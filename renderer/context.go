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
	"sync/atomic"
	"time"

	"github.com/venusgfx/vkrenderer/internal/rerrors"
	"github.com/venusgfx/vkrenderer/internal/rlog"
)

// Config bundles the dependencies a Context needs beyond the protocol
// arguments of context_create, mirroring how the original wires a
// process-global driver function table and gbm device into every
// context rather than each context constructing its own.
type Config struct {
	Driver       Driver
	Callbacks    Callbacks
	GBMAllocator GBMAllocator // nil selects the in-process fallback
	Log          rlog.Logger  // nil selects rlog.Discard
	Handlers     map[uint32]Handler
}

// Context is C9: the root entity owning every other registry in this
// package, and the type the §6 external-interface surface is exposed
// on as plain Go methods.
type Context struct {
	ID        uint32
	DebugName string

	driver Driver
	log    rlog.Logger

	fatal atomic.Bool

	Objects   *ObjectRegistry
	Resources *ResourceRegistry
	Rings     *RingSet
	Monitor   *RingMonitor
	Fences    *FenceLayer
	Memory    *MemoryPolicy

	dispatch *Dispatcher
}

// CreateContext implements §4.9's create: allocates the context,
// initializes every registry, and registers it with the process-wide
// context table so the async retire path can resolve ctxID back to
// this context.
func CreateContext(ctxID uint32, debugName string, cfg Config) *Context {
	log := cfg.Log
	if log == nil {
		log = rlog.Discard
	}

	ctx := &Context{
		ID:        ctxID,
		DebugName: debugName,
		driver:    cfg.Driver,
		log:       log,
	}
	ctx.Objects = newObjectRegistry(cfg.Driver, log)
	ctx.Memory = newMemoryPolicy(cfg.Driver, cfg.GBMAllocator)
	ctx.Resources = newResourceRegistry(ctx.Memory)
	ctx.Rings = newRingSet()
	ctx.Monitor = newRingMonitor(cfg.Driver, ctx.Rings, log)
	ctx.Fences = newFenceLayer(cfg.Driver, cfg.Callbacks, ctxID)
	ctx.dispatch = newDispatcher(log, cfg.Handlers)

	globalContexts.register(ctx)
	return ctx
}

// Destroy implements §4.9's destroy: stops the ring monitor, aborts any
// outstanding ring wait, removes the context from the process table,
// tears down all objects in reverse-dependency order, and destroys all
// resources. The fence layer's sync.Pool of free fences is not drained
// explicitly; it is reclaimed by the garbage collector. Destruction
// always runs to completion even if the fatal flag is set.
func (ctx *Context) Destroy() {
	ctx.Monitor.Shutdown()
	ctx.Rings.Shutdown()
	globalContexts.unregister(ctx.ID)

	ctx.Objects.RemoveAll(ctx.Objects.Ids())
	ctx.Resources.DestroyAll()
}

// Fatal reports whether the context's sticky fatal flag has been set
// (§3: "once set the context refuses further command dispatch").
func (ctx *Context) Fatal() bool {
	return ctx.fatal.Load()
}

// setFatal sets the sticky fatal flag. Per §5, only the dispatch thread
// and the codec write it; everything else only reads it.
func (ctx *Context) setFatal() {
	ctx.fatal.Store(true)
}

// SubmitCmd implements §6's context_submit_cmd.
func (ctx *Context) SubmitCmd(buf []byte, reply *Encoder) {
	ctx.dispatch.SubmitCmd(ctx, buf, reply)
}

// SubmitFence implements §6's context_submit_fence. A fatal context
// cannot guarantee the retire callback §5 promises for an observed
// success, so it fails the call instead of silently no-oping.
func (ctx *Context) SubmitFence(flags, ringIdx uint32, fenceID uint64) error {
	if ctx.Fatal() {
		return rerrors.Protocolf("submit_fence", "context %d is fatal", ctx.ID)
	}
	return ctx.Fences.SubmitFence(flags, ringIdx, fenceID)
}

// CreateResource implements §6's context_create_resource.
func (ctx *Context) CreateResource(resID uint32, blobID, blobSize uint64, flags BlobFlags) (*BlobDescriptor, error) {
	return ctx.Resources.Create(resID, blobID, blobSize, flags)
}

// ImportResource implements §6's context_import_resource.
func (ctx *Context) ImportResource(resID uint32, fdType ResourceFDType, fd int, size uint64) error {
	return ctx.Resources.Import(resID, fdType, fd, size)
}

// DestroyResource implements §6's context_destroy_resource.
func (ctx *Context) DestroyResource(resID uint32) {
	ctx.Resources.Destroy(resID)
}

// AllocateMemory implements §6's vkAllocateMemory path: if info names an
// import resource, it replaces that reference with a dup of the
// resource's fd (the resource keeps its own fd), then it runs C6's
// allocate-time decision table against dev and info, then registers the
// resulting DeviceMemory under memID with a destructor that runs
// MemoryPolicy.Free (unmapping and releasing any gbm buffer object)
// ahead of the driver-level free, so ordinary object teardown — Remove,
// RemoveAll, or Destroy — reaches it.
func (ctx *Context) AllocateMemory(memID uint64, dev DeviceHandle, info MemoryAllocateInfo) (*DeviceMemory, error) {
	if !ctx.Objects.Validate(memID) {
		return nil, rerrors.Protocolf("allocate_memory", "invalid or duplicate mem_id %d", memID)
	}
	if info.ImportResourceID != 0 {
		res, ok := ctx.Resources.Lookup(info.ImportResourceID)
		if !ok || res.fd == nil {
			return nil, rerrors.Protocolf("allocate_memory", "import res_id %d has no fd", info.ImportResourceID)
		}
		dup, err := res.DupFD()
		if err != nil {
			return nil, rerrors.New(rerrors.ErrOutOfHostMemory, "dup import fd: "+err.Error())
		}
		info.ImportFd = int32(dup.Release())
		info.ImportHandleType = HandleTypeOpaqueFd
		if res.FDType == ResourceFDDmaBuf {
			info.ImportHandleType = HandleTypeDmaBuf
		}
	}
	dm, err := ctx.Memory.Allocate(dev, info)
	if err != nil {
		return nil, err
	}
	release := func() {
		if err := ctx.Memory.Free(dm); err != nil {
			ctx.log.Warningf("renderer: vkFreeMemory for mem_id %d failed: %v", memID, err)
		}
	}
	if err := ctx.Objects.InsertWithRelease(memID, ObjectTypeDeviceMemory, ObjectHandle(dm.Handle), release, 0); err != nil {
		release()
		return nil, err
	}
	return dm, nil
}

// FreeMemory implements §6's vkFreeMemory path: removing memID from the
// object registry runs the destructor AllocateMemory installed, which
// drives DeviceMemory's unmap/gbm-release teardown before the driver
// free. A free of an unknown mem_id is a no-op.
func (ctx *Context) FreeMemory(memID uint64) {
	ctx.Objects.Remove(memID)
}

// AttachResource implements §6's context_attach_resource: the transport
// informs this context of a resource it tracks by value, outside of an
// explicit create_resource/import_resource command.
func (ctx *Context) AttachResource(resID uint32, fdType ResourceFDType, size uint64) {
	ctx.Resources.Attach(resID, fdType, size)
}

// DetachResource implements §6's context_detach_resource.
func (ctx *Context) DetachResource(resID uint32) {
	ctx.Resources.Detach(resID)
}

// RingMonitorInit implements §6's context_ring_monitor_init. periodUs
// is microseconds, 0 meaning no explicit period (the attached rings'
// own periods and the built-in default still apply).
func (ctx *Context) RingMonitorInit(periodUs uint64) {
	ctx.Monitor.Init(time.Duration(periodUs) * time.Microsecond)
}

// OnRingSeqnoUpdate implements §6's context_on_ring_seqno_update.
func (ctx *Context) OnRingSeqnoUpdate(ringID uint64, seqno uint32) {
	ctx.Rings.OnHeadUpdate(ringID, seqno)
}

// WaitRingSeqno implements §6's context_wait_ring_seqno.
func (ctx *Context) WaitRingSeqno(ringID uint64, seqno uint32) error {
	return ctx.Rings.WaitForSeqno(ringID, seqno)
}

// onRetire adapts the driver's async completion callback into the fence
// layer, and is what ContextTable.Retire calls after resolving ctxID.
func (ctx *Context) onRetire(ringIdx uint32, fenceID uint64) {
	ctx.Fences.OnRetire(ringIdx, fenceID)
}
