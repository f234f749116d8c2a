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
	"fmt"

	"github.com/venusgfx/vkrenderer/internal/rerrors"
	"github.com/venusgfx/vkrenderer/internal/rlog"
	"github.com/venusgfx/vkrenderer/internal/rsync"
)

// object tracks a single driver object (C2). Layout and the
// deps/rdeps dependency-graph teardown walk are adapted directly from
// gVisor's pkg/sentry/devices/nvproxy object.go: a guest-assigned id
// maps to a typed handle, and freeing an object also frees everything
// that depends on it, computed by walking rdeps rather than maintaining
// a separate parent-owned child list.
type object struct {
	id     uint64
	class  ObjectType
	handle ObjectHandle

	// release, when non-nil, replaces the generic Driver.DestroyObject
	// call for this object's destructor. Object types with Go-owned
	// state a single driver call can't reach (DeviceMemory's gbm buffer
	// object and host mapping) install one via InsertWithRelease.
	release func()

	// deps are objects this object depends on; rdeps are objects that
	// depend on this one. Freeing an object frees every member of its
	// rdeps closure first, exactly like nvproxy's objFree /
	// prependFreedLockedRecursive.
	deps  map[*object]struct{}
	rdeps map[*object]struct{}

	objectListEntry
}

func objDep(o1, o2 *object) {
	if o1.deps == nil {
		o1.deps = make(map[*object]struct{})
	}
	o1.deps[o2] = struct{}{}
	if o2.rdeps == nil {
		o2.rdeps = make(map[*object]struct{})
	}
	o2.rdeps[o1] = struct{}{}
}

// objsMutex is a named lock wrapper, following gVisor's convention of
// giving every independently-locked field its own mutex type rather
// than sharing a single anonymous sync.Mutex across unrelated state.
type objsMutex struct{ rsync.Mutex }

// ObjectRegistry is the context's object table (C2): opaque 64-bit
// guest id -> typed driver object handle.
type ObjectRegistry struct {
	driver Driver
	log    rlog.Logger

	mu        objsMutex
	resources map[uint64]*object

	freeList objectList
	freeSet  map[*object]struct{}
}

func newObjectRegistry(driver Driver, log rlog.Logger) *ObjectRegistry {
	return &ObjectRegistry{
		driver:    driver,
		log:       log,
		resources: make(map[uint64]*object),
	}
}

// Validate reports whether id is usable for a new object: non-zero and
// not already in use. Per §4.2, a validation failure is the guest's
// fault (the guest is the sole source of object ids), so the caller is
// expected to mark the context fatal on a false result.
func (r *ObjectRegistry) Validate(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == 0 {
		return false
	}
	_, exists := r.resources[id]
	return !exists
}

// Insert records a newly constructed object with the given id, type and
// driver handle, depending on parent (0 for none) and any additional
// dependency ids. Insert requires a prior successful Validate(id); it
// does not re-validate.
func (r *ObjectRegistry) Insert(id uint64, class ObjectType, handle ObjectHandle, parent uint64, deps ...uint64) error {
	return r.insert(id, class, handle, nil, parent, deps...)
}

// InsertWithRelease is Insert for an object whose destructor cannot be
// expressed as a single Driver.DestroyObject call: release runs in its
// place when the object is freed, either directly (Remove) or as part
// of a dependency-closure or RemoveAll teardown.
func (r *ObjectRegistry) InsertWithRelease(id uint64, class ObjectType, handle ObjectHandle, release func(), parent uint64, deps ...uint64) error {
	return r.insert(id, class, handle, release, parent, deps...)
}

func (r *ObjectRegistry) insert(id uint64, class ObjectType, handle ObjectHandle, release func(), parent uint64, deps ...uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.resources[id]; exists {
		return rerrors.Invariantf("duplicate insert of object id %d", id)
	}

	o := &object{id: id, class: class, handle: handle, release: release}
	r.resources[id] = o

	if parent != 0 {
		p, ok := r.resources[parent]
		if !ok {
			r.log.Warningf("renderer: object %d (class %v) has invalid parent %d", id, class, parent)
		} else {
			objDep(o, p)
		}
	}
	for _, depID := range deps {
		if depID == 0 {
			continue
		}
		dep, ok := r.resources[depID]
		if !ok {
			r.log.Warningf("renderer: object %d (class %v) has invalid dependency %d", id, class, depID)
			continue
		}
		objDep(o, dep)
	}
	if r.log.IsLogging(rlog.Debug) {
		r.log.Debugf("renderer: added object %d (class %v) with parent %d", id, class, parent)
	}
	return nil
}

// Lookup returns the handle and type registered under id, or ok=false
// if id is unknown.
func (r *ObjectRegistry) Lookup(id uint64) (handle ObjectHandle, class ObjectType, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, exists := r.resources[id]
	if !exists {
		return 0, 0, false
	}
	return o.handle, o.class, true
}

// Remove invokes the type-specific destructor (the release hook installed
// by InsertWithRelease, otherwise Driver.DestroyObject) for id and
// everything that transitively depends on it, then drops
// every freed entry from the table. It is a no-op if id is unknown.
func (r *ObjectRegistry) Remove(id uint64) {
	r.mu.Lock()
	o, exists := r.resources[id]
	if !exists {
		r.mu.Unlock()
		return
	}
	if r.freeSet == nil {
		r.freeSet = make(map[*object]struct{})
	}
	r.prependFreedLockedRecursive(o)
	freed := r.drainFreeListLocked()
	r.mu.Unlock()

	r.destroyAll(freed)
}

// RemoveAll removes every id in ids as a single atomic operation with
// respect to the registry guard (§4.2 remove_all), used at context
// teardown to tear down every remaining object in one pass while still
// respecting dependency order within the batch.
func (r *ObjectRegistry) RemoveAll(ids []uint64) {
	r.mu.Lock()
	if r.freeSet == nil {
		r.freeSet = make(map[*object]struct{})
	}
	for _, id := range ids {
		if o, exists := r.resources[id]; exists {
			r.prependFreedLockedRecursive(o)
		}
	}
	freed := r.drainFreeListLocked()
	r.mu.Unlock()

	r.destroyAll(freed)
}

// drainFreeListLocked pops every entry queued by
// prependFreedLockedRecursive, removing it from the table, and returns
// them in teardown order. Must be called with mu held; destructors are
// run by the caller after mu is released (§5: "destructors run while
// the mutex is dropped if they may reenter the registry").
func (r *ObjectRegistry) drainFreeListLocked() []*object {
	var freed []*object
	for !r.freeList.Empty() {
		o := r.freeList.Front()
		for dep := range o.deps {
			delete(dep.rdeps, o)
		}
		delete(r.resources, o.id)
		r.freeList.Remove(o)
		delete(r.freeSet, o)
		freed = append(freed, o)
	}
	return freed
}

func (r *ObjectRegistry) destroyAll(freed []*object) {
	for _, o := range freed {
		if o.release != nil {
			o.release()
		} else if err := r.driver.DestroyObject(o.handle, o.class); err != nil {
			r.log.Warningf("renderer: destructor for object %d (class %v) failed: %v", o.id, o.class, err)
		}
		if r.log.IsLogging(rlog.Debug) {
			r.log.Debugf("renderer: freed object %d (class %v)", o.id, o.class)
		}
	}
}

// prependFreedLockedRecursive queues o, and everything in o's rdeps
// closure, onto the free list, with dependents ordered ahead of their
// dependencies. Adapted verbatim in structure from nvproxy's
// prependFreedLockedRecursive / serverFreeResourceTree.
//
// Precondition: r.mu held.
func (r *ObjectRegistry) prependFreedLockedRecursive(o *object) {
	if _, queued := r.freeSet[o]; queued {
		r.freeList.Remove(o)
	} else {
		r.freeSet[o] = struct{}{}
	}
	r.freeList.PushFront(o)
	for dependent := range o.rdeps {
		r.prependFreedLockedRecursive(dependent)
	}
}

// Len reports the number of live objects, used by teardown bookkeeping
// and tests.
func (r *ObjectRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resources)
}

// Ids returns every currently-registered object id, in no particular
// order. Used by Context.Destroy to drive RemoveAll.
func (r *ObjectRegistry) Ids() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint64, 0, len(r.resources))
	for id := range r.resources {
		ids = append(ids, id)
	}
	return ids
}

var _ fmt.Stringer = ObjectType(0)

// String implements fmt.Stringer for log messages.
func (t ObjectType) String() string {
	switch t {
	case ObjectTypeDevice:
		return "device"
	case ObjectTypeDeviceMemory:
		return "device_memory"
	case ObjectTypeBuffer:
		return "buffer"
	case ObjectTypeImage:
		return "image"
	case ObjectTypeSyncPrimitive:
		return "sync_primitive"
	default:
		return "unknown"
	}
}
