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

	"golang.org/x/sys/unix"
)

func TestResourceRegistryCreateMappable(t *testing.T) {
	r := newResourceRegistry(newMemoryPolicy(newFakeDriver(), nil))

	desc, err := r.Create(7, 0x100, 65536, BlobFlagMappable)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if desc.Type != ResourceFDNone || len(desc.MapPtr) != 65536 {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}

	res, ok := r.Lookup(7)
	if !ok || res.FDType != ResourceFDShm {
		t.Fatalf("Lookup(7) = %+v, %v", res, ok)
	}
}

func TestResourceRegistryCreateDuplicateFails(t *testing.T) {
	r := newResourceRegistry(newMemoryPolicy(newFakeDriver(), nil))
	if _, err := r.Create(1, 0, 4096, BlobFlagMappable); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := r.Create(1, 0, 4096, BlobFlagMappable); err == nil {
		t.Error("duplicate Create should fail")
	}
}

// TestResourceRegistryImportDestroyRoundTrip checks §8's round-trip
// property: import then destroy must leave the table as it was before,
// and must not touch the caller's own copy of the fd.
func TestResourceRegistryImportDestroyRoundTrip(t *testing.T) {
	r := newResourceRegistry(newMemoryPolicy(newFakeDriver(), nil))

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[1])
	callerFD := fds[0]
	defer unix.Close(callerFD)

	if before := r.Len(); before != 0 {
		t.Fatalf("Len() = %d before import, want 0", before)
	}

	if err := r.Import(3, ResourceFDDmaBuf, callerFD, 4096); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if got := r.Len(); got != 1 {
		t.Fatalf("Len() = %d after import, want 1", got)
	}

	r.Destroy(3)
	if got := r.Len(); got != 0 {
		t.Fatalf("Len() = %d after destroy, want 0", got)
	}

	// The caller's own fd must still be open: Import dups rather than
	// taking ownership of the passed-in value.
	if _, err := unix.FcntlInt(uintptr(callerFD), unix.F_GETFD, 0); err != nil {
		t.Fatalf("caller fd was closed by Import/Destroy: %v", err)
	}
}

func TestResourceRegistryDestroyUnknownIsNoop(t *testing.T) {
	r := newResourceRegistry(newMemoryPolicy(newFakeDriver(), nil))
	r.Destroy(999) // must not panic
}

// TestResourceRegistryAttachIsIdempotent mirrors venus_context_attach_resource:
// attaching a res_id this context already created via Create must be a
// no-op rather than clobbering the existing entry.
func TestResourceRegistryAttachIsIdempotent(t *testing.T) {
	r := newResourceRegistry(newMemoryPolicy(newFakeDriver(), nil))
	if _, err := r.Create(5, 0, 4096, BlobFlagMappable); err != nil {
		t.Fatalf("Create: %v", err)
	}

	r.Attach(5, ResourceFDDmaBuf, 4096)

	res, ok := r.Lookup(5)
	if !ok || res.FDType != ResourceFDShm {
		t.Fatalf("Attach must not overwrite an existing resource, got %+v", res)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

// TestResourceRegistryAttachDetachRoundTrip covers the not-already-present
// case: attach registers the id, detach removes it, and detaching twice
// is a no-op.
func TestResourceRegistryAttachDetachRoundTrip(t *testing.T) {
	r := newResourceRegistry(newMemoryPolicy(newFakeDriver(), nil))

	r.Attach(9, ResourceFDDmaBuf, 8192)
	res, ok := r.Lookup(9)
	if !ok || res.FDType != ResourceFDDmaBuf || res.Size != 8192 {
		t.Fatalf("Attach(9) = %+v, %v", res, ok)
	}

	r.Detach(9)
	if _, ok := r.Lookup(9); ok {
		t.Fatal("Detach must remove the resource")
	}

	r.Detach(9) // must not panic
}

func TestResourceDupFD(t *testing.T) {
	r := newResourceRegistry(newMemoryPolicy(newFakeDriver(), nil))
	var fds [2]int
	unix.Pipe(fds[:])
	defer unix.Close(fds[1])
	defer unix.Close(fds[0])

	r.Import(1, ResourceFDOpaque, fds[0], 4096)
	res, _ := r.Lookup(1)

	dup, err := res.DupFD()
	if err != nil {
		t.Fatalf("DupFD: %v", err)
	}
	defer dup.Close()

	if dup.FD() == res.fd.FD() {
		t.Error("DupFD must return a distinct descriptor")
	}
	if !res.fd.Valid() {
		t.Error("resource's own fd must remain open after DupFD")
	}
}
