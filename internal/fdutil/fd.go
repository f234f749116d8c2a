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

// Package fdutil provides an owned-file-descriptor type, adapted from
// gVisor's pkg/fd. Every path in this module that moves a file
// descriptor across an ownership boundary (§9's "file-descriptor
// ownership" design note) does so through an *FD rather than a bare
// int, so that "closed exactly once" is a property of the type instead
// of a convention every call site has to get right.
package fdutil

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// FD owns a host file descriptor. The zero value is not usable; use New
// or Dup.
type FD struct {
	// fd is -1 once closed or released. Accessed atomically so Close and
	// Release can race with FD reads from other goroutines inspecting a
	// resource without holding the resource-table lock.
	fd int64
}

// New wraps fd, taking ownership of it. Passing a negative fd is valid
// and produces an FD that is already "closed" (used for resources with
// no backing fd, e.g. the host-mapped export fallback).
func New(fd int) *FD {
	f := &FD{fd: int64(fd)}
	if fd >= 0 {
		runtime.SetFinalizer(f, (*FD).Close)
	}
	return f
}

// Dup duplicates fd and wraps the duplicate, leaving the original fd
// under the caller's ownership. This is the mechanism behind every
// "dup at the boundary" rule in §9: memory-import never hands out the
// resource's own *FD, it Dups it.
func Dup(fd int) (*FD, error) {
	newFD, err := unix.Dup(fd)
	if err != nil {
		return nil, err
	}
	return New(newFD), nil
}

// Close closes the underlying fd. Close is idempotent: calling it again
// after the first call, or after Release, is a no-op returning nil, per
// the C1 invariant that a resource's fd is released exactly once.
func (f *FD) Close() error {
	runtime.SetFinalizer(f, nil)
	fd := atomic.SwapInt64(&f.fd, -1)
	if fd < 0 {
		return nil
	}
	return unix.Close(int(fd))
}

// AnonBuffer creates an anonymous, memfd-backed buffer of size bytes and
// returns it as an owned FD. Used by the gbm fallback allocator stand-in
// to produce a real, shareable fd without a host GPU driver present.
func AnonBuffer(size uint64) (*FD, error) {
	fd, err := unix.MemfdCreate("vkrenderer-bo", 0)
	if err != nil {
		return nil, err
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return New(fd), nil
}

// Release relinquishes ownership of the underlying fd without closing
// it, returning its value (or -1 if already closed/released). Used when
// handing the fd to the host driver, which becomes the new owner.
func (f *FD) Release() int {
	runtime.SetFinalizer(f, nil)
	return int(atomic.SwapInt64(&f.fd, -1))
}

// FD returns the file descriptor owned by f without transferring
// ownership. Returns -1 if f has been closed or released.
func (f *FD) FD() int {
	return int(atomic.LoadInt64(&f.fd))
}

// Valid reports whether f still owns an open fd.
func (f *FD) Valid() bool {
	return f.FD() >= 0
}
