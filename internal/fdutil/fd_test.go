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

package fdutil

import (
	"testing"

	"golang.org/x/sys/unix"
)

func pipeFDs(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	return fds[0], fds[1]
}

func TestCloseIsIdempotent(t *testing.T) {
	r, w := pipeFDs(t)
	defer unix.Close(w)

	f := New(r)
	if !f.Valid() {
		t.Fatal("expected fd to be valid")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
	if f.Valid() {
		t.Fatal("expected fd to be invalid after Close")
	}
}

func TestReleaseDoesNotClose(t *testing.T) {
	r, w := pipeFDs(t)
	defer unix.Close(w)

	f := New(r)
	released := f.Release()
	if released != r {
		t.Fatalf("Release() = %d, want %d", released, r)
	}
	if f.Valid() {
		t.Fatal("expected fd to be invalid after Release")
	}
	// The caller now owns released; verify it is still open.
	if err := unix.Close(released); err != nil {
		t.Fatalf("fd leaked by Release: %v", err)
	}
}

func TestDupLeavesOriginalOpen(t *testing.T) {
	r, w := pipeFDs(t)
	defer unix.Close(w)
	defer unix.Close(r)

	dup, err := Dup(r)
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	defer dup.Close()

	if dup.FD() == r {
		t.Fatal("Dup should return a distinct fd")
	}
	// original r must still be usable.
	if _, err := unix.FcntlInt(uintptr(r), unix.F_GETFD, 0); err != nil {
		t.Fatalf("original fd no longer valid after Dup: %v", err)
	}
}
