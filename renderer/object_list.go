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

// objectList is an intrusive doubly-linked list of *object, adapted from
// gVisor's pkg/ilist-generated lists (nvproxy's objectFreeList is one
// instance of the same template). Using an intrusive list rather than a
// slice or container/list gives O(1) removal from the middle of the
// list, which prependFreedLockedRecursive relies on when an object
// already queued for teardown needs to move to the front.
type objectList struct {
	head *object
	tail *object
}

// objectListEntry is embedded in object to provide list linkage.
type objectListEntry struct {
	next *object
	prev *object
}

// Empty reports whether the list has no elements.
func (l *objectList) Empty() bool {
	return l.head == nil
}

// Front returns the first element, or nil if the list is empty.
func (l *objectList) Front() *object {
	return l.head
}

// PushFront inserts e at the front of the list.
func (l *objectList) PushFront(e *object) {
	e.next = l.head
	e.prev = nil
	if l.head != nil {
		l.head.prev = e
	} else {
		l.tail = e
	}
	l.head = e
}

// Remove removes e from the list. e must currently be a member of l.
func (l *objectList) Remove(e *object) {
	if e.prev != nil {
		e.prev.next = e.next
	} else if l.head == e {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else if l.tail == e {
		l.tail = e.prev
	}
	e.next = nil
	e.prev = nil
}
