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

// Package seqno implements the wraparound-safe sequence number
// comparison used by both the ring wait path (C4) and fence retirement
// (C8). The spec calls both sites out as the same delta rule, and the
// original source's venus_fence_is_signaled and the ring wait predicate
// are textually the same expression, so they share this helper instead
// of each reimplementing it.
package seqno

// After reports whether a is at or past b on a 32-bit sequence number
// space that may wrap, using the delta rule (uint32)(a-b) < 2^31. The
// protocol guarantees the delta between any two seqnos compared this way
// never approaches 2^31, so the truncation to 32 bits is safe.
func After(a, b uint32) bool {
	return a-b < 1<<31
}

// Low32 truncates a 64-bit fence id to the 32-bit seqno space, as done
// when an async retire callback reduces fence_id to an observed seqno.
func Low32(v uint64) uint32 {
	return uint32(v)
}
