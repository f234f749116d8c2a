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
	"encoding/binary"

	"github.com/venusgfx/vkrenderer/internal/rerrors"
)

// frameHeaderSize is the length of a command frame's header: a 4-byte
// opcode followed by a 4-byte length prefix (§4.3: "frames are
// length-prefixed").
const frameHeaderSize = 8

// Frame is a single decoded command: an opcode plus its argument bytes,
// valid only for the duration of the dispatch call that receives it
// (§4.3: "handlers must copy anything they retain").
type Frame struct {
	Opcode uint32
	Args   []byte
}

// Decoder iterates length-prefixed frames out of a contiguous command
// buffer (C3). It is single-use: construct one per submit_cmd call.
type Decoder struct {
	buf    []byte
	cursor int
}

// NewDecoder wraps buf for decoding. buf is not copied; it must remain
// valid and unmodified for the lifetime of the Decoder, matching the
// transport's "buffer owned by the caller for the duration of the
// dispatch call" contract.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Next returns the next frame, or ok=false once the buffer is
// exhausted. A truncated trailing frame (a length prefix with fewer
// than the declared bytes remaining) is reported as a protocol error,
// per §4.3.
func (d *Decoder) Next() (Frame, bool, error) {
	if d.cursor == len(d.buf) {
		return Frame{}, false, nil
	}
	if d.cursor+frameHeaderSize > len(d.buf) {
		return Frame{}, false, rerrors.Protocolf("decode_frame", "truncated frame header at offset %d", d.cursor)
	}

	opcode := binary.LittleEndian.Uint32(d.buf[d.cursor:])
	length := binary.LittleEndian.Uint32(d.buf[d.cursor+4:])
	start := d.cursor + frameHeaderSize
	end := start + int(length)
	if end < start || end > len(d.buf) {
		return Frame{}, false, rerrors.Protocolf("decode_frame", "truncated frame body at offset %d (len %d)", d.cursor, length)
	}

	d.cursor = end
	return Frame{Opcode: opcode, Args: d.buf[start:end]}, true, nil
}

// Encoder writes reply payloads into a bounded, guest-visible byte
// range, tracking a write cursor (§4.3). Overflow is fatal.
type Encoder struct {
	buf    []byte
	cursor int
}

// NewEncoder wraps buf for encoding replies into.
func NewEncoder(buf []byte) *Encoder {
	return &Encoder{buf: buf}
}

// Write appends p to the reply buffer, returning a protocol error if
// doing so would overflow the bound.
func (e *Encoder) Write(p []byte) error {
	if e.cursor+len(p) > len(e.buf) {
		return rerrors.Protocolf("encode_reply", "reply buffer overflow: %d bytes at offset %d, capacity %d", len(p), e.cursor, len(e.buf))
	}
	n := copy(e.buf[e.cursor:], p)
	e.cursor += n
	return nil
}

// Written returns the slice of buf actually written so far.
func (e *Encoder) Written() []byte {
	return e.buf[:e.cursor]
}
