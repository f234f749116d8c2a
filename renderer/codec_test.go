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
	"testing"
)

func frameBytes(opcode uint32, args []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(args))
	binary.LittleEndian.PutUint32(buf, opcode)
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(args)))
	copy(buf[frameHeaderSize:], args)
	return buf
}

func TestDecoderIteratesFrames(t *testing.T) {
	var buf []byte
	buf = append(buf, frameBytes(1, []byte("ab"))...)
	buf = append(buf, frameBytes(2, nil)...)

	dec := NewDecoder(buf)

	f1, ok, err := dec.Next()
	if err != nil || !ok || f1.Opcode != 1 || string(f1.Args) != "ab" {
		t.Fatalf("frame 1 = %+v, ok=%v, err=%v", f1, ok, err)
	}
	f2, ok, err := dec.Next()
	if err != nil || !ok || f2.Opcode != 2 || len(f2.Args) != 0 {
		t.Fatalf("frame 2 = %+v, ok=%v, err=%v", f2, ok, err)
	}
	_, ok, err = dec.Next()
	if err != nil || ok {
		t.Fatalf("expected end of buffer, got ok=%v, err=%v", ok, err)
	}
}

func TestDecoderTruncatedHeaderIsFatal(t *testing.T) {
	dec := NewDecoder([]byte{1, 2, 3})
	_, _, err := dec.Next()
	if err == nil {
		t.Error("truncated header should report an error")
	}
}

func TestDecoderTruncatedBodyIsFatal(t *testing.T) {
	buf := frameBytes(1, []byte("hello"))
	dec := NewDecoder(buf[:len(buf)-2]) // chop off part of the body
	_, _, err := dec.Next()
	if err == nil {
		t.Error("truncated body should report an error")
	}
}

func TestEncoderOverflowIsFatal(t *testing.T) {
	enc := NewEncoder(make([]byte, 4))
	if err := enc.Write([]byte("ab")); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	if err := enc.Write([]byte("abc")); err == nil {
		t.Error("overflowing write should fail")
	}
}

func TestEncoderWritten(t *testing.T) {
	enc := NewEncoder(make([]byte, 8))
	enc.Write([]byte("hi"))
	if got := string(enc.Written()); got != "hi" {
		t.Errorf("Written() = %q, want %q", got, "hi")
	}
}
