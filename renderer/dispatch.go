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
	"github.com/venusgfx/vkrenderer/internal/rerrors"
	"github.com/venusgfx/vkrenderer/internal/rlog"
)

// Handler is a single opcode's implementation (§4.7): read inputs from
// args, validate any referenced ids through the context's registries,
// perform the driver call, and write outputs through reply.
type Handler func(ctx *Context, args []byte, reply *Encoder) error

// Dispatcher holds C7's opcode -> handler table and implements the
// decode-dispatch-drain loop described in §4.7.
type Dispatcher struct {
	log     rlog.Logger
	handlers map[uint32]Handler
}

func newDispatcher(log rlog.Logger, handlers map[uint32]Handler) *Dispatcher {
	return &Dispatcher{log: log, handlers: handlers}
}

// SubmitCmd decodes every frame in buf and dispatches it, short
// circuiting the moment ctx's fatal flag becomes set: remaining frames
// are drained (their bytes consumed so the decoder reaches end of
// buffer) but never executed, per §4.7. A zero-length buf is a no-op
// returning success, per §8's boundary behavior.
func (d *Dispatcher) SubmitCmd(ctx *Context, buf []byte, reply *Encoder) {
	if len(buf) == 0 {
		return
	}
	dec := NewDecoder(buf)
	for {
		frame, ok, err := dec.Next()
		if err != nil {
			d.log.Warningf("renderer: %v", err)
			ctx.setFatal()
			return
		}
		if !ok {
			return
		}
		if ctx.Fatal() {
			// Drain without executing: the frame was already consumed by
			// dec.Next above, so simply continue the loop.
			continue
		}
		d.dispatchOne(ctx, frame, reply)
	}
}

func (d *Dispatcher) dispatchOne(ctx *Context, frame Frame, reply *Encoder) {
	h, ok := d.handlers[frame.Opcode]
	if !ok || h == nil {
		d.log.Warningf("renderer: unknown opcode %d", frame.Opcode)
		ctx.setFatal()
		return
	}
	if err := h(ctx, frame.Args, reply); err != nil {
		switch err.(type) {
		case *rerrors.ProtocolError, *rerrors.InvariantError:
			d.log.Warningf("renderer: opcode %d: %v", frame.Opcode, err)
			ctx.setFatal()
		default:
			// Class 2 (host-side resource exhaustion): reported through the
			// reply record by the handler itself; does not mark fatal.
			d.log.Infof("renderer: opcode %d: %v", frame.Opcode, err)
		}
	}
}
