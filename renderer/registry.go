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

import "github.com/venusgfx/vkrenderer/internal/rsync"

// contextTableMutex guards the process-wide context table described in
// §9's "global context list" design note.
type contextTableMutex struct{ rsync.RWMutex }

// ContextTable resolves a ctx_id to its Context for the driver's async
// retire path. It holds a non-owning reference to each Context from
// CreateContext until Destroy; ownership stays with whoever called
// CreateContext.
type ContextTable struct {
	mu    contextTableMutex
	byID  map[uint32]*Context
}

// globalContexts is the single process-wide table every Context
// registers with at creation and removes itself from at destruction,
// matching the original's process-global linked list.
var globalContexts = &ContextTable{byID: make(map[uint32]*Context)}

func (t *ContextTable) register(ctx *Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[ctx.ID] = ctx
}

func (t *ContextTable) unregister(ctxID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, ctxID)
}

// DriverRetire is the entry point a Driver implementation's async
// completion thread calls to report a retired fence, per §6's "async
// retire callback registration". It resolves ctxID through the process
// table and forwards to that context's fence layer.
func DriverRetire(ctxID uint32, ringIdx uint32, fenceID uint64) {
	globalContexts.Retire(ctxID, ringIdx, fenceID)
}

// Retire resolves ctxID and forwards to its fence layer's OnRetire. An
// unknown ctxID is swallowed so the driver's async thread always
// continues. It is not logged: the table holds no logger.
func (t *ContextTable) Retire(ctxID uint32, ringIdx uint32, fenceID uint64) {
	t.mu.RLock()
	ctx, ok := t.byID[ctxID]
	t.mu.RUnlock()
	if !ok {
		return
	}
	ctx.onRetire(ringIdx, fenceID)
}

// Lookup returns the live context registered under ctxID, if any. Used
// by tests and by embedding code that wants to route to a context by id
// without threading a *Context through every call site.
func (t *ContextTable) Lookup(ctxID uint32) (*Context, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ctx, ok := t.byID[ctxID]
	return ctx, ok
}
