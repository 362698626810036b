// ABOUTME: TriggerHook contract between the heap access layer and whatever
// ABOUTME: evaluates trigger bodies/conditions (outside this module's scope)

package catalog

import "github.com/quilldb/quill/pkg/types"

// TriggerHook evaluates one registered trigger's condition and body against
// a row change. The heap access layer calls Fire at each BEFORE/AFTER
// INSERT/UPDATE/DELETE point named by def.Timing/def.Event; old is the zero
// Tuple on INSERT, new is the zero Tuple on DELETE. A BEFORE hook may veto
// the operation by returning an error, which aborts the statement.
type TriggerHook interface {
	Fire(def *TriggerDef, old, new types.Tuple) error
}

// TriggersFor returns the triggers on table matching event ("INSERT",
// "UPDATE", "DELETE") and timing ("BEFORE", "AFTER"), in registration order.
func (c *Catalog) TriggersFor(table, event, timing string) []*TriggerDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*TriggerDef
	for _, tr := range c.triggers[table] {
		if tr.Event == event && tr.Timing == timing {
			out = append(out, tr)
		}
	}
	return out
}
