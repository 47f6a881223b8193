package store

import "sync"

// ChangeKind identifies which entity a change event refers to.
type ChangeKind string

const (
	NodeChanged         ChangeKind = "node"
	AttributeChanged    ChangeKind = "attribute"
	RelationshipChanged ChangeKind = "relationship"
)

// Change is published after a mutation commits. The reactive recomputation
// the engine performs (confidence refresh, queueing re-inference) hangs off
// these events instead of hidden trigger-style control flow.
type Change struct {
	Kind           ChangeKind
	NodeID         int64 // owning node for node/attribute changes
	RelationshipID int64 // set for relationship changes
	AttrType       string
	AttrValue      string
	Deleted        bool
}

// ChangeHandler receives change events synchronously, in publish order.
type ChangeHandler func(Change)

type changeDispatcher struct {
	mu       sync.RWMutex
	handlers []ChangeHandler
}

// Subscribe registers a handler for all future change events.
func (db *DB) Subscribe(h ChangeHandler) {
	db.dispatcher.mu.Lock()
	defer db.dispatcher.mu.Unlock()
	db.dispatcher.handlers = append(db.dispatcher.handlers, h)
}

// publish dispatches a change to every subscriber. Called only after the
// owning transaction has committed.
func (db *DB) publish(c Change) {
	db.dispatcher.mu.RLock()
	handlers := db.dispatcher.handlers
	db.dispatcher.mu.RUnlock()

	for _, h := range handlers {
		h(c)
	}
}
