package chatclient

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EntryState tracks an optimistic entry through its lifecycle.
type EntryState int

const (
	// StatePending is shown locally but not yet acknowledged by the server.
	StatePending EntryState = iota
	// StateConfirmed carries a server id.
	StateConfirmed
	// StateRolledBack entries are removed from the view; the state is only
	// observed on the Entry returned alongside the failure.
	StateRolledBack
)

func (s EntryState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateRolledBack:
		return "rolled_back"
	}
	return "unknown"
}

// Entry is one message as displayed to the local user.
type Entry struct {
	// LocalID is stable for the lifetime of the entry. For history it equals ID.
	LocalID     uuid.UUID
	ID          uuid.UUID
	State       EntryState
	SenderID    uuid.UUID
	Content     Content
	Attachments []Attachment
	// Err is set when this message alone could not be decrypted.
	Err       error
	Deleted   bool
	CreatedAt time.Time

	order time.Time
	seq   uint64
}

type eventKind int

const (
	evInsertPending eventKind = iota
	evConfirm
	evRollback
	evMarkDeleted
	evRevertDelete
	evHistory
)

// viewEvent is the only way entries change. Send and delete tasks post
// events; the view applies them in arrival order under its lock.
type viewEvent struct {
	kind    eventKind
	localID uuid.UUID
	entry   Entry
	history []Entry
}

// View is the local, ordered picture of one conversation. Entries are sorted
// by the time they first appeared locally, so a slow acknowledgement never
// moves a message ahead of one sent before it.
type View struct {
	ConversationID uuid.UUID

	mu      sync.Mutex
	entries []*Entry
	seq     uint64
	changes chan struct{}
	now     func() time.Time
}

func newView(conversationID uuid.UUID, now func() time.Time) *View {
	return &View{
		ConversationID: conversationID,
		changes:        make(chan struct{}, 1),
		now:            now,
	}
}

// Changes receives a value after any batch of updates. Signals coalesce.
func (v *View) Changes() <-chan struct{} { return v.changes }

// Entries returns a snapshot in display order, oldest first.
func (v *View) Entries() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Entry, len(v.entries))
	for i, e := range v.entries {
		out[i] = *e
	}
	return out
}

// Entry looks up an entry by local or server id.
func (v *View) Entry(id uuid.UUID) (Entry, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if e := v.find(id); e != nil {
		return *e, true
	}
	return Entry{}, false
}

// Pending reports how many entries are awaiting acknowledgement.
func (v *View) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, e := range v.entries {
		if e.State == StatePending {
			n++
		}
	}
	return n
}

func (v *View) insertPending(sender uuid.UUID, content Content) Entry {
	e := Entry{LocalID: uuid.New(), State: StatePending, SenderID: sender, Content: content}
	return v.dispatch(viewEvent{kind: evInsertPending, entry: e})
}

func (v *View) confirm(localID uuid.UUID, confirmed Entry) Entry {
	return v.dispatch(viewEvent{kind: evConfirm, localID: localID, entry: confirmed})
}

func (v *View) rollback(localID uuid.UUID) Entry {
	return v.dispatch(viewEvent{kind: evRollback, localID: localID})
}

func (v *View) markDeleted(id uuid.UUID) Entry {
	return v.dispatch(viewEvent{kind: evMarkDeleted, localID: id})
}

func (v *View) revertDelete(id uuid.UUID, previous Entry) Entry {
	return v.dispatch(viewEvent{kind: evRevertDelete, localID: id, entry: previous})
}

func (v *View) replaceHistory(history []Entry) {
	v.dispatch(viewEvent{kind: evHistory, history: history})
}

func (v *View) dispatch(ev viewEvent) Entry {
	v.mu.Lock()
	out := v.apply(ev)
	v.mu.Unlock()

	select {
	case v.changes <- struct{}{}:
	default:
	}
	return out
}

func (v *View) apply(ev viewEvent) Entry {
	switch ev.kind {
	case evInsertPending:
		e := ev.entry
		v.seq++
		e.order, e.seq = v.now(), v.seq
		v.entries = append(v.entries, &e)
		v.sort()
		return e

	case evConfirm:
		e := v.find(ev.localID)
		if e == nil {
			return Entry{}
		}
		// A history fetch may already have brought in the same server id.
		v.dropOthers(e, ev.entry.ID)
		e.ID = ev.entry.ID
		e.State = StateConfirmed
		e.CreatedAt = ev.entry.CreatedAt
		if ev.entry.Attachments != nil {
			e.Attachments = ev.entry.Attachments
		}
		return *e

	case evRollback:
		for i, e := range v.entries {
			if e.LocalID == ev.localID {
				v.entries = append(v.entries[:i], v.entries[i+1:]...)
				out := *e
				out.State = StateRolledBack
				return out
			}
		}
		return Entry{}

	case evMarkDeleted:
		e := v.find(ev.localID)
		if e == nil {
			return Entry{}
		}
		prev := *e
		e.Deleted = true
		e.Content = nil
		e.Attachments = nil
		return prev

	case evRevertDelete:
		e := v.find(ev.localID)
		if e == nil {
			return Entry{}
		}
		e.Deleted = ev.entry.Deleted
		e.Content = ev.entry.Content
		e.Attachments = ev.entry.Attachments
		return *e

	case evHistory:
		v.mergeHistory(ev.history)
	}
	return Entry{}
}

// mergeHistory swaps in freshly fetched messages. Pending entries survive
// untouched, and confirmed entries keep their original position.
func (v *View) mergeHistory(history []Entry) {
	kept := make(map[uuid.UUID]*Entry)
	var pending []*Entry
	for _, e := range v.entries {
		switch {
		case e.State == StatePending:
			pending = append(pending, e)
		case e.ID != uuid.Nil:
			kept[e.ID] = e
		}
	}

	next := make([]*Entry, 0, len(history)+len(pending))
	seen := make(map[uuid.UUID]bool, len(history))
	for i := range history {
		h := history[i]
		seen[h.ID] = true
		if old, ok := kept[h.ID]; ok {
			h.LocalID, h.order, h.seq = old.LocalID, old.order, old.seq
		} else {
			v.seq++
			h.order, h.seq = h.CreatedAt, v.seq
		}
		next = append(next, &h)
	}
	// Confirmed sends newer than the fetched page stay visible.
	for id, e := range kept {
		if !seen[id] && e.LocalID != e.ID {
			next = append(next, e)
		}
	}
	v.entries = append(next, pending...)
	v.sort()
}

// dropOthers removes every entry other than keep that carries server id.
func (v *View) dropOthers(keep *Entry, id uuid.UUID) {
	if id == uuid.Nil {
		return
	}
	out := v.entries[:0]
	for _, e := range v.entries {
		if e != keep && e.ID == id {
			continue
		}
		out = append(out, e)
	}
	v.entries = out
}

func (v *View) find(id uuid.UUID) *Entry {
	for _, e := range v.entries {
		if e.LocalID == id || (e.ID != uuid.Nil && e.ID == id) {
			return e
		}
	}
	return nil
}

func (v *View) sort() {
	sort.SliceStable(v.entries, func(i, j int) bool {
		a, b := v.entries[i], v.entries[j]
		if !a.order.Equal(b.order) {
			return a.order.Before(b.order)
		}
		return a.seq < b.seq
	})
}
