package chatclient

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func steppingClock(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Millisecond)
	}
}

func texts(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Content == nil {
			out = append(out, "")
			continue
		}
		out = append(out, e.Content.Text())
	}
	return out
}

func TestViewKeepsSendOrderAcrossAcks(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	v := newView(uuid.New(), steppingClock(base))
	self := uuid.New()

	first := v.insertPending(self, PlainText("one"))
	second := v.insertPending(self, PlainText("two"))
	third := v.insertPending(self, PlainText("three"))
	if v.Pending() != 3 {
		t.Fatalf("pending = %d, want 3", v.Pending())
	}

	// Acks arrive last-first, with server times that disagree with send order.
	v.confirm(third.LocalID, Entry{ID: uuid.New(), CreatedAt: base.Add(time.Second)})
	v.confirm(first.LocalID, Entry{ID: uuid.New(), CreatedAt: base.Add(3 * time.Second)})
	got := v.confirm(second.LocalID, Entry{ID: uuid.New(), CreatedAt: base.Add(2 * time.Second)})
	if got.State != StateConfirmed || got.LocalID != second.LocalID {
		t.Fatalf("unexpected confirmed entry: %+v", got)
	}

	entries := v.Entries()
	want := []string{"one", "two", "three"}
	for i, txt := range texts(entries) {
		if txt != want[i] {
			t.Fatalf("order = %v, want %v", texts(entries), want)
		}
	}
	if v.Pending() != 0 {
		t.Fatalf("pending = %d after acks", v.Pending())
	}
	if _, ok := v.Entry(got.ID); !ok {
		t.Fatalf("entry must be reachable by server id")
	}
}

func TestViewRollbackRemovesOnlyFailedEntry(t *testing.T) {
	v := newView(uuid.New(), steppingClock(time.Now()))
	self := uuid.New()
	a := v.insertPending(self, PlainText("a"))
	b := v.insertPending(self, PlainText("b"))

	select {
	case <-v.Changes():
	default:
		t.Fatalf("expected a change signal")
	}

	out := v.rollback(b.LocalID)
	if out.State != StateRolledBack {
		t.Fatalf("state = %s, want rolled_back", out.State)
	}
	entries := v.Entries()
	if len(entries) != 1 || entries[0].LocalID != a.LocalID {
		t.Fatalf("unexpected entries after rollback: %v", texts(entries))
	}
	if v.rollback(b.LocalID).LocalID != uuid.Nil {
		t.Fatalf("second rollback must be a no-op")
	}
}

func TestViewDeleteAndRevert(t *testing.T) {
	v := newView(uuid.New(), steppingClock(time.Now()))
	e := v.insertPending(uuid.New(), PlainText("secret"))
	id := uuid.New()
	v.confirm(e.LocalID, Entry{ID: id, CreatedAt: time.Now()})

	prev := v.markDeleted(id)
	if prev.Content == nil || prev.Content.Text() != "secret" {
		t.Fatalf("markDeleted must return the previous entry")
	}
	cur, _ := v.Entry(id)
	if !cur.Deleted || cur.Content != nil {
		t.Fatalf("entry not tombstoned: %+v", cur)
	}
	v.revertDelete(id, prev)
	cur, _ = v.Entry(id)
	if cur.Deleted || cur.Content.Text() != "secret" {
		t.Fatalf("entry not restored: %+v", cur)
	}
}

func TestViewHistoryMergeKeepsPending(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	v := newView(uuid.New(), steppingClock(base.Add(time.Hour)))
	self, peer := uuid.New(), uuid.New()

	sent := v.insertPending(self, PlainText("mine"))
	sentID := uuid.New()
	v.confirm(sent.LocalID, Entry{ID: sentID, CreatedAt: base.Add(time.Hour)})
	inflight := v.insertPending(self, PlainText("in flight"))

	older := uuid.New()
	v.replaceHistory([]Entry{
		{LocalID: older, ID: older, State: StateConfirmed, SenderID: peer, Content: PlainText("hi"), CreatedAt: base},
		{LocalID: sentID, ID: sentID, State: StateConfirmed, SenderID: self, Content: PlainText("mine"), CreatedAt: base.Add(time.Hour)},
	})

	entries := v.Entries()
	if len(entries) != 3 {
		t.Fatalf("entries = %v, want 3", texts(entries))
	}
	want := []string{"hi", "mine", "in flight"}
	for i, txt := range texts(entries) {
		if txt != want[i] {
			t.Fatalf("order = %v, want %v", texts(entries), want)
		}
	}
	if entries[1].LocalID != sent.LocalID {
		t.Fatalf("confirmed entry lost its local id")
	}
	if entries[2].LocalID != inflight.LocalID || entries[2].State != StatePending {
		t.Fatalf("pending entry not preserved: %+v", entries[2])
	}
}

func TestViewConfirmAfterHistoryKeepsOneEntry(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	v := newView(uuid.New(), steppingClock(base))
	self := uuid.New()

	pending := v.insertPending(self, PlainText("hello"))
	serverID := uuid.New()
	// The server stored the message and a history fetch saw it before the ack.
	v.replaceHistory([]Entry{{
		LocalID:   serverID,
		ID:        serverID,
		State:     StateConfirmed,
		SenderID:  self,
		Content:   PlainText("hello"),
		CreatedAt: base.Add(time.Second),
	}})
	if n := len(v.Entries()); n != 2 {
		t.Fatalf("entries before ack = %d, want 2", n)
	}

	v.confirm(pending.LocalID, Entry{ID: serverID, CreatedAt: base.Add(time.Second)})

	entries := v.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %v, want a single message", texts(entries))
	}
	if entries[0].ID != serverID || entries[0].LocalID != pending.LocalID || entries[0].State != StateConfirmed {
		t.Fatalf("unexpected entry after ack: %+v", entries[0])
	}
	if got, ok := v.Entry(serverID); !ok || got.LocalID != pending.LocalID {
		t.Fatalf("lookup by server id = %+v, %v", got, ok)
	}
}
