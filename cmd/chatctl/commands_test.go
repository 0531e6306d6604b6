package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"e2eechat/pkg/chatclient"

	"github.com/google/uuid"
)

func TestParseRefs(t *testing.T) {
	refs, err := parseRefs([]string{"ticket:T-1:Disk full: node 3", "doc:42"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d refs", len(refs))
	}
	if refs[0].Title != "Disk full: node 3" || refs[1].Type != "doc" || refs[1].ID != "42" {
		t.Fatalf("unexpected refs: %+v", refs)
	}
	for _, bad := range []string{"ticket", ":1", "ticket:"} {
		if _, err := parseRefs([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestFormatEntry(t *testing.T) {
	self, peer := uuid.New(), uuid.New()
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	line := formatEntry(chatclient.Entry{ID: uuid.New(), SenderID: self, Content: chatclient.PlainText("ping"), CreatedAt: at}, self)
	if !strings.Contains(line, "me") || !strings.HasSuffix(line, "ping") {
		t.Fatalf("unexpected line %q", line)
	}

	line = formatEntry(chatclient.Entry{ID: uuid.New(), SenderID: peer, Deleted: true, CreatedAt: at}, self)
	if !strings.Contains(line, "[deleted]") || !strings.Contains(line, peer.String()[:8]) {
		t.Fatalf("unexpected tombstone line %q", line)
	}

	line = formatEntry(chatclient.Entry{ID: uuid.New(), SenderID: peer, Err: errors.New("bad tag"), CreatedAt: at}, self)
	if !strings.Contains(line, "unreadable: bad tag") {
		t.Fatalf("unexpected error line %q", line)
	}
}

func TestParseUUID(t *testing.T) {
	id := uuid.New()
	got, err := parseUUID(" "+id.String()+" ", "user")
	if err != nil || got != id {
		t.Fatalf("parse = %s, %v", got, err)
	}
	if _, err := parseUUID("nope", "user"); err == nil {
		t.Fatalf("expected error")
	}
}
