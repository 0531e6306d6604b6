package chatclient

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewContentPicksPlainTextWithoutExtras(t *testing.T) {
	c := NewContent("hello", nil, nil)
	if _, ok := c.(PlainText); !ok {
		t.Fatalf("expected PlainText, got %T", c)
	}
	raw, err := c.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(raw) != "hello" {
		t.Fatalf("plain text must be stored as-is, got %q", raw)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	id := uuid.New()
	c := NewContent("see attached", []uuid.UUID{id}, []EntityRef{{Type: "ticket", ID: "T-1", Title: "Outage", Href: "/tickets/T-1"}})
	raw, err := c.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	parsed, ok := ParseContent(raw).(*Envelope)
	if !ok {
		t.Fatalf("expected envelope from %s", raw)
	}
	if parsed.Text() != "see attached" || len(parsed.AttachmentIDs) != 1 || parsed.AttachmentIDs[0] != id {
		t.Fatalf("unexpected envelope: %+v", parsed)
	}
	if parsed.Refs[0].Href != "/tickets/T-1" || parsed.Refs[0].Type != "ticket" {
		t.Fatalf("refs lost: %+v", parsed.Refs)
	}
}

func TestParseContentFallsBackToPlainText(t *testing.T) {
	cases := []string{
		"just words",
		"{not json",
		`{"text":"hi","extra":true}`,
		`{}`,
		`{"text":"a"} trailing`,
		`["text"]`,
		"",
	}
	for _, in := range cases {
		c := ParseContent([]byte(in))
		if _, ok := c.(PlainText); !ok {
			t.Fatalf("%q: expected PlainText, got %T", in, c)
		}
		if c.Text() != in {
			t.Fatalf("%q: text changed to %q", in, c.Text())
		}
	}
}
