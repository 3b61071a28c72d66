package event

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"p2pspace/internal/canonical"
	"p2pspace/internal/identity"
	"p2pspace/pkg/models"
)

const testSpaceID = "ed25519:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

func newAuthor(t *testing.T) *identity.Manager {
	t.Helper()
	m, err := identity.NewManager()
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	return m
}

func TestNewEventVerifies(t *testing.T) {
	m := newAuthor(t)
	now := time.Now().UnixMilli()
	ev, err := New(m, testSpaceID, "general", models.KindMsgPost, nil, json.RawMessage(`{"text":"hello"}`), now)
	if err != nil {
		t.Fatalf("new event failed: %v", err)
	}
	if !strings.HasPrefix(ev.EventID, "e:") {
		t.Fatalf("event id missing prefix: %s", ev.EventID)
	}
	if err := Verify(ev); err != nil {
		t.Fatalf("event must verify: %v", err)
	}

	sigInput, err := SigInput(ev)
	if err != nil {
		t.Fatalf("sig input failed: %v", err)
	}
	if canonical.EventID(sigInput) != ev.EventID {
		t.Fatal("event id must equal hash of signature input")
	}
}

func TestEventJSONRoundTripStillVerifies(t *testing.T) {
	m := newAuthor(t)
	ev, err := New(m, testSpaceID, "general", models.KindMsgPost, []string{"e:p2", "e:p1"},
		json.RawMessage(`{"text":"hello","meta":{"z":1,"a":2}}`), time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("new event failed: %v", err)
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var back models.Event
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if err := Verify(back); err != nil {
		t.Fatalf("round-tripped event must verify: %v", err)
	}
}

func TestNewEventSortsAndCapsPrev(t *testing.T) {
	m := newAuthor(t)
	prev := []string{"e:j", "e:a", "e:c", "e:b", "e:i", "e:h", "e:g", "e:f", "e:e", "e:d"}
	ev, err := New(m, testSpaceID, "general", models.KindMsgPost, prev, nil, time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("new event failed: %v", err)
	}
	if len(ev.Prev) != MaxPrevAuthored {
		t.Fatalf("expected prev capped at %d, got %d", MaxPrevAuthored, len(ev.Prev))
	}
	for i := 1; i < len(ev.Prev); i++ {
		if ev.Prev[i-1] >= ev.Prev[i] {
			t.Fatalf("prev must be sorted ascending: %v", ev.Prev)
		}
	}
}

func TestVerifyRejectsTamper(t *testing.T) {
	m := newAuthor(t)
	ev, err := New(m, testSpaceID, "general", models.KindMsgPost, nil, json.RawMessage(`{"text":"hi"}`), time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("new event failed: %v", err)
	}

	body := ev
	body.Body = json.RawMessage(`{"text":"forged"}`)
	if err := Verify(body); !errors.Is(err, ErrEventIDMismatch) {
		t.Fatalf("expected ErrEventIDMismatch for body tamper, got %v", err)
	}

	id := ev
	id.EventID = "e:forged"
	if err := Verify(id); !errors.Is(err, ErrEventIDMismatch) {
		t.Fatalf("expected ErrEventIDMismatch for forged id, got %v", err)
	}

	impostor := newAuthor(t)
	swapped := ev
	swapped.AuthorPrincipalID = impostor.GetIdentity().PrincipalID
	if err := Verify(swapped); !errors.Is(err, ErrEventAuthorBind) {
		t.Fatalf("expected ErrEventAuthorBind for principal swap, got %v", err)
	}
}

func TestUnknownKindStillVerifies(t *testing.T) {
	m := newAuthor(t)
	ev, err := New(m, testSpaceID, "general", "FUTURE_KIND", nil, json.RawMessage(`{"anything":true}`), time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("new event failed: %v", err)
	}
	if err := Verify(ev); err != nil {
		t.Fatalf("unknown kinds are valid events: %v", err)
	}
}
