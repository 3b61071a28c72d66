package models

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestEventJSONRoundTrip(t *testing.T) {
	ev := Event{
		V:                 EventVersion,
		SpaceID:           "ed25519:space",
		RoomID:            "general",
		EventID:           "e:abc",
		AuthorPrincipalID: "ed25519:alice",
		AuthorDeviceID:    "ed25519:alice-dev",
		AuthorDevicePub:   []byte{1, 2, 3},
		Delegation: DelegationCert{
			V:            1,
			PrincipalID:  "ed25519:alice",
			PrincipalPub: []byte{4},
			DeviceID:     "ed25519:alice-dev",
			DevicePub:    []byte{5},
			NotBeforeTS:  10,
			ExpiresTS:    20,
			Scopes:       []string{"space:ed25519:space:post"},
			Sig:          []byte{6},
		},
		TS:   15,
		Kind: KindMsgPost,
		Prev: []string{"e:p1", "e:p2"},
		Body: json.RawMessage(`{"text":"hello","extra":{"kept":true}}`),
		Sig:  []byte{7},
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var back Event
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(ev, back) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", back, ev)
	}
}

func TestInviteRoundTripKeepsUnknownConstraintFields(t *testing.T) {
	inv := Invite{
		V:                 1,
		SpaceID:           "ed25519:space",
		InviteID:          "ZHVtbXk",
		IssuedTS:          1,
		ExpiresTS:         2,
		IssuerPrincipalID: "ed25519:root",
		IssuerDeviceID:    "ed25519:root-dev",
		IssuerDevicePub:   []byte{1},
		IssuerDelegation:  DelegationCert{V: 1, Sig: []byte{2}},
		Scopes:            []string{"space:ed25519:space:read"},
		Constraints:       json.RawMessage(`{"max_uses":3,"vendor_hint":"kept"}`),
		Bootstrap:         json.RawMessage(`{"relays":["signal-ws:wss://x#sid=aa"]}`),
		Sig:               []byte{3},
	}
	raw, err := json.Marshal(inv)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var back Invite
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(inv, back) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", back, inv)
	}
	c, err := back.ParseConstraints()
	if err != nil {
		t.Fatalf("parse constraints failed: %v", err)
	}
	if c.MaxUses != 3 {
		t.Fatalf("expected max_uses 3, got %d", c.MaxUses)
	}
}

func TestRequiredScopeOpMapping(t *testing.T) {
	cases := map[string]string{
		KindMemberJoin:     ScopeJoin,
		KindMsgPost:        ScopePost,
		KindMsgRedact:      ScopePost,
		KindReactionAdd:    ScopePost,
		KindPinRemove:      ScopePost,
		KindMemberBan:      ScopeGovernance,
		KindRoleGrant:      ScopeGovernance,
		KindRoomArchive:    ScopeGovernance,
		KindDeviceRevoke:   ScopeGovernance,
		KindSpacePolicySet: ScopeGovernance,
		"SOMETHING_NEW":    ScopePost,
	}
	for kind, want := range cases {
		if got := RequiredScopeOp(kind); got != want {
			t.Fatalf("RequiredScopeOp(%s) = %s, want %s", kind, got, want)
		}
	}
}

func TestScopesSubset(t *testing.T) {
	super := []string{"space:s:read", "space:s:post"}
	if !ScopesSubset([]string{"space:s:read"}, super) {
		t.Fatal("subset must hold")
	}
	if ScopesSubset([]string{"space:s:governance"}, super) {
		t.Fatal("governance scope is not in the allowed set")
	}
	if !ScopesSubset(nil, nil) {
		t.Fatal("empty set is a subset of anything")
	}
}
