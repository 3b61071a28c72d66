package canonical

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"strings"
	"testing"
)

func TestNetstringWriterFormat(t *testing.T) {
	w := NewWriter("p2pspace/test/v0")
	w.WriteString("hi")
	w.WriteInt(0)
	w.WriteBytes(nil)
	got := w.Bytes()
	want := []byte("p2pspace/test/v0\n2:hi,1:0,0:,")
	if !bytes.Equal(got, want) {
		t.Fatalf("writer output mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestNetstringLengthIsBytesNotRunes(t *testing.T) {
	got := Netstring([]byte("héllo"))
	if !bytes.Equal(got, []byte("6:héllo,")) {
		t.Fatalf("expected byte-length framing, got %q", got)
	}
}

func TestNetstringNegativeInt(t *testing.T) {
	w := NewWriter("p2pspace/test/v0")
	w.WriteInt(-42)
	if !bytes.HasSuffix(w.Bytes(), []byte("3:-42,")) {
		t.Fatalf("negative int framing wrong: %q", w.Bytes())
	}
}

func TestSPKIRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	der, err := WrapSPKI(pub)
	if err != nil {
		t.Fatalf("wrap failed: %v", err)
	}
	if len(der) != SPKISize {
		t.Fatalf("SPKI DER must be %d bytes, got %d", SPKISize, len(der))
	}
	if !IsEd25519SPKI(der) {
		t.Fatal("wrapped key not recognized as Ed25519 SPKI")
	}
	parsed, err := ParseSPKI(der)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !bytes.Equal(parsed, pub) {
		t.Fatal("parsed key differs from original")
	}
}

func TestParseSPKIRejectsGarbage(t *testing.T) {
	if _, err := ParseSPKI(make([]byte, SPKISize)); err == nil {
		t.Fatal("expected rejection of zeroed DER")
	}
	if _, err := ParseSPKI([]byte("short")); err == nil {
		t.Fatal("expected rejection of short DER")
	}
}

func TestIDFromSPKIIsStable(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	a, err := IDFromPublicKey(pub)
	if err != nil {
		t.Fatalf("id derivation failed: %v", err)
	}
	b, err := IDFromPublicKey(pub)
	if err != nil {
		t.Fatalf("id derivation failed: %v", err)
	}
	if a != b {
		t.Fatalf("id not stable: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "ed25519:") {
		t.Fatalf("id missing prefix: %s", a)
	}
	if !IsKeyID(a) {
		t.Fatalf("IsKeyID rejected valid id %s", a)
	}
	if strings.ContainsAny(a, "+/=") {
		t.Fatalf("id must be base64url without padding: %s", a)
	}
}

func TestEventIDShape(t *testing.T) {
	id := EventID([]byte("p2pspace/event/v0\n1:1,"))
	if !strings.HasPrefix(id, "e:") {
		t.Fatalf("event id missing prefix: %s", id)
	}
	if id != EventID([]byte("p2pspace/event/v0\n1:1,")) {
		t.Fatal("event id not deterministic")
	}
}

func TestJCSBytesSortsKeysAndStripsWhitespace(t *testing.T) {
	raw := json.RawMessage(`{ "b": 2, "a": [1, 2, {"z": true, "y": "x"}] }`)
	got, err := JCSBytes(raw)
	if err != nil {
		t.Fatalf("jcs failed: %v", err)
	}
	want := `{"a":[1,2,{"y":"x","z":true}],"b":2}`
	if string(got) != want {
		t.Fatalf("jcs mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestJCSBytesEmptyIsObject(t *testing.T) {
	got, err := JCSBytes(nil)
	if err != nil {
		t.Fatalf("jcs failed: %v", err)
	}
	if string(got) != "{}" {
		t.Fatalf("absent sub-object must canonicalize to {}, got %s", got)
	}
}

func TestFingerprintDisplayOnly(t *testing.T) {
	fp := Fingerprint("ed25519:abc")
	if !strings.HasPrefix(fp, "vox1") {
		t.Fatalf("fingerprint prefix wrong: %s", fp)
	}
	if Fingerprint("") != "" {
		t.Fatal("empty id must fingerprint to empty string")
	}
	if fp != Fingerprint("ed25519:abc") {
		t.Fatal("fingerprint not stable")
	}
}
