package event

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"p2pspace/internal/canonical"
	"p2pspace/internal/identity"
	"p2pspace/pkg/models"
)

// MaxPrevAuthored caps the parent set an author includes; the frontier
// stays bounded even in busy rooms.
const MaxPrevAuthored = 8

var (
	ErrEventIDMismatch = errors.New("event_id does not recompute from the signature input")
	ErrEventSignature  = errors.New("event signature is invalid")
	ErrEventAuthorBind = errors.New("event author fields do not bind to the delegation")
	ErrEventMalformed  = errors.New("event is malformed")
)

// SigInput builds the canonical signature input for an event. The body
// participates via its JCS bytes.
func SigInput(ev models.Event) ([]byte, error) {
	bodyJCS, err := canonical.JCSBytes(ev.Body)
	if err != nil {
		return nil, err
	}
	w := canonical.NewWriter(canonical.DomainEvent)
	w.WriteInt(int64(ev.V))
	w.WriteString(ev.SpaceID)
	w.WriteString(ev.RoomID)
	w.WriteString(ev.AuthorPrincipalID)
	w.WriteString(ev.AuthorDeviceID)
	w.WriteBytes(ev.AuthorDevicePub)
	w.WriteBytes(ev.Delegation.Sig)
	w.WriteInt(ev.TS)
	w.WriteString(ev.Kind)
	w.WriteCount(len(ev.Prev))
	for _, p := range ev.Prev {
		w.WriteString(p)
	}
	w.WriteBytes(bodyJCS)
	return w.Bytes(), nil
}

// New composes, signs, and content-addresses an event. prev is the
// author's current view of the room heads; it is sorted ascending and
// capped at MaxPrevAuthored.
func New(m *identity.Manager, spaceID, roomID, kind string, prev []string, body json.RawMessage, nowMS int64) (models.Event, error) {
	delegation, err := m.EnsureDelegationForSpace(spaceID)
	if err != nil {
		return models.Event{}, err
	}
	device, err := m.ActiveDevice()
	if err != nil {
		return models.Event{}, err
	}

	parents := append([]string(nil), prev...)
	sort.Strings(parents)
	if len(parents) > MaxPrevAuthored {
		parents = parents[:MaxPrevAuthored]
	}
	if parents == nil {
		parents = []string{}
	}

	ev := models.Event{
		V:                 models.EventVersion,
		SpaceID:           spaceID,
		RoomID:            roomID,
		AuthorPrincipalID: m.GetIdentity().PrincipalID,
		AuthorDeviceID:    device.ID,
		AuthorDevicePub:   append([]byte(nil), device.Pub...),
		Delegation:        delegation,
		TS:                nowMS,
		Kind:              kind,
		Prev:              parents,
		Body:              body,
	}
	sigInput, err := SigInput(ev)
	if err != nil {
		return models.Event{}, err
	}
	_, sig, err := m.SignWithActiveDevice(sigInput)
	if err != nil {
		return models.Event{}, err
	}
	ev.Sig = sig
	ev.EventID = canonical.EventID(sigInput)
	return ev, nil
}

// Verify applies the structural invariants every event must satisfy:
// author ids recompute, the delegation binds the author, the event id
// recomputes from the signature input, and the device signature holds.
// It does not consult governance state; that is the acceptance
// pipeline's job.
func Verify(ev models.Event) error {
	if ev.V != models.EventVersion || ev.SpaceID == "" || ev.RoomID == "" || ev.Kind == "" {
		return ErrEventMalformed
	}
	if canonical.IDFromSPKI(ev.AuthorDevicePub) != ev.AuthorDeviceID {
		return fmt.Errorf("%w: author_device_id", ErrEventAuthorBind)
	}
	if ev.Delegation.DeviceID != ev.AuthorDeviceID || ev.Delegation.PrincipalID != ev.AuthorPrincipalID {
		return fmt.Errorf("%w: delegation ids", ErrEventAuthorBind)
	}
	sigInput, err := SigInput(ev)
	if err != nil {
		return err
	}
	if canonical.EventID(sigInput) != ev.EventID {
		return ErrEventIDMismatch
	}
	devicePub, err := canonical.ParseSPKI(ev.AuthorDevicePub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEventAuthorBind, err)
	}
	if !ed25519.Verify(devicePub, sigInput, ev.Sig) {
		return ErrEventSignature
	}
	return nil
}
