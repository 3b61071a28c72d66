package peer

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"p2pspace/internal/canonical"
	"p2pspace/internal/identity"
	"p2pspace/pkg/models"
)

// MaxRecordLifetime bounds how far ahead of ts a record may claim to be
// valid. Records are advisory bootstrap input, never membership.
const MaxRecordLifetime = 24 * time.Hour

var (
	ErrRecordInvalid = errors.New("peer record is invalid")
	ErrRecordExpired = errors.New("peer record is expired")
)

// SigInput builds the canonical signature input for a peer record.
func SigInput(r models.PeerRecord) ([]byte, error) {
	addrs := r.Addrs
	if addrs == nil {
		addrs = []string{}
	}
	addrsJCS, err := canonical.JCSMarshal(addrs)
	if err != nil {
		return nil, err
	}
	w := canonical.NewWriter(canonical.DomainPeer)
	w.WriteInt(int64(r.V))
	w.WriteString(r.PrincipalID)
	w.WriteBytes(r.PrincipalPub)
	w.WriteString(r.DeviceID)
	w.WriteBytes(r.DevicePub)
	w.WriteBytes(r.Delegation.Sig)
	w.WriteInt(r.TS)
	w.WriteInt(r.ExpiresTS)
	w.WriteBytes(addrsJCS)
	return w.Bytes(), nil
}

// New signs a reachability record for the manager's active device.
// addrs must parse as multiaddrs.
func New(m *identity.Manager, spaceID string, addrs []string, ttl time.Duration, nowMS int64) (models.PeerRecord, error) {
	if ttl <= 0 || ttl > MaxRecordLifetime {
		ttl = MaxRecordLifetime
	}
	for _, a := range addrs {
		if _, err := ma.NewMultiaddr(a); err != nil {
			return models.PeerRecord{}, fmt.Errorf("%w: addr %q: %v", ErrRecordInvalid, a, err)
		}
	}
	delegation, err := m.EnsureDelegationForSpace(spaceID)
	if err != nil {
		return models.PeerRecord{}, err
	}
	device, err := m.ActiveDevice()
	if err != nil {
		return models.PeerRecord{}, err
	}
	rec := models.PeerRecord{
		V:            1,
		PrincipalID:  m.GetIdentity().PrincipalID,
		PrincipalPub: append([]byte(nil), m.GetIdentity().PrincipalPub...),
		DeviceID:     device.ID,
		DevicePub:    append([]byte(nil), device.Pub...),
		Delegation:   delegation,
		TS:           nowMS,
		ExpiresTS:    nowMS + ttl.Milliseconds(),
		Addrs:        append([]string(nil), addrs...),
	}
	sigInput, err := SigInput(rec)
	if err != nil {
		return models.PeerRecord{}, err
	}
	_, sig, err := m.SignWithActiveDevice(sigInput)
	if err != nil {
		return models.PeerRecord{}, err
	}
	rec.Sig = sig
	return rec, nil
}

// Verify checks ids, the delegation binding, the device signature, the
// lifetime bound, and that every addr parses as a multiaddr.
func Verify(rec models.PeerRecord, nowMS int64) error {
	if canonical.IDFromSPKI(rec.PrincipalPub) != rec.PrincipalID ||
		canonical.IDFromSPKI(rec.DevicePub) != rec.DeviceID {
		return fmt.Errorf("%w: ids do not recompute", ErrRecordInvalid)
	}
	if rec.Delegation.PrincipalID != rec.PrincipalID || rec.Delegation.DeviceID != rec.DeviceID {
		return fmt.Errorf("%w: delegation ids do not match", ErrRecordInvalid)
	}
	if err := identity.VerifyDelegation(rec.Delegation, nowMS); err != nil {
		return fmt.Errorf("%w: %v", ErrRecordInvalid, err)
	}
	if rec.ExpiresTS < rec.TS || rec.ExpiresTS-rec.TS > MaxRecordLifetime.Milliseconds() {
		return fmt.Errorf("%w: lifetime out of bounds", ErrRecordInvalid)
	}
	if nowMS > rec.ExpiresTS {
		return ErrRecordExpired
	}
	for _, a := range rec.Addrs {
		if _, err := ma.NewMultiaddr(a); err != nil {
			return fmt.Errorf("%w: addr %q: %v", ErrRecordInvalid, a, err)
		}
	}
	devicePub, err := canonical.ParseSPKI(rec.DevicePub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRecordInvalid, err)
	}
	sigInput, err := SigInput(rec)
	if err != nil {
		return err
	}
	if !ed25519.Verify(devicePub, sigInput, rec.Sig) {
		return fmt.Errorf("%w: signature", ErrRecordInvalid)
	}
	return nil
}
