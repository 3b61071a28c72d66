package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"p2pspace/internal/canonical"
	"p2pspace/pkg/models"
)

var ErrIdentityNotReady = errors.New("identity is not initialized")

// Manager holds the Principal keypair, the per-installation Device
// keypairs, and a cache of per-Space delegations.
type Manager struct {
	mu             sync.RWMutex
	identity       Identity
	principalPriv  ed25519.PrivateKey
	devices        map[string]devicePrivate
	activeDeviceID string
	delegations    map[string]models.DelegationCert
	seeds          *SeedManager
	now            func() time.Time
}

// NewManager creates a Manager with a freshly generated Principal and a
// primary Device. CreateIdentity replaces the Principal with one backed
// by a recovery mnemonic.
func NewManager() (*Manager, error) {
	return newManagerWithClock(time.Now)
}

func newManagerWithClock(now func() time.Time) (*Manager, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	der, err := canonical.WrapSPKI(pub)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		identity: Identity{
			PrincipalID:  canonical.IDFromSPKI(der),
			PrincipalPub: der,
			CreatedAt:    now().UTC(),
		},
		principalPriv: append(ed25519.PrivateKey(nil), priv...),
		devices:       make(map[string]devicePrivate),
		delegations:   make(map[string]models.DelegationCert),
		seeds:         NewSeedManager(),
		now:           now,
	}
	if err := m.initDevice("primary"); err != nil {
		return nil, err
	}
	return m, nil
}

// CreateIdentity generates a new seed-backed Principal protected by the
// passphrase and returns the recovery mnemonic.
func (m *Manager) CreateIdentity(passphrase string) (Identity, string, error) {
	mnemonic, keys, err := m.seeds.Create(passphrase)
	if err != nil {
		return Identity{}, "", err
	}
	ident, err := m.adoptKeys(keys)
	if err != nil {
		return Identity{}, "", err
	}
	return ident, mnemonic, nil
}

// ImportIdentity recovers a Principal from its mnemonic.
func (m *Manager) ImportIdentity(mnemonic, passphrase string) (Identity, error) {
	_, keys, err := m.seeds.Import(mnemonic, passphrase)
	if err != nil {
		return Identity{}, err
	}
	return m.adoptKeys(keys)
}

func (m *Manager) adoptKeys(keys *DerivedKeys) (Identity, error) {
	id, der, err := FromKeys(keys)
	if err != nil {
		return Identity{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = Identity{
		PrincipalID:  id,
		PrincipalPub: der,
		CreatedAt:    m.now().UTC(),
	}
	m.principalPriv = append(ed25519.PrivateKey(nil), keys.SigningPrivateKey...)
	m.delegations = make(map[string]models.DelegationCert)
	if err := m.initDevice("primary"); err != nil {
		return Identity{}, err
	}
	return m.snapshotIdentityLocked(), nil
}

func (m *Manager) ExportSeed(passphrase string) (string, error) {
	return m.seeds.Export(passphrase)
}

func (m *Manager) ValidateMnemonic(mnemonic string) bool {
	return m.seeds.ValidateMnemonic(mnemonic)
}

func (m *Manager) ChangePassphrase(oldPassphrase, newPassphrase string) error {
	return m.seeds.ChangePassphrase(oldPassphrase, newPassphrase)
}

func (m *Manager) GetIdentity() Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotIdentityLocked()
}

func (m *Manager) snapshotIdentityLocked() Identity {
	return Identity{
		PrincipalID:  m.identity.PrincipalID,
		PrincipalPub: append([]byte(nil), m.identity.PrincipalPub...),
		CreatedAt:    m.identity.CreatedAt,
	}
}

// EnsureDelegationForSpace returns a cached delegation for the space if
// it is still valid for at least one minute, or synthesizes a fresh one
// covering join, post, and governance for that space.
func (m *Manager) EnsureDelegationForSpace(spaceID string) (models.DelegationCert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nowMS := m.now().UnixMilli()
	if cached, ok := m.delegations[spaceID]; ok {
		if cached.ExpiresTS-nowMS >= delegationReuseMin.Milliseconds() {
			return cloneDelegation(cached), nil
		}
	}

	d, ok := m.devices[m.activeDeviceID]
	if !ok {
		return models.DelegationCert{}, ErrNoActiveDevice
	}
	if len(m.principalPriv) != ed25519.PrivateKeySize {
		return models.DelegationCert{}, ErrIdentityNotReady
	}
	cert := models.DelegationCert{
		V:            1,
		PrincipalID:  m.identity.PrincipalID,
		PrincipalPub: append([]byte(nil), m.identity.PrincipalPub...),
		DeviceID:     d.model.ID,
		DevicePub:    append([]byte(nil), d.model.Pub...),
		NotBeforeTS:  nowMS - delegationBackdate.Milliseconds(),
		ExpiresTS:    nowMS + delegationTTL.Milliseconds(),
		Scopes: []string{
			models.SpaceScope(spaceID, models.ScopeJoin),
			models.SpaceScope(spaceID, models.ScopePost),
			models.SpaceScope(spaceID, models.ScopeGovernance),
		},
	}
	cert = SignDelegation(cert, m.principalPriv)
	m.delegations[spaceID] = cert
	return cloneDelegation(cert), nil
}

// SignWithPrincipal signs a prepared signature input with the Principal
// key. Used when this identity acts as a Space Root.
func (m *Manager) SignWithPrincipal(sigInput []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.principalPriv) != ed25519.PrivateKeySize {
		return nil, ErrIdentityNotReady
	}
	return ed25519.Sign(m.principalPriv, sigInput), nil
}

func cloneDelegation(cert models.DelegationCert) models.DelegationCert {
	cert.PrincipalPub = append([]byte(nil), cert.PrincipalPub...)
	cert.DevicePub = append([]byte(nil), cert.DevicePub...)
	cert.Scopes = append([]string(nil), cert.Scopes...)
	cert.Sig = append([]byte(nil), cert.Sig...)
	return cert
}
