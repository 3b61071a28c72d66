package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"

	"p2pspace/internal/canonical"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrNoActiveDevice = errors.New("no active device")
)

type devicePrivate struct {
	model Device
	priv  ed25519.PrivateKey
}

// initDevice generates a fresh per-installation device keypair from the
// CSPRNG. Device keys are never derived from the recovery seed and are
// never exported.
func (m *Manager) initDevice(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "device"
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	der, err := canonical.WrapSPKI(pub)
	if err != nil {
		return err
	}
	id := canonical.IDFromSPKI(der)
	m.devices[id] = devicePrivate{
		model: Device{
			ID:        id,
			Name:      name,
			Pub:       der,
			CreatedAt: m.now().UTC(),
		},
		priv: append(ed25519.PrivateKey(nil), priv...),
	}
	m.activeDeviceID = id
	return nil
}

// ActiveDevice returns the current device's public view.
func (m *Manager) ActiveDevice() (Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[m.activeDeviceID]
	if !ok {
		return Device{}, ErrNoActiveDevice
	}
	return cloneDevice(d.model), nil
}

// ListDevices returns all device public views.
func (m *Manager) ListDevices() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, cloneDevice(d.model))
	}
	return out
}

// SignWithActiveDevice signs a prepared signature input with the active
// device key.
func (m *Manager) SignWithActiveDevice(sigInput []byte) (Device, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[m.activeDeviceID]
	if !ok {
		return Device{}, nil, ErrNoActiveDevice
	}
	return cloneDevice(d.model), ed25519.Sign(d.priv, sigInput), nil
}

func cloneDevice(d Device) Device {
	return Device{
		ID:        d.ID,
		Name:      d.Name,
		Pub:       append([]byte(nil), d.Pub...),
		CreatedAt: d.CreatedAt,
	}
}
