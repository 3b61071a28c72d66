package identity

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"p2pspace/internal/canonical"
	"p2pspace/internal/securestore"

	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidMnemonic   = errors.New("invalid mnemonic")
	ErrInvalidPassphrase = errors.New("invalid passphrase")
	ErrSeedNotAvailable  = errors.New("seed is not available")
	ErrPassphraseEmpty   = errors.New("passphrase is required")
	ErrMnemonicRequired  = errors.New("mnemonic is required")
	ErrIdentityInit      = errors.New("identity initialization failed")
	ErrPassphraseLocked  = errors.New("passphrase attempts are temporarily locked")
)

// SeedManager guards the Principal recovery seed. The mnemonic is held
// only inside an encrypted envelope; export requires the passphrase and
// repeated failures back off.
type SeedManager struct {
	mu             sync.RWMutex
	envelope       *securestore.Envelope
	failedAttempts int
	lockedUntil    time.Time
	now            func() time.Time
}

func NewSeedManager() *SeedManager {
	return &SeedManager{now: time.Now}
}

func newSeedManagerWithClock(now func() time.Time) *SeedManager {
	return &SeedManager{now: now}
}

func (s *SeedManager) Create(passphrase string) (mnemonic string, keys *DerivedKeys, err error) {
	if strings.TrimSpace(passphrase) == "" {
		return "", nil, ErrPassphraseEmpty
	}
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", nil, err
	}
	mnemonic, err = bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, err
	}
	return s.Import(mnemonic, passphrase)
}

func (s *SeedManager) Import(mnemonic, passphrase string) (normalizedMnemonic string, keys *DerivedKeys, err error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return "", nil, ErrMnemonicRequired
	}
	if strings.TrimSpace(passphrase) == "" {
		return "", nil, ErrPassphraseEmpty
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", nil, ErrInvalidMnemonic
	}

	seedBytes := bip39.NewSeed(mnemonic, "")
	keys, err = DeriveKeys(seedBytes)
	if err != nil {
		return "", nil, err
	}
	env, err := securestore.EncryptEnvelope(passphrase, []byte(mnemonic))
	if err != nil {
		return "", nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelope = env
	return mnemonic, keys, nil
}

func (s *SeedManager) Export(passphrase string) (string, error) {
	if strings.TrimSpace(passphrase) == "" {
		return "", ErrPassphraseEmpty
	}

	s.mu.Lock()
	env := s.envelope
	if err := s.ensureUnlocked(); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.mu.Unlock()
	if env == nil {
		return "", ErrSeedNotAvailable
	}

	plaintext, err := securestore.DecryptEnvelope(passphrase, env)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.onFailedAttempt()
		return "", ErrInvalidPassphrase
	}
	s.mu.Lock()
	s.resetAttemptState()
	s.mu.Unlock()

	mnemonic := strings.TrimSpace(string(plaintext))
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", fmt.Errorf("%w: corrupted mnemonic", ErrInvalidMnemonic)
	}
	return mnemonic, nil
}

func (s *SeedManager) ChangePassphrase(oldPassphrase, newPassphrase string) error {
	oldPassphrase = strings.TrimSpace(oldPassphrase)
	newPassphrase = strings.TrimSpace(newPassphrase)
	if oldPassphrase == "" || newPassphrase == "" {
		return ErrPassphraseEmpty
	}

	s.mu.Lock()
	env := s.envelope
	if err := s.ensureUnlocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	if env == nil {
		return ErrSeedNotAvailable
	}

	mnemonicBytes, err := securestore.DecryptEnvelope(oldPassphrase, env)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.onFailedAttempt()
		return ErrInvalidPassphrase
	}

	newEnv, err := securestore.EncryptEnvelope(newPassphrase, mnemonicBytes)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelope = newEnv
	s.resetAttemptState()
	return nil
}

func (s *SeedManager) ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(strings.TrimSpace(mnemonic))
}

func (s *SeedManager) ensureUnlocked() error {
	if s.lockedUntil.IsZero() {
		return nil
	}
	if s.now().Before(s.lockedUntil) {
		return ErrPassphraseLocked
	}
	return nil
}

func (s *SeedManager) onFailedAttempt() {
	s.failedAttempts++
	s.lockedUntil = s.now().Add(failedAttemptBackoff(s.failedAttempts))
}

func (s *SeedManager) resetAttemptState() {
	s.failedAttempts = 0
	s.lockedUntil = time.Time{}
}

func failedAttemptBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	// 1s, 2s, 4s... up to 32s max.
	shift := attempt - 1
	if shift > 5 {
		shift = 5
	}
	return time.Second * time.Duration(1<<shift)
}

// FromKeys derives the canonical principal id from derived keys.
func FromKeys(keys *DerivedKeys) (id string, spkiDER []byte, err error) {
	if keys == nil || len(keys.SigningPublicKey) != ed25519.PublicKeySize {
		return "", nil, ErrIdentityInit
	}
	der, err := canonical.WrapSPKI(keys.SigningPublicKey)
	if err != nil {
		return "", nil, err
	}
	return canonical.IDFromSPKI(der), der, nil
}
