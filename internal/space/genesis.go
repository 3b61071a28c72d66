package space

import (
	"crypto/ed25519"
	"errors"

	"p2pspace/internal/canonical"
	"p2pspace/pkg/models"
)

var (
	ErrGenesisIDMismatch = errors.New("space_id does not recompute from space_root_pub")
	ErrGenesisSignature  = errors.New("space genesis signature is invalid")
)

// GenesisSigInput builds the canonical signature input for a Space
// genesis record.
func GenesisSigInput(g models.SpaceGenesis) []byte {
	w := canonical.NewWriter(canonical.DomainSpaceGenesis)
	w.WriteInt(int64(g.V))
	w.WriteString(g.SpaceID)
	w.WriteBytes(g.SpaceRootPub)
	w.WriteInt(g.CreatedTS)
	w.WriteString(g.Name)
	return w.Bytes()
}

// NewGenesis creates and signs a Space genesis with the Space Root key.
func NewGenesis(rootPub ed25519.PublicKey, rootPriv ed25519.PrivateKey, name string, nowMS int64) (models.SpaceGenesis, error) {
	der, err := canonical.WrapSPKI(rootPub)
	if err != nil {
		return models.SpaceGenesis{}, err
	}
	g := models.SpaceGenesis{
		V:            1,
		SpaceID:      canonical.IDFromSPKI(der),
		SpaceRootPub: der,
		CreatedTS:    nowMS,
		Name:         name,
	}
	g.Sig = ed25519.Sign(rootPriv, GenesisSigInput(g))
	return g, nil
}

// VerifyGenesis checks that the space id recomputes from the root key
// and that the genesis is signed by it.
func VerifyGenesis(g models.SpaceGenesis) error {
	if canonical.IDFromSPKI(g.SpaceRootPub) != g.SpaceID {
		return ErrGenesisIDMismatch
	}
	rootPub, err := canonical.ParseSPKI(g.SpaceRootPub)
	if err != nil {
		return err
	}
	if !ed25519.Verify(rootPub, GenesisSigInput(g), g.Sig) {
		return ErrGenesisSignature
	}
	return nil
}
