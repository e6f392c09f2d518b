package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// LoadSignerKey resolves the configured private key and parses it into an
// ECDSA key suitable for signing settlement transactions. It also returns
// the derived operator address for logging and balance checks.
func LoadSignerKey(cfg KeyConfig) (*ecdsa.PrivateKey, common.Address, error) {
	keyHex, err := LoadKey(cfg)
	if err != nil {
		return nil, common.Address{}, err
	}

	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("crypto: parsing ECDSA key: %w", err)
	}

	return key, ethcrypto.PubkeyToAddress(key.PublicKey), nil
}
