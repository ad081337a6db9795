package vault

import (
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	bip32 "github.com/tyler-smith/go-bip32"
	bip39 "github.com/tyler-smith/go-bip39"
)

// BIP44 Ethereum path: m/44'/60'/0'/0/index.
var ethereumPathPrefix = []uint32{
	bip32.FirstHardenedChild + 44,
	bip32.FirstHardenedChild + 60,
	bip32.FirstHardenedChild,
	0,
}

// DeriveEthereumAddress derives the lowercase hex address for the given
// account index of a mnemonic. Derivation is deterministic: the same
// (mnemonic, index) always yields the same address.
func DeriveEthereumAddress(mnemonic string, index uint32) (string, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", malformed("invalid mnemonic", nil)
	}

	seed := bip39.NewSeed(mnemonic, "")
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return "", fmt.Errorf("master key: %w", err)
	}
	for _, child := range append(append([]uint32{}, ethereumPathPrefix...), index) {
		key, err = key.NewChildKey(child)
		if err != nil {
			return "", fmt.Errorf("derive child %d: %w", child, err)
		}
	}

	priv, err := ethcrypto.ToECDSA(key.Key)
	if err != nil {
		return "", fmt.Errorf("secp256k1 key: %w", err)
	}
	return strings.ToLower(ethcrypto.PubkeyToAddress(priv.PublicKey).Hex()), nil
}
