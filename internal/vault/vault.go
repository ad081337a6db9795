package vault

import (
	"errors"
	"fmt"

	"walletscope/internal/kvstore"
	"walletscope/internal/model"
)

// Family tags a wallet-extension product line whose vault format and
// recovery procedure are shared.
type Family string

const (
	FamilyMetaMask Family = "metamask"
	FamilyPhantom  Family = "phantom"
)

var (
	// ErrVaultNotFound means the snapshot holds no vault for the family.
	// Callers treat this as "wallet not set up here", not a failure.
	ErrVaultNotFound = errors.New("vault not found")

	// ErrWrongPassword means AEAD or secretbox authentication failed.
	// Retryable with a different password for the same profile and family.
	ErrWrongPassword = errors.New("wrong password or unsupported vault")
)

// MalformedVaultError reports an unexpected shape inside a located vault.
// Not retryable.
type MalformedVaultError struct {
	Reason string
	Err    error
}

func (e *MalformedVaultError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed vault: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed vault: %s", e.Reason)
}

func (e *MalformedVaultError) Unwrap() error { return e.Err }

func malformed(reason string, err error) error {
	return &MalformedVaultError{Reason: reason, Err: err}
}

// Account is one address derived from an extracted key.
type Account struct {
	Address   string
	ChainType model.ChainType
	Index     *uint32
}

// ExtractedKey is one recovered credential with any addresses derived
// from it.
type ExtractedKey struct {
	Type       model.CredentialType
	Mnemonic   string
	PrivateKey string
	Accounts   []Account
}

// Vault is located, still-encrypted keyring material. Concrete types are
// family-owned.
type Vault interface {
	vaultFamily() Family
}

// Plaintext is decrypted keyring material awaiting key extraction.
// Concrete types are family-owned.
type Plaintext interface {
	plaintextFamily() Family
}

// Parser is the per-family recovery strategy. The two families share
// nothing below this surface: each has an incompatible KDF/AEAD pipeline.
type Parser interface {
	Family() Family
	Locate(snap *kvstore.Snapshot) (Vault, error)
	Decrypt(v Vault, password string) (Plaintext, error)
	ExtractKeys(p Plaintext) ([]ExtractedKey, error)
}

// ForFamily returns the parser for a family tag.
func ForFamily(family Family) (Parser, error) {
	switch family {
	case FamilyMetaMask:
		return MetaMask{}, nil
	case FamilyPhantom:
		return Phantom{}, nil
	default:
		return nil, fmt.Errorf("unsupported wallet family: %s", family)
	}
}
