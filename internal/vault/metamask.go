package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"

	"walletscope/internal/kvstore"
	"walletscope/internal/model"
)

// defaultPBKDF2Iterations applies to older vaults that carry no KDF
// metadata.
const defaultPBKDF2Iterations = 10000

const (
	keyringTypeHD       = "HD Key Tree"
	keyringTypeSimple   = "Simple Key Pair"
	gcmTagSize          = 16
	derivedEVMKeyLength = 32
)

// mmVaultPaths are the nested JSON locations tried, in order, before the
// raw-shape fallback. The storage format is undocumented and versioned, so
// new locations are added here rather than as further conditionals.
var mmVaultPaths = [][]string{
	{"KeyringController", "vault"},
	{"data", "KeyringController", "vault"},
	{"vault"},
}

// MetaMask recovers vaults of the MetaMask extension family:
// PBKDF2-HMAC-SHA256 key derivation over AES-256-GCM ciphertext.
type MetaMask struct{}

func (MetaMask) Family() Family { return FamilyMetaMask }

type mmVault struct {
	Data        string         `json:"data"`
	IV          string         `json:"iv"`
	Salt        string         `json:"salt"`
	KeyMetadata *mmKeyMetadata `json:"keyMetadata,omitempty"`
}

func (mmVault) vaultFamily() Family { return FamilyMetaMask }

type mmKeyMetadata struct {
	Algorithm string `json:"algorithm"`
	Params    struct {
		Iterations int `json:"iterations"`
	} `json:"params"`
}

type mmKeyring struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type mmKeyrings []mmKeyring

func (mmKeyrings) plaintextFamily() Family { return FamilyMetaMask }

// Locate scans every snapshot value for a vault, trying each known nesting
// path and finally the raw {data, iv, salt} shape.
func (MetaMask) Locate(snap *kvstore.Snapshot) (Vault, error) {
	var found *mmVault
	snap.Range(func(_ string, value []byte) bool {
		if v, ok := locateMetaMaskVault(value); ok {
			found = v
			return false
		}
		return true
	})
	if found == nil {
		return nil, ErrVaultNotFound
	}
	return *found, nil
}

func locateMetaMaskVault(value []byte) (*mmVault, bool) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(value, &root); err != nil {
		return nil, false
	}

	for _, path := range mmVaultPaths {
		raw, ok := lookupNested(root, path)
		if !ok {
			continue
		}
		// The vault field is itself a JSON string to re-parse.
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			continue
		}
		if v, ok := parseMMVault([]byte(inner)); ok {
			return v, true
		}
	}

	// Raw-shape fallback: the entry already is {data, iv, salt}.
	if v, ok := parseMMVault(value); ok {
		return v, true
	}
	return nil, false
}

func lookupNested(root map[string]json.RawMessage, path []string) (json.RawMessage, bool) {
	current := root
	for i, segment := range path {
		raw, ok := current[segment]
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			return raw, true
		}
		next := make(map[string]json.RawMessage)
		if err := json.Unmarshal(raw, &next); err != nil {
			return nil, false
		}
		current = next
	}
	return nil, false
}

func parseMMVault(data []byte) (*mmVault, bool) {
	var v mmVault
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false
	}
	if v.Data == "" || v.IV == "" || v.Salt == "" {
		return nil, false
	}
	return &v, true
}

// Decrypt derives the vault key with PBKDF2-HMAC-SHA256 and opens the
// AES-256-GCM ciphertext. The extension's crypto API appends the 16-byte
// auth tag to the ciphertext, which matches Go's AEAD convention.
func (MetaMask) Decrypt(v Vault, password string) (Plaintext, error) {
	vault, ok := v.(mmVault)
	if !ok {
		return nil, fmt.Errorf("vault is not a metamask vault")
	}

	salt, err := base64.StdEncoding.DecodeString(vault.Salt)
	if err != nil {
		return nil, malformed("salt is not base64", err)
	}
	iv, err := base64.StdEncoding.DecodeString(vault.IV)
	if err != nil {
		return nil, malformed("iv is not base64", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(vault.Data)
	if err != nil {
		return nil, malformed("data is not base64", err)
	}
	if len(ciphertext) < gcmTagSize {
		return nil, malformed("ciphertext shorter than auth tag", nil)
	}

	iterations := defaultPBKDF2Iterations
	if vault.KeyMetadata != nil && vault.KeyMetadata.Params.Iterations > 0 {
		iterations = vault.KeyMetadata.Params.Iterations
	}

	key := pbkdf2.Key([]byte(password), salt, iterations, derivedEVMKeyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, malformed("unsupported iv length", err)
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", ErrWrongPassword)
	}

	var keyrings mmKeyrings
	if err := json.Unmarshal(plaintext, &keyrings); err != nil {
		return nil, malformed("plaintext is not a keyring list", err)
	}
	return keyrings, nil
}

// ExtractKeys normalizes decrypted keyrings into credentials with derived
// EVM addresses.
func (MetaMask) ExtractKeys(p Plaintext) ([]ExtractedKey, error) {
	keyrings, ok := p.(mmKeyrings)
	if !ok {
		return nil, fmt.Errorf("plaintext is not metamask keyrings")
	}

	var keys []ExtractedKey
	for _, keyring := range keyrings {
		switch keyring.Type {
		case keyringTypeHD:
			key, err := extractHDKeyring(keyring.Data)
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		case keyringTypeSimple:
			extracted, err := extractSimpleKeyring(keyring.Data)
			if err != nil {
				return nil, err
			}
			keys = append(keys, extracted...)
		}
	}
	return keys, nil
}

type mmHDKeyringData struct {
	Mnemonic         json.RawMessage `json:"mnemonic"`
	NumberOfAccounts int             `json:"numberOfAccounts"`
	HDPath           string          `json:"hdPath,omitempty"`
}

func extractHDKeyring(data json.RawMessage) (ExtractedKey, error) {
	var hd mmHDKeyringData
	if err := json.Unmarshal(data, &hd); err != nil {
		return ExtractedKey{}, malformed("hd keyring data", err)
	}
	mnemonic, err := decodeMnemonic(hd.Mnemonic)
	if err != nil {
		return ExtractedKey{}, err
	}

	count := hd.NumberOfAccounts
	if count < 1 {
		count = 1
	}

	key := ExtractedKey{Type: model.CredentialMnemonic, Mnemonic: mnemonic}
	for i := 0; i < count; i++ {
		index := uint32(i)
		address, err := DeriveEthereumAddress(mnemonic, index)
		if err != nil {
			return ExtractedKey{}, fmt.Errorf("derive account %d: %w", i, err)
		}
		key.Accounts = append(key.Accounts, Account{
			Address:   address,
			ChainType: model.ChainTypeEVM,
			Index:     &index,
		})
	}
	return key, nil
}

// decodeMnemonic accepts a plain string or the newer array-of-character-
// codes encoding.
func decodeMnemonic(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var codes []int
	if err := json.Unmarshal(raw, &codes); err == nil {
		runes := make([]byte, len(codes))
		for i, code := range codes {
			if code < 0 || code > 255 {
				return "", malformed("mnemonic character code out of range", nil)
			}
			runes[i] = byte(code)
		}
		return string(runes), nil
	}
	return "", malformed("mnemonic is neither string nor byte array", nil)
}

func extractSimpleKeyring(data json.RawMessage) ([]ExtractedKey, error) {
	var hexKeys []string
	if err := json.Unmarshal(data, &hexKeys); err != nil {
		return nil, malformed("simple key pair data", err)
	}

	keys := make([]ExtractedKey, 0, len(hexKeys))
	for _, hexKey := range hexKeys {
		address, err := addressFromHexKey(hexKey)
		if err != nil {
			return nil, err
		}
		keys = append(keys, ExtractedKey{
			Type:       model.CredentialPrivateKey,
			PrivateKey: strings.TrimPrefix(hexKey, "0x"),
			Accounts: []Account{{
				Address:   address,
				ChainType: model.ChainTypeEVM,
			}},
		})
	}
	return keys, nil
}

func addressFromHexKey(hexKey string) (string, error) {
	priv, err := ethcrypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return "", malformed("invalid private key hex", err)
	}
	return strings.ToLower(ethcrypto.PubkeyToAddress(priv.PublicKey).Hex()), nil
}
