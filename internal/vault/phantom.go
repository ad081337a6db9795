package vault

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"

	"walletscope/internal/kvstore"
	"walletscope/internal/model"
)

// Phantom entry keys. The encryption-key entry has a fixed name; seed and
// private-key entries carry a non-deterministic hash suffix, so only their
// prefixes are stable.
const (
	phEncryptionKeyEntry = "encryptedKey"
	phSeedEntryPrefix    = "seed-"
	phPrivateKeyPrefix   = "privateKey-"
)

const (
	scryptN = 4096
	scryptR = 8
	scryptP = 1
)

const ed25519KeypairLength = 64

// Phantom recovers vaults of the Phantom extension family: a two-stage
// NaCl secretbox scheme where a password-derived key unwraps a master key,
// and the master key unwraps each seed/private-key entry independently.
type Phantom struct{}

func (Phantom) Family() Family { return FamilyPhantom }

// phBox is one secretbox-encrypted blob. All binary fields are base58.
type phBox struct {
	Encrypted  string `json:"encrypted"`
	Nonce      string `json:"nonce"`
	Salt       string `json:"salt"`
	Kdf        string `json:"kdf"`
	Iterations int    `json:"iterations,omitempty"`
	Digest     string `json:"digest,omitempty"`
}

type phEntry struct {
	Key string
	Box phBox
}

type phVault struct {
	EncryptionKey phBox
	Seeds         []phEntry
	PrivateKeys   []phEntry
}

func (phVault) vaultFamily() Family { return FamilyPhantom }

// EntryError is a stage-2 failure scoped to a single vault entry. It never
// aborts sibling entries.
type EntryError struct {
	Key string
	Err error
}

func (e EntryError) Error() string {
	return fmt.Sprintf("entry %s: %v", e.Key, e.Err)
}

func (e EntryError) Unwrap() error { return e.Err }

type phPlain struct {
	Seeds       []json.RawMessage
	PrivateKeys []json.RawMessage
	Errors      []EntryError
}

func (phPlain) plaintextFamily() Family { return FamilyPhantom }

// EntryErrors reports per-entry stage-2 failures alongside the entries
// that did decrypt.
func (p phPlain) EntryErrors() []EntryError { return p.Errors }

// Locate finds the encryption-key entry by exact key and seed/private-key
// entries by prefix scan. Absence of the encryption-key entry is "not
// found" even when other entries exist, since nothing can be unwrapped
// without it.
func (Phantom) Locate(snap *kvstore.Snapshot) (Vault, error) {
	raw, ok := snap.Get(phEncryptionKeyEntry)
	if !ok {
		return nil, ErrVaultNotFound
	}
	encryptionKey, err := parsePhantomBox([]byte(raw))
	if err != nil {
		return nil, err
	}

	v := phVault{EncryptionKey: *encryptionKey}
	var scanErr error
	snap.Range(func(key string, value []byte) bool {
		var target *[]phEntry
		switch {
		case strings.HasPrefix(key, phSeedEntryPrefix):
			target = &v.Seeds
		case strings.HasPrefix(key, phPrivateKeyPrefix):
			target = &v.PrivateKeys
		default:
			return true
		}
		box, err := parsePhantomBox(value)
		if err != nil {
			scanErr = fmt.Errorf("entry %s: %w", key, err)
			return false
		}
		*target = append(*target, phEntry{Key: key, Box: *box})
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}

	sort.Slice(v.Seeds, func(i, j int) bool { return v.Seeds[i].Key < v.Seeds[j].Key })
	sort.Slice(v.PrivateKeys, func(i, j int) bool { return v.PrivateKeys[i].Key < v.PrivateKeys[j].Key })
	return v, nil
}

// parsePhantomBox parses a secretbox blob, transparently unwrapping the
// older {value: "<json-string>"} envelope.
func parsePhantomBox(data []byte) (*phBox, error) {
	var envelope struct {
		Value *string `json:"value"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Value != nil {
		data = []byte(*envelope.Value)
	}

	var box phBox
	if err := json.Unmarshal(data, &box); err != nil {
		return nil, malformed("entry is not a secretbox blob", err)
	}
	if box.Encrypted == "" || box.Nonce == "" || box.Salt == "" {
		return nil, malformed("secretbox blob missing fields", nil)
	}
	return &box, nil
}

// Decrypt runs both stages. Stage 1 unwraps the master key from the
// password; a failure there is a wrong password and nothing else is
// attempted. Stage 2 unwraps each entry with the master key against that
// entry's own salt and KDF parameters; failures are entry-scoped.
func (Phantom) Decrypt(v Vault, password string) (Plaintext, error) {
	vault, ok := v.(phVault)
	if !ok {
		return nil, fmt.Errorf("vault is not a phantom vault")
	}

	masterKey, err := openBox(vault.EncryptionKey, []byte(password))
	if err != nil {
		if errors.Is(err, errBoxAuth) {
			return nil, fmt.Errorf("master key: %w", ErrWrongPassword)
		}
		return nil, err
	}

	plain := phPlain{}
	for _, entry := range vault.Seeds {
		content, err := openBox(entry.Box, masterKey)
		if err != nil {
			plain.Errors = append(plain.Errors, EntryError{Key: entry.Key, Err: err})
			continue
		}
		plain.Seeds = append(plain.Seeds, content)
	}
	for _, entry := range vault.PrivateKeys {
		content, err := openBox(entry.Box, masterKey)
		if err != nil {
			plain.Errors = append(plain.Errors, EntryError{Key: entry.Key, Err: err})
			continue
		}
		plain.PrivateKeys = append(plain.PrivateKeys, content)
	}
	return plain, nil
}

var errBoxAuth = errors.New("secretbox authentication failed")

func openBox(box phBox, secret []byte) ([]byte, error) {
	salt, err := base58.Decode(box.Salt)
	if err != nil {
		return nil, malformed("salt is not base58", err)
	}
	nonceBytes, err := base58.Decode(box.Nonce)
	if err != nil {
		return nil, malformed("nonce is not base58", err)
	}
	if len(nonceBytes) != 24 {
		return nil, malformed("nonce is not 24 bytes", nil)
	}
	ciphertext, err := base58.Decode(box.Encrypted)
	if err != nil {
		return nil, malformed("ciphertext is not base58", err)
	}

	key, err := deriveBoxKey(box, secret, salt)
	if err != nil {
		return nil, err
	}

	var nonce [24]byte
	copy(nonce[:], nonceBytes)
	opened, ok := secretbox.Open(nil, ciphertext, &nonce, &key)
	if !ok {
		return nil, errBoxAuth
	}
	return opened, nil
}

func deriveBoxKey(box phBox, secret, salt []byte) ([32]byte, error) {
	var key [32]byte
	switch box.Kdf {
	case "pbkdf2":
		iterations := box.Iterations
		if iterations <= 0 {
			iterations = defaultPBKDF2Iterations
		}
		copy(key[:], pbkdf2.Key(secret, salt, iterations, 32, sha256.New))
	case "scrypt":
		derived, err := scrypt.Key(secret, salt, scryptN, scryptR, scryptP, 32)
		if err != nil {
			return key, fmt.Errorf("scrypt: %w", err)
		}
		copy(key[:], derived)
	default:
		return key, malformed(fmt.Sprintf("unknown kdf %q", box.Kdf), nil)
	}
	return key, nil
}

// ExtractKeys normalizes decrypted entries into credentials: seed entries
// become mnemonics via the entropy transform, private-key entries become
// base58 ed25519 keypairs.
func (Phantom) ExtractKeys(p Plaintext) ([]ExtractedKey, error) {
	plain, ok := p.(phPlain)
	if !ok {
		return nil, fmt.Errorf("plaintext is not phantom entries")
	}

	var keys []ExtractedKey
	for _, content := range plain.Seeds {
		mnemonic, err := mnemonicFromEntropy(content)
		if err != nil {
			return nil, err
		}
		keys = append(keys, ExtractedKey{Type: model.CredentialMnemonic, Mnemonic: mnemonic})
	}
	for _, content := range plain.PrivateKeys {
		key, err := extractEd25519Key(content)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// mnemonicFromEntropy rebuilds a mnemonic from an entropy object whose keys
// are decimal-string byte indices in arbitrary order.
func mnemonicFromEntropy(content json.RawMessage) (string, error) {
	var seed struct {
		Entropy map[string]byte `json:"entropy"`
	}
	if err := json.Unmarshal(content, &seed); err != nil {
		return "", malformed("seed entry", err)
	}
	if len(seed.Entropy) == 0 {
		return "", malformed("seed entry has no entropy", nil)
	}

	indices := make([]int, 0, len(seed.Entropy))
	for key := range seed.Entropy {
		index, err := strconv.Atoi(key)
		if err != nil {
			return "", malformed("entropy index is not numeric", err)
		}
		indices = append(indices, index)
	}
	sort.Ints(indices)

	entropy := make([]byte, 0, len(indices))
	for _, index := range indices {
		entropy = append(entropy, seed.Entropy[strconv.Itoa(index)])
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", malformed("entropy does not map to a mnemonic", err)
	}
	return mnemonic, nil
}

func extractEd25519Key(content json.RawMessage) (ExtractedKey, error) {
	// The data field is a JSON array of byte values, not a base64 string.
	var entry struct {
		PrivateKey struct {
			Data []int `json:"data"`
		} `json:"privateKey"`
	}
	if err := json.Unmarshal(content, &entry); err != nil {
		return ExtractedKey{}, malformed("private key entry", err)
	}
	if len(entry.PrivateKey.Data) == 0 {
		return ExtractedKey{}, malformed("private key entry is empty", nil)
	}
	data := make([]byte, len(entry.PrivateKey.Data))
	for i, value := range entry.PrivateKey.Data {
		if value < 0 || value > 255 {
			return ExtractedKey{}, malformed("private key byte out of range", nil)
		}
		data[i] = byte(value)
	}

	key := ExtractedKey{
		Type:       model.CredentialPrivateKey,
		PrivateKey: base58.Encode(data),
	}
	if len(data) == ed25519KeypairLength {
		// First 32 bytes are the signing seed, last 32 the public key,
		// which doubles as the address.
		key.Accounts = []Account{{
			Address:   base58.Encode(data[32:]),
			ChainType: model.ChainTypeSolana,
		}}
	}
	return key, nil
}
