package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/nacl/secretbox"

	"walletscope/internal/model"
)

// sealTestBox encrypts plaintext into a blob the way the extension does:
// secretbox with a KDF-derived key, all binary fields base58.
func sealTestBox(t *testing.T, secret []byte, kdf string, iterations int, salt, nonce, plaintext []byte) string {
	t.Helper()

	if len(nonce) != 24 {
		t.Fatalf("nonce must be 24 bytes")
	}
	box := phBox{
		Salt:       base58.Encode(salt),
		Nonce:      base58.Encode(nonce),
		Kdf:        kdf,
		Iterations: iterations,
	}
	key, err := deriveBoxKey(box, secret, salt)
	if err != nil {
		t.Fatalf("derive fixture key: %v", err)
	}

	var nonceArr [24]byte
	copy(nonceArr[:], nonce)
	box.Encrypted = base58.Encode(secretbox.Seal(nil, plaintext, &nonceArr, &key))

	encoded, err := json.Marshal(box)
	if err != nil {
		t.Fatalf("marshal blob: %v", err)
	}
	return string(encoded)
}

var (
	phTestMasterKey = []byte("0123456789abcdef0123456789abcdef")
	phTestSaltA     = []byte("salt-for-the-master-key")
	phTestSaltB     = []byte("salt-for-a-seed-entry")
	phTestNonceA    = []byte("abcdefghijklmnopqrstuvwx")
	phTestNonceB    = []byte("xwvutsrqponmlkjihgfedcba")
)

func phantomFixture(t *testing.T, password string, seedEntropy []byte, privateKey []byte) map[string]string {
	t.Helper()

	entries := map[string]string{
		phEncryptionKeyEntry: sealTestBox(t, []byte(password), "pbkdf2", 10000, phTestSaltA, phTestNonceA, phTestMasterKey),
	}
	if seedEntropy != nil {
		entropy := make(map[string]byte, len(seedEntropy))
		for i, b := range seedEntropy {
			entropy[fmt.Sprintf("%d", i)] = b
		}
		content, _ := json.Marshal(map[string]any{"entropy": entropy})
		entries[phSeedEntryPrefix+"4f2a9e"] = sealTestBox(t, phTestMasterKey, "scrypt", 0, phTestSaltB, phTestNonceB, content)
	}
	if privateKey != nil {
		data := make([]int, len(privateKey))
		for i, b := range privateKey {
			data[i] = int(b)
		}
		content, _ := json.Marshal(map[string]any{"privateKey": map[string]any{"data": data}})
		entries[phPrivateKeyPrefix+"b81c33"] = sealTestBox(t, phTestMasterKey, "pbkdf2", 10000, phTestSaltB, phTestNonceB, content)
	}
	return entries
}

func TestPhantomLocateRequiresEncryptionKey(t *testing.T) {
	entries := phantomFixture(t, "pw", make([]byte, 16), nil)
	delete(entries, phEncryptionKeyEntry)

	_, err := Phantom{}.Locate(snapshotOf(entries))
	if !errors.Is(err, ErrVaultNotFound) {
		t.Fatalf("expected ErrVaultNotFound, got %v", err)
	}
}

func TestPhantomLocateFindsPrefixedEntries(t *testing.T) {
	entries := phantomFixture(t, "pw", make([]byte, 16), make([]byte, 64))

	located, err := Phantom{}.Locate(snapshotOf(entries))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := located.(phVault)
	if len(v.Seeds) != 1 || len(v.PrivateKeys) != 1 {
		t.Fatalf("entry counts mismatch: %d seeds, %d private keys", len(v.Seeds), len(v.PrivateKeys))
	}
}

func TestPhantomEnvelopeUnwrap(t *testing.T) {
	entries := phantomFixture(t, "pw", nil, nil)

	// Older storage format wraps the blob JSON in {value: "<json>"}.
	wrapped, _ := json.Marshal(map[string]string{"value": entries[phEncryptionKeyEntry]})
	entries[phEncryptionKeyEntry] = string(wrapped)

	located, err := Phantom{}.Locate(snapshotOf(entries))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := (Phantom{}).Decrypt(located, "pw"); err != nil {
		t.Fatalf("decrypt through envelope: %v", err)
	}
}

func TestPhantomWrongPasswordNeverReachesStageTwo(t *testing.T) {
	entries := phantomFixture(t, "right", make([]byte, 16), make([]byte, 64))

	located, err := Phantom{}.Locate(snapshotOf(entries))
	if err != nil {
		t.Fatalf("locate: %v", err)
	}

	plaintext, err := Phantom{}.Decrypt(located, "wrong")
	if !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	if !strings.Contains(err.Error(), "master key") {
		t.Fatalf("stage-1 failure should name the master key: %v", err)
	}
	if plaintext != nil {
		t.Fatalf("no entry may be decrypted after a stage-1 failure")
	}
}

func TestPhantomStageTwoFailureIsEntryScoped(t *testing.T) {
	entries := phantomFixture(t, "pw", make([]byte, 16), make([]byte, 64))

	// Corrupt only the seed entry's ciphertext; the private-key entry must
	// still decrypt.
	var box phBox
	if err := json.Unmarshal([]byte(entries[phSeedEntryPrefix+"4f2a9e"]), &box); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	raw, _ := base58.Decode(box.Encrypted)
	raw[0] ^= 0xff
	box.Encrypted = base58.Encode(raw)
	corrupted, _ := json.Marshal(box)
	entries[phSeedEntryPrefix+"4f2a9e"] = string(corrupted)

	located, err := Phantom{}.Locate(snapshotOf(entries))
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	plaintext, err := Phantom{}.Decrypt(located, "pw")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}

	plain := plaintext.(phPlain)
	if len(plain.Errors) != 1 {
		t.Fatalf("expected 1 entry error, got %d", len(plain.Errors))
	}
	if len(plain.PrivateKeys) != 1 {
		t.Fatalf("sibling entry should still decrypt")
	}
}

func TestPhantomSeedEntropyOrdering(t *testing.T) {
	entropy := make([]byte, 16)
	for i := range entropy {
		entropy[i] = byte(i * 7)
	}
	wantMnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		t.Fatalf("fixture mnemonic: %v", err)
	}

	entries := phantomFixture(t, "pw", entropy, nil)
	parser := Phantom{}
	located, err := parser.Locate(snapshotOf(entries))
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	plaintext, err := parser.Decrypt(located, "pw")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	keys, err := parser.ExtractKeys(plaintext)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	if keys[0].Type != model.CredentialMnemonic || keys[0].Mnemonic != wantMnemonic {
		t.Fatalf("mnemonic mismatch: %q != %q", keys[0].Mnemonic, wantMnemonic)
	}
}

func TestPhantomEd25519Keypair(t *testing.T) {
	keypair := make([]byte, 64)
	for i := range keypair {
		keypair[i] = byte(i + 1)
	}

	entries := phantomFixture(t, "pw", nil, keypair)
	parser := Phantom{}
	located, err := parser.Locate(snapshotOf(entries))
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	plaintext, err := parser.Decrypt(located, "pw")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	keys, err := parser.ExtractKeys(plaintext)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	if keys[0].PrivateKey != base58.Encode(keypair) {
		t.Fatalf("private key mismatch")
	}
	if len(keys[0].Accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(keys[0].Accounts))
	}
	account := keys[0].Accounts[0]
	if account.Address != base58.Encode(keypair[32:]) || account.ChainType != model.ChainTypeSolana {
		t.Fatalf("account mismatch: %+v", account)
	}
}

func TestPhantomOpaqueSecret(t *testing.T) {
	// A non-64-byte buffer is kept as a secret with no known public key.
	secret := make([]byte, 48)
	entries := phantomFixture(t, "pw", nil, secret)

	parser := Phantom{}
	located, err := parser.Locate(snapshotOf(entries))
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	plaintext, err := parser.Decrypt(located, "pw")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	keys, err := parser.ExtractKeys(plaintext)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if len(keys) != 1 || len(keys[0].Accounts) != 0 {
		t.Fatalf("opaque secret must carry no derived address: %+v", keys)
	}
}
