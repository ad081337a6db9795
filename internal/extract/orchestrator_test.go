package extract

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/syndtr/goleveldb/leveldb"
	"golang.org/x/crypto/pbkdf2"

	"walletscope/internal/discovery"
	"walletscope/internal/storage"
	"walletscope/internal/vault"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// writeMetaMaskStore builds a real LevelDB store holding an encrypted
// vault, as extraction would find on disk.
func writeMetaMaskStore(t *testing.T, password string) string {
	t.Helper()

	keyrings, _ := json.Marshal([]map[string]any{{
		"type": "HD Key Tree",
		"data": map[string]any{"mnemonic": testMnemonic, "numberOfAccounts": 1},
	}})

	salt := []byte("0123456789abcdef")
	iv := []byte("fedcba9876543210")
	key := pbkdf2.Key([]byte(password), salt, 10000, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		t.Fatalf("gcm: %v", err)
	}
	vaultJSON, _ := json.Marshal(map[string]string{
		"data": base64.StdEncoding.EncodeToString(aead.Seal(nil, iv, keyrings, nil)),
		"iv":   base64.StdEncoding.EncodeToString(iv),
		"salt": base64.StdEncoding.EncodeToString(salt),
	})
	stateJSON := fmt.Sprintf(`{"KeyringController":{"vault":%q}}`, string(vaultJSON))

	dir := filepath.Join(t.TempDir(), "store")
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		t.Fatalf("open fixture store: %v", err)
	}
	if err := db.Put([]byte("persisted-state"), []byte(stateJSON), nil); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return dir
}

func metamaskTarget(storePath string) discovery.Target {
	return discovery.Target{
		Browser:   "chrome",
		Profile:   "Default",
		Family:    vault.FamilyMetaMask,
		StorePath: storePath,
	}
}

func TestExtractPersistsCredentialsAndAddresses(t *testing.T) {
	storePath := writeMetaMaskStore(t, "hunter2")
	store := storage.NewMemoryStore()
	orchestrator := NewOrchestrator(store, nil)

	result, err := orchestrator.Extract(context.Background(),
		[]discovery.Target{metamaskTarget(storePath)},
		map[vault.Family]string{vault.FamilyMetaMask: "hunter2"},
	)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if result.CredentialsFound != 1 || result.AddressesFound != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("unexpected failures: %+v", result.Failures)
	}

	known, _ := store.KnownAddresses(context.Background())
	if len(known) != 1 {
		t.Fatalf("address not persisted: %+v", known)
	}
	if known[0].Address != "0x9858effd232b4033e47d90003d41ec34ecaeda94" {
		t.Fatalf("wrong derived address: %s", known[0].Address)
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	storePath := writeMetaMaskStore(t, "hunter2")
	store := storage.NewMemoryStore()
	orchestrator := NewOrchestrator(store, nil)
	passwords := map[vault.Family]string{vault.FamilyMetaMask: "hunter2"}
	targets := []discovery.Target{metamaskTarget(storePath)}

	if _, err := orchestrator.Extract(context.Background(), targets, passwords); err != nil {
		t.Fatalf("first extract: %v", err)
	}
	known, _ := store.KnownAddresses(context.Background())
	before := len(known)

	if _, err := orchestrator.Extract(context.Background(), targets, passwords); err != nil {
		t.Fatalf("second extract: %v", err)
	}
	known, _ = store.KnownAddresses(context.Background())
	if len(known) != before {
		t.Fatalf("re-extraction created %d new address rows", len(known)-before)
	}
}

func TestExtractWrongPasswordIsRetryable(t *testing.T) {
	storePath := writeMetaMaskStore(t, "right")
	store := storage.NewMemoryStore()
	orchestrator := NewOrchestrator(store, nil)
	target := metamaskTarget(storePath)

	result, err := orchestrator.Extract(context.Background(),
		[]discovery.Target{target},
		map[vault.Family]string{vault.FamilyMetaMask: "wrong"},
	)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(result.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %+v", result.Failures)
	}
	failure := result.Failures[0]
	if !failure.WrongPassword || failure.Stage != StageDecrypt {
		t.Fatalf("failure must be a retryable decrypt failure: %+v", failure)
	}

	// Targeted retry with the corrected password succeeds without
	// repeating the batch.
	retried, err := orchestrator.ExtractOne(context.Background(), target, "right")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.CredentialsFound != 1 || len(retried.Failures) != 0 {
		t.Fatalf("retry did not recover: %+v", retried)
	}
}

func TestExtractMissingStoreSkippedSilently(t *testing.T) {
	store := storage.NewMemoryStore()
	orchestrator := NewOrchestrator(store, nil)

	result, err := orchestrator.Extract(context.Background(),
		[]discovery.Target{metamaskTarget(filepath.Join(t.TempDir(), "missing"))},
		map[vault.Family]string{vault.FamilyMetaMask: "pw"},
	)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("missing store is not a failure: %+v", result.Failures)
	}
}

func TestExtractTargetWithoutPasswordSkipped(t *testing.T) {
	storePath := writeMetaMaskStore(t, "pw")
	store := storage.NewMemoryStore()
	orchestrator := NewOrchestrator(store, nil)

	result, err := orchestrator.Extract(context.Background(),
		[]discovery.Target{metamaskTarget(storePath)},
		map[vault.Family]string{vault.FamilyPhantom: "other"},
	)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if result.CredentialsFound != 0 || len(result.Failures) != 0 {
		t.Fatalf("target without a password must be skipped: %+v", result)
	}
}
