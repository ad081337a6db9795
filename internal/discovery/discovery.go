package discovery

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"walletscope/internal/vault"
)

// Target is one (browser, profile, extension) combination holding a wallet
// extension's embedded key-value store.
type Target struct {
	Browser   string
	Profile   string
	Family    vault.Family
	StorePath string
}

// ProfileID is the identifier extraction results are reported under.
func (t Target) ProfileID() string {
	return t.Browser + "/" + t.Profile
}

// Chrome-store extension IDs per wallet family.
var extensionIDs = map[vault.Family]string{
	vault.FamilyMetaMask: "nkbihfbeogaeaoehlefnkodbefgpgknn",
	vault.FamilyPhantom:  "bfnaelmomeimhlpmgjnjophhpkkoljpa",
}

// Discover walks the well-known Chromium user-data roots for profiles that
// contain a supported wallet extension's LevelDB store. Missing browsers or
// profiles are skipped silently.
func Discover() ([]Target, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return discoverIn(browserRoots(home))
}

// DiscoverAt scans a single user-data directory, mainly for tests and for
// stores copied off another machine.
func DiscoverAt(browser, userDataDir string) ([]Target, error) {
	return discoverIn(map[string]string{browser: userDataDir})
}

func discoverIn(roots map[string]string) ([]Target, error) {
	var targets []Target
	for browser, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || !isProfileDir(entry.Name()) {
				continue
			}
			for family, extensionID := range extensionIDs {
				storePath := filepath.Join(root, entry.Name(), "Local Extension Settings", extensionID)
				if info, err := os.Stat(storePath); err != nil || !info.IsDir() {
					continue
				}
				targets = append(targets, Target{
					Browser:   browser,
					Profile:   entry.Name(),
					Family:    family,
					StorePath: storePath,
				})
			}
		}
	}
	return targets, nil
}

func isProfileDir(name string) bool {
	return name == "Default" || strings.HasPrefix(name, "Profile ")
}

func browserRoots(home string) map[string]string {
	switch runtime.GOOS {
	case "darwin":
		support := filepath.Join(home, "Library", "Application Support")
		return map[string]string{
			"chrome": filepath.Join(support, "Google", "Chrome"),
			"brave":  filepath.Join(support, "BraveSoftware", "Brave-Browser"),
			"edge":   filepath.Join(support, "Microsoft Edge"),
		}
	case "windows":
		local := os.Getenv("LOCALAPPDATA")
		return map[string]string{
			"chrome": filepath.Join(local, "Google", "Chrome", "User Data"),
			"brave":  filepath.Join(local, "BraveSoftware", "Brave-Browser", "User Data"),
			"edge":   filepath.Join(local, "Microsoft", "Edge", "User Data"),
		}
	default:
		config := filepath.Join(home, ".config")
		return map[string]string{
			"chrome":   filepath.Join(config, "google-chrome"),
			"chromium": filepath.Join(config, "chromium"),
			"brave":    filepath.Join(config, "BraveSoftware", "Brave-Browser"),
		}
	}
}
