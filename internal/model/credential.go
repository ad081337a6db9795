package model

// ChainType identifies the address format family a key belongs to.
type ChainType string

const (
	ChainTypeEVM    ChainType = "evm"
	ChainTypeSolana ChainType = "solana"
)

// CredentialType distinguishes seed phrases from directly imported keys.
type CredentialType string

const (
	CredentialMnemonic   CredentialType = "mnemonic"
	CredentialPrivateKey CredentialType = "private_key"
)

// Credential is one recovered secret, persisted at most once per content.
type Credential struct {
	ID            int64          `json:"id"`
	Type          CredentialType `json:"credential_type"`
	SourceProfile string         `json:"source_profile"`
	Mnemonic      string         `json:"mnemonic,omitempty"`
	PrivateKey    string         `json:"private_key,omitempty"`
}

// Secret returns the content that identifies the credential for dedup.
func (c Credential) Secret() string {
	if c.Type == CredentialMnemonic {
		return c.Mnemonic
	}
	return c.PrivateKey
}

// DerivedAddress links an on-chain address back to the credential it came
// from. (Address, ChainType) is unique system-wide.
type DerivedAddress struct {
	ID              int64     `json:"id"`
	CredentialID    int64     `json:"credential_id"`
	Address         string    `json:"address"`
	ChainType       ChainType `json:"chain_type"`
	DerivationIndex *uint32   `json:"derivation_index,omitempty"`
}
