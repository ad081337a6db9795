package model

// TransferRecord is one observed on-chain transfer. (TxID, From, To, Token)
// is unique; re-scanning must not duplicate rows.
type TransferRecord struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Chain       string `json:"chain"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	TxID        string `json:"tx_id"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	Timestamp   uint64 `json:"timestamp,omitempty"`
}

// ScanCursor tracks the last block processed for an (address, chain) unit.
// LastBlock is monotonically non-decreasing.
type ScanCursor struct {
	Address   string `json:"address"`
	Chain     string `json:"chain"`
	LastBlock uint64 `json:"last_block"`
}

// chainFamilies maps supported chain names to the address family scanned
// on them.
var chainFamilies = map[string]ChainType{
	"ethereum": ChainTypeEVM,
	"bsc":      ChainTypeEVM,
	"polygon":  ChainTypeEVM,
	"solana":   ChainTypeSolana,
}

// ChainFamily returns the address family a chain serves, or false for an
// unknown chain name.
func ChainFamily(chain string) (ChainType, bool) {
	family, ok := chainFamilies[chain]
	return family, ok
}
