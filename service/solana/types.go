package solana

// MintInfo is the decoded state of an SPL token mint account.
type MintInfo struct {
	Mint            string  `json:"mint"`
	Decimals        uint8   `json:"decimals"`
	Supply          uint64  `json:"supply"`
	UISupply        float64 `json:"ui_supply"`
	MintAuthority   *string `json:"mint_authority,omitempty"`
	FreezeAuthority *string `json:"freeze_authority,omitempty"`
	IsInitialized   bool    `json:"is_initialized"`
	ProgramID       string  `json:"program_id"`
}
