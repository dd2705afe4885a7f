package model

import "time"

// TokenMeta captures ERC20 metadata.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}

// Token is a tracked token row with its scan cursor.
type Token struct {
	ID               int64     `json:"id"`
	Address          string    `json:"address"`
	LastScannedBlock uint64    `json:"last_scanned_block"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Balance is a holder balance of a tracked token in raw units.
type Balance struct {
	TokenID int64  `json:"token_id"`
	Address string `json:"address"`
	Balance string `json:"balance"`
}
