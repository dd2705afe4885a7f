package model

import "github.com/ethereum/go-ethereum/common"

// Pair is a Uniswap V2 style pool discovered from the factory PairCreated log.
type Pair struct {
	Token0      common.Address `json:"token0"`
	Token1      common.Address `json:"token1"`
	Address     common.Address `json:"address"`
	DeployBlock uint64         `json:"deploy_block"`
}

// Key returns the lowercase hex pool address.
func (p Pair) Key() string {
	return AddressKey(p.Address)
}

// Other returns the counterpart of token in the pair.
func (p Pair) Other(token common.Address) (common.Address, bool) {
	switch token {
	case p.Token0:
		return p.Token1, true
	case p.Token1:
		return p.Token0, true
	default:
		return common.Address{}, false
	}
}
