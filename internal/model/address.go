package model

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AddressKey normalizes an address to lowercase 0x-prefixed hex.
func AddressKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// ParseAddress validates and converts a hex address string.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input), nil
}
