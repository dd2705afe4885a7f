package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SwapEvent is the decoded V2 pair Swap payload.
type SwapEvent struct {
	Pool       common.Address
	TxHash     common.Hash
	LogIndex   uint
	Sender     common.Address
	To         common.Address
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
}

// TransferEvent is the decoded ERC20 Transfer payload.
type TransferEvent struct {
	Token       common.Address
	BlockNumber uint64
	TxHash      common.Hash
	From        common.Address
	To          common.Address
	Value       *big.Int
}
