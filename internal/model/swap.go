package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TradeKind classifies a router entry point.
type TradeKind string

const (
	TradeExactIn  TradeKind = "exact_in"
	TradeExactOut TradeKind = "exact_out"
	TradeNative   TradeKind = "native"
	TradeUnknown  TradeKind = "unknown"
)

// RouterCall is a decoded router transaction input.
type RouterCall struct {
	Method string
	Kind   TradeKind
	Path   []common.Address
	// Bound is amountOutMin for exact-in and amountInMax for exact-out calls.
	Bound *big.Int
	// Fixed is amountIn for exact-in and amountOut for exact-out calls.
	Fixed *big.Int
	To    common.Address
}

// HopMatch binds one path hop to the pool that executed it and its Swap log.
type HopMatch struct {
	TokenIn   common.Address
	TokenOut  common.Address
	Pool      common.Address
	Event     SwapEvent
	AmountIn  *big.Int
	AmountOut *big.Int
}

// DecodedSwap is a router swap with every hop matched to its on-chain log.
type DecodedSwap struct {
	TxHash      common.Hash
	BlockNumber uint64
	Call        RouterCall
	Hops        []HopMatch
}

// Source returns the first token of the path.
func (s *DecodedSwap) Source() common.Address {
	return s.Call.Path[0]
}

// Destination returns the last token of the path.
func (s *DecodedSwap) Destination() common.Address {
	return s.Call.Path[len(s.Call.Path)-1]
}

// AmountIn is the amount of the source token actually spent.
func (s *DecodedSwap) AmountIn() *big.Int {
	return s.Hops[0].AmountIn
}

// AmountOut is the amount of the destination token actually received.
func (s *DecodedSwap) AmountOut() *big.Int {
	return s.Hops[len(s.Hops)-1].AmountOut
}
