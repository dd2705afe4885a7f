package costbasis

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ReasonNoSwapEvent marks a path hop whose pool emitted no Swap log in the receipt.
const ReasonNoSwapEvent = "no swap event emitted"

// DecodeError reports a router transaction whose logs do not match its call.
// Hop is -1 when the error is not tied to a path hop.
type DecodeError struct {
	TxHash common.Hash
	Hop    int
	Pool   common.Address
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Hop < 0 {
		return fmt.Sprintf("decode tx %s: %s", e.TxHash.Hex(), e.Reason)
	}
	return fmt.Sprintf("decode tx %s hop %d pool %s: %s", e.TxHash.Hex(), e.Hop, e.Pool.Hex(), e.Reason)
}
