package scan

import (
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Filter describes which logs a scan collects. It turns a window into a
// provider-level query; the event kind lives entirely in the closure.
type Filter struct {
	Name  string
	Query func(window BlockRange) ethereum.FilterQuery
}

// EventFilter builds a Filter for one contract and event signature. Each
// entry of indexed binds the matching indexed argument; nil is a wildcard.
func EventFilter(name string, contract common.Address, topic0 common.Hash, indexed ...*common.Address) Filter {
	topics := [][]common.Hash{{topic0}}
	for _, arg := range indexed {
		if arg == nil {
			topics = append(topics, nil)
			continue
		}
		topics = append(topics, []common.Hash{common.BytesToHash(arg.Bytes())})
	}
	// Trailing wildcards are redundant for eth_getLogs.
	for len(topics) > 1 && topics[len(topics)-1] == nil {
		topics = topics[:len(topics)-1]
	}

	return Filter{
		Name: name,
		Query: func(window BlockRange) ethereum.FilterQuery {
			return ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(window.From),
				ToBlock:   new(big.Int).SetUint64(window.To),
				Addresses: []common.Address{contract},
				Topics:    topics,
			}
		},
	}
}
