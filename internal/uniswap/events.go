package uniswap

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"costbasis/internal/model"
)

var (
	// PairCreatedTopic is topic0 of the factory PairCreated event.
	PairCreatedTopic = mustEventID(FactoryABI, "PairCreated")
	// SwapTopic is topic0 of the pair Swap event.
	SwapTopic = mustEventID(PairABI, "Swap")
	// TransferTopic is topic0 of the ERC20 Transfer event.
	TransferTopic = mustEventID(ERC20ABI, "Transfer")
)

func mustEventID(load func() (abi.ABI, error), name string) common.Hash {
	parsed, err := load()
	if err != nil {
		panic(fmt.Sprintf("parse abi for %s: %v", name, err))
	}
	event, ok := parsed.Events[name]
	if !ok {
		panic(fmt.Sprintf("event %s missing from abi", name))
	}
	return event.ID
}

// DecodePairCreated converts a factory PairCreated log into a Pair.
func DecodePairCreated(log types.Log) (model.Pair, error) {
	factoryABI, err := FactoryABI()
	if err != nil {
		return model.Pair{}, err
	}
	event := factoryABI.Events["PairCreated"]
	if err := checkTopic0(log, event); err != nil {
		return model.Pair{}, err
	}

	var indexed struct {
		Token0 common.Address
		Token1 common.Address
	}
	if err := parseIndexed(&indexed, event, log.Topics); err != nil {
		return model.Pair{}, err
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.Pair{}, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	if len(values) != 2 {
		return model.Pair{}, fmt.Errorf("unexpected pair created values: %d", len(values))
	}
	pair, err := asAddress(values[0])
	if err != nil {
		return model.Pair{}, err
	}

	return model.Pair{
		Token0:      indexed.Token0,
		Token1:      indexed.Token1,
		Address:     pair,
		DeployBlock: log.BlockNumber,
	}, nil
}

// DecodeSwap converts a pair Swap log into a SwapEvent.
func DecodeSwap(log types.Log) (model.SwapEvent, error) {
	pairABI, err := PairABI()
	if err != nil {
		return model.SwapEvent{}, err
	}
	event := pairABI.Events["Swap"]
	if err := checkTopic0(log, event); err != nil {
		return model.SwapEvent{}, err
	}

	var indexed struct {
		Sender common.Address
		To     common.Address
	}
	if err := parseIndexed(&indexed, event, log.Topics); err != nil {
		return model.SwapEvent{}, err
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.SwapEvent{}, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	if len(values) != 4 {
		return model.SwapEvent{}, fmt.Errorf("unexpected swap values: %d", len(values))
	}
	amounts := make([]*big.Int, 4)
	for i, value := range values {
		amounts[i], err = asBigInt(value)
		if err != nil {
			return model.SwapEvent{}, err
		}
	}

	return model.SwapEvent{
		Pool:       log.Address,
		TxHash:     log.TxHash,
		LogIndex:   log.Index,
		Sender:     indexed.Sender,
		To:         indexed.To,
		Amount0In:  amounts[0],
		Amount1In:  amounts[1],
		Amount0Out: amounts[2],
		Amount1Out: amounts[3],
	}, nil
}

// DecodeTransfer converts an ERC20 Transfer log into a TransferEvent.
func DecodeTransfer(log types.Log) (model.TransferEvent, error) {
	erc20ABI, err := ERC20ABI()
	if err != nil {
		return model.TransferEvent{}, err
	}
	event := erc20ABI.Events["Transfer"]
	if err := checkTopic0(log, event); err != nil {
		return model.TransferEvent{}, err
	}

	var indexed struct {
		From common.Address
		To   common.Address
	}
	if err := parseIndexed(&indexed, event, log.Topics); err != nil {
		return model.TransferEvent{}, err
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.TransferEvent{}, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	if len(values) != 1 {
		return model.TransferEvent{}, fmt.Errorf("unexpected transfer values: %d", len(values))
	}
	value, err := asBigInt(values[0])
	if err != nil {
		return model.TransferEvent{}, err
	}

	return model.TransferEvent{
		Token:       log.Address,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		From:        indexed.From,
		To:          indexed.To,
		Value:       value,
	}, nil
}

func checkTopic0(log types.Log, event abi.Event) error {
	if len(log.Topics) == 0 {
		return fmt.Errorf("missing topics")
	}
	if log.Topics[0] != event.ID {
		return fmt.Errorf("unexpected topic0 %s for %s", log.Topics[0].Hex(), event.Name)
	}
	return nil
}

func parseIndexed(out interface{}, event abi.Event, topics []common.Hash) error {
	args := indexedArguments(event.Inputs)
	if len(topics) != len(args)+1 {
		return fmt.Errorf("expected %d topics, got %d", len(args)+1, len(topics))
	}
	if err := abi.ParseTopics(out, args, topics[1:]); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}
	return nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
