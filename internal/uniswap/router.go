package uniswap

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"costbasis/internal/model"
)

var routerMethodKinds = map[string]model.TradeKind{
	"swapExactTokensForTokens":                              model.TradeExactIn,
	"swapExactTokensForTokensSupportingFeeOnTransferTokens": model.TradeExactIn,
	"swapTokensForExactTokens":                              model.TradeExactOut,
	"swapExactETHForTokens":                                 model.TradeNative,
	"swapTokensForExactETH":                                 model.TradeNative,
	"swapExactTokensForETH":                                 model.TradeNative,
	"swapETHForExactTokens":                                 model.TradeNative,
	"swapExactETHForTokensSupportingFeeOnTransferTokens":    model.TradeNative,
	"swapExactTokensForETHSupportingFeeOnTransferTokens":    model.TradeNative,
}

// DecodeRouterCall decodes router transaction input. Selectors outside the
// router ABI and non-swap methods come back as TradeUnknown without error;
// only malformed arguments of a known method are reported.
func DecodeRouterCall(input []byte) (model.RouterCall, error) {
	if len(input) < 4 {
		return model.RouterCall{Kind: model.TradeUnknown}, nil
	}
	routerABI, err := RouterABI()
	if err != nil {
		return model.RouterCall{}, fmt.Errorf("parse router abi: %w", err)
	}

	method, err := routerABI.MethodById(input[:4])
	if err != nil {
		return model.RouterCall{Kind: model.TradeUnknown}, nil
	}
	call := model.RouterCall{Method: method.Name, Kind: model.TradeUnknown}
	kind, ok := routerMethodKinds[method.Name]
	if !ok {
		return call, nil
	}
	call.Kind = kind

	args := make(map[string]interface{}, len(method.Inputs))
	if err := method.Inputs.UnpackIntoMap(args, input[4:]); err != nil {
		return model.RouterCall{}, fmt.Errorf("unpack %s: %w", method.Name, err)
	}

	path, ok := args["path"].([]common.Address)
	if !ok || len(path) < 2 {
		return model.RouterCall{}, fmt.Errorf("%s: invalid path", method.Name)
	}
	call.Path = path
	if to, ok := args["to"].(common.Address); ok {
		call.To = to
	}

	switch kind {
	case model.TradeExactIn:
		call.Fixed, err = bigArg(args, "amountIn")
		if err == nil {
			call.Bound, err = bigArg(args, "amountOutMin")
		}
	case model.TradeExactOut:
		call.Fixed, err = bigArg(args, "amountOut")
		if err == nil {
			call.Bound, err = bigArg(args, "amountInMax")
		}
	}
	if err != nil {
		return model.RouterCall{}, fmt.Errorf("%s: %w", method.Name, err)
	}
	return call, nil
}

func bigArg(args map[string]interface{}, name string) (*big.Int, error) {
	value, ok := args[name]
	if !ok {
		return nil, fmt.Errorf("missing argument %s", name)
	}
	return asBigInt(value)
}
