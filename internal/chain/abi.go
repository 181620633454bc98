package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20JSON = `[
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

// ERC20 最小 ERC-20 ABI
var ERC20 = mustParseABI(erc20JSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid abi: %v", err))
	}
	return parsed
}

var (
	addressType = mustType("address")
	uint256Type = mustType("uint256")
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// EncodeCall 以 4-byte selector 加上 ABI 編碼參數組成 call data
//
// 支援的參數型別：common.Address（address）與 *big.Int（uint256）。
func EncodeCall(selector string, args ...interface{}) ([]byte, error) {
	sel := common.FromHex(selector)
	if len(sel) != 4 {
		return nil, fmt.Errorf("selector %q is not 4 bytes", selector)
	}

	arguments := make(abi.Arguments, 0, len(args))
	for i, a := range args {
		switch a.(type) {
		case common.Address:
			arguments = append(arguments, abi.Argument{Type: addressType})
		case *big.Int:
			arguments = append(arguments, abi.Argument{Type: uint256Type})
		default:
			return nil, fmt.Errorf("unsupported argument %d of type %T", i, a)
		}
	}

	packed, err := arguments.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack arguments: %w", err)
	}
	return append(sel, packed...), nil
}

// decodeUint256 解析單一 uint256 回傳值；空回傳視為 0
func decodeUint256(method string, out []byte) (*big.Int, error) {
	if len(out) == 0 {
		return new(big.Int), nil
	}
	values, err := ERC20.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("failed to decode %s: got %d values", method, len(values))
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to decode %s: got %T", method, values[0])
	}
	return n, nil
}
