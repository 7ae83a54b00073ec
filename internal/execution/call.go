package execution

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// NewCall packs a call to method on to and fills the Safe input values from
// the same arguments, so the descriptor and the calldata cannot disagree.
func NewCall(parsed abi.ABI, method, to string, value *big.Int, op Operation, args ...any) (*SafeTx, error) {
	m, ok := parsed.Methods[method]
	if !ok {
		return nil, fmt.Errorf("abi has no method %s", method)
	}
	if len(args) != len(m.Inputs) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", method, len(m.Inputs), len(args))
	}
	for i, arg := range args {
		if n, ok := arg.(*big.Int); ok && !fitsUint256(n) {
			return nil, fmt.Errorf("%s.%s is outside the uint256 range: %s", method, m.Inputs[i].Name, n)
		}
	}
	if value != nil && !fitsUint256(value) {
		return nil, fmt.Errorf("call value is outside the uint256 range: %s", value)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s calldata: %w", method, err)
	}
	values := make(map[string]string, len(args))
	for i, arg := range m.Inputs {
		s, err := FormatValue(args[i])
		if err != nil {
			return nil, fmt.Errorf("format %s.%s: %w", method, arg.Name, err)
		}
		values[arg.Name] = s
	}
	if value == nil {
		value = new(big.Int)
	}
	return &SafeTx{
		To:          common.HexToAddress(to).Hex(),
		Value:       value.String(),
		Operation:   op,
		Method:      MethodFromABI(m),
		InputValues: values,
		Data:        hexutil.Encode(data),
	}, nil
}

// fitsUint256 rejects integers abi packing would silently wrap.
func fitsUint256(n *big.Int) bool {
	return n.Sign() >= 0 && n.Cmp(math.MaxBig256) <= 0
}

// FormatValue renders an ABI argument the way the Safe Transaction Builder
// expects it: decimal integers, checksummed addresses, 0x-prefixed bytes and
// JSON arrays for tuples.
func FormatValue(v any) (string, error) {
	switch tv := v.(type) {
	case common.Address:
		return tv.Hex(), nil
	case *big.Int:
		return tv.String(), nil
	case bool:
		return strconv.FormatBool(tv), nil
	case string:
		return tv, nil
	case [32]byte:
		return hexutil.Encode(tv[:]), nil
	case []byte:
		return hexutil.Encode(tv), nil
	case uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", tv), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Struct {
		return "", fmt.Errorf("unsupported argument type %T", v)
	}
	parts := make([]string, rv.NumField())
	for i := range parts {
		s, err := FormatValue(rv.Field(i).Interface())
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	raw, err := json.Marshal(parts)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
