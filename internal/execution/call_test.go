package execution

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/defi-compiler/internal/registry"
)

func mustABI(t *testing.T, raw string) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	return parsed
}

func TestNewCallPacksAndDescribes(t *testing.T) {
	spender := common.HexToAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab41")
	tx, err := NewCall(mustABI(t, registry.ERC20ApproveABI), "approve", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", nil, OperationCall, spender, big.NewInt(1500000))
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}
	if tx.To != "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48" {
		t.Fatalf("expected checksummed target, got %s", tx.To)
	}
	if tx.Value != "0" || tx.Operation != OperationCall {
		t.Fatalf("unexpected value/operation: %+v", tx)
	}
	// approve(address,uint256) selector
	if !strings.HasPrefix(tx.Data, "0x095ea7b3") {
		t.Fatalf("unexpected calldata %s", tx.Data)
	}
	if tx.InputValues["spender"] != spender.Hex() || tx.InputValues["amount"] != "1500000" {
		t.Fatalf("unexpected input values: %+v", tx.InputValues)
	}
	if tx.Method.Name != "approve" || tx.Method.Payable || len(tx.Method.Inputs) != 2 || tx.Method.Inputs[1].Type != "uint256" {
		t.Fatalf("unexpected method descriptor: %+v", tx.Method)
	}
}

func TestNewCallRejectsArityMismatch(t *testing.T) {
	if _, err := NewCall(mustABI(t, registry.ERC20ApproveABI), "approve", "0x0000000000000000000000000000000000000001", nil, OperationCall); err == nil {
		t.Fatal("expected arity error")
	}
	if _, err := NewCall(mustABI(t, registry.ERC20ApproveABI), "transfer", "0x0000000000000000000000000000000000000001", nil, OperationCall); err == nil {
		t.Fatal("expected unknown method error")
	}
}

func TestNewCallRejectsIntegersOutsideUint256(t *testing.T) {
	parsed := mustABI(t, registry.ERC20ApproveABI)
	spender := common.HexToAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab41")
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := NewCall(parsed, "approve", "0x0000000000000000000000000000000000000001", nil, OperationCall, spender, tooBig); err == nil {
		t.Fatal("expected overflow error for 2^256")
	}
	if _, err := NewCall(parsed, "approve", "0x0000000000000000000000000000000000000001", nil, OperationCall, spender, big.NewInt(-1)); err == nil {
		t.Fatal("expected error for a negative amount")
	}
	if _, err := NewCall(mustABI(t, registry.LidoSubmitABI), "submit", "0x0000000000000000000000000000000000000001", tooBig, OperationCall, spender); err == nil {
		t.Fatal("expected overflow error for the call value")
	}
	max := new(big.Int).Sub(tooBig, big.NewInt(1))
	tx, err := NewCall(parsed, "approve", "0x0000000000000000000000000000000000000001", nil, OperationCall, spender, max)
	if err != nil {
		t.Fatalf("2^256-1 should pack: %v", err)
	}
	if !strings.HasSuffix(tx.Data, strings.Repeat("f", 64)) || tx.InputValues["amount"] != max.String() {
		t.Fatalf("calldata and input values disagree: %s %v", tx.Data, tx.InputValues)
	}
}

func TestMethodFromABITuple(t *testing.T) {
	m := mustABI(t, registry.CowswapOrderSignerABI).Methods["signOrder"]
	desc := MethodFromABI(m)
	if len(desc.Inputs) != 3 {
		t.Fatalf("expected 3 inputs, got %+v", desc.Inputs)
	}
	order := desc.Inputs[0]
	if order.Type != "tuple" || len(order.Components) != 12 || order.Components[0].Name != "sellToken" {
		t.Fatalf("unexpected tuple descriptor: %+v", order)
	}
}

func TestFormatValueTuple(t *testing.T) {
	v := struct {
		A common.Address
		B *big.Int
		C bool
		D [32]byte
	}{common.HexToAddress("0x01"), big.NewInt(7), true, [32]byte{}}
	got, err := FormatValue(v)
	if err != nil {
		t.Fatalf("FormatValue: %v", err)
	}
	want := `["0x0000000000000000000000000000000000000001","7","true","0x0000000000000000000000000000000000000000000000000000000000000000"]`
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	if _, err := FormatValue(3.5); err == nil {
		t.Fatal("expected unsupported type error")
	}
}

func TestSafeTxTransaction(t *testing.T) {
	tx := SafeTx{To: "0x01", Value: "5", Method: ContractMethod{Name: "submit", Payable: true}, InputValues: map[string]string{"_referral": "0x0"}, Data: "0x"}
	got := tx.Transaction()
	if got.To != "0x01" || got.Value != "5" || got.ContractMethod == nil || got.ContractMethod.Name != "submit" {
		t.Fatalf("unexpected transaction: %+v", got)
	}
}
