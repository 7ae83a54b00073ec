package builder

import (
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/ggonzalez94/defi-compiler/internal/action"
	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/execution"
	"github.com/ggonzalez94/defi-compiler/internal/id"
	"github.com/ggonzalez94/defi-compiler/internal/normalize"
	"github.com/ggonzalez94/defi-compiler/internal/registry"
	"github.com/ggonzalez94/defi-compiler/internal/tokens"
)

const (
	safe     = "0x1111111111111111111111111111111111111111"
	usdcEth  = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	wethEth  = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	stETH    = "0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84"
	corePool = "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func newRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	r, err := NewRegistry(registry.Default(), tokens.Default(), opts...)
	require.NoError(t, err)
	return r
}

func normalized(req action.Request) action.Request {
	return normalize.New(registry.Default(), tokens.Default()).Normalize(req).Request
}

func requireCode(t *testing.T, err error, code clierr.Code) {
	t.Helper()
	require.Error(t, err)
	cErr, ok := clierr.As(err)
	require.True(t, ok, "expected typed error, got %v", err)
	require.Equal(t, code, cErr.Code, "unexpected code for %v", err)
}

func TestLidoStakeScenario(t *testing.T) {
	req := normalized(action.Request{Protocol: "lido", Action: "stake", Chain: "eth", Params: action.Params{"amount": "1"}})
	require.Equal(t, "deposit", req.Action)

	payload, err := newRegistry(t).Build(req)
	require.NoError(t, err)
	require.Equal(t, execution.KindSafeTx, payload.Kind)
	require.Equal(t, int64(1), payload.ChainID)
	require.Nil(t, payload.EIP712)

	tx := payload.SafeTx
	require.Equal(t, stETH, tx.To)
	require.Equal(t, "1000000000000000000", tx.Value)
	require.Equal(t, "submit", tx.Method.Name)
	require.True(t, tx.Method.Payable)
	require.Equal(t, execution.OperationCall, tx.Operation)
	require.Equal(t, id.ZeroAddress, tx.InputValues["_referral"])
}

func TestAaveSupplyScenario(t *testing.T) {
	req := normalized(action.Request{
		Protocol: "aave_v3",
		Action:   "supply",
		Chain:    "eth",
		Sender:   safe,
		Params:   action.Params{"tokens": []any{"USDC"}, "market": "core", "amount": "1.5"},
	})
	payload, err := newRegistry(t).Build(req)
	require.NoError(t, err)

	tx := payload.SafeTx
	require.Equal(t, corePool, tx.To)
	require.Equal(t, "supply", tx.Method.Name)
	require.Equal(t, map[string]string{
		"asset":        usdcEth,
		"amount":       "1500000",
		"onBehalfOf":   common.HexToAddress(safe).Hex(),
		"referralCode": "0",
	}, tx.InputValues)
	require.True(t, strings.HasPrefix(payload.Preview, "Supply 1.5 USDC on Aave V3 Core"), payload.Preview)
}

func TestAaveBorrowDefaultsToVariableRate(t *testing.T) {
	payload, err := newRegistry(t).Build(action.Request{
		Protocol: "spark",
		Action:   "borrow",
		Chain:    "gno",
		Sender:   safe,
		Params:   action.Params{"targets": []string{"USDC"}, "amount": "10"},
	})
	require.NoError(t, err)
	require.Equal(t, "borrow", payload.SafeTx.Method.Name)
	require.Equal(t, "2", payload.SafeTx.InputValues["interestRateMode"])
	require.Equal(t, "10000000", payload.SafeTx.InputValues["amount"])
}

func TestLendingRejectsNativeAndMultipleTargets(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Build(action.Request{Protocol: "aave_v3", Action: "deposit", Chain: "eth", Sender: safe, Params: action.Params{"targets": []string{"ETH"}, "amount": "1"}})
	requireCode(t, err, clierr.CodeResolution)

	_, err = r.Build(action.Request{Protocol: "aave_v3", Action: "deposit", Chain: "eth", Sender: safe, Params: action.Params{"targets": []string{"USDC", "DAI"}, "amount": "1"}})
	requireCode(t, err, clierr.CodeBuild)
}

func swapRequest(act string) action.Request {
	return normalized(action.Request{
		Protocol: "cowswap",
		Action:   act,
		Chain:    "eth",
		Sender:   safe,
		Params:   action.Params{"sell": "eth", "buy": "USDC", "amount": "1", "minAmountOut": "3000", "feeAmountBp": 25},
	})
}

func TestCowswapOrderIsTypedData(t *testing.T) {
	payload, err := newRegistry(t).Build(swapRequest("swap"))
	require.NoError(t, err)
	require.Equal(t, execution.KindEIP712, payload.Kind)
	require.Nil(t, payload.SafeTx)

	typed := payload.EIP712
	require.Equal(t, common.HexToAddress(safe).Hex(), typed.Signer)
	require.Equal(t, "Order", typed.PrimaryType)
	require.Equal(t, registry.CowswapSettlement, typed.Domain.VerifyingContract)

	msg := typed.Message
	require.Equal(t, wethEth, msg["sellToken"])
	require.Equal(t, usdcEth, msg["buyToken"])
	require.Equal(t, common.HexToAddress(safe).Hex(), msg["receiver"])
	require.Equal(t, "1000000000000000000", msg["sellAmount"])
	require.Equal(t, "3000000000", msg["buyAmount"])
	require.Equal(t, "1700001800", msg["validTo"])
	require.Equal(t, "0x"+strings.Repeat("0", 64), msg["appData"])
	require.Equal(t, "sell", msg["kind"])
	require.Equal(t, "erc20", msg["sellTokenBalance"])

	hash, err := typed.Hash()
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, hash)
}

func TestCowswapPreSignDelegateCalls(t *testing.T) {
	payload, err := newRegistry(t).Build(swapRequest("presign"))
	require.NoError(t, err)
	require.Equal(t, execution.KindSafeTx, payload.Kind)

	tx := payload.SafeTx
	require.Equal(t, common.HexToAddress(registry.CowswapOrderSigner).Hex(), tx.To)
	require.Equal(t, execution.OperationDelegateCall, tx.Operation)
	require.Equal(t, "signOrder", tx.Method.Name)
	require.Equal(t, "1800", tx.InputValues["validDuration"])
	require.Equal(t, "25", tx.InputValues["feeAmountBP"])
	require.Contains(t, tx.InputValues["order"], wethEth)
	require.NotEqual(t, "0x", tx.Data)
}

func TestCowswapNeedsBothAmounts(t *testing.T) {
	req := swapRequest("swap")
	delete(req.Params, "minAmountOut")
	_, err := newRegistry(t).Build(req)
	requireCode(t, err, clierr.CodeBuild)
	require.Contains(t, err.Error(), "minAmountOut")
}

func TestApproveMaxIsMaxUint256(t *testing.T) {
	r := newRegistry(t)
	for _, amount := range []string{"MAX", "max", "Max"} {
		payload, err := r.Build(action.Request{Protocol: "erc20", Action: "approve", Chain: "eth", Params: action.Params{"token": "USDC", "spender": registry.CowswapVaultRelayer, "amount": amount}})
		require.NoError(t, err)
		require.Equal(t, usdcEth, payload.SafeTx.To)
		require.Equal(t, id.MaxUint256.String(), payload.SafeTx.InputValues["amount"])
	}
}

func TestApproveDecimalAmount(t *testing.T) {
	payload, err := newRegistry(t).Build(action.Request{Protocol: "erc20", Action: "approve", Chain: "eth", Params: action.Params{"token": "usdc", "spender": safe, "amount": "1.5"}})
	require.NoError(t, err)
	require.Equal(t, "1500000", payload.SafeTx.InputValues["amount"])
}

func TestApproveUnknownToken(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Build(action.Request{Protocol: "erc20", Action: "approve", Chain: "eth", Params: action.Params{"token": "NOPE", "spender": safe, "amount": "1"}})
	requireCode(t, err, clierr.CodeResolution)
	require.Contains(t, err.Error(), "NOPE")

	unknown := "0x2222222222222222222222222222222222222222"
	payload, err := r.Build(action.Request{Protocol: "erc20", Action: "approve", Chain: "eth", Params: action.Params{"token": unknown, "spender": safe, "amount": "max"}})
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(unknown).Hex(), payload.SafeTx.To)

	_, err = r.Build(action.Request{Protocol: "erc20", Action: "approve", Chain: "eth", Params: action.Params{"token": unknown, "spender": safe, "amount": "1"}})
	requireCode(t, err, clierr.CodeResolution)
}

func TestMissingFieldIsNamed(t *testing.T) {
	_, err := newRegistry(t).Build(action.Request{Protocol: "lido", Action: "deposit", Chain: "eth"})
	requireCode(t, err, clierr.CodeBuild)
	require.Contains(t, err.Error(), "amount")
}

func TestUnsupportedTripleFailsBeforeResolution(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Build(action.Request{Protocol: "lido", Action: "deposit", Chain: "gno", Params: action.Params{"amount": "1"}})
	requireCode(t, err, clierr.CodeUnsupported)

	_, err = r.Build(action.Request{Protocol: "uniswap_v3", Action: "deposit", Chain: "eth"})
	requireCode(t, err, clierr.CodeUnsupported)

	// An unresolvable token would be a resolution error if resolution ran.
	_, err = r.Build(action.Request{Protocol: "cowswap", Action: "swap", Chain: "oeth", Sender: safe, Params: action.Params{"sell": []string{"NOPE"}}})
	requireCode(t, err, clierr.CodeUnsupported)

	_, err = r.Build(action.Request{Protocol: "lido", Action: "deposit", Chain: "mars"})
	requireCode(t, err, clierr.CodeUnsupported)
}

func TestNoTwoBuildersOverlap(t *testing.T) {
	r := newRegistry(t)
	reg := registry.Default()
	for _, protocol := range reg.ListProtocols() {
		cfg, _ := reg.Get(protocol)
		for _, act := range cfg.Actions {
			for _, chain := range id.ChainPrefixes() {
				claims := 0
				for _, b := range r.Bindings() {
					if r.Supports(b, protocol, act, chain) {
						claims++
					}
				}
				require.LessOrEqual(t, claims, 1, "%s %s on %s is claimed %d times", protocol, act, chain, claims)
			}
		}
	}
}

func TestNewRegistryRejectsBadTables(t *testing.T) {
	dup := append(DefaultBindings(), Binding{Protocol: "lido", Action: "deposit", Builder: lidoStakeBuilder{}})
	_, err := NewRegistry(registry.Default(), tokens.Default(), WithBindings(dup))
	requireCode(t, err, clierr.CodeInternal)

	undeclared := []Binding{{Protocol: "lido", Action: "withdraw", Builder: lidoStakeBuilder{}}}
	_, err = NewRegistry(registry.Default(), tokens.Default(), WithBindings(undeclared))
	requireCode(t, err, clierr.CodeInternal)

	_, err = NewRegistry(registry.Default(), tokens.Default(), WithBindings([]Binding{{Protocol: "lido", Action: "deposit"}}))
	requireCode(t, err, clierr.CodeInternal)
}

func TestAmountsBeyondUint256AreRejected(t *testing.T) {
	r := newRegistry(t)
	huge := "1" + strings.Repeat("0", 78)

	_, err := r.Build(action.Request{Protocol: "erc20", Action: "approve", Chain: "eth", Params: action.Params{"token": "USDC", "spender": safe, "amount": huge}})
	requireCode(t, err, clierr.CodeUsage)

	_, err = r.Build(action.Request{Protocol: "aave_v3", Action: "deposit", Chain: "eth", Sender: safe, Params: action.Params{"targets": []string{"USDC"}, "amount": huge}})
	requireCode(t, err, clierr.CodeUsage)

	_, err = r.Build(action.Request{Protocol: "lido", Action: "deposit", Chain: "eth", Params: action.Params{"amount": huge}})
	requireCode(t, err, clierr.CodeUsage)

	for _, field := range []string{"amount", "minAmountOut"} {
		req := swapRequest("swap")
		req.Params[field] = huge
		_, err = r.Build(req)
		requireCode(t, err, clierr.CodeUsage)
	}
}

func TestLendingRejectsFractionalIntegerFields(t *testing.T) {
	r := newRegistry(t)
	base := func(act string, extra action.Params) action.Request {
		params := action.Params{"targets": []string{"USDC"}, "amount": "1"}
		for k, v := range extra {
			params[k] = v
		}
		return action.Request{Protocol: "aave_v3", Action: act, Chain: "eth", Sender: safe, Params: params}
	}

	_, err := r.Build(base("deposit", action.Params{"referralCode": 1.7}))
	requireCode(t, err, clierr.CodeBuild)
	_, err = r.Build(base("borrow", action.Params{"interestRateMode": 1.5}))
	requireCode(t, err, clierr.CodeBuild)
	_, err = r.Build(base("borrow", action.Params{"interestRateMode": float64(3)}))
	requireCode(t, err, clierr.CodeBuild)

	payload, err := r.Build(base("borrow", action.Params{"interestRateMode": float64(1), "referralCode": float64(7)}))
	require.NoError(t, err)
	require.Equal(t, "1", payload.SafeTx.InputValues["interestRateMode"])
	require.Equal(t, "7", payload.SafeTx.InputValues["referralCode"])
}

func TestCowswapRejectsFractionalTTLAndFee(t *testing.T) {
	r := newRegistry(t)
	for field, value := range map[string]float64{"ttl": 1800.5, "feeAmountBp": 2.5} {
		req := swapRequest("presign")
		req.Params[field] = value
		_, err := r.Build(req)
		requireCode(t, err, clierr.CodeBuild)
	}
}
