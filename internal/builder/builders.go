package builder

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/defi-compiler/internal/action"
	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/execution"
	"github.com/ggonzalez94/defi-compiler/internal/id"
	"github.com/ggonzalez94/defi-compiler/internal/registry"
	"github.com/ggonzalez94/defi-compiler/internal/tokens"
)

var (
	erc20ABI         = mustABI(registry.ERC20ApproveABI)
	aavePoolABI      = mustABI(registry.AavePoolLendingABI)
	lidoABI          = mustABI(registry.LidoSubmitABI)
	cowswapSignerABI = mustABI(registry.CowswapOrderSignerABI)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

const (
	defaultMarket   = "Core"
	defaultRateMode = 2
)

// wholeNumber reads an optional integer parameter within [lo, hi].
// Fractions are rejected, never truncated.
func wholeNumber(req action.Request, name string, lo, hi float64) (int64, bool, error) {
	n, ok := req.Params.Number(name)
	if !ok {
		return 0, false, nil
	}
	if n != math.Trunc(n) {
		return 0, true, buildErr("%s must be a whole number, got %v", name, n)
	}
	if n < lo || n > hi {
		return 0, true, buildErr("%s must be between %v and %v, got %v", name, lo, hi, n)
	}
	return int64(n), true, nil
}

// aaveLendingBuilder builds pool supply and borrow calls for Aave V3 style
// lending markets.
type aaveLendingBuilder struct{}

func (aaveLendingBuilder) Name() string { return "aave_lending" }

func (aaveLendingBuilder) Build(env Env, req action.Request) (execution.Payload, error) {
	token, err := single(env, req, "targets")
	if err != nil {
		return execution.Payload{}, err
	}
	if tokens.IsNativeAlias(token, env.Chain) {
		return execution.Payload{}, clierr.New(clierr.CodeResolution, fmt.Sprintf("%s pools take %s, not native %s", env.Protocol.Name, env.Chain.WrappedSymbol, token))
	}
	amount, ok := req.Params.String("amount")
	if !ok {
		return execution.Payload{}, missing("amount", env, req)
	}
	onBehalfOf, err := accountOrSender(env, req, "onBehalfOf")
	if err != nil {
		return execution.Payload{}, err
	}

	marketName, _ := req.Params.String("market")
	if marketName == "" {
		marketName = defaultMarket
	}
	market, pool, ok := env.Deployment.Market(marketName)
	if !ok {
		return execution.Payload{}, buildErr("market %s is not available on %s (available: %s)", marketName, env.Chain.Prefix, strings.Join(env.Deployment.MarketNames(), ", "))
	}
	info, err := resolveToken(env, token)
	if err != nil {
		return execution.Payload{}, err
	}
	baseUnits, err := id.ToBaseUnitsBig(amount, info.Decimals)
	if err != nil {
		return execution.Payload{}, err
	}
	code, _, err := wholeNumber(req, "referralCode", 0, math.MaxUint16)
	if err != nil {
		return execution.Payload{}, err
	}
	referral := uint16(code)

	asset := common.HexToAddress(info.Address)
	var tx *execution.SafeTx
	verb := "Supply"
	switch req.Action {
	case "deposit":
		tx, err = execution.NewCall(aavePoolABI, "supply", pool, nil, execution.OperationCall,
			asset, baseUnits, onBehalfOf, referral)
	case "borrow":
		verb = "Borrow"
		rateMode, set, rerr := wholeNumber(req, "interestRateMode", 1, 2)
		if rerr != nil {
			return execution.Payload{}, rerr
		}
		if !set {
			rateMode = defaultRateMode
		}
		tx, err = execution.NewCall(aavePoolABI, "borrow", pool, nil, execution.OperationCall,
			asset, baseUnits, big.NewInt(rateMode), referral, onBehalfOf)
	default:
		return execution.Payload{}, buildErr("%s cannot build action %s", env.Protocol.ID, req.Action)
	}
	if err != nil {
		return execution.Payload{}, clierr.Wrap(clierr.CodeInternal, "pack lending calldata", err)
	}
	return execution.Payload{
		Kind:    execution.KindSafeTx,
		Preview: fmt.Sprintf("%s %s %s on %s %s (%s)", verb, id.NormalizeDecimal(amount), info.Symbol, env.Protocol.Name, market, env.Chain.Name),
		SafeTx:  tx,
	}, nil
}

// lidoStakeBuilder attaches the amount as native value to submit.
type lidoStakeBuilder struct{}

func (lidoStakeBuilder) Name() string { return "lido_stake" }

func (lidoStakeBuilder) Build(env Env, req action.Request) (execution.Payload, error) {
	amount, ok := req.Params.String("amount")
	if !ok {
		return execution.Payload{}, missing("amount", env, req)
	}
	stETH, ok := env.Deployment.Contract(registry.ContractStETH)
	if !ok {
		return execution.Payload{}, buildErr("%s has no stETH contract on %s", env.Protocol.Name, env.Chain.Prefix)
	}
	value, err := id.ToBaseUnitsBig(amount, 18)
	if err != nil {
		return execution.Payload{}, err
	}
	if value.Sign() <= 0 {
		return execution.Payload{}, buildErr("amount must be positive")
	}
	referral := id.ZeroAddress
	if v, ok := req.Params.String("referral"); ok {
		if !id.IsAddress(v) {
			return execution.Payload{}, buildErr("referral must be an address, got %s", v)
		}
		referral = v
	}
	tx, err := execution.NewCall(lidoABI, "submit", stETH, value, execution.OperationCall, common.HexToAddress(referral))
	if err != nil {
		return execution.Payload{}, clierr.Wrap(clierr.CodeInternal, "pack lido submit calldata", err)
	}
	return execution.Payload{
		Kind:    execution.KindSafeTx,
		Preview: fmt.Sprintf("Stake %s %s with %s (%s)", id.NormalizeDecimal(amount), env.Chain.NativeSymbol, env.Protocol.Name, env.Chain.Name),
		SafeTx:  tx,
	}, nil
}

// approveBuilder builds ERC-20 approve calls. "max" approves 2^256-1.
type approveBuilder struct{}

func (approveBuilder) Name() string { return "erc20_approve" }

func (approveBuilder) Build(env Env, req action.Request) (execution.Payload, error) {
	token, ok := req.Params.String("token")
	if !ok {
		return execution.Payload{}, missing("token", env, req)
	}
	spender, ok := req.Params.String("spender")
	if !ok {
		return execution.Payload{}, missing("spender", env, req)
	}
	if !id.IsAddress(spender) {
		return execution.Payload{}, buildErr("spender must be an address, got %s", spender)
	}
	amount, ok := req.Params.String("amount")
	if !ok {
		return execution.Payload{}, missing("amount", env, req)
	}
	unlimited := strings.EqualFold(amount, "max")
	info, err := resolveToken(env, token)
	if err != nil {
		// An unlimited allowance needs no decimals, so any token address works.
		if !unlimited || !id.IsAddress(token) {
			return execution.Payload{}, err
		}
		info = tokens.TokenInfo{Address: token, Symbol: common.HexToAddress(token).Hex()}
	}

	var (
		value   *big.Int
		display string
	)
	if unlimited {
		value = new(big.Int).Set(id.MaxUint256)
		display = "unlimited"
	} else {
		value, err = id.ToBaseUnitsBig(amount, info.Decimals)
		if err != nil {
			return execution.Payload{}, err
		}
		display = id.NormalizeDecimal(amount)
	}
	tx, err := execution.NewCall(erc20ABI, "approve", info.Address, nil, execution.OperationCall, common.HexToAddress(spender), value)
	if err != nil {
		return execution.Payload{}, clierr.Wrap(clierr.CodeInternal, "pack approve calldata", err)
	}
	return execution.Payload{
		Kind:    execution.KindSafeTx,
		Preview: fmt.Sprintf("Approve %s %s for %s (%s)", display, info.Symbol, common.HexToAddress(spender).Hex(), env.Chain.Name),
		SafeTx:  tx,
	}, nil
}

// accountOrSender returns the address in field, falling back to the sender.
func accountOrSender(env Env, req action.Request, field string) (common.Address, error) {
	if v, ok := req.Params.String(field); ok {
		if !id.IsAddress(v) {
			return common.Address{}, buildErr("%s must be an address, got %s", field, v)
		}
		return common.HexToAddress(v), nil
	}
	if !id.IsAddress(req.Sender) {
		return common.Address{}, missing("sender", env, req)
	}
	return common.HexToAddress(req.Sender), nil
}
