package builder

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ggonzalez94/defi-compiler/internal/action"
	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/execution"
	"github.com/ggonzalez94/defi-compiler/internal/id"
	"github.com/ggonzalez94/defi-compiler/internal/registry"
	"github.com/ggonzalez94/defi-compiler/internal/tokens"
)

const (
	defaultOrderTTL = 1800
	maxOrderTTL     = 31536000
	orderKindSell   = "sell"
	balanceERC20    = "erc20"
)

var (
	kindSellMarker     = crypto.Keccak256Hash([]byte(orderKindSell))
	balanceERC20Marker = crypto.Keccak256Hash([]byte(balanceERC20))
)

// OrderTypes is the GPv2 order type schema.
var OrderTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": {
		{Name: "sellToken", Type: "address"},
		{Name: "buyToken", Type: "address"},
		{Name: "receiver", Type: "address"},
		{Name: "sellAmount", Type: "uint256"},
		{Name: "buyAmount", Type: "uint256"},
		{Name: "validTo", Type: "uint32"},
		{Name: "appData", Type: "bytes32"},
		{Name: "feeAmount", Type: "uint256"},
		{Name: "kind", Type: "string"},
		{Name: "partiallyFillable", Type: "bool"},
		{Name: "sellTokenBalance", Type: "string"},
		{Name: "buyTokenBalance", Type: "string"},
	},
}

// gpv2Order mirrors the order tuple taken by the order signer. Field order
// matches the ABI components.
type gpv2Order struct {
	SellToken         common.Address
	BuyToken          common.Address
	Receiver          common.Address
	SellAmount        *big.Int
	BuyAmount         *big.Int
	ValidTo           uint32
	AppData           [32]byte
	FeeAmount         *big.Int
	Kind              [32]byte
	PartiallyFillable bool
	SellTokenBalance  [32]byte
	BuyTokenBalance   [32]byte
}

type order struct {
	sell, buy   tokens.TokenInfo
	sellAmount  string
	buyAmount   string
	sellUnits   *big.Int
	buyUnits    *big.Int
	sender      common.Address
	receiver    common.Address
	ttl         uint32
	validTo     uint32
	feeAmountBp *big.Int
	twap        bool
}

// newOrder collects the shared order fields. Native legs become the wrapped
// token since an order leg is always an ERC-20.
func newOrder(env Env, req action.Request) (order, error) {
	if !id.IsAddress(req.Sender) {
		return order{}, missing("sender", env, req)
	}
	sellToken, err := single(env, req, "sell")
	if err != nil {
		return order{}, err
	}
	buyToken, err := single(env, req, "buy")
	if err != nil {
		return order{}, err
	}
	sellAmount, ok := req.Params.String("amount")
	if !ok {
		return order{}, missing("amount", env, req)
	}
	buyAmount, ok := req.Params.String("minAmountOut")
	if !ok {
		return order{}, missing("minAmountOut", env, req)
	}
	sell, err := resolveToken(env, sellToken)
	if err != nil {
		return order{}, err
	}
	buy, err := resolveToken(env, buyToken)
	if err != nil {
		return order{}, err
	}
	if common.HexToAddress(sell.Address) == common.HexToAddress(buy.Address) {
		return order{}, buildErr("cannot swap %s for itself", sell.Symbol)
	}
	sellUnits, err := id.ToBaseUnitsBig(sellAmount, sell.Decimals)
	if err != nil {
		return order{}, err
	}
	buyUnits, err := id.ToBaseUnitsBig(buyAmount, buy.Decimals)
	if err != nil {
		return order{}, err
	}
	if sellUnits.Sign() <= 0 {
		return order{}, buildErr("amount must be positive")
	}

	o := order{
		sell:        sell,
		buy:         buy,
		sellAmount:  id.NormalizeDecimal(sellAmount),
		buyAmount:   id.NormalizeDecimal(buyAmount),
		sellUnits:   sellUnits,
		buyUnits:    buyUnits,
		sender:      common.HexToAddress(req.Sender),
		ttl:         defaultOrderTTL,
		feeAmountBp: new(big.Int),
	}
	o.receiver = o.sender
	if v, ok := req.Params.String("receiver"); ok {
		if !id.IsAddress(v) {
			return order{}, buildErr("receiver must be an address, got %s", v)
		}
		o.receiver = common.HexToAddress(v)
	}
	ttl, set, err := wholeNumber(req, "ttl", 1, maxOrderTTL)
	if err != nil {
		return order{}, err
	}
	if set {
		o.ttl = uint32(ttl)
	}
	fee, _, err := wholeNumber(req, "feeAmountBp", 0, 10000)
	if err != nil {
		return order{}, err
	}
	o.feeAmountBp = big.NewInt(fee)
	o.twap, _ = req.Params.Bool("twap")
	o.validTo = uint32(env.Now.Unix()) + o.ttl
	return o, nil
}

func (o order) preview(env Env) string {
	deadline := time.Unix(int64(o.validTo), 0).UTC().Format(time.RFC3339)
	return fmt.Sprintf("Swap %s %s for at least %s %s on %s, valid until %s", o.sellAmount, o.sell.Symbol, o.buyAmount, o.buy.Symbol, env.Chain.Name, deadline)
}

func (o order) tuple() gpv2Order {
	return gpv2Order{
		SellToken:        common.HexToAddress(o.sell.Address),
		BuyToken:         common.HexToAddress(o.buy.Address),
		Receiver:         o.receiver,
		SellAmount:       o.sellUnits,
		BuyAmount:        o.buyUnits,
		ValidTo:          o.validTo,
		FeeAmount:        new(big.Int),
		Kind:             kindSellMarker,
		SellTokenBalance: balanceERC20Marker,
		BuyTokenBalance:  balanceERC20Marker,
	}
}

func (o order) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"sellToken":         common.HexToAddress(o.sell.Address).Hex(),
		"buyToken":          common.HexToAddress(o.buy.Address).Hex(),
		"receiver":          o.receiver.Hex(),
		"sellAmount":        o.sellUnits.String(),
		"buyAmount":         o.buyUnits.String(),
		"validTo":           strconv.FormatUint(uint64(o.validTo), 10),
		"appData":           hexutil.Encode(make([]byte, 32)),
		"feeAmount":         "0",
		"kind":              orderKindSell,
		"partiallyFillable": false,
		"sellTokenBalance":  balanceERC20,
		"buyTokenBalance":   balanceERC20,
	}
}

func contract(env Env, name string) (string, error) {
	addr, ok := env.Deployment.Contract(name)
	if !ok {
		return "", buildErr("%s has no %s contract on %s", env.Protocol.Name, name, env.Chain.Prefix)
	}
	return addr, nil
}

// cowswapOrderBuilder emits the order as an EIP-712 signing request.
type cowswapOrderBuilder struct{}

func (cowswapOrderBuilder) Name() string { return "cowswap_order" }

func (cowswapOrderBuilder) Build(env Env, req action.Request) (execution.Payload, error) {
	o, err := newOrder(env, req)
	if err != nil {
		return execution.Payload{}, err
	}
	settlement, err := contract(env, registry.ContractSettlement)
	if err != nil {
		return execution.Payload{}, err
	}
	relayer, err := contract(env, registry.ContractVaultRelayer)
	if err != nil {
		return execution.Payload{}, err
	}
	typed := apitypes.TypedData{
		Types:       OrderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              registry.CowswapDomainName,
			Version:           registry.CowswapDomainVersion,
			ChainId:           math.NewHexOrDecimal256(env.Chain.EVMChainID),
			VerifyingContract: settlement,
		},
		Message: o.message(),
	}
	return execution.Payload{
		Kind:    execution.KindEIP712,
		Preview: o.preview(env),
		EIP712: &execution.TypedDataRequest{
			TypedData: typed,
			Signer:    o.sender.Hex(),
			Metadata: map[string]any{
				"allowanceTarget": relayer,
				"feeAmountBp":     o.feeAmountBp.String(),
				"twap":            o.twap,
			},
		},
	}, nil
}

// cowswapPreSignBuilder pre-authorizes the same order from a Safe by
// delegate-calling the order signer.
type cowswapPreSignBuilder struct{}

func (cowswapPreSignBuilder) Name() string { return "cowswap_presign" }

func (cowswapPreSignBuilder) Build(env Env, req action.Request) (execution.Payload, error) {
	o, err := newOrder(env, req)
	if err != nil {
		return execution.Payload{}, err
	}
	signer, err := contract(env, registry.ContractOrderSigner)
	if err != nil {
		return execution.Payload{}, err
	}
	tx, err := execution.NewCall(cowswapSignerABI, "signOrder", signer, nil, execution.OperationDelegateCall,
		o.tuple(), o.ttl, o.feeAmountBp)
	if err != nil {
		return execution.Payload{}, clierr.Wrap(clierr.CodeInternal, "pack signOrder calldata", err)
	}
	return execution.Payload{
		Kind:    execution.KindSafeTx,
		Preview: "Pre-sign: " + o.preview(env),
		SafeTx:  tx,
	}, nil
}
