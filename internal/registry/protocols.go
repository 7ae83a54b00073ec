package registry

import "github.com/ggonzalez94/defi-compiler/internal/id"

const (
	decimalAmountPattern = `^[0-9]+(\.[0-9]+)?$`
	approveAmountPattern = `^(?i:max)$|^[0-9]+(\.[0-9]+)?$`
	positionIDPattern    = `^[0-9]+$`
)

// FeeTiers are the canonical concentrated-liquidity fee tiers.
var FeeTiers = []string{"0.01%", "0.05%", "0.3%", "1%"}

func bound(v float64) *float64 { return &v }

// deployments marks every known chain unsupported except those given.
func deployments(supported map[string]Deployment) map[string]Deployment {
	out := make(map[string]Deployment, len(id.ChainPrefixes()))
	for _, chain := range id.ChainPrefixes() {
		if d, ok := supported[chain]; ok {
			d.Supported = true
			out[chain] = d
			continue
		}
		out[chain] = Deployment{}
	}
	return out
}

func lendingParams(markets []string, borrow bool) map[string]ParameterSchema {
	params := map[string]ParameterSchema{
		"targets": {
			Type:        TypeStringArray,
			Required:    true,
			Description: "Token symbols or addresses of the reserves to use.",
		},
		"market": {
			Type:        TypeString,
			Description: "Named market. Defaults to Core.",
			Constraints: &Constraints{Enum: markets, Market: true},
		},
		"amount": {
			Type:         TypeString,
			Description:  "Human-readable amount of the asset, for example 1.5.",
			Constraints:  &Constraints{Pattern: decimalAmountPattern, Amount: true},
			Dependencies: []string{"targets"},
		},
		"onBehalfOf": {
			Type:        TypeAddress,
			Description: "Account credited with the position. Defaults to the sender.",
			Constraints: &Constraints{Address: true},
		},
		"referralCode": {
			Type:        TypeNumber,
			Description: "Referral code forwarded to the pool.",
			Constraints: &Constraints{Min: bound(0), Max: bound(65535), Integer: true},
		},
	}
	if borrow {
		params["interestRateMode"] = ParameterSchema{
			Type:        TypeNumber,
			Description: "Interest rate mode. 2 is variable, 1 is stable.",
			Constraints: &Constraints{Min: bound(1), Max: bound(2), Integer: true},
		}
		params["delegatee"] = ParameterSchema{
			Type:        TypeAddress,
			Description: "Credit delegatee allowed to borrow against the position.",
			Constraints: &Constraints{Address: true},
		}
	}
	return params
}

var lendingMappings = []ParameterMappingRule{
	{From: "tokens", To: "targets"},
	{From: "asset", To: "targets"},
	{From: "token", To: "targets"},
}

var lendingAliases = map[string]string{
	"supply": "deposit",
	"lend":   "deposit",
}

func aaveV3() ProtocolConfig {
	markets := []string{"Core", "EtherFi", "Prime"}
	return ProtocolConfig{
		ID:          "aave_v3",
		Name:        "Aave V3",
		Description: "Supply, borrow and stake on Aave V3 markets.",
		Actions:     []string{"deposit", "borrow", "stake"},
		Parameters: map[string]map[string]ParameterSchema{
			"deposit": lendingParams(markets, false),
			"borrow":  lendingParams(markets, true),
			"stake": {
				"targets": {
					Type:        TypeStringArray,
					Required:    true,
					Description: "Assets to stake in the safety module.",
					Constraints: &Constraints{Enum: []string{"AAVE", "GHO", "ABPT"}},
				},
				"delegatee": {
					Type:        TypeAddress,
					Description: "Governance delegatee for the staked position.",
					Constraints: &Constraints{Address: true},
				},
			},
		},
		Deployments: deployments(map[string]Deployment{
			"eth": {Markets: map[string]string{
				"Core":    "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2",
				"Prime":   "0x4e033931ad43597d96D6bcc25c280717730B58B1",
				"EtherFi": "0x0AA97c284e98396202b6A04024F5E2c65026F3c0",
			}},
			"gno":  {Markets: map[string]string{"Core": "0xb50201558B00496A145fE76f7424749556E326D8"}},
			"arb1": {Markets: map[string]string{"Core": "0x794a61358D6845594F94dc1DB02A252b5b4814aD"}},
			"oeth": {Markets: map[string]string{"Core": "0x794a61358D6845594F94dc1DB02A252b5b4814aD"}},
			"base": {Markets: map[string]string{"Core": "0xA238Dd80C259a72e81d7e4664a9801593F98d1c5"}},
		}),
		Mappings:    lendingMappings,
		Aliases:     lendingAliases,
		TokenPolicy: &TokenPolicy{KeepNative: true, Fields: []string{"targets"}},
	}
}

func spark() ProtocolConfig {
	markets := []string{"Core"}
	return ProtocolConfig{
		ID:          "spark",
		Name:        "Spark",
		Description: "Supply and borrow on SparkLend.",
		Actions:     []string{"deposit", "borrow"},
		Parameters: map[string]map[string]ParameterSchema{
			"deposit": lendingParams(markets, false),
			"borrow":  lendingParams(markets, true),
		},
		Deployments: deployments(map[string]Deployment{
			"eth": {Markets: map[string]string{"Core": "0xC13e21B648A5Ee794902342038FF3aDAB66BE987"}},
			"gno": {Markets: map[string]string{"Core": "0x2Dae5307c5E3FD1CF5A72Cb6F698f915860607e0"}},
		}),
		Mappings:    lendingMappings,
		Aliases:     lendingAliases,
		TokenPolicy: &TokenPolicy{KeepNative: true, Fields: []string{"targets"}},
	}
}

func lido() ProtocolConfig {
	return ProtocolConfig{
		ID:          "lido",
		Name:        "Lido",
		Description: "Stake ETH for stETH.",
		Actions:     []string{"deposit"},
		Parameters: map[string]map[string]ParameterSchema{
			"deposit": {
				"amount": {
					Type:        TypeString,
					Description: "Amount of ETH to stake, for example 1.5.",
					Constraints: &Constraints{Pattern: decimalAmountPattern, Amount: true},
				},
				"referral": {
					Type:        TypeAddress,
					Description: "Referral address. Defaults to the zero address.",
					Constraints: &Constraints{Address: true},
				},
			},
		},
		Deployments: deployments(map[string]Deployment{
			"eth": {Contracts: map[string]string{
				ContractStETH:  "0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84",
				ContractWstETH: "0x7f39C581F595B53c5cb19bD0b3f8dA6c935E2Ca0",
			}},
		}),
		Aliases: map[string]string{
			"stake":  "deposit",
			"submit": "deposit",
		},
	}
}

func cowswapParams() map[string]ParameterSchema {
	return map[string]ParameterSchema{
		"sell": {
			Type:        TypeStringArray,
			Description: "Tokens that may be sold.",
		},
		"buy": {
			Type:        TypeStringArray,
			Description: "Tokens that may be bought.",
		},
		"receiver": {
			Type:        TypeAddress,
			Description: "Recipient of the bought tokens. Defaults to the sender.",
			Constraints: &Constraints{Address: true},
		},
		"twap": {
			Type:        TypeBoolean,
			Description: "Split the order over time. Requires an explicit receiver.",
		},
		"feeAmountBp": {
			Type:        TypeNumber,
			Description: "Maximum fee in basis points.",
			Constraints: &Constraints{Min: bound(0), Max: bound(10000), Integer: true},
		},
		"amount": {
			Type:         TypeString,
			Description:  "Human-readable amount of the sell token.",
			Constraints:  &Constraints{Pattern: decimalAmountPattern, Amount: true},
			Dependencies: []string{"sell"},
		},
		"minAmountOut": {
			Type:         TypeString,
			Description:  "Minimum human-readable amount of the buy token.",
			Constraints:  &Constraints{Pattern: decimalAmountPattern, Amount: true},
			Dependencies: []string{"buy"},
		},
		"ttl": {
			Type:        TypeNumber,
			Description: "Order validity in seconds. Defaults to 1800.",
			Constraints: &Constraints{Min: bound(60), Max: bound(31536000), Integer: true},
		},
	}
}

func cowswap() ProtocolConfig {
	contracts := map[string]string{
		ContractSettlement:   CowswapSettlement,
		ContractVaultRelayer: CowswapVaultRelayer,
		ContractOrderSigner:  CowswapOrderSigner,
	}
	return ProtocolConfig{
		ID:          "cowswap",
		Name:        "CoW Swap",
		Description: "Swap tokens through CoW Protocol batch auctions.",
		Actions:     []string{"swap", "presign"},
		BuilderOnly: []string{"presign"},
		Parameters: map[string]map[string]ParameterSchema{
			"swap":    cowswapParams(),
			"presign": cowswapParams(),
		},
		Deployments: deployments(map[string]Deployment{
			"eth":  {Contracts: contracts},
			"gno":  {Contracts: contracts},
			"arb1": {Contracts: contracts},
			"base": {Contracts: contracts},
		}),
		Mappings: []ParameterMappingRule{
			{From: "from", To: "sell"},
			{From: "to", To: "buy"},
			{From: "sellToken", To: "sell"},
			{From: "buyToken", To: "buy"},
			{From: "recipient", To: "receiver"},
		},
		Aliases: map[string]string{
			"trade":    "swap",
			"exchange": "swap",
		},
		TokenPolicy: &TokenPolicy{ResolveAddresses: true, Fields: []string{"sell", "buy"}},
	}
}

func uniswapV3() ProtocolConfig {
	manager := map[string]string{ContractPositionManager: "0xC36442b4a4522E871399CD717aBDD847Ab11FE88"}
	return ProtocolConfig{
		ID:          "uniswap_v3",
		Name:        "Uniswap V3",
		Description: "Provide concentrated liquidity on Uniswap V3.",
		Actions:     []string{"deposit"},
		Parameters: map[string]map[string]ParameterSchema{
			"deposit": {
				"tokens": {
					Type:        TypeStringArray,
					Description: "Pool tokens. Two are needed to mint a new position.",
				},
				"fees": {
					Type:         TypeStringArray,
					Description:  "Fee tiers of the pools.",
					Constraints:  &Constraints{Enum: FeeTiers},
					Dependencies: []string{"tokens"},
				},
				"targets": {
					Type:        TypeStringArray,
					Description: "Existing position NFT ids.",
					Constraints: &Constraints{Pattern: positionIDPattern},
				},
				"recipient": {
					Type:        TypeAddress,
					Description: "Recipient of newly minted positions.",
					Constraints: &Constraints{Address: true},
				},
			},
		},
		Deployments: deployments(map[string]Deployment{
			"eth":  {Contracts: manager},
			"arb1": {Contracts: manager},
			"oeth": {Contracts: manager},
			"base": {Contracts: map[string]string{ContractPositionManager: "0x03a520b32C04BF3bEEf7BEb72E919cf822Ed34f1"}},
		}),
		Mappings: []ParameterMappingRule{
			{From: "fee", To: "fees"},
			{From: "positions", To: "targets"},
		},
		Aliases: map[string]string{
			"provide":       "deposit",
			"add_liquidity": "deposit",
		},
		TokenPolicy: &TokenPolicy{Fields: []string{"tokens"}},
	}
}

func erc20() ProtocolConfig {
	all := map[string]Deployment{}
	for _, chain := range id.ChainPrefixes() {
		all[chain] = Deployment{}
	}
	return ProtocolConfig{
		ID:          "erc20",
		Name:        "ERC-20",
		Description: "Token allowance management.",
		Actions:     []string{"approve"},
		BuilderOnly: []string{"approve"},
		Parameters: map[string]map[string]ParameterSchema{
			"approve": {
				"token": {
					Type:        TypeString,
					Required:    true,
					Description: "Token symbol or address.",
				},
				"spender": {
					Type:        TypeAddress,
					Required:    true,
					Description: "Address allowed to spend the token.",
					Constraints: &Constraints{Address: true},
				},
				"amount": {
					Type:        TypeString,
					Required:    true,
					Description: "Human-readable allowance, or max for unlimited.",
					Constraints: &Constraints{Pattern: approveAmountPattern, Amount: true},
				},
			},
		},
		Deployments: deployments(all),
		Mappings:    []ParameterMappingRule{{From: "asset", To: "token"}},
	}
}

// BuiltinProtocols returns fresh copies of the compiled-in protocol table.
func BuiltinProtocols() []ProtocolConfig {
	return []ProtocolConfig{aaveV3(), spark(), lido(), cowswap(), uniswapV3(), erc20()}
}
