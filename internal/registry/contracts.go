package registry

// CoW Protocol contracts share one address on every chain they are deployed on.
const (
	CowswapSettlement   = "0x9008D19f58AAbD9eD0D60971565AA8510560ab41"
	CowswapVaultRelayer = "0xC92E8bdf79f0507f65a392b0ab4667716BFE0110"
	CowswapOrderSigner  = "0x23dA9AdE38E4477b23770DeD512fD37b12381FAB"
)

// Contract role names used in Deployment.Contracts.
const (
	ContractSettlement      = "settlement"
	ContractVaultRelayer    = "vaultRelayer"
	ContractOrderSigner     = "orderSigner"
	ContractStETH           = "stETH"
	ContractWstETH          = "wstETH"
	ContractPositionManager = "positionManager"
)

// GPv2 order domain.
const (
	CowswapDomainName    = "Gnosis Protocol"
	CowswapDomainVersion = "v2"
)
