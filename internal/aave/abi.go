package aave

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const dataProviderABI = `[
{"name":"getReserveData","type":"function","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[
 {"name":"unbacked","type":"uint256"},{"name":"accruedToTreasuryScaled","type":"uint256"},{"name":"totalAToken","type":"uint256"},
 {"name":"totalStableDebt","type":"uint256"},{"name":"totalVariableDebt","type":"uint256"},{"name":"liquidityRate","type":"uint256"},
 {"name":"variableBorrowRate","type":"uint256"},{"name":"stableBorrowRate","type":"uint256"},{"name":"averageStableBorrowRate","type":"uint256"},
 {"name":"liquidityIndex","type":"uint256"},{"name":"variableBorrowIndex","type":"uint256"},{"name":"lastUpdateTimestamp","type":"uint40"}]},
{"name":"getReserveConfigurationData","type":"function","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[
 {"name":"decimals","type":"uint256"},{"name":"ltv","type":"uint256"},{"name":"liquidationThreshold","type":"uint256"},
 {"name":"liquidationBonus","type":"uint256"},{"name":"reserveFactor","type":"uint256"},{"name":"usageAsCollateralEnabled","type":"bool"},
 {"name":"borrowingEnabled","type":"bool"},{"name":"stableBorrowRateEnabled","type":"bool"},{"name":"isActive","type":"bool"},
 {"name":"isFrozen","type":"bool"}]},
{"name":"getUserReserveData","type":"function","stateMutability":"view","inputs":[{"name":"asset","type":"address"},{"name":"user","type":"address"}],"outputs":[
 {"name":"currentATokenBalance","type":"uint256"},{"name":"currentStableDebt","type":"uint256"},{"name":"currentVariableDebt","type":"uint256"},
 {"name":"principalStableDebt","type":"uint256"},{"name":"scaledVariableDebt","type":"uint256"},{"name":"stableBorrowRate","type":"uint256"},
 {"name":"liquidityRate","type":"uint256"},{"name":"stableRateLastUpdated","type":"uint40"},{"name":"usageAsCollateralEnabled","type":"bool"}]}
]`

const aggregatorABI = `[
{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
{"name":"latestRoundData","type":"function","stateMutability":"view","inputs":[],"outputs":[
 {"name":"roundId","type":"uint80"},{"name":"answer","type":"int256"},{"name":"startedAt","type":"uint256"},
 {"name":"updatedAt","type":"uint256"},{"name":"answeredInRound","type":"uint80"}]}
]`

const poolABI = `[
{"name":"borrow","type":"function","stateMutability":"nonpayable","inputs":[
 {"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"interestRateMode","type":"uint256"},
 {"name":"referralCode","type":"uint16"},{"name":"onBehalfOf","type":"address"}],"outputs":[]},
{"name":"repay","type":"function","stateMutability":"nonpayable","inputs":[
 {"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"interestRateMode","type":"uint256"},
 {"name":"onBehalfOf","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const gatewayABI = `[
{"name":"depositETH","type":"function","stateMutability":"payable","inputs":[
 {"name":"pool","type":"address"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
{"name":"withdrawETH","type":"function","stateMutability":"nonpayable","inputs":[
 {"name":"pool","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[]}
]`

const erc20ABI = `[
{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

type abis struct {
	dataProvider abi.ABI
	aggregator   abi.ABI
	pool         abi.ABI
	gateway      abi.ABI
	erc20        abi.ABI
}

func loadABIs() (abis, error) {
	var out abis
	for _, item := range []struct {
		dst *abi.ABI
		src string
	}{
		{&out.dataProvider, dataProviderABI},
		{&out.aggregator, aggregatorABI},
		{&out.pool, poolABI},
		{&out.gateway, gatewayABI},
		{&out.erc20, erc20ABI},
	} {
		parsed, err := abi.JSON(strings.NewReader(item.src))
		if err != nil {
			return abis{}, err
		}
		*item.dst = parsed
	}
	return out, nil
}
