package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const (
	poolABIJSON = `[{"inputs":[{"internalType":"address","name":"asset","type":"address"}],"name":"getReserveData","outputs":[{"components":[` +
		`{"internalType":"uint256","name":"configuration","type":"uint256"},` +
		`{"internalType":"uint128","name":"liquidityIndex","type":"uint128"},` +
		`{"internalType":"uint128","name":"currentLiquidityRate","type":"uint128"},` +
		`{"internalType":"uint128","name":"variableBorrowIndex","type":"uint128"},` +
		`{"internalType":"uint128","name":"currentVariableBorrowRate","type":"uint128"},` +
		`{"internalType":"uint128","name":"currentStableBorrowRate","type":"uint128"},` +
		`{"internalType":"uint40","name":"lastUpdateTimestamp","type":"uint40"},` +
		`{"internalType":"uint16","name":"id","type":"uint16"},` +
		`{"internalType":"address","name":"aTokenAddress","type":"address"},` +
		`{"internalType":"address","name":"stableDebtTokenAddress","type":"address"},` +
		`{"internalType":"address","name":"variableDebtTokenAddress","type":"address"},` +
		`{"internalType":"address","name":"interestRateStrategyAddress","type":"address"},` +
		`{"internalType":"uint128","name":"accruedToTreasury","type":"uint128"},` +
		`{"internalType":"uint128","name":"unbacked","type":"uint128"},` +
		`{"internalType":"uint128","name":"isolationModeTotalDebt","type":"uint128"}` +
		`],"internalType":"struct DataTypes.ReserveData","name":"","type":"tuple"}],"stateMutability":"view","type":"function"}]`

	erc20ABIJSON = `[` +
		`{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},` +
		`{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}` +
		`]`
)

var (
	poolABI  abi.ABI
	erc20ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		panic("failed to parse pool ABI: " + err.Error())
	}
	poolABI = parsed

	parsed, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// ReserveState is the getReserveData tuple. Field names follow the ABI component names so
// abi.ConvertType can copy the decoded tuple into it.
type ReserveState struct {
	Configuration               *big.Int
	LiquidityIndex              *big.Int
	CurrentLiquidityRate        *big.Int
	VariableBorrowIndex         *big.Int
	CurrentVariableBorrowRate   *big.Int
	CurrentStableBorrowRate     *big.Int
	LastUpdateTimestamp         *big.Int
	Id                          uint16 //nolint:revive // must match the ABI component name
	ATokenAddress               common.Address
	StableDebtTokenAddress      common.Address
	VariableDebtTokenAddress    common.Address
	InterestRateStrategyAddress common.Address
	AccruedToTreasury           *big.Int
	Unbacked                    *big.Int
	IsolationModeTotalDebt      *big.Int
}
