package evm

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// marketABI describes the prediction-market contract surface the gateway
// uses: placement, lookup, settlement, cancellation, and their events. The
// uint8 encodings of metric and status match internal/domain.
const marketABI = `[
	{
		"name": "placeBet",
		"type": "function",
		"stateMutability": "payable",
		"inputs": [
			{"name": "_fid", "type": "uint256"},
			{"name": "_betType", "type": "uint8"},
			{"name": "_predictedValue", "type": "uint256"},
			{"name": "_betAmount", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"name": "getBet",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "_betId", "type": "uint256"}],
		"outputs": [
			{
				"name": "",
				"type": "tuple",
				"components": [
					{"name": "betId", "type": "uint256"},
					{"name": "bettor", "type": "address"},
					{"name": "fid", "type": "uint256"},
					{"name": "betType", "type": "uint8"},
					{"name": "predictedValue", "type": "uint256"},
					{"name": "betAmount", "type": "uint256"},
					{"name": "placedAt", "type": "uint256"},
					{"name": "resolutionTime", "type": "uint256"},
					{"name": "status", "type": "uint8"},
					{"name": "actualValue", "type": "uint256"}
				]
			}
		]
	},
	{
		"name": "resolveBet",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "_betId", "type": "uint256"},
			{"name": "_outcome", "type": "uint8"},
			{"name": "_actualValue", "type": "uint256"},
			{"name": "_payout", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"name": "cancelBet",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "_betId", "type": "uint256"}],
		"outputs": []
	},
	{
		"name": "BetPlaced",
		"type": "event",
		"inputs": [
			{"name": "betId", "type": "uint256", "indexed": true},
			{"name": "bettor", "type": "address", "indexed": true},
			{"name": "fid", "type": "uint256", "indexed": false},
			{"name": "betType", "type": "uint8", "indexed": false},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "predictedValue", "type": "uint256", "indexed": false},
			{"name": "resolutionTime", "type": "uint256", "indexed": false}
		]
	},
	{
		"name": "BetResolved",
		"type": "event",
		"inputs": [
			{"name": "betId", "type": "uint256", "indexed": true},
			{"name": "status", "type": "uint8", "indexed": false},
			{"name": "actualValue", "type": "uint256", "indexed": false},
			{"name": "payout", "type": "uint256", "indexed": false}
		]
	},
	{
		"name": "BetCancelled",
		"type": "event",
		"inputs": [
			{"name": "betId", "type": "uint256", "indexed": true},
			{"name": "refund", "type": "uint256", "indexed": false}
		]
	}
]`

var (
	parsedABIOnce sync.Once
	parsedABI     abi.ABI
	parsedABIErr  error
)

// MarketABI returns the parsed contract ABI.
func MarketABI() (abi.ABI, error) {
	parsedABIOnce.Do(func() {
		parsedABI, parsedABIErr = abi.JSON(strings.NewReader(marketABI))
	})
	return parsedABI, parsedABIErr
}
