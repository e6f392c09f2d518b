// Package evm implements the ledger gateway over the on-chain prediction
// market contract. The contract is authoritative for wager state and funds;
// the gateway only translates between domain types and the ABI boundary.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/castmarket/castmarket/internal/domain"
)

// Config holds connection and signing parameters for the gateway.
type Config struct {
	// RPCURL is the JSON-RPC endpoint of the chain node.
	RPCURL string
	// ContractAddress is the deployed prediction-market contract.
	ContractAddress string
	// ChainID of the target network (8453 for Base mainnet).
	ChainID int64
	// DeployBlock is the block the contract was deployed at; log scans for
	// backfill start here.
	DeployBlock uint64
	// CallTimeout bounds each individual RPC call.
	CallTimeout time.Duration
}

// Gateway implements domain.LedgerGateway against an EVM chain.
type Gateway struct {
	client      *ethclient.Client
	contract    *bind.BoundContract
	contractABI abi.ABI
	address     common.Address
	auth        *bind.TransactOpts
	deployBlock uint64
	callTimeout time.Duration
	log         *slog.Logger
}

// New dials the RPC endpoint and binds the contract. key is the operator key
// used to sign placement and settlement transactions; a nil key yields a
// read-only gateway whose state-changing calls fail.
func New(ctx context.Context, cfg Config, key *ecdsa.PrivateKey, logger *slog.Logger) (*Gateway, error) {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", cfg.RPCURL, err)
	}

	contractABI, err := MarketABI()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("evm: parse abi: %w", err)
	}

	var auth *bind.TransactOpts
	if key != nil {
		auth, err = bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("evm: transactor: %w", err)
		}
	}

	addr := common.HexToAddress(cfg.ContractAddress)
	return &Gateway{
		client:      client,
		contract:    bind.NewBoundContract(addr, contractABI, client, client, client),
		contractABI: contractABI,
		address:     addr,
		auth:        auth,
		deployBlock: cfg.DeployBlock,
		callTimeout: cfg.CallTimeout,
		log:         logger.With(slog.String("component", "evm_gateway")),
	}, nil
}

// Close releases the underlying RPC connection.
func (g *Gateway) Close() {
	g.client.Close()
}

// betTuple mirrors the getBet return struct in ABI field order.
type betTuple struct {
	BetId          *big.Int
	Bettor         common.Address
	Fid            *big.Int
	BetType        uint8
	PredictedValue *big.Int
	BetAmount      *big.Int
	PlacedAt       *big.Int
	ResolutionTime *big.Int
	Status         uint8
	ActualValue    *big.Int
}

func (t betTuple) toDomain() domain.Wager {
	return domain.Wager{
		ID:             domain.WagerID(t.BetId.Uint64()),
		Bettor:         strings.ToLower(t.Bettor.Hex()),
		SubjectFID:     t.Fid.Int64(),
		Metric:         domain.Metric(t.BetType),
		PredictedValue: t.PredictedValue.Int64(),
		Stake:          decimal.NewFromBigInt(t.BetAmount, 0),
		PlacedAt:       time.Unix(t.PlacedAt.Int64(), 0).UTC(),
		ResolvesAt:     time.Unix(t.ResolutionTime.Int64(), 0).UTC(),
		Status:         domain.Status(t.Status),
		ActualValue:    t.ActualValue.Int64(),
	}
}

// GetWager reads a wager from the contract. An all-zero tuple (no bettor)
// means the ID was never assigned.
func (g *Gateway) GetWager(ctx context.Context, id domain.WagerID) (domain.Wager, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	var out []any
	err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getBet", new(big.Int).SetUint64(uint64(id)))
	if err != nil {
		return domain.Wager{}, fmt.Errorf("evm: get bet %d: %w", id, err)
	}
	if len(out) == 0 {
		return domain.Wager{}, fmt.Errorf("evm: get bet %d: empty result", id)
	}

	tuple := *abi.ConvertType(out[0], new(betTuple)).(*betTuple)
	if tuple.Bettor == (common.Address{}) {
		return domain.Wager{}, fmt.Errorf("evm: bet %d: %w", id, domain.ErrWagerNotFound)
	}
	return tuple.toDomain(), nil
}

// CreateWager submits a placeBet transaction carrying the stake and returns
// the ledger-assigned ID parsed from the BetPlaced event. The contract
// escrows the stake atomically with creation.
func (g *Gateway) CreateWager(ctx context.Context, spec domain.WagerSpec) (domain.WagerID, domain.Confirmation, error) {
	if g.auth == nil {
		return 0, domain.Confirmation{}, fmt.Errorf("evm: place bet: %w: gateway is read-only", domain.ErrLedgerWriteFailed)
	}
	opts := g.transactOpts(ctx)
	opts.Value = spec.Stake.BigInt()

	tx, err := g.contract.Transact(opts, "placeBet",
		big.NewInt(spec.SubjectFID),
		uint8(spec.Metric),
		big.NewInt(spec.PredictedValue),
		spec.Stake.BigInt(),
	)
	if err != nil {
		return 0, domain.Confirmation{}, fmt.Errorf("evm: place bet: %w: %v", domain.ErrLedgerWriteFailed, err)
	}

	receipt, err := g.waitMined(ctx, tx)
	if err != nil {
		return 0, domain.Confirmation{}, err
	}

	id, err := g.betIDFromReceipt(receipt)
	if err != nil {
		return 0, domain.Confirmation{}, err
	}

	g.log.InfoContext(ctx, "wager placed on ledger",
		slog.Uint64("wager_id", uint64(id)),
		slog.String("tx_hash", tx.Hash().Hex()),
	)
	return id, confirmation(receipt), nil
}

// SettleWager submits the single atomic settlement call. The contract's own
// check-and-set on bet status makes settlement at-most-once: a second call on
// a terminal bet reverts.
func (g *Gateway) SettleWager(ctx context.Context, id domain.WagerID, outcome domain.Outcome, actualValue int64, payout decimal.Decimal) (domain.Confirmation, error) {
	if g.auth == nil {
		return domain.Confirmation{}, fmt.Errorf("evm: resolve bet %d: %w: gateway is read-only", id, domain.ErrLedgerWriteFailed)
	}
	tx, err := g.contract.Transact(g.transactOpts(ctx), "resolveBet",
		new(big.Int).SetUint64(uint64(id)),
		uint8(outcome.Status()),
		big.NewInt(actualValue),
		payout.BigInt(),
	)
	if err != nil {
		return domain.Confirmation{}, fmt.Errorf("evm: resolve bet %d: %w", id, mapRevert(err))
	}

	receipt, err := g.waitMined(ctx, tx)
	if err != nil {
		return domain.Confirmation{}, fmt.Errorf("evm: resolve bet %d: %w", id, err)
	}
	return confirmation(receipt), nil
}

// CancelWager refunds an Active wager via the contract's cancel path.
func (g *Gateway) CancelWager(ctx context.Context, id domain.WagerID) (domain.Confirmation, error) {
	if g.auth == nil {
		return domain.Confirmation{}, fmt.Errorf("evm: cancel bet %d: %w: gateway is read-only", id, domain.ErrLedgerWriteFailed)
	}
	tx, err := g.contract.Transact(g.transactOpts(ctx), "cancelBet", new(big.Int).SetUint64(uint64(id)))
	if err != nil {
		return domain.Confirmation{}, fmt.Errorf("evm: cancel bet %d: %w", id, mapRevert(err))
	}

	receipt, err := g.waitMined(ctx, tx)
	if err != nil {
		return domain.Confirmation{}, fmt.Errorf("evm: cancel bet %d: %w", id, err)
	}
	return confirmation(receipt), nil
}

// ListActive scans BetPlaced logs from the deploy block and returns the IDs
// still Active with a resolution time at or before the given instant. Used
// for index backfill, not on the hot path.
func (g *Gateway) ListActive(ctx context.Context, before time.Time) ([]domain.WagerID, error) {
	placed, err := g.FilterPlaced(ctx, g.deployBlock, nil)
	if err != nil {
		return nil, err
	}

	var ids []domain.WagerID
	for _, ev := range placed {
		w, err := g.GetWager(ctx, ev.WagerID)
		if err != nil {
			return nil, err
		}
		if w.Status == domain.StatusActive && !w.ResolvesAt.After(before) {
			ids = append(ids, w.ID)
		}
	}
	return ids, nil
}

// PlacedEvent is a decoded BetPlaced log.
type PlacedEvent struct {
	WagerID        domain.WagerID
	Bettor         string
	SubjectFID     int64
	Metric         domain.Metric
	Stake          decimal.Decimal
	PredictedValue int64
	ResolvesAt     time.Time
	BlockNumber    uint64
}

// ResolvedEvent is a decoded BetResolved or BetCancelled log.
type ResolvedEvent struct {
	WagerID     domain.WagerID
	Status      domain.Status
	ActualValue int64
	Payout      decimal.Decimal
	BlockNumber uint64
}

// FilterPlaced returns decoded BetPlaced events in [from, to]. A nil to means
// latest.
func (g *Gateway) FilterPlaced(ctx context.Context, from uint64, to *uint64) ([]PlacedEvent, error) {
	logs, err := g.filterLogs(ctx, "BetPlaced", from, to)
	if err != nil {
		return nil, err
	}

	events := make([]PlacedEvent, 0, len(logs))
	for _, lg := range logs {
		var raw struct {
			Fid            *big.Int
			BetType        uint8
			Amount         *big.Int
			PredictedValue *big.Int
			ResolutionTime *big.Int
		}
		if err := g.contract.UnpackLog(&raw, "BetPlaced", lg); err != nil {
			return nil, fmt.Errorf("evm: unpack BetPlaced: %w", err)
		}
		events = append(events, PlacedEvent{
			WagerID:        domain.WagerID(new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64()),
			Bettor:         strings.ToLower(common.BytesToAddress(lg.Topics[2].Bytes()).Hex()),
			SubjectFID:     raw.Fid.Int64(),
			Metric:         domain.Metric(raw.BetType),
			Stake:          decimal.NewFromBigInt(raw.Amount, 0),
			PredictedValue: raw.PredictedValue.Int64(),
			ResolvesAt:     time.Unix(raw.ResolutionTime.Int64(), 0).UTC(),
			BlockNumber:    lg.BlockNumber,
		})
	}
	return events, nil
}

// FilterResolved returns decoded BetResolved events in [from, to].
func (g *Gateway) FilterResolved(ctx context.Context, from uint64, to *uint64) ([]ResolvedEvent, error) {
	logs, err := g.filterLogs(ctx, "BetResolved", from, to)
	if err != nil {
		return nil, err
	}

	events := make([]ResolvedEvent, 0, len(logs))
	for _, lg := range logs {
		var raw struct {
			Status      uint8
			ActualValue *big.Int
			Payout      *big.Int
		}
		if err := g.contract.UnpackLog(&raw, "BetResolved", lg); err != nil {
			return nil, fmt.Errorf("evm: unpack BetResolved: %w", err)
		}
		events = append(events, ResolvedEvent{
			WagerID:     domain.WagerID(new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64()),
			Status:      domain.Status(raw.Status),
			ActualValue: raw.ActualValue.Int64(),
			Payout:      decimal.NewFromBigInt(raw.Payout, 0),
			BlockNumber: lg.BlockNumber,
		})
	}
	return events, nil
}

// FilterCancelled returns decoded BetCancelled events in [from, to].
func (g *Gateway) FilterCancelled(ctx context.Context, from uint64, to *uint64) ([]ResolvedEvent, error) {
	logs, err := g.filterLogs(ctx, "BetCancelled", from, to)
	if err != nil {
		return nil, err
	}

	events := make([]ResolvedEvent, 0, len(logs))
	for _, lg := range logs {
		var raw struct {
			Refund *big.Int
		}
		if err := g.contract.UnpackLog(&raw, "BetCancelled", lg); err != nil {
			return nil, fmt.Errorf("evm: unpack BetCancelled: %w", err)
		}
		events = append(events, ResolvedEvent{
			WagerID:     domain.WagerID(new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64()),
			Status:      domain.StatusCancelled,
			Payout:      decimal.NewFromBigInt(raw.Refund, 0),
			BlockNumber: lg.BlockNumber,
		})
	}
	return events, nil
}

// BlockNumber returns the current chain head.
func (g *Gateway) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	n, err := g.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("evm: block number: %w", err)
	}
	return n, nil
}

func (g *Gateway) filterLogs(ctx context.Context, event string, from uint64, to *uint64) ([]types.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	query := ethereum.FilterQuery{
		Addresses: []common.Address{g.address},
		Topics:    [][]common.Hash{{g.contractABI.Events[event].ID}},
		FromBlock: new(big.Int).SetUint64(from),
	}
	if to != nil {
		query.ToBlock = new(big.Int).SetUint64(*to)
	}

	logs, err := g.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("evm: filter %s logs: %w", event, err)
	}
	return logs, nil
}

func (g *Gateway) transactOpts(ctx context.Context) *bind.TransactOpts {
	opts := *g.auth
	opts.Context = ctx
	return &opts
}

func (g *Gateway) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(ctx, g.client, tx)
	if err != nil {
		return nil, fmt.Errorf("evm: wait mined %s: %w: %v", tx.Hash().Hex(), domain.ErrLedgerWriteFailed, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		// The contract's check-and-set rejected the call; the caller should
		// re-read the wager rather than assume a network fault.
		return nil, fmt.Errorf("evm: tx %s reverted: %w", tx.Hash().Hex(), domain.ErrAlreadySettled)
	}
	return receipt, nil
}

func (g *Gateway) betIDFromReceipt(receipt *types.Receipt) (domain.WagerID, error) {
	placedTopic := g.contractABI.Events["BetPlaced"].ID
	for _, lg := range receipt.Logs {
		if lg.Address == g.address && len(lg.Topics) > 1 && lg.Topics[0] == placedTopic {
			return domain.WagerID(new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64()), nil
		}
	}
	return 0, fmt.Errorf("evm: tx %s: no BetPlaced event in receipt", receipt.TxHash.Hex())
}

// mapRevert classifies gas-estimation reverts onto domain errors using the
// contract's revert reason strings; anything else is a transient write
// failure.
func mapRevert(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already resolved"), strings.Contains(msg, "not active"):
		return fmt.Errorf("%w: %v", domain.ErrAlreadySettled, err)
	case strings.Contains(msg, "bet does not exist"):
		return fmt.Errorf("%w: %v", domain.ErrWagerNotFound, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrLedgerWriteFailed, err)
	}
}

func confirmation(receipt *types.Receipt) domain.Confirmation {
	return domain.Confirmation{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}
}

// Compile-time interface check.
var _ domain.LedgerGateway = (*Gateway)(nil)
