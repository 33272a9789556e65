package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	aggregatorV3ABIJSON = `[
  {"inputs":[],"name":"latestRoundData","outputs":[
    {"internalType":"uint80","name":"roundId","type":"uint80"},
    {"internalType":"int256","name":"answer","type":"int256"},
    {"internalType":"uint256","name":"startedAt","type":"uint256"},
    {"internalType":"uint256","name":"updatedAt","type":"uint256"},
    {"internalType":"uint80","name":"answeredInRound","type":"uint80"}],
   "stateMutability":"view","type":"function"},
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],
   "stateMutability":"view","type":"function"}
]`
)

var (
	aggregatorV3ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("failed to parse AggregatorV3 ABI: " + err.Error())
	}
	aggregatorV3ABI = parsed
}

// ReferenceOptions parameterise the on-chain reader.
type ReferenceOptions struct {
	RPCURL  string
	Timeout time.Duration
	// Caller overrides the lazily dialled RPC client.
	Caller ethereum.ContractCaller
}

// Reference reads Chainlink AggregatorV3 feeds over Ethereum RPC.
type Reference struct {
	opts      ReferenceOptions
	logger    zerolog.Logger
	caller    ethereum.ContractCaller
	clientMux sync.Mutex
}

// NewReference builds a reference feed reader.
func NewReference(opts ReferenceOptions, logger zerolog.Logger) *Reference {
	return &Reference{
		opts:   opts,
		logger: logger.With().Str("component", "reference_reader").Logger(),
		caller: opts.Caller,
	}
}

// Read returns the latest answer of the aggregator at feedAddress scaled by its decimals.
// The observation time is the round's updatedAt.
func (r *Reference) Read(ctx context.Context, feedAddress string) (PricePoint, error) {
	if r.opts.RPCURL == "" && r.opts.Caller == nil {
		return PricePoint{}, fmt.Errorf("%w: ethereum rpc url not configured", ErrSourceUnavailable)
	}
	if !common.IsHexAddress(feedAddress) {
		return PricePoint{}, fmt.Errorf("%w: invalid feed address %q", ErrSourceUnavailable, feedAddress)
	}

	timeout := r.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	caller, err := r.getCaller(ctx)
	if err != nil {
		return PricePoint{}, fmt.Errorf("%w: dial rpc: %v", ErrSourceUnavailable, err)
	}

	addr := common.HexToAddress(feedAddress)

	round, err := r.call(ctx, caller, addr, "latestRoundData")
	if err != nil {
		return PricePoint{}, err
	}
	if len(round) != 5 {
		return PricePoint{}, fmt.Errorf("%w: unexpected latestRoundData response", ErrSourceUnavailable)
	}
	answer, ok := round[1].(*big.Int)
	if !ok {
		return PricePoint{}, fmt.Errorf("%w: failed to decode answer", ErrSourceUnavailable)
	}
	updatedAt, ok := round[3].(*big.Int)
	if !ok {
		return PricePoint{}, fmt.Errorf("%w: failed to decode updatedAt", ErrSourceUnavailable)
	}

	dec, err := r.call(ctx, caller, addr, "decimals")
	if err != nil {
		return PricePoint{}, err
	}
	if len(dec) != 1 {
		return PricePoint{}, fmt.Errorf("%w: unexpected decimals response", ErrSourceUnavailable)
	}
	decimals, ok := dec[0].(uint8)
	if !ok {
		return PricePoint{}, fmt.Errorf("%w: failed to decode decimals", ErrSourceUnavailable)
	}

	price := decimal.NewFromBigInt(answer, -int32(decimals))
	if !price.IsPositive() {
		return PricePoint{}, fmt.Errorf("%w: non-positive answer %s", ErrSourceUnavailable, price.String())
	}

	return PricePoint{
		Price:      price,
		ObservedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
	}, nil
}

func (r *Reference) call(ctx context.Context, caller ethereum.ContractCaller, addr common.Address, method string) ([]interface{}, error) {
	payload, err := aggregatorV3ABI.Pack(method)
	if err != nil {
		return nil, err
	}

	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: call %s: %v", ErrSourceUnavailable, method, err)
	}

	outputs, err := aggregatorV3ABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", ErrSourceUnavailable, method, err)
	}
	return outputs, nil
}

func (r *Reference) getCaller(ctx context.Context) (ethereum.ContractCaller, error) {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()

	if r.caller != nil {
		return r.caller, nil
	}
	if r.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, r.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	r.caller = client
	return client, nil
}

var _ ReferenceReader = (*Reference)(nil)
