// Package poolsystem owns pool records and user balances and runs the AMM
// calculator against them. Every operation on one pool is serialized; the
// ledger store applies each operation's effects atomically.
package poolsystem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/defistate/defistate-amm-go/bitset"
	"github.com/defistate/defistate-amm-go/ledger"
	"github.com/defistate/defistate-amm-go/protocols/cpamm"
	"github.com/defistate/defistate-amm-go/protocols/cpamm/calculator"
	"github.com/defistate/defistate-amm-go/protocols/tokenregistry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultRecentSwaps = 4096

var (
	// ErrUnauthorized is returned when a caller other than the pool authority locks or unlocks it.
	ErrUnauthorized = errors.New("caller is not the pool authority")
	// ErrPoolExists is returned when a pool with the same derived key already exists.
	ErrPoolExists = errors.New("pool already exists")
	// ErrSwapNotFound is returned for unknown or evicted swap records.
	ErrSwapNotFound = errors.New("swap record not found")
	// ErrFundingDisabled is returned by Fund unless dev funding is enabled.
	ErrFundingDisabled = errors.New("funding is disabled")
	// ErrReservedAccount is returned when a pool vault, or the fee sink on a
	// swap, is used as the trading account.
	ErrReservedAccount = fmt.Errorf("%w: account is reserved", ErrUnauthorized)
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type Config struct {
	Store   ledger.Store
	Tokens  *tokenregistry.TokenSystem
	Options calculator.Options

	// MaxFeeBps is the fee ceiling for new pools. Zero selects cpamm.DefaultMaxFeeBps.
	MaxFeeBps uint16

	// FeeSink receives swap fees when Options.FeePolicy is cpamm.FeeToSink.
	FeeSink string

	// DevFunding enables Fund.
	DevFunding bool

	// RecentSwaps bounds the swap record cache. Zero selects a default.
	RecentSwaps int

	Registry prometheus.Registerer
	Logger   Logger
}

func (c *Config) validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Tokens == nil {
		return errors.New("token registry is required")
	}
	if c.Registry == nil {
		return errors.New("prometheus registry is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.MaxFeeBps > cpamm.BasisPointDivisor {
		return fmt.Errorf("%w: fee ceiling %d bps exceeds %d", cpamm.ErrInvalidFeePercentage, c.MaxFeeBps, cpamm.BasisPointDivisor)
	}
	if c.Options.FeePolicy == cpamm.FeeToSink && c.FeeSink == "" {
		return errors.New("fee sink account is required for the sink fee policy")
	}
	if c.RecentSwaps < 0 {
		return errors.New("recent swaps must not be negative")
	}
	return nil
}

// System is the pool collaborator: it loads pools and balances from the
// store, runs the calculator and commits the outcome.
type System struct {
	store      ledger.Store
	tokens     *tokenregistry.TokenSystem
	opts       calculator.Options
	maxFeeBps  uint16
	feeSink    string
	devFunding bool
	logger     Logger
	metrics    *Metrics

	poolLocks sync.Map // uint64 -> *sync.Mutex

	createMu sync.Mutex
	nextID   uint64
	keys     map[common.Address]uint64

	records *lru.Cache[uuid.UUID, SwapRecord]
	subsMu  sync.RWMutex
	subs    map[uint64]chan SwapRecord
	nextSub uint64

	dirtyMu  sync.Mutex
	dirty    bitset.BitSet
	sequence atomic.Uint64
	changed  chan struct{}
}

// New builds a System over the pools already in cfg.Store.
func New(ctx context.Context, cfg Config) (*System, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("poolsystem: invalid config: %w", err)
	}
	if cfg.MaxFeeBps == 0 {
		cfg.MaxFeeBps = cpamm.DefaultMaxFeeBps
	}
	if cfg.RecentSwaps == 0 {
		cfg.RecentSwaps = defaultRecentSwaps
	}
	records, err := lru.New[uuid.UUID, SwapRecord](cfg.RecentSwaps)
	if err != nil {
		return nil, fmt.Errorf("poolsystem: swap record cache: %w", err)
	}

	pools, err := cfg.Store.Pools(ctx)
	if err != nil {
		return nil, fmt.Errorf("poolsystem: load pools: %w", err)
	}

	s := &System{
		store:      cfg.Store,
		tokens:     cfg.Tokens,
		opts:       cfg.Options,
		maxFeeBps:  cfg.MaxFeeBps,
		feeSink:    cfg.FeeSink,
		devFunding: cfg.DevFunding,
		logger:     cfg.Logger,
		metrics:    NewMetrics(cfg.Registry),
		nextID:     1,
		keys:       make(map[common.Address]uint64, len(pools)),
		records:    records,
		subs:       make(map[uint64]chan SwapRecord),
		changed:    make(chan struct{}, 1),
	}
	for _, p := range pools {
		s.keys[p.Key] = p.ID
		if p.ID >= s.nextID {
			s.nextID = p.ID + 1
		}
	}
	s.logger.Info("pool system ready", "pools", len(pools), "feePolicy", s.opts.FeePolicy, "maxFeeBps", s.maxFeeBps)
	return s, nil
}

// VaultAccount is the ledger account that holds a pool's reserves.
func VaultAccount(p cpamm.Pool) string {
	return p.Key.Hex()
}

// CreatePoolRequest describes a new pool. The pool ID is assigned by the system.
type CreatePoolRequest struct {
	Seed      uint64 `json:"seed"`
	TokenX    uint64 `json:"tokenX"`
	TokenY    uint64 `json:"tokenY"`
	FeeBps    uint16 `json:"feeBps"`
	Authority string `json:"authority,omitempty"`
}

// CreatePool creates an empty, unlocked pool for two registered tokens.
func (s *System) CreatePool(ctx context.Context, req CreatePoolRequest) (_ cpamm.Pool, err error) {
	defer s.metrics.observe("create", time.Now(), &err)

	for _, id := range []uint64{req.TokenX, req.TokenY} {
		if _, err := s.tokens.Get(id); err != nil {
			return cpamm.Pool{}, err
		}
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	pool, err := cpamm.CreatePool(cpamm.CreateParams{
		ID:        s.nextID,
		Seed:      req.Seed,
		TokenX:    req.TokenX,
		TokenY:    req.TokenY,
		FeeBps:    req.FeeBps,
		Authority: req.Authority,
	}, s.maxFeeBps)
	if err != nil {
		return cpamm.Pool{}, err
	}
	if existing, ok := s.keys[pool.Key]; ok {
		return cpamm.Pool{}, fmt.Errorf("%w: seed %d is taken by pool %d", ErrPoolExists, req.Seed, existing)
	}
	if err := s.store.Commit(ctx, ledger.Changeset{Pools: []cpamm.Pool{pool}}); err != nil {
		return cpamm.Pool{}, err
	}

	s.nextID++
	s.keys[pool.Key] = pool.ID
	s.markDirty(pool.ID)
	s.metrics.poolsCreated.Inc()
	s.logger.Info("pool created", "pool", pool.ID, "key", pool.Key, "tokenX", pool.TokenX, "tokenY", pool.TokenY, "feeBps", pool.FeeBps)
	return pool, nil
}

// Deposit mints params.Shares to account against the tokens it pays in.
func (s *System) Deposit(ctx context.Context, account string, poolID uint64, params calculator.DepositParams) (_ calculator.DepositResult, err error) {
	defer s.metrics.observe("deposit", time.Now(), &err)
	if err := s.checkAccount(account); err != nil {
		return calculator.DepositResult{}, err
	}

	unlock := s.lockPool(poolID)
	defer unlock()

	pool, err := s.store.LoadPool(ctx, poolID)
	if err != nil {
		return calculator.DepositResult{}, err
	}
	result, next, err := calculator.Deposit(pool, params, s.opts)
	if err != nil {
		return calculator.DepositResult{}, err
	}
	if err := s.requireBalance(ctx, account, ledger.TokenAsset(pool.TokenX), result.AmountX); err != nil {
		return calculator.DepositResult{}, err
	}
	if err := s.requireBalance(ctx, account, ledger.TokenAsset(pool.TokenY), result.AmountY); err != nil {
		return calculator.DepositResult{}, err
	}

	vault := VaultAccount(pool)
	cs := ledger.Changeset{
		Pools: []cpamm.Pool{next},
		Movements: []ledger.Movement{
			{From: account, To: vault, Asset: ledger.TokenAsset(pool.TokenX), Amount: result.AmountX},
			{From: account, To: vault, Asset: ledger.TokenAsset(pool.TokenY), Amount: result.AmountY},
			{To: account, Asset: ledger.ShareAsset(pool.ID), Amount: result.Shares},
		},
	}
	if err := s.store.Commit(ctx, cs); err != nil {
		return calculator.DepositResult{}, err
	}

	s.markDirty(pool.ID)
	s.logger.Debug("deposit", "pool", pool.ID, "account", account, "shares", result.Shares, "amountX", result.AmountX, "amountY", result.AmountY, "bootstrap", result.Bootstrap)
	return result, nil
}

// WithdrawRequest burns Shares and requires at least MinX and MinY back.
type WithdrawRequest struct {
	Shares uint64 `json:"shares"`
	MinX   uint64 `json:"minX"`
	MinY   uint64 `json:"minY"`
}

// Withdraw burns shares held by account and pays out its share of the reserves.
func (s *System) Withdraw(ctx context.Context, account string, poolID uint64, req WithdrawRequest) (_ calculator.WithdrawResult, err error) {
	defer s.metrics.observe("withdraw", time.Now(), &err)
	if err := s.checkAccount(account); err != nil {
		return calculator.WithdrawResult{}, err
	}

	unlock := s.lockPool(poolID)
	defer unlock()

	pool, err := s.store.LoadPool(ctx, poolID)
	if err != nil {
		return calculator.WithdrawResult{}, err
	}
	held, err := s.store.Balance(ctx, account, ledger.ShareAsset(pool.ID))
	if err != nil {
		return calculator.WithdrawResult{}, err
	}
	result, next, err := calculator.Withdraw(pool, calculator.WithdrawParams{
		Shares:  req.Shares,
		MinX:    req.MinX,
		MinY:    req.MinY,
		Balance: held,
	}, s.opts)
	if err != nil {
		return calculator.WithdrawResult{}, err
	}

	vault := VaultAccount(pool)
	cs := ledger.Changeset{
		Pools: []cpamm.Pool{next},
		Movements: []ledger.Movement{
			{From: account, Asset: ledger.ShareAsset(pool.ID), Amount: result.Shares},
			{From: vault, To: account, Asset: ledger.TokenAsset(pool.TokenX), Amount: result.AmountX},
			{From: vault, To: account, Asset: ledger.TokenAsset(pool.TokenY), Amount: result.AmountY},
		},
	}
	if err := s.store.Commit(ctx, cs); err != nil {
		return calculator.WithdrawResult{}, err
	}

	s.markDirty(pool.ID)
	s.logger.Debug("withdraw", "pool", pool.ID, "account", account, "shares", result.Shares, "amountX", result.AmountX, "amountY", result.AmountY)
	return result, nil
}

// Swap trades account's input token against the pool.
func (s *System) Swap(ctx context.Context, account string, poolID uint64, params calculator.SwapParams) (_ SwapRecord, err error) {
	defer s.metrics.observe("swap", time.Now(), &err)
	if err := s.checkAccount(account); err != nil {
		return SwapRecord{}, err
	}
	if s.opts.FeePolicy == cpamm.FeeToSink && account == s.feeSink {
		return SwapRecord{}, fmt.Errorf("%w: %q is the fee sink", ErrReservedAccount, account)
	}

	unlock := s.lockPool(poolID)
	defer unlock()

	pool, err := s.store.LoadPool(ctx, poolID)
	if err != nil {
		return SwapRecord{}, err
	}
	result, next, err := calculator.Swap(pool, params, s.opts)
	if err != nil {
		return SwapRecord{}, err
	}

	tokenIn, tokenOut := pool.TokenY, pool.TokenX
	if params.XForY {
		tokenIn, tokenOut = pool.TokenX, pool.TokenY
	}
	if err := s.requireBalance(ctx, account, ledger.TokenAsset(tokenIn), params.AmountIn); err != nil {
		return SwapRecord{}, err
	}

	vault := VaultAccount(pool)
	cs := ledger.Changeset{
		Pools: []cpamm.Pool{next},
		Movements: []ledger.Movement{
			{From: account, To: vault, Asset: ledger.TokenAsset(tokenIn), Amount: params.AmountIn - result.SinkAmount},
			{From: account, To: s.feeSink, Asset: ledger.TokenAsset(tokenIn), Amount: result.SinkAmount},
			{From: vault, To: account, Asset: ledger.TokenAsset(tokenOut), Amount: result.Record.AmountOut},
		},
	}
	if err := s.store.Commit(ctx, cs); err != nil {
		return SwapRecord{}, err
	}

	rec := SwapRecord{
		ID:         uuid.New(),
		PoolID:     pool.ID,
		Account:    account,
		TokenIn:    tokenIn,
		TokenOut:   tokenOut,
		ExecutedAt: time.Now().UTC(),
		SwapRecord: result.Record,
	}
	s.markDirty(pool.ID)
	s.metrics.observeSwap(tokenIn, rec.AmountIn, rec.FeeAmount)
	s.publishSwap(rec)
	s.logger.Debug("swap", "pool", pool.ID, "swap", rec.ID, "account", account, "xForY", rec.XForY, "amountIn", rec.AmountIn, "amountOut", rec.AmountOut, "fee", rec.FeeAmount)
	return rec, nil
}

// Lock stops deposits, withdrawals and swaps on a pool. Locking a locked pool is a no-op.
func (s *System) Lock(ctx context.Context, caller string, poolID uint64) (cpamm.Pool, error) {
	return s.setLocked(ctx, "lock", caller, poolID, true)
}

// Unlock reopens a locked pool. Unlocking an unlocked pool is a no-op.
func (s *System) Unlock(ctx context.Context, caller string, poolID uint64) (cpamm.Pool, error) {
	return s.setLocked(ctx, "unlock", caller, poolID, false)
}

func (s *System) setLocked(ctx context.Context, op, caller string, poolID uint64, locked bool) (_ cpamm.Pool, err error) {
	defer s.metrics.observe(op, time.Now(), &err)

	unlock := s.lockPool(poolID)
	defer unlock()

	pool, err := s.store.LoadPool(ctx, poolID)
	if err != nil {
		return cpamm.Pool{}, err
	}
	if pool.Authority != "" && caller != pool.Authority {
		return cpamm.Pool{}, fmt.Errorf("%w: %q may not %s pool %d", ErrUnauthorized, caller, op, pool.ID)
	}
	if pool.Locked == locked {
		return pool, nil
	}

	next := pool.Unlock()
	if locked {
		next = pool.Lock()
	}
	if err := s.store.Commit(ctx, ledger.Changeset{Pools: []cpamm.Pool{next}}); err != nil {
		return cpamm.Pool{}, err
	}
	s.markDirty(pool.ID)
	s.logger.Info("pool "+op+"ed", "pool", pool.ID, "caller", caller)
	return next, nil
}

// Quote returns the output a swap of amountIn would produce right now.
func (s *System) Quote(ctx context.Context, poolID uint64, xForY bool, amountIn uint64) (uint64, error) {
	pool, err := s.store.LoadPool(ctx, poolID)
	if err != nil {
		return 0, err
	}
	return calculator.GetAmountOut(pool, xForY, amountIn, s.opts)
}

// QuoteIn returns an input that yields at least amountOut right now.
func (s *System) QuoteIn(ctx context.Context, poolID uint64, xForY bool, amountOut uint64) (uint64, error) {
	pool, err := s.store.LoadPool(ctx, poolID)
	if err != nil {
		return 0, err
	}
	return calculator.GetAmountIn(pool, xForY, amountOut)
}

func (s *System) Pool(ctx context.Context, poolID uint64) (cpamm.Pool, error) {
	return s.store.LoadPool(ctx, poolID)
}

// Pools returns every pool ordered by ID.
func (s *System) Pools(ctx context.Context) ([]cpamm.Pool, error) {
	return s.store.Pools(ctx)
}

func (s *System) Balance(ctx context.Context, account string, asset ledger.Asset) (uint64, error) {
	return s.store.Balance(ctx, account, asset)
}

// Options returns the calculator options the system runs with.
func (s *System) Options() calculator.Options {
	return s.opts
}

// Fund mints amount of a registered token to account. It only works when
// dev funding is enabled.
func (s *System) Fund(ctx context.Context, account string, tokenID, amount uint64) (_ uint64, err error) {
	defer s.metrics.observe("fund", time.Now(), &err)
	if !s.devFunding {
		return 0, ErrFundingDisabled
	}
	if err := s.checkAccount(account); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, fmt.Errorf("%w: funding needs a positive amount", cpamm.ErrInvalidAmount)
	}
	if _, err := s.tokens.Get(tokenID); err != nil {
		return 0, err
	}
	asset := ledger.TokenAsset(tokenID)
	if err := s.store.Commit(ctx, ledger.Changeset{Movements: []ledger.Movement{{To: account, Asset: asset, Amount: amount}}}); err != nil {
		return 0, err
	}
	return s.store.Balance(ctx, account, asset)
}

// Changed is signalled after any pool changes. Receivers call DrainChanged
// to learn which pools.
func (s *System) Changed() <-chan struct{} {
	return s.changed
}

// DrainChanged returns the IDs of the pools changed since the previous call
// in ascending order, together with the number of commits so far.
func (s *System) DrainChanged() ([]uint64, uint64) {
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()
	ids := make([]uint64, 0, s.dirty.Count())
	s.dirty.ForEach(func(id uint64) { ids = append(ids, id) })
	s.dirty.Clear()
	return ids, s.sequence.Load()
}

func (s *System) markDirty(poolID uint64) {
	s.dirtyMu.Lock()
	s.dirty = s.dirty.Grow(poolID)
	s.dirty.Set(poolID)
	s.sequence.Add(1)
	s.dirtyMu.Unlock()

	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// checkAccount rejects empty accounts and the vault of any pool. Vault
// balances must only move together with the reserves they back.
func (s *System) checkAccount(account string) error {
	if account == "" {
		return fmt.Errorf("%w: account is required", cpamm.ErrInvalidAmount)
	}
	if !common.IsHexAddress(account) {
		return nil
	}
	s.createMu.Lock()
	id, ok := s.keys[common.HexToAddress(account)]
	s.createMu.Unlock()
	if ok {
		return fmt.Errorf("%w: %s is the vault of pool %d", ErrReservedAccount, account, id)
	}
	return nil
}

func (s *System) lockPool(poolID uint64) func() {
	v, _ := s.poolLocks.LoadOrStore(poolID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *System) requireBalance(ctx context.Context, account string, asset ledger.Asset, amount uint64) error {
	have, err := s.store.Balance(ctx, account, asset)
	if err != nil {
		return err
	}
	if have < amount {
		return fmt.Errorf("%w: %s holds %d %s, needs %d", cpamm.ErrInsufficientBalance, account, have, asset, amount)
	}
	return nil
}
