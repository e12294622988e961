package server

import (
	"context"
	"fmt"

	"github.com/defistate/defistate-amm-go/ledger"
	"github.com/defistate/defistate-amm-go/poolsystem"
	"github.com/defistate/defistate-amm-go/protocols/cpamm"
	"github.com/defistate/defistate-amm-go/protocols/cpamm/calculator"
	"github.com/defistate/defistate-amm-go/protocols/tokenregistry"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
)

// Backend is the pool system as seen by the RPC layer.
type Backend interface {
	CreatePool(ctx context.Context, req poolsystem.CreatePoolRequest) (cpamm.Pool, error)
	Deposit(ctx context.Context, account string, poolID uint64, params calculator.DepositParams) (calculator.DepositResult, error)
	Withdraw(ctx context.Context, account string, poolID uint64, req poolsystem.WithdrawRequest) (calculator.WithdrawResult, error)
	Swap(ctx context.Context, account string, poolID uint64, params calculator.SwapParams) (poolsystem.SwapRecord, error)
	Lock(ctx context.Context, caller string, poolID uint64) (cpamm.Pool, error)
	Unlock(ctx context.Context, caller string, poolID uint64) (cpamm.Pool, error)
	Quote(ctx context.Context, poolID uint64, xForY bool, amountIn uint64) (uint64, error)
	QuoteIn(ctx context.Context, poolID uint64, xForY bool, amountOut uint64) (uint64, error)
	Pool(ctx context.Context, poolID uint64) (cpamm.Pool, error)
	Pools(ctx context.Context) ([]cpamm.Pool, error)
	Balance(ctx context.Context, account string, asset ledger.Asset) (uint64, error)
	Fund(ctx context.Context, account string, tokenID, amount uint64) (uint64, error)
	SwapRecord(id uuid.UUID) (poolsystem.SwapRecord, error)
	SubscribeSwaps() (<-chan poolsystem.SwapRecord, func())
}

// API is registered under the "amm" namespace. Every exported method
// becomes amm_<lowerCamelName>.
type API struct {
	backend   Backend
	tokens    TokenSource
	publisher *Publisher
	metrics   *Metrics
	logger    Logger
}

func (s *API) observe(method string, err error) error {
	wrapped := wrapError(err)
	code := "0"
	if wrapped != nil {
		code = fmt.Sprint(errorCode(err))
	}
	s.metrics.calls.WithLabelValues(method, code).Inc()
	return wrapped
}

func (s *API) CreatePool(ctx context.Context, req poolsystem.CreatePoolRequest) (*cpamm.Pool, error) {
	pool, err := s.backend.CreatePool(ctx, req)
	if err := s.observe("createPool", err); err != nil {
		return nil, err
	}
	return &pool, nil
}

func (s *API) Deposit(ctx context.Context, account string, poolID uint64, params calculator.DepositParams) (*calculator.DepositResult, error) {
	res, err := s.backend.Deposit(ctx, account, poolID, params)
	if err := s.observe("deposit", err); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *API) Withdraw(ctx context.Context, account string, poolID uint64, req poolsystem.WithdrawRequest) (*calculator.WithdrawResult, error) {
	res, err := s.backend.Withdraw(ctx, account, poolID, req)
	if err := s.observe("withdraw", err); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *API) Swap(ctx context.Context, account string, poolID uint64, params calculator.SwapParams) (*poolsystem.SwapRecord, error) {
	rec, err := s.backend.Swap(ctx, account, poolID, params)
	if err := s.observe("swap", err); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *API) Lock(ctx context.Context, caller string, poolID uint64) (*cpamm.Pool, error) {
	pool, err := s.backend.Lock(ctx, caller, poolID)
	if err := s.observe("lock", err); err != nil {
		return nil, err
	}
	return &pool, nil
}

func (s *API) Unlock(ctx context.Context, caller string, poolID uint64) (*cpamm.Pool, error) {
	pool, err := s.backend.Unlock(ctx, caller, poolID)
	if err := s.observe("unlock", err); err != nil {
		return nil, err
	}
	return &pool, nil
}

func (s *API) Quote(ctx context.Context, poolID uint64, xForY bool, amountIn uint64) (uint64, error) {
	out, err := s.backend.Quote(ctx, poolID, xForY, amountIn)
	return out, s.observe("quote", err)
}

func (s *API) QuoteIn(ctx context.Context, poolID uint64, xForY bool, amountOut uint64) (uint64, error) {
	in, err := s.backend.QuoteIn(ctx, poolID, xForY, amountOut)
	return in, s.observe("quoteIn", err)
}

func (s *API) GetPool(ctx context.Context, poolID uint64) (*cpamm.Pool, error) {
	pool, err := s.backend.Pool(ctx, poolID)
	if err := s.observe("getPool", err); err != nil {
		return nil, err
	}
	return &pool, nil
}

func (s *API) GetPools(ctx context.Context) ([]cpamm.Pool, error) {
	pools, err := s.backend.Pools(ctx)
	return pools, s.observe("getPools", err)
}

func (s *API) GetTokens() []tokenregistry.Token {
	s.metrics.calls.WithLabelValues("getTokens", "0").Inc()
	return s.tokens.View()
}

// BalanceOf takes the asset in its string form, "token:<id>" or "share:<poolID>".
func (s *API) BalanceOf(ctx context.Context, account, asset string) (uint64, error) {
	a, err := ledger.ParseAsset(asset)
	if err != nil {
		return 0, s.observe("balanceOf", fmt.Errorf("%w: %v", cpamm.ErrInvalidAmount, err))
	}
	balance, err := s.backend.Balance(ctx, account, a)
	return balance, s.observe("balanceOf", err)
}

func (s *API) Fund(ctx context.Context, account string, tokenID, amount uint64) (uint64, error) {
	balance, err := s.backend.Fund(ctx, account, tokenID, amount)
	return balance, s.observe("fund", err)
}

func (s *API) GetSwapRecord(id string) (*poolsystem.SwapRecord, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, s.observe("getSwapRecord", fmt.Errorf("%w: swap id: %v", cpamm.ErrInvalidAmount, err))
	}
	rec, err := s.backend.SwapRecord(parsed)
	if err := s.observe("getSwapRecord", err); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SubscribeStateStream sends the latest full state followed by a diff for
// every published change.
func (s *API) SubscribeStateStream(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}
	events, unsubscribe, err := s.publisher.Subscribe()
	if err != nil {
		return nil, s.observe("subscribeStateStream", err)
	}
	s.observe("subscribeStateStream", nil)

	rpcSub := notifier.CreateSubscription()
	go func() {
		defer unsubscribe()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := notifier.Notify(rpcSub.ID, ev); err != nil {
					s.logger.Warn("failed to notify state subscriber", "subscription", rpcSub.ID, "error", err)
					return
				}
			case <-rpcSub.Err():
				return
			}
		}
	}()
	return rpcSub, nil
}

// SubscribeSwaps sends every swap executed after the subscription starts.
func (s *API) SubscribeSwaps(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}
	records, unsubscribe := s.backend.SubscribeSwaps()
	s.observe("subscribeSwaps", nil)

	rpcSub := notifier.CreateSubscription()
	go func() {
		defer unsubscribe()
		for {
			select {
			case rec, ok := <-records:
				if !ok {
					return
				}
				if err := notifier.Notify(rpcSub.ID, rec); err != nil {
					s.logger.Warn("failed to notify swap subscriber", "subscription", rpcSub.ID, "error", err)
					return
				}
			case <-rpcSub.Err():
				return
			}
		}
	}()
	return rpcSub, nil
}
