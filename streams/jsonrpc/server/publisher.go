package server

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/defistate/defistate-amm-go/differ"
	"github.com/defistate/defistate-amm-go/engine"
	"github.com/defistate/defistate-amm-go/protocols/cpamm"
	"github.com/defistate/defistate-amm-go/protocols/tokenregistry"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/stateops"
)

const (
	EventFull = "full"
	EventDiff = "diff"

	subscriberBuffer = 32

	publishRetryDelay = 500 * time.Millisecond
)

// Event is the envelope sent to state stream subscribers.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// PoolSource is the part of the pool system the publisher reads.
type PoolSource interface {
	Pool(ctx context.Context, poolID uint64) (cpamm.Pool, error)
	Pools(ctx context.Context) ([]cpamm.Pool, error)
	Changed() <-chan struct{}
	DrainChanged() ([]uint64, uint64)
}

// TokenSource is the part of the token registry the publisher reads.
type TokenSource interface {
	View() []tokenregistry.Token
}

// StateDiffer computes the diff between two published states.
type StateDiffer interface {
	Diff(old, new *engine.State) (*differ.StateDiff, error)
}

type PublisherConfig struct {
	Pools  PoolSource
	Tokens TokenSource
	Differ StateDiffer
	// MinInterval coalesces bursts of changes into one event.
	MinInterval time.Duration
	Metrics     *Metrics
	Logger      Logger
}

func (c *PublisherConfig) validate() error {
	if c.Pools == nil {
		return errors.New("config: Pools is required")
	}
	if c.Tokens == nil {
		return errors.New("config: Tokens is required")
	}
	if c.Differ == nil {
		return errors.New("config: Differ is required")
	}
	if c.Metrics == nil {
		return errors.New("config: Metrics is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.MinInterval < 0 {
		return errors.New("config: MinInterval must not be negative")
	}
	return nil
}

// Publisher turns pool system changes into a stream of full and diff events.
// New subscribers first receive the latest full state.
type Publisher struct {
	pools       PoolSource
	tokens      TokenSource
	differ      StateDiffer
	minInterval time.Duration
	metrics     *Metrics
	logger      Logger

	mu       sync.Mutex
	last     *engine.State
	pending  []uint64 // drained but not yet published
	lastFull json.RawMessage
	subs     map[uint64]chan Event
	nextSub  uint64
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Publisher{
		pools:       cfg.Pools,
		tokens:      cfg.Tokens,
		differ:      cfg.Differ,
		minInterval: cfg.MinInterval,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		subs:        make(map[uint64]chan Event),
	}, nil
}

// Init publishes the initial state. It must be called before Run or Subscribe.
func (p *Publisher) Init(ctx context.Context) error {
	_, seq := p.pools.DrainChanged()
	pools, err := p.pools.Pools(ctx)
	if err != nil {
		return fmt.Errorf("publisher: load pools: %w", err)
	}
	state, err := p.buildState(seq, pools)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
	return p.storeLocked(state)
}

// Run publishes a diff whenever the pool system reports changes, until ctx ends.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.closeSubscribers()
	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.pools.Changed():
		case <-retry:
		}
		retry = nil

		if p.minInterval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.minInterval):
			}
		}
		if err := p.publish(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("failed to publish state", "error", err, "retryIn", publishRetryDelay)
			retry = time.After(publishRetryDelay)
		}
	}
}

// publish reloads only the pools marked dirty since the last event and
// broadcasts the resulting diff. Drained ids stay pending until an event
// carrying them has been stored, so a failed publish is retried in full.
func (p *Publisher) publish(ctx context.Context) error {
	drained, seq := p.pools.DrainChanged()

	p.mu.Lock()
	defer p.mu.Unlock()
	ids := mergeIDs(p.pending, drained)
	p.pending = ids
	if len(ids) == 0 {
		return nil
	}
	if p.last == nil {
		return errors.New("publisher: not initialised")
	}

	prev, _ := p.last.Protocols[stateops.PoolsProtocolID].Data.([]cpamm.Pool)
	pools := slices.Clone(prev)
	for _, id := range ids {
		pool, err := p.pools.Pool(ctx, id)
		if err != nil {
			return fmt.Errorf("publisher: reload pool %d: %w", id, err)
		}
		i, found := slices.BinarySearchFunc(pools, id, func(c cpamm.Pool, id uint64) int { return cmp.Compare(c.ID, id) })
		if found {
			pools[i] = pool
		} else {
			pools = slices.Insert(pools, i, pool)
		}
	}

	next, err := p.buildState(seq, pools)
	if err != nil {
		return err
	}
	diff, err := p.differ.Diff(p.last, next)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(diff)
	if err != nil {
		return fmt.Errorf("publisher: encode diff: %w", err)
	}
	if err := p.storeLocked(next); err != nil {
		return err
	}
	p.pending = nil
	p.broadcastLocked(Event{Type: EventDiff, Payload: payload, SentAt: time.Now().UnixNano()})
	p.logger.Debug("published state", "sequence", seq, "pools", len(ids))
	return nil
}

// mergeIDs returns the sorted union of two id lists.
func mergeIDs(a, b []uint64) []uint64 {
	if len(a) == 0 {
		return b
	}
	out := slices.Concat(a, b)
	slices.Sort(out)
	return slices.Compact(out)
}

func (p *Publisher) buildState(seq uint64, pools []cpamm.Pool) (*engine.State, error) {
	if pools == nil {
		pools = []cpamm.Pool{}
	}
	tokens := p.tokens.View()
	if tokens == nil {
		tokens = []tokenregistry.Token{}
	}
	protocols := map[engine.ProtocolID]engine.ProtocolState{
		stateops.TokensProtocolID: {
			Meta:           engine.ProtocolMeta{Name: "tokens", Tags: []string{"registry"}},
			SyncedSequence: &seq,
			Schema:         tokenregistry.Schema,
			Data:           tokens,
		},
		stateops.PoolsProtocolID: {
			Meta:           engine.ProtocolMeta{Name: "cpamm", Tags: []string{"dex"}},
			SyncedSequence: &seq,
			Schema:         cpamm.Schema,
			Data:           pools,
		},
	}
	root, err := engine.ComputeRoot(protocols)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &engine.State{
		Timestamp:  uint64(now.UnixNano()),
		Checkpoint: engine.Checkpoint{Sequence: seq, Root: root, CommittedAt: now.UnixNano()},
		Protocols:  protocols,
	}, nil
}

func (p *Publisher) storeLocked(state *engine.State) error {
	full, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("publisher: encode state: %w", err)
	}
	p.last = state
	p.lastFull = full
	p.metrics.sequence.Set(float64(state.Checkpoint.Sequence))
	return nil
}

// Subscribe returns a channel that first yields the latest full state and
// then every diff. The channel is closed when the subscriber falls behind or
// the publisher stops; the caller then resubscribes for a fresh full state.
func (p *Publisher) Subscribe() (<-chan Event, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil, nil, errors.New("publisher: not initialised")
	}

	ch := make(chan Event, subscriberBuffer)
	ch <- Event{Type: EventFull, Payload: p.lastFull, SentAt: time.Now().UnixNano()}
	p.metrics.events.WithLabelValues(EventFull).Inc()

	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.metrics.subscribers.Inc()

	return ch, func() { p.unsubscribe(id) }, nil
}

// Latest returns the most recently published state.
func (p *Publisher) Latest() *engine.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Publisher) unsubscribe(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropLocked(id)
}

func (p *Publisher) dropLocked(id uint64) {
	if ch, ok := p.subs[id]; ok {
		delete(p.subs, id)
		close(ch)
		p.metrics.subscribers.Dec()
	}
}

func (p *Publisher) broadcastLocked(ev Event) {
	p.metrics.events.WithLabelValues(ev.Type).Add(float64(len(p.subs)))
	for id, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			p.logger.Warn("dropping slow state subscriber", "subscriber", id)
			p.dropLocked(id)
		}
	}
}

func (p *Publisher) closeSubscribers() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.subs {
		p.dropLocked(id)
	}
}
