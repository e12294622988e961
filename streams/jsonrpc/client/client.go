package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/defistate/defistate-amm-go/differ"
	"github.com/defistate/defistate-amm-go/engine"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	// RpcNamespace is the namespace under which the daemon registers its API.
	RpcNamespace                  = "amm"
	StateStreamSubscriptionMethod = "subscribeStateStream"
)

// Event types sent by the daemon's state stream.
const (
	EventFull = "full"
	EventDiff = "diff"
)

var (
	// ErrRootMismatch is returned when a full state does not hash to its checkpoint root.
	ErrRootMismatch = engine.ErrRootMismatch
	// ErrOutOfSync is returned when a diff starts past the last known sequence,
	// meaning at least one update was missed. The client resubscribes to get a
	// fresh full state.
	ErrOutOfSync = errors.New("client: state stream out of sync")
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StatePatcherFunc defines the function signature for a method that safely applies
// a diff to a previous state.
type StatePatcherFunc func(prevState *engine.State, diff *differ.StateDiff) (newState *engine.State, err error)

type DecoderFunc func(schema engine.ProtocolSchema, data json.RawMessage) (any, error)

// Config holds the configuration for the client.
type Config struct {
	URL              string
	Logger           Logger
	BufferSize       uint
	StatePatcher     StatePatcherFunc
	StateDecoder     DecoderFunc
	StateDiffDecoder DecoderFunc
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.StatePatcher == nil {
		return errors.New("config: StatePatcher is required")
	}
	if c.StateDecoder == nil {
		return errors.New("config: StateDecoder is required")
	}
	if c.StateDiffDecoder == nil {
		return errors.New("config: StateDiffDecoder is required")
	}
	return nil
}

// SubscriptionEvent is the wrapper object received from the server.
type SubscriptionEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// StreamProcessor turns stream events into full states. It keeps the last
// state so that diffs can be patched onto it, and knows nothing about the
// transport the events arrive on.
type StreamProcessor struct {
	lastState        *engine.State
	statePatcher     StatePatcherFunc
	stateDecoder     DecoderFunc
	stateDiffDecoder DecoderFunc
	stateCh          chan *engine.State
	logger           Logger
}

func NewStreamProcessor(
	logger Logger,
	bufferSize uint,
	statePatcher StatePatcherFunc,
	stateDecoder DecoderFunc,
	stateDiffDecoder DecoderFunc,
) *StreamProcessor {
	return &StreamProcessor{
		logger:           logger,
		stateCh:          make(chan *engine.State, bufferSize),
		statePatcher:     statePatcher,
		stateDecoder:     stateDecoder,
		stateDiffDecoder: stateDiffDecoder,
	}
}

// State returns a read-only channel for receiving new states.
func (sp *StreamProcessor) State() <-chan *engine.State {
	return sp.stateCh
}

// Reset forgets the last state. The next event must be a full state.
func (sp *StreamProcessor) Reset() {
	sp.lastState = nil
}

// ProcessMessage handles one raw subscription event.
func (sp *StreamProcessor) ProcessMessage(rawData json.RawMessage) error {
	start := time.Now()
	var event SubscriptionEvent
	if err := json.Unmarshal(rawData, &event); err != nil {
		return fmt.Errorf("failed to unmarshal subscription event: %w", err)
	}

	switch event.Type {
	case EventFull:
		return sp.handleFullState(event, start)
	case EventDiff:
		return sp.handleDiff(event, start)
	default:
		return fmt.Errorf("received unknown event type: %s", event.Type)
	}
}

func (sp *StreamProcessor) handleFullState(event SubscriptionEvent, start time.Time) error {
	var raw clientState
	if err := json.Unmarshal(event.Payload, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal full state payload: %w", err)
	}

	protocols, err := decodeProtocols(raw.Protocols, sp.stateDecoder)
	if err != nil {
		return fmt.Errorf("failed to decode state: %w", err)
	}
	state := &engine.State{
		Timestamp:  raw.Timestamp,
		Checkpoint: raw.Checkpoint,
		Protocols:  protocols,
	}
	if err := engine.VerifyRoot(state.Checkpoint, state.Protocols); err != nil {
		return err
	}

	sp.emit(state, EventFull, start, event.SentAt)
	return nil
}

func (sp *StreamProcessor) handleDiff(event SubscriptionEvent, start time.Time) error {
	var raw clientStateDiff
	if err := json.Unmarshal(event.Payload, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal diff payload: %w", err)
	}

	if sp.lastState == nil {
		return fmt.Errorf("received diff before full state; from_sequence: %d, to_sequence: %d", raw.FromSequence, raw.To.Sequence)
	}
	last := sp.lastState.Checkpoint.Sequence
	switch {
	case raw.FromSequence < last:
		sp.logger.Warn("Discarding stale diff",
			"last_known_sequence", last,
			"diff_from_sequence", raw.FromSequence,
			"diff_to_sequence", raw.To.Sequence,
		)
		return nil
	case raw.FromSequence > last:
		return fmt.Errorf("%w: last sequence %d, diff starts at %d", ErrOutOfSync, last, raw.FromSequence)
	}

	decoded, err := decodeProtocols(raw.Protocols, sp.stateDiffDecoder)
	if err != nil {
		return fmt.Errorf("failed to decode diff: %w", err)
	}
	diff := &differ.StateDiff{
		Timestamp:    raw.Timestamp,
		FromSequence: raw.FromSequence,
		To:           raw.To,
		Protocols:    make(map[engine.ProtocolID]differ.ProtocolDiff, len(decoded)),
	}
	for id, ps := range decoded {
		diff.Protocols[id] = differ.ProtocolDiff(ps)
	}

	state, err := sp.statePatcher(sp.lastState, diff)
	if err != nil {
		return fmt.Errorf("failed to patch state: %w", err)
	}
	state.Timestamp = diff.Timestamp

	sp.emit(state, EventDiff, start, event.SentAt)
	return nil
}

// decodeProtocols turns each protocol's raw data into its typed view.
func decodeProtocols(raw map[engine.ProtocolID]clientProtocolState, decode DecoderFunc) (map[engine.ProtocolID]engine.ProtocolState, error) {
	out := make(map[engine.ProtocolID]engine.ProtocolState, len(raw))
	for id, ps := range raw {
		data, err := decode(ps.Schema, ps.Data)
		if err != nil {
			return nil, fmt.Errorf("protocol %s: %w", id, err)
		}
		out[id] = engine.ProtocolState{
			Meta:           ps.Meta,
			SyncedSequence: ps.SyncedSequence,
			Schema:         ps.Schema,
			Data:           data,
			Error:          ps.Error,
		}
	}
	return out, nil
}

func (sp *StreamProcessor) emit(state *engine.State, kind string, start time.Time, sentAt int64) {
	sp.logLatency(state, time.Since(start), sentAt, kind)
	sp.lastState = state
	sp.stateCh <- state
}

func (sp *StreamProcessor) logLatency(state *engine.State, processingDur time.Duration, sentAt int64, kind string) {
	finished := time.Now()
	received := finished.Add(-processingDur)
	committedAt := time.Unix(0, state.Checkpoint.CommittedAt)
	sent := time.Unix(0, sentAt)

	errorCount := 0
	for _, p := range state.Protocols {
		if p.Error != "" {
			errorCount++
		}
	}

	sp.logger.Debug("State Processed",
		"sequence", state.Checkpoint.Sequence,
		"type", kind,
		"protocols", len(state.Protocols),
		"errors", errorCount,
		"latency_total_ms", finished.Sub(committedAt).Milliseconds(),
		"latency_transport_ms", received.Sub(sent).Milliseconds(),
		"latency_proc_ms", processingDur.Milliseconds(),
		"latency_server_ms", sent.Sub(committedAt).Milliseconds(),
	)
}

// Client follows a daemon's state stream over websocket and reconnects with
// exponential backoff when the connection drops.
type Client struct {
	processor *StreamProcessor
	errCh     chan error
	logger    Logger
}

// NewClient validates cfg and starts following cfg.URL until ctx is done.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		processor: NewStreamProcessor(
			cfg.Logger,
			cfg.BufferSize,
			cfg.StatePatcher,
			cfg.StateDecoder,
			cfg.StateDiffDecoder,
		),
		errCh:  make(chan error, 1),
		logger: cfg.Logger,
	}
	go c.run(ctx, cfg.URL)
	return c, nil
}

// State delegates to the processor's state channel.
func (c *Client) State() <-chan *engine.State {
	return c.processor.State()
}

// Err returns a read-only channel for receiving fatal (unrecoverable) errors.
func (c *Client) Err() <-chan error {
	return c.errCh
}

func (c *Client) run(ctx context.Context, url string) {
	defer close(c.errCh)
	defer c.logger.Info("Client context canceled, shutting down.")
	delay := initialReconnectDelay
	retry := func(msg string, err error) bool {
		c.logger.Error(msg, "error", err, "delay", delay)
		if !sleep(ctx, delay) {
			return false
		}
		delay = min(delay*2, maxReconnectDelay)
		return true
	}

	for ctx.Err() == nil {
		c.logger.Info("Attempting to connect to RPC server", "url", url)
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			if !retry("Failed to connect to RPC server, will retry...", err) {
				return
			}
			continue
		}

		c.logger.Info("Successfully connected to RPC server.")
		delay = initialReconnectDelay

		err = c.subscribeAndProcess(ctx, rpcClient)
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, ErrOutOfSync):
			// Resubscribing yields a fresh full state.
			c.logger.Warn("State stream out of sync, resubscribing", "error", err)
		default:
			if !retry("Subscription failed, will reconnect...", err) {
				return
			}
		}
	}
}

func (c *Client) subscribeAndProcess(ctx context.Context, rpcClient *rpc.Client) error {
	defer rpcClient.Close()

	rawCh := make(chan json.RawMessage)
	sub, err := rpcClient.Subscribe(ctx, RpcNamespace, rawCh, StateStreamSubscriptionMethod)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	c.processor.Reset()
	c.logger.Info("Successfully subscribed. Waiting for data...")
	for {
		select {
		case rawData := <-rawCh:
			err := c.processor.ProcessMessage(rawData)
			if errors.Is(err, ErrOutOfSync) {
				return err
			}
			if err != nil {
				c.logger.Error("Error processing message", "error", err)
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sleep waits for d and reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
