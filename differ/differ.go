package differ

import (
	"errors"
	"fmt"
	"time"

	"github.com/defistate/defistate-amm-go/engine"
	"github.com/prometheus/client_golang/prometheus"
)

type ProtocolDiffer func(old, new any) (diff any, err error)

// StateDifferConfig holds all the individual differ functions and dependencies.
type StateDifferConfig struct {
	// One differ per schema (data contract), not per protocol identity.
	ProtocolDiffers map[engine.ProtocolSchema]ProtocolDiffer
	Registry        prometheus.Registerer
	Logger          Logger
}

// validate checks if the configuration is valid, ensuring required dependencies are present.
func (c *StateDifferConfig) validate() error {
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	for schema, d := range c.ProtocolDiffers {
		if d == nil {
			return fmt.Errorf("config: differ for schema %q cannot be nil", schema)
		}
	}
	return nil
}

// StateDiffer computes StateDiffs between consecutive states.
type StateDiffer struct {
	metrics         *Metrics
	logger          Logger
	protocolDiffers map[engine.ProtocolSchema]ProtocolDiffer
}

// NewStateDiffer constructs a new differ from a configuration, returning an error if the config is invalid.
func NewStateDiffer(cfg *StateDifferConfig) (*StateDiffer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	protocolDiffers := make(map[engine.ProtocolSchema]ProtocolDiffer, len(cfg.ProtocolDiffers))
	for schema, protocolDiffer := range cfg.ProtocolDiffers {
		protocolDiffers[schema] = protocolDiffer
	}

	return &StateDiffer{
		metrics:         NewMetrics(cfg.Registry),
		logger:          cfg.Logger,
		protocolDiffers: protocolDiffers,
	}, nil
}

// Diff compares two error-free states. Protocols present in new but absent
// from old are diffed against nil data, so they arrive as pure additions.
func (d *StateDiffer) Diff(old, new *engine.State) (*StateDiff, error) {
	totalTimer := prometheus.NewTimer(d.metrics.diffDuration.WithLabelValues())
	defer totalTimer.ObserveDuration()

	if old.HasErrors() || new.HasErrors() {
		return nil, errors.New("differ: received state with protocol errors")
	}
	if new.Checkpoint.Sequence < old.Checkpoint.Sequence {
		return nil, fmt.Errorf("differ: sequence went backwards (%d -> %d)", old.Checkpoint.Sequence, new.Checkpoint.Sequence)
	}

	protocolDiffs := make(map[engine.ProtocolID]ProtocolDiff, len(new.Protocols))
	for protocolID, newProtocolState := range new.Protocols {
		differFunc, exists := d.protocolDiffers[newProtocolState.Schema]
		if !exists {
			return nil, fmt.Errorf("differ: no differ registered for schema %q", newProtocolState.Schema)
		}

		var oldData any
		if oldProtocolState, ok := old.Protocols[protocolID]; ok {
			if oldProtocolState.Schema != newProtocolState.Schema {
				return nil, fmt.Errorf("differ: schema changed for protocol %s (%s -> %s)", protocolID, oldProtocolState.Schema, newProtocolState.Schema)
			}
			oldData = oldProtocolState.Data
		}

		diffData, err := differFunc(oldData, newProtocolState.Data)
		if err != nil {
			d.metrics.protocolDiffs.WithLabelValues(string(newProtocolState.Schema), "error").Inc()
			d.logger.Error("protocol diff failed", "protocol", protocolID, "schema", newProtocolState.Schema, "error", err)
			return nil, fmt.Errorf("differ: protocol %s: %w", protocolID, err)
		}
		d.metrics.protocolDiffs.WithLabelValues(string(newProtocolState.Schema), "ok").Inc()

		protocolDiffs[protocolID] = ProtocolDiff{
			Meta:           newProtocolState.Meta,
			SyncedSequence: newProtocolState.SyncedSequence,
			Schema:         newProtocolState.Schema,
			Data:           diffData,
		}
	}

	for protocolID := range old.Protocols {
		if _, ok := new.Protocols[protocolID]; !ok {
			d.logger.Warn("protocol dropped from state", "protocol", protocolID)
		}
	}

	return &StateDiff{
		Timestamp:    uint64(time.Now().UnixNano()),
		FromSequence: old.Checkpoint.Sequence,
		To:           new.Checkpoint,
		Protocols:    protocolDiffs,
	}, nil
}
