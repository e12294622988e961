package patcher

import (
	"errors"
	"fmt"

	differ "github.com/defistate/defistate-amm-go/differ"
	engine "github.com/defistate/defistate-amm-go/engine"
)

var (
	// ErrSequenceMismatch is returned when a diff does not start at the state's sequence.
	ErrSequenceMismatch = errors.New("patcher: sequence mismatch")
	// ErrRootMismatch is returned when the patched state does not hash to the diff's root.
	ErrRootMismatch = engine.ErrRootMismatch
)

// PatcherFunc applies one protocol's diff to its previous view.
//
// Implementations must not mutate prevState. prevState is nil when the
// protocol first appears in the diff.
type PatcherFunc func(prevState any, diffData any) (newState any, err error)

type StatePatcherConfig struct {
	// Patchers maps a schema such as "defistate/cpamm/poolView@v1" to the
	// function that patches views of that schema.
	Patchers map[engine.ProtocolSchema]PatcherFunc
}

func (c *StatePatcherConfig) validate() error {
	for schema, fn := range c.Patchers {
		if fn == nil {
			return fmt.Errorf("patcher: nil patcher for schema %q", schema)
		}
	}
	return nil
}

// StatePatcher rebuilds a published state from its predecessor and a diff.
type StatePatcher struct {
	patchers map[engine.ProtocolSchema]PatcherFunc
}

func NewStatePatcher(cfg *StatePatcherConfig) (*StatePatcher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	patchers := make(map[engine.ProtocolSchema]PatcherFunc, len(cfg.Patchers))
	for schema, fn := range cfg.Patchers {
		patchers[schema] = fn
	}
	return &StatePatcher{patchers: patchers}, nil
}

// Patch returns the state at diff.To. Protocols absent from the diff are
// shared with oldState; the rest are replaced by their patcher's output. When
// the diff carries a root, the result is verified against it.
func (p *StatePatcher) Patch(oldState *engine.State, diff *differ.StateDiff) (*engine.State, error) {
	if oldState.Checkpoint.Sequence != diff.FromSequence {
		return nil, fmt.Errorf("%w: state=%d, diff=%d", ErrSequenceMismatch, oldState.Checkpoint.Sequence, diff.FromSequence)
	}

	protocols := make(map[engine.ProtocolID]engine.ProtocolState, len(oldState.Protocols))
	for id, ps := range oldState.Protocols {
		protocols[id] = ps
	}

	for id, pd := range diff.Protocols {
		old, hadOld := oldState.Protocols[id]
		next, err := p.patchProtocol(id, old, hadOld, pd)
		if err != nil {
			return nil, err
		}
		protocols[id] = next
	}

	if err := engine.VerifyRoot(diff.To, protocols); err != nil {
		return nil, err
	}
	return &engine.State{
		Timestamp:  diff.Timestamp,
		Checkpoint: diff.To,
		Protocols:  protocols,
	}, nil
}

func (p *StatePatcher) patchProtocol(
	id engine.ProtocolID,
	old engine.ProtocolState,
	hadOld bool,
	pd differ.ProtocolDiff,
) (engine.ProtocolState, error) {
	fn, ok := p.patchers[pd.Schema]
	if !ok {
		return engine.ProtocolState{}, fmt.Errorf("patcher: no patcher registered for schema %q (protocol=%s)", pd.Schema, id)
	}

	var oldData any
	if hadOld {
		// Schemas cannot change between sequences.
		if old.Schema != pd.Schema {
			return engine.ProtocolState{}, fmt.Errorf("patcher: schema mismatch for protocol %s (old=%s, diff=%s)", id, old.Schema, pd.Schema)
		}
		oldData = old.Data
	}

	data, err := fn(oldData, pd.Data)
	if err != nil {
		return engine.ProtocolState{}, fmt.Errorf("patcher: failed to patch protocol %s: %w", id, err)
	}
	return engine.ProtocolState{
		Meta:           pd.Meta,
		SyncedSequence: pd.SyncedSequence,
		Schema:         pd.Schema,
		Data:           data,
		Error:          pd.Error,
	}, nil
}
