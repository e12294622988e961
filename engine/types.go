package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrRootMismatch is returned when protocol data does not hash to the root
// carried by its checkpoint.
var ErrRootMismatch = errors.New("engine: state root mismatch")

type ProtocolName string
type ProtocolID string

// ProtocolSchema defines the decode contract for a protocol's data.
type ProtocolSchema string

type ProtocolMeta struct {
	Name ProtocolName `json:"name"`           // human label
	Tags []string     `json:"tags,omitempty"` // "dex", "registry", etc.
}

type ProtocolState struct {
	Meta ProtocolMeta `json:"meta"`

	// SyncedSequence is the commit sequence the protocol's data reflects.
	SyncedSequence *uint64 `json:"syncedSequence,omitempty"`

	// Schema is the decode contract for Data.
	// Example:
	// "defistate/cpamm/poolView@v1"
	Schema ProtocolSchema `json:"schema"`

	// Data is the protocol view, shaped by Schema.
	Data any `json:"data,omitempty"`

	// Error is populated if this protocol failed to produce a view.
	Error string `json:"error,omitempty"`
}

// Checkpoint identifies one published version of the state.
type Checkpoint struct {
	Sequence    uint64      `json:"sequence"`
	Root        common.Hash `json:"root"`
	CommittedAt int64       `json:"committedAt"` // Unix nanoseconds.
}

// State is the main data structure broadcast to subscribers.
type State struct {
	Timestamp  uint64                       `json:"timestamp"`
	Checkpoint Checkpoint                   `json:"checkpoint"`
	Protocols  map[ProtocolID]ProtocolState `json:"protocols"`
}

func (state *State) HasErrors() bool {
	for _, pr := range state.Protocols {
		if pr.Error != "" {
			return true
		}
	}
	return false
}

// ComputeRoot hashes the JSON encoding of every protocol's data. encoding/json
// orders map keys, so the root is stable as long as each protocol's data is
// encoded deterministically.
func ComputeRoot(protocols map[ProtocolID]ProtocolState) (common.Hash, error) {
	data := make(map[ProtocolID]any, len(protocols))
	for id, p := range protocols {
		data[id] = p.Data
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("engine: encode state root: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// VerifyRoot checks protocols against cp.Root. A zero root means the producer
// did not publish one and is accepted as is.
func VerifyRoot(cp Checkpoint, protocols map[ProtocolID]ProtocolState) error {
	if cp.Root == (common.Hash{}) {
		return nil
	}
	root, err := ComputeRoot(protocols)
	if err != nil {
		return err
	}
	if root != cp.Root {
		return fmt.Errorf("%w: sequence %d, got %s, want %s", ErrRootMismatch, cp.Sequence, root.Hex(), cp.Root.Hex())
	}
	return nil
}
