package differ

import "github.com/defistate/defistate-amm-go/engine"

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type ProtocolDiff struct {
	Meta engine.ProtocolMeta `json:"meta"`

	// SyncedSequence is the commit sequence the protocol's data reflects.
	SyncedSequence *uint64 `json:"syncedSequence,omitempty"`

	// Schema is the decode contract for Data.
	// Examples:
	// "defistate/cpamm/poolView@v1"
	// "defistate/tokenregistry/tokenView@v1"
	Schema engine.ProtocolSchema `json:"schema"`

	// Data is the protocol diff, shaped by Schema.
	Data any `json:"data,omitempty"`

	// Error is populated if this protocol failed to produce a view.
	Error string `json:"error,omitempty"`
}

// StateDiff summarizes the changes from FromSequence to To.
type StateDiff struct {
	Timestamp    uint64                             `json:"timestamp"`
	FromSequence uint64                             `json:"fromSequence"`
	To           engine.Checkpoint                  `json:"to"`
	Protocols    map[engine.ProtocolID]ProtocolDiff `json:"protocols"`
}
