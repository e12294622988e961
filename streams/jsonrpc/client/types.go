package client

import (
	"encoding/json"

	"github.com/defistate/defistate-amm-go/engine"
)

// clientState mirrors engine.State but keeps each protocol's data as raw
// JSON until its schema is known.
type clientState struct {
	Timestamp  uint64                                    `json:"timestamp"`
	Checkpoint engine.Checkpoint                         `json:"checkpoint"`
	Protocols  map[engine.ProtocolID]clientProtocolState `json:"protocols"`
}

type clientProtocolState struct {
	Meta           engine.ProtocolMeta   `json:"meta"`
	SyncedSequence *uint64               `json:"syncedSequence,omitempty"`
	Schema         engine.ProtocolSchema `json:"schema"`
	Error          string                `json:"error,omitempty"`

	// Data is decoded later using Schema.
	Data json.RawMessage `json:"data,omitempty"`
}

// clientStateDiff mirrors differ.StateDiff with the same raw protocol data.
type clientStateDiff struct {
	Timestamp    uint64                                    `json:"timestamp"`
	FromSequence uint64                                    `json:"fromSequence"`
	To           engine.Checkpoint                         `json:"to"`
	Protocols    map[engine.ProtocolID]clientProtocolState `json:"protocols"`
}
