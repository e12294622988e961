// Package stateops binds the AMM protocol schemas to the generic state
// differ and patcher, and decodes their JSON wire form.
package stateops

import (
	"encoding/json"
	"fmt"

	"github.com/defistate/defistate-amm-go/differ"
	"github.com/defistate/defistate-amm-go/engine"
	"github.com/defistate/defistate-amm-go/patcher"
	"github.com/defistate/defistate-amm-go/protocols/cpamm"
	"github.com/defistate/defistate-amm-go/protocols/tokenregistry"
	"github.com/prometheus/client_golang/prometheus"
)

// Protocol IDs under which the daemon publishes its views.
const (
	PoolsProtocolID  engine.ProtocolID = "cpamm"
	TokensProtocolID engine.ProtocolID = "tokens"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StateOps is a facade over the two halves of the stream:
// the server diffs consecutive states, the client patches them back together.
type StateOps struct {
	*differ.StateDiffer
	*patcher.StatePatcher
}

func NewStateOps(
	logger Logger,
	prometheusRegistry prometheus.Registerer,
) (*StateOps, error) {
	protocolDiffers := map[engine.ProtocolSchema]differ.ProtocolDiffer{
		tokenregistry.Schema: func(old, new any) (any, error) {
			oldTokens, newTokens, err := pair[[]tokenregistry.Token](old, new)
			if err != nil {
				return nil, err
			}
			return tokenregistry.Differ(oldTokens, newTokens), nil
		},
		cpamm.Schema: func(old, new any) (any, error) {
			oldPools, newPools, err := pair[[]cpamm.Pool](old, new)
			if err != nil {
				return nil, err
			}
			return cpamm.Differ(oldPools, newPools), nil
		},
	}

	protocolPatchers := map[engine.ProtocolSchema]patcher.PatcherFunc{
		tokenregistry.Schema: func(prevState, diff any) (any, error) {
			prev, _ := prevState.([]tokenregistry.Token)
			d, ok := diff.(tokenregistry.TokenSystemDiff)
			if !ok {
				return nil, fmt.Errorf("stateops: unexpected token diff type %T", diff)
			}
			return tokenregistry.Patcher(prev, d)
		},
		cpamm.Schema: func(prevState, diff any) (any, error) {
			prev, _ := prevState.([]cpamm.Pool)
			d, ok := diff.(cpamm.CPAMMSystemDiff)
			if !ok {
				return nil, fmt.Errorf("stateops: unexpected pool diff type %T", diff)
			}
			return cpamm.Patcher(prev, d)
		},
	}

	stateDiffer, err := differ.NewStateDiffer(&differ.StateDifferConfig{
		ProtocolDiffers: protocolDiffers,
		Logger:          logger,
		Registry:        prometheusRegistry,
	})
	if err != nil {
		return nil, err
	}

	statePatcher, err := patcher.NewStatePatcher(&patcher.StatePatcherConfig{
		Patchers: protocolPatchers,
	})
	if err != nil {
		return nil, err
	}

	return &StateOps{
		StateDiffer:  stateDiffer,
		StatePatcher: statePatcher,
	}, nil
}

// pair asserts both views to T. A nil old view is the zero T, which is how
// a protocol that just appeared is diffed.
func pair[T any](old, new any) (T, T, error) {
	var zero T
	o, ok := old.(T)
	if !ok && old != nil {
		return zero, zero, fmt.Errorf("stateops: unexpected previous view type %T", old)
	}
	n, ok := new.(T)
	if !ok {
		return zero, zero, fmt.Errorf("stateops: unexpected view type %T", new)
	}
	return o, n, nil
}

func (ops *StateOps) DecodeStateJSON(
	schema engine.ProtocolSchema,
	data json.RawMessage,
) (any, error) {
	switch schema {
	case tokenregistry.Schema:
		return decode[[]tokenregistry.Token](data)
	case cpamm.Schema:
		return decode[[]cpamm.Pool](data)
	default:
		return nil, fmt.Errorf("stateops: unknown schema %q", schema)
	}
}

func (ops *StateOps) DecodeStateDiffJSON(
	schema engine.ProtocolSchema,
	data json.RawMessage,
) (any, error) {
	switch schema {
	case tokenregistry.Schema:
		return decode[tokenregistry.TokenSystemDiff](data)
	case cpamm.Schema:
		return decode[cpamm.CPAMMSystemDiff](data)
	default:
		return nil, fmt.Errorf("stateops: unknown schema %q", schema)
	}
}

func decode[T any](data json.RawMessage) (any, error) {
	var typed T
	if len(data) == 0 {
		return typed, nil
	}
	if err := json.Unmarshal(data, &typed); err != nil {
		return nil, err
	}
	return typed, nil
}
