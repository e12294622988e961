package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/defistate/defistate-amm-go/engine"
	"github.com/defistate/defistate-amm-go/protocols/cpamm"
	cpammindexer "github.com/defistate/defistate-amm-go/protocols/cpamm/indexer"
	"github.com/defistate/defistate-amm-go/protocols/tokenregistry"
	tokenindexer "github.com/defistate/defistate-amm-go/protocols/tokenregistry/indexer"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/stateops"
	"github.com/shopspring/decimal"
)

// ANSI color codes
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Red   = "\033[31m"
	Green = "\033[32m"
	Cyan  = "\033[36m"
	Gray  = "\033[90m"
)

const pricePrecision = 6

// PairFilter selects the pools of one token pair by symbol.
type PairFilter struct {
	SymbolA string
	SymbolB string
}

type renderer struct {
	tokens tokenindexer.IndexedTokenSystem
	pools  cpammindexer.IndexedCPAMM
}

func newRenderer(state *engine.State) (*renderer, error) {
	tokens, err := protocolData[[]tokenregistry.Token](state, stateops.TokensProtocolID)
	if err != nil {
		return nil, err
	}
	pools, err := protocolData[[]cpamm.Pool](state, stateops.PoolsProtocolID)
	if err != nil {
		return nil, err
	}
	return &renderer{
		tokens: tokenindexer.New().Index(tokens),
		pools:  cpammindexer.New().Index(pools),
	}, nil
}

func protocolData[T any](state *engine.State, id engine.ProtocolID) (T, error) {
	var zero T
	p, ok := state.Protocols[id]
	if !ok {
		return zero, fmt.Errorf("state has no %q protocol", id)
	}
	if p.Error != "" {
		return zero, fmt.Errorf("protocol %q: %s", id, p.Error)
	}
	if p.Data == nil {
		return zero, nil
	}
	data, ok := p.Data.(T)
	if !ok {
		return zero, fmt.Errorf("protocol %q: unexpected data type %T", id, p.Data)
	}
	return data, nil
}

// selectPools returns every pool, or only the pools of filter's pair.
func (r *renderer) selectPools(filter *PairFilter) ([]cpamm.Pool, error) {
	if filter == nil {
		return r.pools.All(), nil
	}
	a, ok := r.tokens.GetBySymbol(filter.SymbolA)
	if !ok {
		return nil, fmt.Errorf("unknown token %q", filter.SymbolA)
	}
	b, ok := r.tokens.GetBySymbol(filter.SymbolB)
	if !ok {
		return nil, fmt.Errorf("unknown token %q", filter.SymbolB)
	}
	return r.pools.GetByPair(a.ID, b.ID), nil
}

func (r *renderer) token(id uint64) tokenregistry.Token {
	if t, ok := r.tokens.GetByID(id); ok {
		return t
	}
	return tokenregistry.Token{ID: id, Symbol: fmt.Sprintf("#%d", id)}
}

// price returns how many Y tokens one X token buys at the current reserves,
// ignoring the fee.
func price(x, y tokenregistry.Token, p cpamm.Pool) string {
	if p.ReserveX == 0 || p.ReserveY == 0 {
		return "-"
	}
	rx := decimal.NewFromUint64(p.ReserveX).Shift(-int32(x.Decimals))
	ry := decimal.NewFromUint64(p.ReserveY).Shift(-int32(y.Decimals))
	return ry.DivRound(rx, pricePrecision).String()
}

func feePercent(bps uint16) string {
	return decimal.NewFromInt(int64(bps)).Shift(-2).StringFixed(2) + "%"
}

func header(w io.Writer, title string) {
	fmt.Fprintln(w, "\n"+Bold+Cyan+":: "+title+" ::"+Reset)
}

// renderPools writes the checkpoint summary followed by a table of pools.
func renderPools(w io.Writer, state *engine.State, filter *PairFilter) error {
	r, err := newRenderer(state)
	if err != nil {
		return err
	}
	pools, err := r.selectPools(filter)
	if err != nil {
		return err
	}

	cp := state.Checkpoint
	header(w, "Checkpoint")
	fmt.Fprintf(w, "%sSequence:%s %d\n", Gray, Reset, cp.Sequence)
	fmt.Fprintf(w, "%sRoot:%s     %s\n", Gray, Reset, cp.Root.Hex())
	if cp.CommittedAt > 0 {
		fmt.Fprintf(w, "%sCommitted:%s %s\n", Gray, Reset, time.Unix(0, cp.CommittedAt).UTC().Format(time.RFC3339Nano))
	}

	header(w, fmt.Sprintf("Pools (%d)", len(pools)))
	if len(pools) == 0 {
		fmt.Fprintln(w, Gray+"no pools"+Reset)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 4, ' ', 0)
	fmt.Fprintln(tw, "ID\tPAIR\tFEE\tRESERVE X\tRESERVE Y\tSHARES\tPRICE Y/X\tSTATUS")
	for _, p := range pools {
		x, y := r.token(p.TokenX), r.token(p.TokenY)
		status := Green + "open" + Reset
		if p.Locked {
			status = Red + "locked" + Reset
		}
		fmt.Fprintf(tw, "%d\t%s/%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			p.ID,
			x.Symbol, y.Symbol,
			feePercent(p.FeeBps),
			x.FormatAmount(p.ReserveX),
			y.FormatAmount(p.ReserveY),
			p.ShareSupply,
			price(x, y, p),
			status,
		)
	}
	return tw.Flush()
}
