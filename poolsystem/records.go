package poolsystem

import (
	"fmt"
	"time"

	"github.com/defistate/defistate-amm-go/protocols/cpamm/calculator"
	"github.com/google/uuid"
)

const swapSubscriberBuffer = 64

// SwapRecord is an executed swap as seen by the outside world.
type SwapRecord struct {
	ID         uuid.UUID `json:"id"`
	PoolID     uint64    `json:"poolId"`
	Account    string    `json:"account"`
	TokenIn    uint64    `json:"tokenIn"`
	TokenOut   uint64    `json:"tokenOut"`
	ExecutedAt time.Time `json:"executedAt"`
	calculator.SwapRecord
}

// SwapRecord returns a recently executed swap. Only the most recent
// Config.RecentSwaps records are kept.
func (s *System) SwapRecord(id uuid.UUID) (SwapRecord, error) {
	rec, ok := s.records.Get(id)
	if !ok {
		return SwapRecord{}, fmt.Errorf("%w: %s", ErrSwapNotFound, id)
	}
	return rec, nil
}

// SubscribeSwaps returns a channel receiving every swap executed after the
// call, and a function that ends the subscription. A subscriber that falls
// behind loses records rather than stalling swaps.
func (s *System) SubscribeSwaps() (<-chan SwapRecord, func()) {
	ch := make(chan SwapRecord, swapSubscriberBuffer)

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	unsubscribe := func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, unsubscribe
}

func (s *System) publishSwap(rec SwapRecord) {
	s.records.Add(rec.ID, rec)

	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for id, ch := range s.subs {
		select {
		case ch <- rec:
		default:
			s.logger.Warn("dropping swap record for slow subscriber", "subscriber", id, "swap", rec.ID)
		}
	}
}
