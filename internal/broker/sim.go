package broker

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/momentumalpha/trading-engine/internal/observ"
)

// Simulator is the paper-trading broker. The rest of the pipeline runs
// identically against it; only execution is simulated. Entries fill
// immediately at the current simulated price plus slippage, and a cash
// balance guards against over-committing paper capital.
type Simulator struct {
	mu      sync.Mutex
	prices  map[string]*simPrice
	orders  map[string]*simOrder
	balance float64
	random  *rand.Rand
}

type simPrice struct {
	last        float64
	volatility  float64 // per-tick fraction
	bidDepth    int64
	askDepth    int64
	atPriceBand bool
	halted      bool
}

type simOrder struct {
	snapshot StatusSnapshot
	symbol   string
	quantity int
}

// NewSimulator seeds the paper book with a starting cash balance.
func NewSimulator(balance float64) *Simulator {
	return &Simulator{
		prices:  make(map[string]*simPrice),
		orders:  make(map[string]*simOrder),
		balance: balance,
		random:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed installs a symbol with a base price and tick volatility.
func (s *Simulator) Seed(symbol string, price, volatility float64, depth int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[strings.ToUpper(symbol)] = &simPrice{
		last:       price,
		volatility: volatility,
		bidDepth:   depth,
		askDepth:   depth,
	}
}

// SetPrice pins the simulated price, used by tests and replay fixtures.
func (s *Simulator) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.prices[strings.ToUpper(symbol)]; ok {
		p.last = price
	}
}

// SetPriceBand marks the symbol as pinned at an exchange price band.
func (s *Simulator) SetPriceBand(symbol string, at bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.prices[strings.ToUpper(symbol)]; ok {
		p.atPriceBand = at
	}
}

// SetDepth overrides top-of-book depth for a symbol.
func (s *Simulator) SetDepth(symbol string, depth int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.prices[strings.ToUpper(symbol)]; ok {
		p.bidDepth = depth
		p.askDepth = depth
	}
}

// Balance returns remaining paper cash.
func (s *Simulator) Balance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

func (s *Simulator) SubmitBracket(ctx context.Context, req BracketRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &CommError{Op: "submit_bracket", Timeout: true, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	symbol := strings.ToUpper(req.Symbol)
	p, ok := s.prices[symbol]
	if !ok {
		return "", &CommError{Op: "submit_bracket", Err: fmt.Errorf("unknown symbol %s", symbol)}
	}
	if p.halted {
		return "", &CommError{Op: "submit_bracket", Err: fmt.Errorf("symbol %s halted", symbol)}
	}

	// Small adverse slippage, 1-5 bps, the way live entries behave.
	slippage := 1 + float64(1+s.random.Intn(5))/10_000
	fillPrice := p.last * slippage
	if req.Side == SideSell {
		fillPrice = p.last / slippage
	}

	notional := fillPrice * float64(req.Quantity)
	if req.Side == SideBuy && notional > s.balance {
		return "", &CommError{Op: "submit_bracket", Err: fmt.Errorf("insufficient paper balance: need %.2f have %.2f", notional, s.balance)}
	}
	if req.Side == SideBuy {
		s.balance -= notional
	} else {
		s.balance += notional
	}

	id := "SIM-" + uuid.NewString()
	s.orders[id] = &simOrder{
		symbol:   symbol,
		quantity: req.Quantity,
		snapshot: StatusSnapshot{
			OrderID:        id,
			Status:         StatusFilled,
			FilledQuantity: req.Quantity,
			AvgFillPrice:   fillPrice,
			LastPrice:      p.last,
			AsOf:           time.Now(),
		},
	}
	observ.IncCounter("sim_orders_total", map[string]string{"symbol": symbol, "side": string(req.Side)})
	return id, nil
}

func (s *Simulator) GetStatus(ctx context.Context, orderID string) (StatusSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return StatusSnapshot{}, &CommError{Op: "get_status", Timeout: true, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return StatusSnapshot{}, &CommError{Op: "get_status", Err: fmt.Errorf("unknown order %s", orderID)}
	}
	if p, ok := s.prices[o.symbol]; ok {
		s.tickLocked(p)
		o.snapshot.LastPrice = p.last
	}
	o.snapshot.AsOf = time.Now()
	return o.snapshot, nil
}

func (s *Simulator) Cancel(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return &CommError{Op: "cancel", Timeout: true, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return &CommError{Op: "cancel", Err: fmt.Errorf("unknown order %s", orderID)}
	}
	o.snapshot.Status = StatusCancelled
	return nil
}

func (s *Simulator) GetLiquidity(ctx context.Context, symbol string) (Liquidity, error) {
	if err := ctx.Err(); err != nil {
		return Liquidity{}, &CommError{Op: "get_liquidity", Timeout: true, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	symbol = strings.ToUpper(symbol)
	p, ok := s.prices[symbol]
	if !ok {
		return Liquidity{}, &CommError{Op: "get_liquidity", Err: fmt.Errorf("unknown symbol %s", symbol)}
	}
	return Liquidity{
		Symbol:      symbol,
		BidDepth:    p.bidDepth,
		AskDepth:    p.askDepth,
		LastPrice:   p.last,
		AtPriceBand: p.atPriceBand,
	}, nil
}

// tickLocked advances the random walk one step.
func (s *Simulator) tickLocked(p *simPrice) {
	if p.volatility <= 0 {
		return
	}
	move := (s.random.Float64()*2 - 1) * p.volatility
	p.last *= 1 + move
}
