package broker

import (
	"context"
	"fmt"
	"time"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// EntryType of the bracket's entry leg.
type EntryType string

const (
	EntryMarket EntryType = "MARKET"
	EntryLimit  EntryType = "LIMIT"
)

// BracketRequest bundles entry, profit target and trailing stop into a
// single order instruction.
type BracketRequest struct {
	Symbol      string
	Side        Side
	Quantity    int
	EntryType   EntryType
	LimitPrice  float64 // entry leg, ignored for MARKET
	TargetPrice float64
	StopPrice   float64
}

// Status values reported by the broker for an order.
type Status string

const (
	StatusOpen      Status = "open"
	StatusFilled    Status = "filled"
	StatusPartial   Status = "partial"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// StatusSnapshot is a point-in-time view of an order at the broker.
type StatusSnapshot struct {
	OrderID        string
	Status         Status
	FilledQuantity int
	AvgFillPrice   float64
	LastPrice      float64 // latest trade price for the symbol
	AsOf           time.Time
}

// Liquidity is the order-book view the risk gate consults before
// admitting a trade.
type Liquidity struct {
	Symbol      string
	BidDepth    int64 // shares at top of book
	AskDepth    int64
	LastPrice   float64
	AtPriceBand bool // exchange circuit-limit flag
}

// Broker is the execution collaborator. Every call takes a context;
// timeouts are the caller's responsibility and surface as CommError.
type Broker interface {
	SubmitBracket(ctx context.Context, req BracketRequest) (orderID string, err error)
	GetStatus(ctx context.Context, orderID string) (StatusSnapshot, error)
	Cancel(ctx context.Context, orderID string) error
	GetLiquidity(ctx context.Context, symbol string) (Liquidity, error)
}

// CommError is a network or timeout failure talking to the broker.
// Retryable with backoff; exhaustion escalates to an order rejection.
type CommError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *CommError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("broker: %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("broker: %s failed: %v", e.Op, e.Err)
}

func (e *CommError) Unwrap() error { return e.Err }

// AuthError is fatal for order submission: the engine drops to
// observe-only mode rather than retrying.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("broker: authentication failed: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }
