package broker

import (
	"context"
	"fmt"
)

// Client defines the brokerage operations the engine consumes
type Client interface {
	GetAccount(ctx context.Context) (*Account, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetLatestQuote(ctx context.Context, symbol string) (*Quote, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
}

// Account represents the broker's view of an account
type Account struct {
	ID               string  `json:"id"`
	Equity           float64 `json:"equity,string"`
	Cash             float64 `json:"cash,string"`
	BuyingPower      float64 `json:"buying_power,string"`
	TradingBlocked   bool    `json:"trading_blocked"`
	AccountBlocked   bool    `json:"account_blocked"`
	TransfersBlocked bool    `json:"transfers_blocked"`
}

// Position represents a broker-held position
type Position struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty,string"`
	AvgEntryPrice float64 `json:"avg_entry_price,string"`
	MarketValue   float64 `json:"market_value,string"`
	UnrealizedPL  float64 `json:"unrealized_pl,string"`
	CurrentPrice  float64 `json:"current_price,string"`
}

// Quote is the latest NBBO quote for a symbol
type Quote struct {
	Symbol   string
	AskPrice float64
	BidPrice float64
}

// TradePrice resolves the quote to a tradable price: ask first, bid as
// fallback, error when neither is positive.
func (q *Quote) TradePrice() (float64, error) {
	if q.AskPrice > 0 {
		return q.AskPrice, nil
	}
	if q.BidPrice > 0 {
		return q.BidPrice, nil
	}
	return 0, fmt.Errorf("no usable quote for %s (ask=%.2f bid=%.2f)", q.Symbol, q.AskPrice, q.BidPrice)
}

// Order sides
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// OrderRequest is a market order submission
type OrderRequest struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty,string"`
	Side          string  `json:"side"` // "buy" or "sell"
	Type          string  `json:"type"`
	TimeInForce   string  `json:"time_in_force"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
}

// Order is the broker's response to an order submission
type Order struct {
	ID             string  `json:"id"`
	ClientOrderID  string  `json:"client_order_id"`
	Symbol         string  `json:"symbol"`
	Qty            float64 `json:"qty,string"`
	Side           string  `json:"side"`
	Status         string  `json:"status"`
	FilledQty      float64 `json:"filled_qty,string"`
	FilledAvgPrice float64 `json:"filled_avg_price,string"`
}

// Ensure both the HTTP client and the paper client satisfy Client
var _ Client = (*HTTPClient)(nil)
var _ Client = (*PaperClient)(nil)
