package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// PaperClient is an in-process simulated brokerage. Orders fill instantly
// at the current quote. Used when simulate_fills is enabled and by tests
// that need a broker without network access.
type PaperClient struct {
	mu sync.Mutex

	cash      float64
	quotes    map[string]*Quote
	positions map[string]*Position

	TradingBlocked   bool
	TransfersBlocked bool
	FailOrders       bool // force PlaceOrder rejections
	FailQuotes       bool // force GetLatestQuote errors

	orderLog []Order
}

// NewPaperClient creates a paper broker seeded with starting cash
func NewPaperClient(startingCash float64) *PaperClient {
	return &PaperClient{
		cash:      startingCash,
		quotes:    make(map[string]*Quote),
		positions: make(map[string]*Position),
	}
}

// SetQuote seeds or updates the simulated quote for a symbol
func (c *PaperClient) SetQuote(symbol string, ask, bid float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[symbol] = &Quote{Symbol: symbol, AskPrice: ask, BidPrice: bid}
}

// SeedPosition installs a holding directly, bypassing order flow
func (c *PaperClient) SeedPosition(symbol string, qty, entryPrice float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[symbol] = &Position{
		Symbol:        symbol,
		Qty:           qty,
		AvgEntryPrice: entryPrice,
		CurrentPrice:  entryPrice,
		MarketValue:   qty * entryPrice,
	}
}

// GetAccount reports simulated equity as cash plus marked positions
func (c *PaperClient) GetAccount(ctx context.Context) (*Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	positionsValue := 0.0
	for _, p := range c.positions {
		positionsValue += c.markValue(p)
	}

	return &Account{
		ID:               "paper",
		Cash:             c.cash,
		Equity:           c.cash + positionsValue,
		BuyingPower:      c.cash,
		TradingBlocked:   c.TradingBlocked,
		TransfersBlocked: c.TransfersBlocked,
	}, nil
}

// GetPositions returns the simulated holdings marked to current quotes
func (c *PaperClient) GetPositions(ctx context.Context) ([]Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Position, 0, len(c.positions))
	for _, p := range c.positions {
		marked := *p
		if q, ok := c.quotes[p.Symbol]; ok {
			if price, err := q.TradePrice(); err == nil {
				marked.CurrentPrice = price
				marked.MarketValue = marked.Qty * price
				marked.UnrealizedPL = marked.Qty * (price - marked.AvgEntryPrice)
			}
		}
		out = append(out, marked)
	}
	return out, nil
}

// GetLatestQuote returns the seeded quote for a symbol
func (c *PaperClient) GetLatestQuote(ctx context.Context, symbol string) (*Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailQuotes {
		return nil, fmt.Errorf("simulated quote failure for %s", symbol)
	}
	q, ok := c.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote available for %s", symbol)
	}
	return q, nil
}

// PlaceOrder fills a market order immediately at the current quote
func (c *PaperClient) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailOrders {
		return nil, fmt.Errorf("order rejected for %s: simulated broker rejection", req.Symbol)
	}
	if c.TradingBlocked {
		return nil, fmt.Errorf("order rejected for %s: account is not authorized to trade", req.Symbol)
	}
	if req.Qty <= 0 {
		return nil, fmt.Errorf("order rejected for %s: quantity must be positive", req.Symbol)
	}

	q, ok := c.quotes[req.Symbol]
	if !ok {
		return nil, fmt.Errorf("order rejected for %s: no market data", req.Symbol)
	}
	price, err := q.TradePrice()
	if err != nil {
		return nil, fmt.Errorf("order rejected: %w", err)
	}

	switch req.Side {
	case "buy":
		cost := req.Qty * price
		if cost > c.cash {
			return nil, fmt.Errorf("order rejected for %s: insufficient buying power", req.Symbol)
		}
		c.cash -= cost
		if pos, held := c.positions[req.Symbol]; held {
			total := pos.Qty + req.Qty
			pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Qty + price*req.Qty) / total
			pos.Qty = total
		} else {
			c.positions[req.Symbol] = &Position{
				Symbol:        req.Symbol,
				Qty:           req.Qty,
				AvgEntryPrice: price,
				CurrentPrice:  price,
			}
		}
	case "sell":
		pos, held := c.positions[req.Symbol]
		if !held || pos.Qty < req.Qty {
			return nil, fmt.Errorf("order rejected for %s: insufficient quantity held", req.Symbol)
		}
		c.cash += req.Qty * price
		pos.Qty -= req.Qty
		if pos.Qty <= 0 {
			delete(c.positions, req.Symbol)
		}
	default:
		return nil, fmt.Errorf("order rejected for %s: unknown side %q", req.Symbol, req.Side)
	}

	order := Order{
		ID:             uuid.New().String(),
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Qty:            req.Qty,
		Side:           req.Side,
		Status:         "filled",
		FilledQty:      req.Qty,
		FilledAvgPrice: price,
	}
	c.orderLog = append(c.orderLog, order)
	return &order, nil
}

// Orders returns every order the paper broker has accepted, in order
func (c *PaperClient) Orders() []Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Order, len(c.orderLog))
	copy(out, c.orderLog)
	return out
}

func (c *PaperClient) markValue(p *Position) float64 {
	if q, ok := c.quotes[p.Symbol]; ok {
		if price, err := q.TradePrice(); err == nil {
			return p.Qty * price
		}
	}
	return p.Qty * p.AvgEntryPrice
}
