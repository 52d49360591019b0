package pricecache

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"saturn/internal/util"
)

var _ Quoter = (*AlpacaQuoter)(nil)

// AlpacaQuoter quotes latest prices from the Alpaca market-data API.
type AlpacaQuoter struct {
	client *marketdata.Client
}

// NewAlpacaQuoter creates an AlpacaQuoter with the given credentials. An
// empty dataURL uses the SDK default endpoint.
func NewAlpacaQuoter(apiKey, apiSecret, dataURL string) *AlpacaQuoter {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaQuoter{client: marketdata.NewClient(opts)}
}

// LatestPrice fetches the requested quote with a short backoff: a blip on the
// data feed shouldn't blank out the valuation view, but callers sit behind a
// cache, so the attempts stay bounded.
func (q *AlpacaQuoter) LatestPrice(ctx context.Context, symbol string, pt PriceType) (decimal.Decimal, error) {
	if pt != PriceTrade && pt != PriceBid && pt != PriceAsk {
		return decimal.Zero, fmt.Errorf("unknown price type %q", pt)
	}

	var price float64
	err := util.Retry(ctx, 3, 200*time.Millisecond, func() error {
		switch pt {
		case PriceTrade:
			tr, err := q.client.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
			if err != nil {
				return err
			}
			price = tr.Price
		default:
			quote, err := q.client.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{})
			if err != nil {
				return err
			}
			price = quote.BidPrice
			if pt == PriceAsk {
				price = quote.AskPrice
			}
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("latest %s price for %s: %w", pt, symbol, err)
	}
	return decimal.NewFromFloat(price), nil
}
