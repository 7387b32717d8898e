package gamma

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/pmfair/updown-fair/internal/model"
)

// openPrice fetches the official open of the 15-minute candle starting
// at start from the anchor exchange. Settlement compares against this
// value, so it takes precedence over the first streamed trade.
func (c *Client) openPrice(ctx context.Context, asset model.Asset, start time.Time) (float64, error) {
	query := url.Values{}
	query.Set("symbol", string(asset)+"USDT")
	query.Set("interval", "15m")
	query.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	query.Set("limit", "1")

	body, err := c.doWithRetry(ctx, c.klineURL, "/api/v3/klines", query)
	if err != nil {
		return 0, err
	}

	// [[openTime, "open", "high", "low", "close", ...], ...]
	var klines [][]json.RawMessage
	if err := json.Unmarshal(body, &klines); err != nil {
		return 0, fmt.Errorf("unmarshal klines: %w", err)
	}
	if len(klines) == 0 || len(klines[0]) < 2 {
		return 0, fmt.Errorf("no kline for window %d", start.Unix())
	}

	var openStr string
	if err := json.Unmarshal(klines[0][1], &openStr); err != nil {
		return 0, fmt.Errorf("unmarshal open price: %w", err)
	}
	open, err := strconv.ParseFloat(openStr, 64)
	if err != nil || open <= 0 {
		return 0, fmt.Errorf("bad open price %q", openStr)
	}
	return open, nil
}
