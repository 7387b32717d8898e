package gamma

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pmfair/updown-fair/internal/model"
)

// WindowStart returns the 15-minute boundary covering now. Markets are
// keyed by these aligned Unix timestamps.
func WindowStart(now time.Time) time.Time {
	return now.UTC().Truncate(model.WindowDuration)
}

// MarketSlug builds the slug for one asset's window, for example
// "btc-updown-15m-1755955800".
func MarketSlug(asset model.Asset, start time.Time) string {
	return strings.ToLower(string(asset)) + "-updown-15m-" + strconv.FormatInt(start.Unix(), 10)
}

// stringList decodes Gamma's double-encoded JSON arrays, accepting the
// plain form too.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, (*[]string)(s))
	}
	var inner string
	if err := json.Unmarshal(data, &inner); err != nil {
		return err
	}
	return json.Unmarshal([]byte(inner), (*[]string)(s))
}

type gammaMarket struct {
	ID           string     `json:"id"`
	Question     string     `json:"question"`
	Slug         string     `json:"slug"`
	Active       bool       `json:"active"`
	Closed       bool       `json:"closed"`
	Outcomes     stringList `json:"outcomes"`
	ClobTokenIDs stringList `json:"clobTokenIds"`
}

// Discover resolves the market window covering now for one asset. The
// official open price comes from the anchor kline; when that fetch
// fails the window is still returned with StartPrice zero so estimates
// can run on the first traded price instead.
func (c *Client) Discover(ctx context.Context, asset model.Asset, now time.Time) (model.MarketWindow, error) {
	start := WindowStart(now)
	slug := MarketSlug(asset, start)

	query := url.Values{}
	query.Set("slug", slug)

	var markets []gammaMarket
	if err := c.get(ctx, c.gammaURL, "/markets", query, &markets); err != nil {
		return model.MarketWindow{}, fmt.Errorf("get markets %s: %w", slug, err)
	}
	if len(markets) == 0 {
		return model.MarketWindow{}, fmt.Errorf("slug %s: %w", slug, ErrMarketNotFound)
	}

	m := markets[0]
	upToken, downToken, err := outcomeTokens(m)
	if err != nil {
		return model.MarketWindow{}, fmt.Errorf("slug %s: %w", slug, err)
	}

	window := model.MarketWindow{
		Asset:       asset,
		Slug:        slug,
		StartTime:   start,
		ExpiryTime:  start.Add(model.WindowDuration),
		UpTokenID:   upToken,
		DownTokenID: downToken,
	}

	open, err := c.openPrice(ctx, asset, start)
	if err != nil {
		c.logger.Warn("official open price unavailable",
			"asset", asset,
			"slug", slug,
			"error", err)
		return window, nil
	}
	window.StartPrice = open
	return window, nil
}

// outcomeTokens maps the market's outcome names onto its order book
// token ids.
func outcomeTokens(m gammaMarket) (up, down string, err error) {
	if len(m.Outcomes) != 2 || len(m.ClobTokenIDs) != 2 {
		return "", "", fmt.Errorf("market %s: want 2 outcomes and 2 tokens, got %d/%d",
			m.Slug, len(m.Outcomes), len(m.ClobTokenIDs))
	}
	for i, outcome := range m.Outcomes {
		switch strings.ToLower(outcome) {
		case "up":
			up = m.ClobTokenIDs[i]
		case "down":
			down = m.ClobTokenIDs[i]
		}
	}
	if up == "" || down == "" {
		return "", "", fmt.Errorf("market %s: outcomes %v are not up/down", m.Slug, m.Outcomes)
	}
	return up, down, nil
}
