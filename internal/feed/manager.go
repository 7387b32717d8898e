package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pmfair/updown-fair/internal/model"
)

// Manager runs one Feed per configured venue, all forwarding onto the
// same tick channel.
type Manager struct {
	feeds  []*Feed
	logger *slog.Logger
}

// Status is a point-in-time health snapshot of one feed.
type Status struct {
	Venue         model.Venue `json:"venue"`
	Connected     bool        `json:"connected"`
	LastMessageAt time.Time   `json:"last_message_at"`
}

// NewManager builds feeds for the given venues. Parsed ticks from every
// venue go to out.
func NewManager(venues []model.Venue, assets []model.Asset, out chan<- model.PriceTick, cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	feeds := make([]*Feed, 0, len(venues))
	for _, venue := range venues {
		adapter, err := NewAdapter(venue)
		if err != nil {
			return nil, fmt.Errorf("building feed: %w", err)
		}
		feeds = append(feeds, New(adapter, assets, out, cfg, logger))
	}
	return &Manager{feeds: feeds, logger: logger}, nil
}

// Start launches every feed's reconnect loop.
func (m *Manager) Start(ctx context.Context) {
	for _, f := range m.feeds {
		f.Start(ctx)
	}
	m.logger.Info("feeds started", "count", len(m.feeds))
}

// Stop tears down all feeds and waits for their loops to exit.
func (m *Manager) Stop() {
	for _, f := range m.feeds {
		f.Stop()
	}
	m.logger.Info("feeds stopped")
}

// Status reports per-venue connection health.
func (m *Manager) Status() []Status {
	out := make([]Status, 0, len(m.feeds))
	for _, f := range m.feeds {
		out = append(out, Status{
			Venue:         f.Venue(),
			Connected:     f.IsConnected(),
			LastMessageAt: f.LastMessageAt(),
		})
	}
	return out
}

// ConnectedCount returns how many feeds currently hold a session.
func (m *Manager) ConnectedCount() int {
	n := 0
	for _, f := range m.feeds {
		if f.IsConnected() {
			n++
		}
	}
	return n
}
