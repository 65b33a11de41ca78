// Package coinbase adapts the Coinbase Exchange public ticker (websocket and
// REST) into index price ticks.
package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/platform/restclient"
	"github.com/alanyoungcy/polypaper/internal/platform/wsconn"
)

// SourceName tags ticks produced by this adapter.
const SourceName = "coinbase"

// Source streams and fetches the spot price of one product.
type Source struct {
	wsURL   string
	restURL string
	product string
	rest    *restclient.Client
	now     func() time.Time
}

// NewSource creates a Source for product (e.g. "BTC-USD").
func NewSource(wsURL, restURL, product string, rest *restclient.Client) *Source {
	return &Source{
		wsURL:   wsURL,
		restURL: strings.TrimRight(restURL, "/"),
		product: product,
		rest:    rest,
		now:     time.Now,
	}
}

// Name implements the index source contract.
func (s *Source) Name() string { return SourceName }

type subscribeFrame struct {
	Type     string    `json:"type"`
	Channels []channel `json:"channels"`
}

type channel struct {
	Name       string   `json:"name"`
	ProductIDs []string `json:"product_ids"`
}

// Session returns a websocket session subscribed to the ticker channel.
func (s *Source) Session(connectTimeout time.Duration, onConnected func(), onTick func(domain.IndexTick)) wsconn.Session {
	return wsconn.Session{
		URL: s.wsURL,
		Subscribe: []any{subscribeFrame{
			Type:     "subscribe",
			Channels: []channel{{Name: "ticker", ProductIDs: []string{s.product}}},
		}},
		OnConnected:    onConnected,
		ConnectTimeout: connectTimeout,
		OnMessage: func(raw []byte) {
			if tick, ok := ParseTicker(raw, s.now()); ok {
				onTick(tick)
			}
		},
	}
}

// ParseTicker extracts a tick from a ticker frame. Subscription acks,
// heartbeats and frames without a positive price report false.
func ParseTicker(raw []byte, now time.Time) (domain.IndexTick, bool) {
	var msg struct {
		Type  string `json:"type"`
		Price string `json:"price"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "ticker" {
		return domain.IndexTick{}, false
	}
	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil {
		return domain.IndexTick{}, false
	}
	tick := domain.IndexTick{Price: price, ObservedAt: now, Source: SourceName}
	return tick, tick.Valid()
}

// Fetch pulls the current price from the REST ticker endpoint.
func (s *Source) Fetch(ctx context.Context) (domain.IndexTick, error) {
	var body struct {
		Price string `json:"price"`
	}
	endpoint := s.restURL + "/products/" + url.PathEscape(s.product) + "/ticker"
	if err := s.rest.GetJSON(ctx, endpoint, &body); err != nil {
		return domain.IndexTick{}, fmt.Errorf("coinbase: fetch ticker: %w", err)
	}
	price, err := strconv.ParseFloat(body.Price, 64)
	if err != nil {
		return domain.IndexTick{}, fmt.Errorf("coinbase: parse price %q: %w", body.Price, err)
	}
	tick := domain.IndexTick{Price: price, ObservedAt: s.now(), Source: SourceName}
	if !tick.Valid() {
		return domain.IndexTick{}, fmt.Errorf("coinbase: invalid price %v", price)
	}
	return tick, nil
}
