// Package binance adapts the Binance spot trade stream and ticker endpoint
// into index price ticks.
package binance

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

const SourceName = "binance"

// Source streams trades and fetches the ticker price of one symbol.
type Source struct {
	wsURL   string
	restURL string
	symbol  string
	rest    *restclient.Client
	now     func() time.Time
}

// NewSource creates a Source for symbol (e.g. "BTCUSDT").
func NewSource(wsURL, restURL, symbol string, rest *restclient.Client) *Source {
	return &Source{
		wsURL:   strings.TrimRight(wsURL, "/"),
		restURL: strings.TrimRight(restURL, "/"),
		symbol:  strings.ToUpper(symbol),
		rest:    rest,
		now:     time.Now,
	}
}

func (s *Source) Name() string { return SourceName }

// StreamURL is the raw trade stream URL for the symbol. The stream needs no
// subscription frame.
func (s *Source) StreamURL() string {
	return s.wsURL + "/" + strings.ToLower(s.symbol) + "@trade"
}

// Session returns a websocket session on the symbol's trade stream.
func (s *Source) Session(connectTimeout time.Duration, onConnected func(), onTick func(domain.IndexTick)) wsconn.Session {
	return wsconn.Session{
		URL:            s.StreamURL(),
		OnConnected:    onConnected,
		ConnectTimeout: connectTimeout,
		OnMessage: func(raw []byte) {
			if tick, ok := ParseTrade(raw, s.now()); ok {
				onTick(tick)
			}
		},
	}
}

// ParseTrade extracts a tick from a trade event ({"e":"trade","p":"..."}).
func ParseTrade(raw []byte, now time.Time) (domain.IndexTick, bool) {
	var msg struct {
		Event string `json:"e"`
		Price string `json:"p"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Price == "" {
		return domain.IndexTick{}, false
	}
	if msg.Event != "" && msg.Event != "trade" {
		return domain.IndexTick{}, false
	}
	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil {
		return domain.IndexTick{}, false
	}
	tick := domain.IndexTick{Price: price, ObservedAt: now, Source: SourceName}
	return tick, tick.Valid()
}

// Fetch pulls the latest price from /api/v3/ticker/price.
func (s *Source) Fetch(ctx context.Context) (domain.IndexTick, error) {
	var body struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	endpoint := s.restURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(s.symbol)
	if err := s.rest.GetJSON(ctx, endpoint, &body); err != nil {
		return domain.IndexTick{}, fmt.Errorf("binance: fetch ticker: %w", err)
	}
	price, err := strconv.ParseFloat(body.Price, 64)
	if err != nil {
		return domain.IndexTick{}, fmt.Errorf("binance: parse price %q: %w", body.Price, err)
	}
	tick := domain.IndexTick{Price: price, ObservedAt: s.now(), Source: SourceName}
	if !tick.Valid() {
		return domain.IndexTick{}, fmt.Errorf("binance: invalid price %v", price)
	}
	return tick, nil
}
