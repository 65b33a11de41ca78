package polymarket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// flexFloat unmarshals from a JSON number or a numeric string, the venue
// sends both depending on the endpoint.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("polymarket: parse number %q: %w", s, err)
	}
	*f = flexFloat(n)
	return nil
}

// stringList unmarshals either a real JSON array of strings, a JSON-encoded
// array inside a string ("[\"a\",\"b\"]") or a comma separated string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(s, "[") {
		if err := json.Unmarshal([]byte(s), &arr); err != nil {
			return fmt.Errorf("polymarket: parse encoded list: %w", err)
		}
		*l = arr
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*l = out
	return nil
}

// --------------------------------------------------------------------------
// Book DTOs (REST and WebSocket)
// --------------------------------------------------------------------------

// Level is a single bid/ask level. The venue encodes levels either as
// {"price":"0.5","size":"10"} objects or as ["0.5","10"] pairs.
type Level struct {
	Price flexFloat
	Size  flexFloat
}

func (lv *Level) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []flexFloat
		if err := json.Unmarshal(data, &pair); err != nil {
			return err
		}
		if len(pair) < 1 {
			return fmt.Errorf("polymarket: empty level")
		}
		lv.Price = pair[0]
		if len(pair) > 1 {
			lv.Size = pair[1]
		}
		return nil
	}
	var obj struct {
		Price flexFloat `json:"price"`
		Size  flexFloat `json:"size"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	lv.Price, lv.Size = obj.Price, obj.Size
	return nil
}

// BookMessage is a full orderbook snapshot, as returned by GET /book and as
// delivered on the market websocket channel with event_type "book".
type BookMessage struct {
	EventType string  `json:"event_type"`
	AssetID   string  `json:"asset_id"`
	Market    string  `json:"market"`
	Bids      []Level `json:"bids"`
	Asks      []Level `json:"asks"`
	Timestamp string  `json:"timestamp"`
	Hash      string  `json:"hash"`
}

// ToTopOfBook reduces the snapshot to its best bid (highest price) and best
// ask (lowest price). Non-positive prices are ignored.
func (b *BookMessage) ToTopOfBook() domain.TopOfBook {
	top := domain.TopOfBook{InstrumentID: b.AssetID}
	for _, lvl := range b.Bids {
		p := float64(lvl.Price)
		if p <= 0 {
			continue
		}
		if top.Bid == nil || p > top.Bid.Price {
			top.Bid = &domain.PriceLevel{Price: p, Size: float64(lvl.Size)}
		}
	}
	for _, lvl := range b.Asks {
		p := float64(lvl.Price)
		if p <= 0 {
			continue
		}
		if top.Ask == nil || p < top.Ask.Price {
			top.Ask = &domain.PriceLevel{Price: p, Size: float64(lvl.Size)}
		}
	}
	return top
}

// MarketSubscription is the subscribe frame of the market channel.
type MarketSubscription struct {
	Type   string   `json:"type"`
	Assets []string `json:"assets_ids"`
}

// --------------------------------------------------------------------------
// Gamma DTOs
// --------------------------------------------------------------------------

// APIEvent is an event as returned by the Gamma API.
type APIEvent struct {
	ID        string      `json:"id"`
	Slug      string      `json:"slug"`
	Title     string      `json:"title"`
	StartDate string      `json:"startDate"`
	EndDate   string      `json:"endDate"`
	Closed    bool        `json:"closed"`
	Markets   []APIMarket `json:"markets"`
}

// APIMarket is a market nested in a Gamma event.
type APIMarket struct {
	ID             string     `json:"id"`
	Question       string     `json:"question"`
	ConditionID    string     `json:"conditionId"`
	Slug           string     `json:"slug"`
	StartDate      string     `json:"startDate"`
	EventStartTime string     `json:"eventStartTime"`
	EndDate        string     `json:"endDate"`
	Outcomes       stringList `json:"outcomes"`
	ClobTokenIDs   stringList `json:"clobTokenIds"`
}

// ToEventWindow converts the first market of the event into an EventWindow.
// The UP instrument is the token whose outcome reads "Up" or "Yes"; without
// outcome labels the first token is UP.
func (e *APIEvent) ToEventWindow() (domain.EventWindow, error) {
	if len(e.Markets) == 0 {
		return domain.EventWindow{}, fmt.Errorf("polymarket/gamma: event %q has no markets: %w", e.Slug, domain.ErrNotFound)
	}
	m := e.Markets[0]
	if len(m.ClobTokenIDs) < 2 {
		return domain.EventWindow{}, fmt.Errorf("polymarket/gamma: event %q has %d token ids, want 2", e.Slug, len(m.ClobTokenIDs))
	}

	upIdx, downIdx := 0, 1
	if len(m.Outcomes) >= 2 {
		first := strings.ToLower(strings.TrimSpace(m.Outcomes[0]))
		if first == "down" || first == "no" {
			upIdx, downIdx = 1, 0
		}
	}

	closes, ok := firstTime(m.EndDate, e.EndDate)
	if !ok {
		return domain.EventWindow{}, fmt.Errorf("polymarket/gamma: event %q has no end date", e.Slug)
	}
	opens, _ := firstTime(m.EventStartTime, e.StartDate, m.StartDate)

	slug := e.Slug
	if slug == "" {
		slug = m.Slug
	}
	question := m.Question
	if question == "" {
		question = e.Title
	}
	return domain.EventWindow{
		WindowID:       slug,
		ConditionID:    m.ConditionID,
		InstrumentUp:   m.ClobTokenIDs[upIdx],
		InstrumentDown: m.ClobTokenIDs[downIdx],
		Question:       question,
		OpensAt:        opens,
		ClosesAt:       closes,
	}, nil
}

func firstTime(values ...string) (time.Time, bool) {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05Z07:00", "2006-01-02 15:04:05Z07:00", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
