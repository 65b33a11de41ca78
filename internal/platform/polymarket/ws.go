package polymarket

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/platform/wsconn"
)

// BookHandler receives the top of book of every "book" event.
type BookHandler func(domain.TopOfBook)

// MarketSession builds a websocket session on the public market channel
// subscribed to assetIDs. Every book snapshot in the stream is reduced to
// its top level and handed to onBook.
func MarketSession(wsURL string, assetIDs []string, connectTimeout time.Duration, onConnected func(), onBook BookHandler) wsconn.Session {
	ids := append([]string(nil), assetIDs...)
	return wsconn.Session{
		URL:            wsURL,
		Subscribe:      []any{MarketSubscription{Type: "market", Assets: ids}},
		OnConnected:    onConnected,
		ConnectTimeout: connectTimeout,
		OnMessage: func(raw []byte) {
			for _, top := range ParseMarketMessage(raw) {
				onBook(top)
			}
		},
	}
}

// ParseMarketMessage decodes a market channel frame. The venue sends either
// a single event object or an array of them; only "book" events carry full
// snapshots and anything else is ignored. Unparseable frames yield nil.
func ParseMarketMessage(raw []byte) []domain.TopOfBook {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	var items []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
	} else {
		items = []json.RawMessage{raw}
	}

	var out []domain.TopOfBook
	for _, item := range items {
		var book BookMessage
		if err := json.Unmarshal(item, &book); err != nil {
			continue
		}
		if book.EventType != "book" || book.AssetID == "" {
			continue
		}
		out = append(out, book.ToTopOfBook())
	}
	return out
}
