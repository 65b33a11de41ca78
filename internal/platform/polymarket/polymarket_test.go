package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/platform/restclient"
)

func testRest() *restclient.Client {
	return restclient.New(restclient.Options{Timeout: time.Second, MaxRetries: -1})
}

func TestBookMessageLevelsInEitherShape(t *testing.T) {
	raw := `{"event_type":"book","asset_id":"tok","bids":[{"price":"0.40","size":"12"},["0.45","3"],{"price":0.1,"size":1}],"asks":[["0.60","5"],{"price":"0.55","size":"7"},["0","9"]]}`
	var book BookMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &book))

	top := book.ToTopOfBook()
	assert.Equal(t, "tok", top.InstrumentID)
	require.NotNil(t, top.Bid)
	require.NotNil(t, top.Ask)
	assert.Equal(t, 0.45, top.Bid.Price)
	assert.Equal(t, 3.0, top.Bid.Size)
	assert.Equal(t, 0.55, top.Ask.Price)
	assert.Equal(t, 7.0, top.Ask.Size)
}

func TestBookMessageEmptySides(t *testing.T) {
	book := BookMessage{AssetID: "tok"}
	top := book.ToTopOfBook()
	assert.Nil(t, top.Bid)
	assert.Nil(t, top.Ask)
}

func TestParseMarketMessage(t *testing.T) {
	single := []byte(`{"event_type":"book","asset_id":"a","bids":[],"asks":[{"price":"0.5","size":"1"}]}`)
	tops := ParseMarketMessage(single)
	require.Len(t, tops, 1)
	assert.Equal(t, "a", tops[0].InstrumentID)

	batch := []byte(`[{"event_type":"price_change","asset_id":"a"},{"event_type":"book","asset_id":"b","bids":[["0.3","1"]],"asks":[]}]`)
	tops = ParseMarketMessage(batch)
	require.Len(t, tops, 1)
	assert.Equal(t, "b", tops[0].InstrumentID)
	assert.Equal(t, 0.3, tops[0].Bid.Price)

	assert.Empty(t, ParseMarketMessage([]byte("PONG")))
	assert.Empty(t, ParseMarketMessage(nil))
}

func TestMarketSessionSubscribesAndDispatches(t *testing.T) {
	var got []domain.TopOfBook
	s := MarketSession("wss://example", []string{"up", "down"}, time.Second, nil, func(top domain.TopOfBook) {
		got = append(got, top)
	})

	require.Len(t, s.Subscribe, 1)
	frame, err := json.Marshal(s.Subscribe[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"market","assets_ids":["up","down"]}`, string(frame))

	s.OnMessage([]byte(`{"event_type":"book","asset_id":"up","bids":[["0.2","1"]],"asks":[["0.3","1"]]}`))
	require.Len(t, got, 1)
	assert.Equal(t, 0.3, got[0].Ask.Price)
}

func TestClobGetBookTop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book", r.URL.Path)
		assert.Equal(t, "tok-1", r.URL.Query().Get("token_id"))
		_, _ = w.Write([]byte(`{"bids":[{"price":"0.48","size":"10"}],"asks":[{"price":"0.52","size":"4"}]}`))
	}))
	defer srv.Close()

	top, err := NewClobClient(srv.URL+"/", testRest()).GetBookTop(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", top.InstrumentID)
	assert.Equal(t, 0.48, top.Bid.Price)
	assert.Equal(t, 0.52, top.Ask.Price)
}

const eventJSON = `{
  "id": "1",
  "slug": "btc-updown-5m-1700000100",
  "title": "Bitcoin Up or Down",
  "endDate": "2023-11-14T22:20:00Z",
  "markets": [{
    "question": "Bitcoin Up or Down - 10:15PM",
    "conditionId": "0xcond",
    "eventStartTime": "2023-11-14T22:15:00Z",
    "endDate": "2023-11-14T22:20:00Z",
    "outcomes": "[\"Up\", \"Down\"]",
    "clobTokenIds": "[\"111\", \"222\"]"
  }]
}`

func TestGammaEventBySlugPathForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events/slug/btc-updown-5m-1700000100", r.URL.Path)
		_, _ = w.Write([]byte(eventJSON))
	}))
	defer srv.Close()

	win, err := NewGammaClient(srv.URL, testRest()).GetEventWindow(context.Background(), "btc-updown-5m-1700000100")
	require.NoError(t, err)
	assert.Equal(t, "btc-updown-5m-1700000100", win.WindowID)
	assert.Equal(t, "0xcond", win.ConditionID)
	assert.Equal(t, "111", win.InstrumentUp)
	assert.Equal(t, "222", win.InstrumentDown)
	assert.Equal(t, time.Date(2023, 11, 14, 22, 20, 0, 0, time.UTC), win.ClosesAt)
	assert.Equal(t, time.Date(2023, 11, 14, 22, 15, 0, 0, time.UTC), win.OpensAt)
}

func TestGammaEventBySlugFallsBackToQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "btc-updown-5m-1700000100", r.URL.Query().Get("slug"))
		_, _ = w.Write([]byte("[" + eventJSON + "]"))
	}))
	defer srv.Close()

	ev, err := NewGammaClient(srv.URL, testRest()).GetEventBySlug(context.Background(), "btc-updown-5m-1700000100")
	require.NoError(t, err)
	assert.Equal(t, "Bitcoin Up or Down", ev.Title)
}

func TestGammaEventMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/events" {
			_, _ = w.Write([]byte("[]"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewGammaClient(srv.URL, testRest()).GetEventBySlug(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestToEventWindowOutcomeOrder(t *testing.T) {
	ev := APIEvent{
		Slug: "s",
		Markets: []APIMarket{{
			EndDate:      "2023-11-14T22:20:00Z",
			Outcomes:     stringList{"Down", "Up"},
			ClobTokenIDs: stringList{"d", "u"},
		}},
	}
	win, err := ev.ToEventWindow()
	require.NoError(t, err)
	assert.Equal(t, "u", win.InstrumentUp)
	assert.Equal(t, "d", win.InstrumentDown)

	ev.Markets[0].ClobTokenIDs = stringList{"only"}
	_, err = ev.ToEventWindow()
	require.Error(t, err)
}

func TestStringListForms(t *testing.T) {
	var l stringList
	require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &l))
	assert.Equal(t, stringList{"a", "b"}, l)
	require.NoError(t, json.Unmarshal([]byte(`"[\"c\",\"d\"]"`), &l))
	assert.Equal(t, stringList{"c", "d"}, l)
	require.NoError(t, json.Unmarshal([]byte(`"e, f"`), &l))
	assert.Equal(t, stringList{"e", "f"}, l)
}
