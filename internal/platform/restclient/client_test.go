package restclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/platform/restclient"
)

func newClient() *restclient.Client {
	return restclient.New(restclient.Options{
		Timeout:       time.Second,
		MaxRetries:    2,
		BaseRetryWait: time.Millisecond,
	})
}

func TestGetJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"price":"101.5"}`))
	}))
	defer srv.Close()

	var out struct {
		Price string `json:"price"`
	}
	require.NoError(t, newClient().GetJSON(context.Background(), srv.URL, &out))
	assert.Equal(t, "101.5", out.Price)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetJSONMapsNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	var out map[string]any
	err := newClient().GetJSON(context.Background(), srv.URL, &out)
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, int32(1), calls.Load(), "4xx is not retried")
}

func TestGetJSONGivesUpOnPersistentRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var out map[string]any
	err := newClient().GetJSON(context.Background(), srv.URL, &out)
	require.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestGetJSONHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out map[string]any
	err := newClient().GetJSON(ctx, srv.URL, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
