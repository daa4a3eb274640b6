package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memCache map[string]string

func (m memCache) GetPrice(_ context.Context, feed, day string) (string, bool) {
	v, ok := m[feed+"/"+day]
	return v, ok
}

func (m memCache) SetPrice(_ context.Context, feed, day, usd string) {
	m[feed+"/"+day] = usd
}

func newServer(t *testing.T, hits *int32, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.URL.Path != "/coins/across-protocol/history" || r.URL.Query().Get("date") != "05-03-2023" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func provider(t *testing.T, url string, cache Cache) *CoinGecko {
	return NewCoinGecko(Options{BaseURL: url, RPS: 1000}, map[string]string{"acx": "across-protocol"}, cache, zaptest.NewLogger(t))
}

var day = time.Date(2023, 3, 5, 18, 30, 0, 0, time.UTC)

func TestUSDPriceFetchesAndCaches(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits, http.StatusOK, `{"id":"across-protocol","market_data":{"current_price":{"usd":0.1234567,"eur":0.11}}}`)
	cache := memCache{}
	p := provider(t, srv.URL, cache)

	got, err := p.USDPrice(context.Background(), "ACX", day)
	require.NoError(t, err)
	require.Equal(t, "0.1234567", got.String())
	require.Equal(t, "0.1234567", cache["across-protocol/05-03-2023"])

	_, err = p.USDPrice(context.Background(), "ACX", day)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestUSDPriceUnknownSymbol(t *testing.T) {
	p := provider(t, "http://127.0.0.1:0", nil)
	_, err := p.USDPrice(context.Background(), "WETH", day)
	require.True(t, errors.Is(err, ErrUnknownSymbol))
}

func TestUSDPriceMissingMarketData(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits, http.StatusOK, `{"id":"across-protocol"}`)
	p := provider(t, srv.URL, nil)

	_, err := p.USDPrice(context.Background(), "ACX", day)
	require.True(t, errors.Is(err, ErrNoPrice))
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestUSDPriceClientErrorIsNotRetried(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits, http.StatusBadRequest, `{}`)
	p := provider(t, srv.URL, nil)

	_, err := p.USDPrice(context.Background(), "ACX", day)
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
