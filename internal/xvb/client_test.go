package xvb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient("4Address", "good")
	c.HTTP = srv.Client()
	c.PublicURL = srv.URL + "/p2pool/stats"
	c.PrivateURL = srv.URL + "/cgi-bin/private"
	return c, srv
}

func TestPrivateParsesAndSendsCredentials(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cgi-bin/private", r.URL.Path)
		assert.Equal(t, "4Address", r.URL.Query().Get("address"))
		assert.Equal(t, "good", r.URL.Query().Get("token"))
		_, _ = w.Write([]byte(`{"fails":2,"donor_1hr_avg":1500.5,"donor_24hr_avg":1200}`))
	})
	priv, err := c.Private(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(2), priv.Fails)
	assert.InDelta(t, 1500.5, priv.DonorAvg1h, 0.001)
	assert.InDelta(t, 1200, priv.DonorAvg24h, 0.001)
	assert.Zero(t, c.Failures())
}

func TestPrivateInvalidTokenIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("token") == "bad" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	c.Token = "bad"

	_, err := c.Private(context.Background())
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = c.Private(context.Background())
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, int32(1), hits.Load(), "a refused token must not be sent again")
	assert.Equal(t, 2, c.Failures())

	c.Token = "good"
	_, err = c.Private(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	assert.Zero(t, c.Failures())
}

func TestPrivateFailureCounterPersists(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"fails":0}`))
	})
	for i := 1; i <= 3; i++ {
		_, err := c.Private(context.Background())
		assert.ErrorIs(t, err, ErrStatus)
		assert.Equal(t, i, c.Failures())
	}
	fail.Store(false)
	_, err := c.Private(context.Background())
	require.NoError(t, err)
	assert.Zero(t, c.Failures())
}

func TestPublicRetriesWithBackoff(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"time_remain":12,"bonus_hr":null,"winner":"4abc","round_type":"vip"}`))
	})
	ps, err := c.Public(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	require.NotNil(t, ps.TimeRemain)
	assert.Equal(t, uint32(12), *ps.TimeRemain)
	assert.Nil(t, ps.BonusHR)
	assert.Equal(t, "vip", ps.RoundType)
}

func TestPublicDecodeErrorIsPermanent(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`not json`))
	})
	_, err := c.Public(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}
