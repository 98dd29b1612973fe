package monitor

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mftrace "github.com/dsgdpp/mf/pkg/mf/trace"
)

func TestTraceEndpointWithoutSigningKeyNeedsNoAuth(t *testing.T) {
	log := mftrace.NewLog()
	log.Append(mftrace.Entry{Kind: mftrace.KindEpochLoss, Epoch: 1, Loss: 0.5})
	srv := NewServer(nil, nil, log)

	req := httptest.NewRequest(http.MethodGet, "/trace", nil)
	rec := httptest.NewRecorder()
	srv.GinEngine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "epoch_loss")
}

func TestTraceEndpointRejectsMissingBearerToken(t *testing.T) {
	srv := NewServer(nil, []byte("secret"), mftrace.NewLog())

	req := httptest.NewRequest(http.MethodGet, "/trace", nil)
	rec := httptest.NewRecorder()
	srv.GinEngine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTraceEndpointAcceptsValidBearerToken(t *testing.T) {
	key := []byte("secret")
	srv := NewServer(nil, key, mftrace.NewLog())

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "rank-0"})
	signed, err := tok.SignedString(key)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/trace", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	srv.GinEngine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTraceEndpointRejectsTokenSignedWithWrongKey(t *testing.T) {
	srv := NewServer(nil, []byte("secret"), mftrace.NewLog())

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "rank-0"})
	signed, err := tok.SignedString([]byte("wrong-key"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/trace", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	srv.GinEngine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStaticRouterServesHealthz(t *testing.T) {
	srv := NewServer(nil, nil, mftrace.NewLog())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.StaticRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestNotifyFansOutToListenersWithoutBlockingOnFullChannel(t *testing.T) {
	srv := NewServer(nil, nil, mftrace.NewLog())
	ch := make(chan mftrace.Entry, 1)
	srv.mu.Lock()
	srv.listeners = append(srv.listeners, ch)
	srv.mu.Unlock()

	e := mftrace.Entry{Kind: mftrace.KindBalance, Epoch: 2}
	srv.Notify(e)
	srv.Notify(e) // second send must drop, not block, since the channel is full

	got := <-ch
	assert.Equal(t, mftrace.KindBalance, got.Kind)
}

func TestRemoveListenerClosesChannelAndDropsIt(t *testing.T) {
	srv := NewServer(nil, nil, mftrace.NewLog())
	ch := make(chan mftrace.Entry, 1)
	srv.mu.Lock()
	srv.listeners = append(srv.listeners, ch)
	srv.mu.Unlock()

	srv.removeListener(ch)

	srv.mu.Lock()
	n := len(srv.listeners)
	srv.mu.Unlock()
	assert.Equal(t, 0, n)

	_, ok := <-ch
	assert.False(t, ok)
}
