package admin

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/ValentinKolb/dRing/lib/cluster"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeBackend struct {
	joined       bool
	rebalances   int
	disabled     bool
	rebalanceErr error
}

func (b *fakeBackend) Status() Status {
	self := member.New("a", "127.0.0.1:7000")
	return Status{
		Self:      self,
		Cluster:   cluster.State{Members: member.NewSet(self), Master: self, CommitIndex: 3},
		IsMaster:  true,
		Layout:    cluster.Layout{BucketCount: 271, VirtualNodes: 64},
		Discovery: b.joined,
	}
}

func (b *fakeBackend) TriggerRebalance(context.Context) error {
	b.rebalances++
	return b.rebalanceErr
}

func (b *fakeBackend) JoinDiscovery() error {
	if b.disabled {
		return ErrDiscoveryDisabled
	}
	b.joined = true
	return nil
}

func (b *fakeBackend) LeaveDiscovery() error {
	if b.disabled {
		return ErrDiscoveryDisabled
	}
	b.joined = false
	return nil
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestStatus(t *testing.T) {
	h := NewServer("127.0.0.1:0", &fakeBackend{joined: true}, true).Handler()

	rec := do(t, h, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "a", status.Self.ID)
	assert.Equal(t, uint64(3), status.Cluster.CommitIndex)
	assert.Equal(t, 271, status.Layout.BucketCount)
	assert.True(t, status.Discovery)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPost, "/status").Code)
}

func TestMetrics(t *testing.T) {
	h := NewServer("127.0.0.1:0", &fakeBackend{}, false).Handler()
	rec := do(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	// process metrics are always exposed
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}

func TestRebalance(t *testing.T) {
	backend := &fakeBackend{}
	h := NewServer("127.0.0.1:0", backend, false).Handler()

	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/rebalance").Code)
	assert.Equal(t, 1, backend.rebalances)

	backend.rebalanceErr = errors.New("boom")
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodPost, "/rebalance").Code)
}

func TestDiscoveryToggle(t *testing.T) {
	backend := &fakeBackend{joined: true}
	h := NewServer("127.0.0.1:0", backend, false).Handler()

	rec := do(t, h, http.MethodPost, "/discovery/leave")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"discovery":false}`, rec.Body.String())
	assert.False(t, backend.joined)

	rec = do(t, h, http.MethodPost, "/discovery/join")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"discovery":true}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/discovery/mute").Code)

	backend.disabled = true
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/discovery/join").Code)
}

func TestStartAndClose(t *testing.T) {
	s := NewServer("127.0.0.1:0", &fakeBackend{}, false)
	require.NoError(t, s.Start())
	require.NotNil(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr().String() + "/status")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Close(context.Background()))
}
