package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/char5742/smooth-mouse/internal/config"
	"github.com/char5742/smooth-mouse/internal/features"
)

type fixedStatus ServiceStatus

func (f fixedStatus) Status() ServiceStatus { return ServiceStatus(f) }

func newTestServer(status ServiceStatus) *httptest.Server {
	srv := NewServer(config.DefaultConfig(), fixedStatus(status), 0, nil)
	return httptest.NewServer(srv.Handler())
}

func TestServiceStatusEndpoint(t *testing.T) {
	ts := newTestServer(ServiceStatus{
		Running: true,
		State:   features.StateDraining.String(),
		Device:  features.Device{Name: "usb-Test-event-mouse", Path: "/dev/input/event3"},
		Stats:   features.LoopStats{Events: 12, Ticks: 30, Injected: 20, EchoesDropped: 20},
	})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/service/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got ServiceStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.Running)
	assert.Equal(t, "draining", got.State)
	assert.Equal(t, "/dev/input/event3", got.Device.Path)
	assert.Equal(t, uint64(30), got.Stats.Ticks)
	assert.Equal(t, uint64(20), got.Stats.EchoesDropped)
}

func TestConfigEndpointIsReadOnly(t *testing.T) {
	ts := newTestServer(ServiceStatus{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/config")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got config.Config
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 5.0, got.Smoothing.Damper)
	assert.Equal(t, config.DefaultEchoSentinel, got.Echo.Sentinel)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/config", nil)
	require.NoError(t, err)
	put, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer put.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, put.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(ServiceStatus{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
