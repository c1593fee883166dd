package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/breeze/pkg/events"
	"github.com/cuemby/breeze/pkg/metrics"
	"github.com/cuemby/breeze/pkg/registry"
	"github.com/cuemby/breeze/pkg/types"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatus struct {
	status types.SystemStatus
}

func (f fakeStatus) Status() types.SystemStatus { return f.status }

type fakeTasks struct {
	healthy bool
	records []registry.TaskRecord
}

func (f *fakeTasks) ScanHealth() bool             { return f.healthy }
func (f *fakeTasks) Tasks() []registry.TaskRecord { return f.records }

func serve(hs *HealthServer, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	metrics.UpdateComponent("api-test", true, "")
	tasks := &fakeTasks{
		healthy: true,
		records: []registry.TaskRecord{{
			Config: registry.TaskConfig{Name: "sampler", Priority: 5, Core: 1},
			Health: registry.Health{State: registry.StateRunning, StackHeadroom: 4096, Healthy: true, LastHeartbeat: time.Now()},
		}},
	}
	hs := NewHealthServer(nil, tasks)

	tests := []struct {
		name           string
		method         string
		healthy        bool
		expectedStatus int
	}{
		{name: "GET healthy", method: http.MethodGet, healthy: true, expectedStatus: http.StatusOK},
		{name: "GET unhealthy task", method: http.MethodGet, healthy: false, expectedStatus: http.StatusServiceUnavailable},
		{name: "POST rejected", method: http.MethodPost, healthy: true, expectedStatus: http.StatusMethodNotAllowed},
		{name: "DELETE rejected", method: http.MethodDelete, healthy: true, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks.healthy = tt.healthy
			w := serve(hs, tt.method, "/health")
			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.method != http.MethodGet {
				return
			}
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var response HealthResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			require.Len(t, response.Tasks, 1)
			assert.Equal(t, "sampler", response.Tasks[0].Name)
			assert.Equal(t, 4096, response.Tasks[0].StackHeadroom)
			if tt.healthy {
				assert.Equal(t, "healthy", response.Status)
			} else {
				assert.Equal(t, "unhealthy", response.Status)
				assert.NotEmpty(t, response.Message)
			}
		})
	}
}

func TestStatusHandler(t *testing.T) {
	status := fakeStatus{status: types.SystemStatus{
		Fan:           types.FanSnapshot{CurrentSpeed: 42, TargetSpeed: 60, RPM: 1300, NightActive: true},
		Status:        "ok",
		Mode:          "auto",
		Temperature:   31.5,
		LinkConnected: true,
	}}
	hs := NewHealthServer(status, nil)

	w := serve(hs, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var got types.SystemStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, 42, got.Fan.CurrentSpeed)
	assert.Equal(t, 60, got.Fan.TargetSpeed)
	assert.Equal(t, "auto", got.Mode)
	assert.Equal(t, 31.5, got.Temperature)
	assert.True(t, got.LinkConnected)
	assert.False(t, got.BusConnected)
}

func TestStatusHandlerStarting(t *testing.T) {
	hs := NewHealthServer(nil, nil)

	w := serve(hs, http.MethodGet, "/status")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLiveAndMetrics(t *testing.T) {
	hs := NewHealthServer(nil, nil)

	assert.Equal(t, http.StatusOK, serve(hs, http.MethodGet, "/live").Code)

	w := serve(hs, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "breeze_http_requests_total")
}

func TestIsReadOnlyMethod(t *testing.T) {
	assert.True(t, isReadOnlyMethod(http.MethodGet))
	assert.True(t, isReadOnlyMethod(http.MethodHead))
	assert.False(t, isReadOnlyMethod(http.MethodPost))
	assert.False(t, isReadOnlyMethod(http.MethodPatch))
}

func TestEventsStream(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	hs := NewHealthServer(nil, nil).WithEvents(broker)
	srv := httptest.NewServer(hs.GetHandler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Eventually(t, func() bool { return broker.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	broker.Publish(&events.Event{Type: events.EventFanStalled, Message: "rpm 0 below floor 300"})

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: fan.stalled", strings.TrimSpace(line))

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	var ev events.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev))
	assert.Equal(t, events.EventFanStalled, ev.Type)
	assert.Equal(t, "rpm 0 below floor 300", ev.Message)
	assert.NotEmpty(t, ev.ID)

	cancel()
	assert.Eventually(t, func() bool { return broker.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestShutdownEndsEventStreams(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	hs := NewHealthServer(nil, nil).WithEvents(broker)
	srv := httptest.NewServer(hs.GetHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Eventually(t, func() bool { return broker.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hs.Shutdown(context.Background()))
	assert.Eventually(t, func() bool { return broker.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
}
