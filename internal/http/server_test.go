package http

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolgaunal/openday-relay/internal/connectivity"
	"github.com/tolgaunal/openday-relay/internal/db"
	"github.com/tolgaunal/openday-relay/internal/queue"
	"github.com/tolgaunal/openday-relay/internal/relay"
	"github.com/tolgaunal/openday-relay/internal/status"
	"github.com/tolgaunal/openday-relay/internal/upstream"
)

type stubBackend struct {
	srv        *httptest.Server
	up         atomic.Bool
	rejectWith atomic.Int32

	mu       sync.Mutex
	received [][]byte
}

func newStubBackend(t *testing.T) *stubBackend {
	t.Helper()

	b := &stubBackend{}
	b.up.Store(true)
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *stubBackend) handle(w http.ResponseWriter, r *http.Request) {
	if !b.up.Load() {
		hj, ok := w.(http.Hijacker)
		if !ok {
			panic("test server must support hijacking")
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			_ = conn.Close()
		}
		return
	}

	switch r.URL.Path {
	case "/api/health":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	case "/api/students":
		if st := b.rejectWith.Load(); st != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(int(st))
			_, _ = w.Write([]byte(`{"detail":"rejected by backend"}`))
			return
		}
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.received = append(b.received, body)
		n := len(b.received)
		b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"id":%d}`, n)
	default:
		http.NotFound(w, r)
	}
}

type apiFixture struct {
	svc     *relay.Service
	backend *stubBackend
	store   queue.Store
	api     *httptest.Server
}

// newTestAPI wires a relay with an hour-long probe interval, so every state
// change in these tests comes from the handlers themselves.
func newTestAPI(t *testing.T) *apiFixture {
	t.Helper()

	backend := newStubBackend(t)

	conn, err := db.NewSQLiteConnection(filepath.Join(t.TempDir(), "relay.db"), db.SQLiteOpts{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	store, err := queue.NewSQLiteStore(conn)
	require.NoError(t, err)

	client, err := upstream.NewClient(backend.srv.URL, 2*time.Second)
	require.NoError(t, err)

	svc := relay.New(store, client, relay.Options{Probe: connectivity.Opts{
		Interval:      time.Hour,
		Timeout:       time.Second,
		FailThreshold: 3,
	}})

	api := httptest.NewServer(NewServer(svc).e)
	t.Cleanup(api.Close)

	return &apiFixture{svc: svc, backend: backend, store: store, api: api}
}

func postJSON(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func getBody(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func doDelete(t *testing.T, url string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp
}

func TestSubmitRecordLiveProxiesBackend(t *testing.T) {
	fx := newTestAPI(t)

	resp, body := postJSON(t, fx.api.URL+"/v1/records", `{"first_name":"Ayşe","ranking":1203}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"id":1}`, string(body))

	n, err := fx.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmitRecordQueuedWhileBackendDown(t *testing.T) {
	fx := newTestAPI(t)
	fx.backend.up.Store(false)

	resp, body := postJSON(t, fx.api.URL+"/v1/records", `{"first_name":"Mehmet"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		Offline       bool   `json:"offline"`
		ID            int64  `json:"id"`
		SubmissionKey string `json:"submission_key"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.True(t, out.Offline)
	assert.NotZero(t, out.ID)
	assert.NotEmpty(t, out.SubmissionKey)

	n, err := fx.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSubmitRecordRejectionProxied(t *testing.T) {
	fx := newTestAPI(t)
	fx.backend.rejectWith.Store(http.StatusUnprocessableEntity)

	resp, body := postJSON(t, fx.api.URL+"/v1/records", `{"email":"nope"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.JSONEq(t, `{"detail":"rejected by backend"}`, string(body))

	n, err := fx.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "rejected records must not land in the queue")
}

func TestSubmitRecordRejectsInvalidJSON(t *testing.T) {
	fx := newTestAPI(t)

	resp, _ := postJSON(t, fx.api.URL+"/v1/records", `{"first_name":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueueEndpoints(t *testing.T) {
	fx := newTestAPI(t)
	ctx := context.Background()

	first, err := fx.store.Enqueue(ctx, json.RawMessage(`{"first_name":"Elif"}`), "")
	require.NoError(t, err)
	_, err = fx.store.Enqueue(ctx, json.RawMessage(`{"first_name":"Can"}`), "")
	require.NoError(t, err)

	resp, body := getBody(t, fx.api.URL+"/v1/queue")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Count   int `json:"count"`
		Results []struct {
			SubmissionKey string `json:"submission_key"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 2, list.Count)
	require.Len(t, list.Results, 2)
	assert.Equal(t, first.SubmissionKey, list.Results[0].SubmissionKey)

	resp, body = getBody(t, fx.api.URL+"/v1/queue/count")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"count":2}`, string(body))

	resp = doDelete(t, fx.api.URL+"/v1/queue")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "clearing needs an explicit confirm")

	resp = doDelete(t, fx.api.URL+"/v1/queue?confirm=true")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	n, err := fx.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSyncEndpointDrainsQueue(t *testing.T) {
	fx := newTestAPI(t)
	ctx := context.Background()

	_, err := fx.store.Enqueue(ctx, json.RawMessage(`{"first_name":"Deniz"}`), "")
	require.NoError(t, err)

	resp, body := postJSON(t, fx.api.URL+"/v1/sync", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"success":1,"failed":0}`, string(body))

	n, err := fx.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStatusEndpoint(t *testing.T) {
	fx := newTestAPI(t)

	resp, body := getBody(t, fx.api.URL+"/v1/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var st struct {
		Online              bool `json:"online"`
		ConsecutiveFailures int  `json:"consecutive_failures"`
		Pending             int  `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.Online)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Zero(t, st.Pending)
}

func TestStatusIncludesLastDrain(t *testing.T) {
	fx := newTestAPI(t)
	ctx := context.Background()

	_, err := fx.store.Enqueue(ctx, json.RawMessage(`{"first_name":"Baran"}`), "")
	require.NoError(t, err)
	_, err = fx.svc.TriggerSync(ctx)
	require.NoError(t, err)

	_, body := getBody(t, fx.api.URL+"/v1/status")

	var st struct {
		LastDrain *struct {
			Success int `json:"success"`
		} `json:"last_drain"`
	}
	require.NoError(t, json.Unmarshal(body, &st))
	require.NotNil(t, st.LastDrain)
	assert.Equal(t, 1, st.LastDrain.Success)
}

func TestConnectivityHint(t *testing.T) {
	fx := newTestAPI(t)

	resp, _ := postJSON(t, fx.api.URL+"/v1/connectivity/hint", `{"online":false}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, fx.svc.ConnectivityState().Online)

	resp, _ = postJSON(t, fx.api.URL+"/v1/connectivity/hint", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, fx.api.URL+"/v1/connectivity/hint", `{"online":true}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	st := fx.svc.ConnectivityState()
	assert.Zero(t, st.ConsecutiveFailures, "an online hint clears the failure streak")
	assert.False(t, st.Online, "only a healthy probe flips the state back")
}

func readSSEFrame(t *testing.T, r *bufio.Reader) status.Event {
	t.Helper()

	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev status.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		return ev
	}
}

func TestEventsStreamReplaysConnectivity(t *testing.T) {
	fx := newTestAPI(t)
	fx.svc.Publisher().NotifyConnectivity(true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fx.api.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	r := bufio.NewReader(resp.Body)

	ev := readSSEFrame(t, r)
	assert.Equal(t, status.EventConnectivity, ev.Type)
	assert.Equal(t, true, ev.Data["online"])

	fx.svc.Publisher().NotifyDrained(3, 1)

	ev = readSSEFrame(t, r)
	assert.Equal(t, status.EventQueueDrained, ev.Type)
	assert.EqualValues(t, 3, ev.Data["success"])
	assert.EqualValues(t, 1, ev.Data["failed"])
}

func TestHealthzAndMetrics(t *testing.T) {
	fx := newTestAPI(t)

	resp, body := getBody(t, fx.api.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, body = getBody(t, fx.api.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "odrelay_queue_depth")
}
