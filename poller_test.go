package runes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHub fakes every service endpoint the polling controller touches:
// announce, heartbeat, the pending message queue, status updates, replies,
// and hosted file downloads.
type fakeHub struct {
	server *httptest.Server

	mu       sync.Mutex
	pending  []PendingMessage
	statuses []string
	replies  []map[string]any
	loaded   []bool
	files    map[string][]byte
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	hub := &fakeHub{files: make(map[string][]byte)}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/hub/connection/compute/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/hub/compute/contract/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/api/hub/connection_mappings/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/api/hub/connections/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]bool
		json.NewDecoder(r.Body).Decode(&body)
		hub.mu.Lock()
		hub.loaded = append(hub.loaded, body["loaded"])
		hub.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/hub/get_latest_pending_messages/", func(w http.ResponseWriter, r *http.Request) {
		hub.mu.Lock()
		pending := hub.pending
		hub.pending = nil
		hub.mu.Unlock()
		if pending == nil {
			pending = []PendingMessage{}
		}
		json.NewEncoder(w).Encode(pending)
	})
	mux.HandleFunc("/api/hub/update_message_status/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		messageID := parts[len(parts)-1]
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		hub.mu.Lock()
		hub.statuses = append(hub.statuses, messageID+":"+body["status"])
		hub.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/hub/reply_to_message/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		hub.mu.Lock()
		hub.replies = append(hub.replies, body)
		hub.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		hub.mu.Lock()
		content, ok := hub.files[strings.TrimPrefix(r.URL.Path, "/files/")]
		hub.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(content)
	})

	hub.server = httptest.NewServer(mux)
	t.Cleanup(hub.server.Close)
	return hub
}

func (h *fakeHub) enqueue(msg PendingMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = append(h.pending, msg)
}

func (h *fakeHub) statusLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.statuses...)
}

func (h *fakeHub) replyCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.replies)
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestPollOnceDispatchesRunMethod(t *testing.T) {
	hub := newFakeHub(t)
	client := newTestClient(t, hub.server.URL)

	invoked := make(chan struct{})
	var got map[string]any
	registerTestMethod(t, client, func(ctx context.Context, args map[string]any) error {
		got = args
		close(invoked)
		return nil
	})

	token := client.ConnectionToken()
	hub.enqueue(PendingMessage{
		ID:    "m1",
		Token: token,
		Request: map[string]any{
			"type":        MessageTypeRunMethod,
			"bpm":         float64(120),
			"sample_rate": float64(44100),
			"data": map[string]any{
				"method_name": "generate_sample",
				"params": map[string]any{
					"a": map[string]any{"value": float64(5)},
				},
			},
		},
	})

	controller := NewPollingController(client)
	controller.pollOnce(context.Background())

	waitFor(t, invoked, "method invocation")
	assert.Equal(t, 5, got["a"])
	assert.Equal(t, 2.2, got["b"])
	assert.Equal(t, 120.0, client.SessionBPM())
	assert.Equal(t, 44100.0, client.SessionSampleRate())

	// Processing is marked before the method runs; the reply lands after
	assert.Equal(t, []string{"m1:processing"}, hub.statusLog())
	require.Eventually(t, func() bool { return hub.replyCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPollOnceSkipsForeignToken(t *testing.T) {
	hub := newFakeHub(t)
	client := newTestClient(t, hub.server.URL)

	registerTestMethod(t, client, func(ctx context.Context, args map[string]any) error {
		t.Error("method should not run for a foreign token")
		return nil
	})

	hub.enqueue(PendingMessage{
		ID:    "m2",
		Token: "some-other-connection",
		Request: map[string]any{
			"type": MessageTypeRunMethod,
			"data": map[string]any{"method_name": "generate_sample", "params": map[string]any{}},
		},
	})

	controller := NewPollingController(client)
	controller.pollOnce(context.Background())

	assert.Empty(t, hub.statusLog())
	assert.Equal(t, 0, hub.replyCount())
}

func TestPollOnceMarksMalformedMessageErrored(t *testing.T) {
	hub := newFakeHub(t)
	client := newTestClient(t, hub.server.URL)

	registerTestMethod(t, client, func(ctx context.Context, args map[string]any) error {
		return nil
	})

	// run_method without a data block fails schema validation
	hub.enqueue(PendingMessage{
		ID:      "m3",
		Token:   client.ConnectionToken(),
		Request: map[string]any{"type": MessageTypeRunMethod},
	})

	controller := NewPollingController(client)
	controller.pollOnce(context.Background())

	assert.Equal(t, []string{"m3:processing", "m3:error"}, hub.statusLog())
	assert.Equal(t, 0, hub.replyCount())
}

func TestPollOnceSkipsWhileInvocationActive(t *testing.T) {
	hub := newFakeHub(t)
	client := newTestClient(t, hub.server.URL)

	release := make(chan struct{})
	started := make(chan struct{})
	registerTestMethod(t, client, func(ctx context.Context, args map[string]any) error {
		close(started)
		<-release
		return nil
	})

	go func() {
		client.Run(context.Background(), "generate_sample", map[string]any{"a": 1})
	}()
	waitFor(t, started, "first invocation")
	defer close(release)

	hub.enqueue(PendingMessage{
		ID:    "m4",
		Token: client.ConnectionToken(),
		Request: map[string]any{
			"type": MessageTypeRunMethod,
			"data": map[string]any{"method_name": "generate_sample", "params": map[string]any{}},
		},
	})

	controller := NewPollingController(client)
	controller.pollOnce(context.Background())

	// The busy request is acknowledged but never dispatched or errored
	assert.Equal(t, []string{"m4:processing"}, hub.statusLog())
}

func TestRunAnnouncesAndStopsOnCloseConnection(t *testing.T) {
	hub := newFakeHub(t)
	client := newTestClient(t, hub.server.URL)

	initRan := false
	client.RegisterInit(func(ctx context.Context) error {
		initRan = true
		return nil
	})
	registerTestMethod(t, client, func(ctx context.Context, args map[string]any) error {
		return nil
	})

	hub.enqueue(PendingMessage{
		ID:      "m5",
		Token:   client.ConnectionToken(),
		Request: map[string]any{"type": MessageTypeCloseConnection},
	})

	controller := NewPollingController(client)
	done := make(chan struct{})
	go func() {
		require.NoError(t, controller.Run(context.Background()))
		close(done)
	}()

	waitFor(t, done, "controller shutdown")
	assert.True(t, initRan)

	hub.mu.Lock()
	loaded := append([]bool(nil), hub.loaded...)
	hub.mu.Unlock()
	assert.Equal(t, []bool{false, true}, loaded)
}

func TestRunReturnsAnnounceFailure(t *testing.T) {
	hub := newFakeHub(t)
	client := newTestClient(t, hub.server.URL)

	controller := NewPollingController(client)
	err := controller.Run(context.Background())

	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Contains(t, stateErr.Message, "no method registered")
}

func TestDispatchLocalizesHostedFiles(t *testing.T) {
	hub := newFakeHub(t)
	client := newTestClient(t, hub.server.URL)
	client.cfg.StorageBucketURL = hub.server.URL + "/files/"
	client.transcoder = &fakeTranscoder{available: false}

	hub.mu.Lock()
	hub.files["notes.txt"] = []byte("hosted content")
	hub.mu.Unlock()

	invoked := make(chan struct{})
	var gotPath string
	registerTestMethod(t, client, func(ctx context.Context, args map[string]any) error {
		gotPath, _ = args["a"].(string)
		close(invoked)
		return nil
	})

	hub.enqueue(PendingMessage{
		ID:    "m6",
		Token: client.ConnectionToken(),
		Request: map[string]any{
			"type": MessageTypeRunMethod,
			"data": map[string]any{
				"method_name": "generate_sample",
				"params": map[string]any{
					"a": map[string]any{"value": hub.server.URL + "/files/notes.txt"},
				},
			},
		},
	})

	controller := NewPollingController(client)
	controller.pollOnce(context.Background())

	waitFor(t, invoked, "method invocation")
	require.NotEmpty(t, gotPath)
	assert.False(t, strings.HasPrefix(gotPath, "http"))

	content, err := os.ReadFile(gotPath)
	require.NoError(t, err)
	assert.Equal(t, "hosted content", string(content))
}

func TestExtractArgsFlattensValueWrappers(t *testing.T) {
	args := extractArgs(map[string]any{
		"a": map[string]any{"value": float64(3)},
		"b": "bare",
	})
	assert.Equal(t, float64(3), args["a"])
	assert.Equal(t, "bare", args["b"])
}

func TestValidateInvocationMessage(t *testing.T) {
	valid := map[string]any{
		"type": "run_method",
		"data": map[string]any{"method_name": "m", "params": map[string]any{}},
	}
	assert.NoError(t, validateInvocationMessage(valid))

	assert.NoError(t, validateInvocationMessage(map[string]any{"type": "close_connection"}))

	err := validateInvocationMessage(map[string]any{"type": "run_method"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed invocation message")

	err = validateInvocationMessage(map[string]any{"type": "reboot"})
	require.Error(t, err)
}
