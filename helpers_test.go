package runes

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testMasterToken = "1b4e28ba-2fa1-11d2-883f-b9a761bde3fb"

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	cfg := DefaultConfig()
	cfg.APIBaseURL = baseURL
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond

	client := NewClient(cfg)
	client.api.retryBase = time.Millisecond
	client.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	client.tracer = NewTracer(client.logger, "runes-client-test")
	require.NoError(t, client.SetToken(testMasterToken))
	return client
}

func discardTracer() *Tracer {
	return NewTracer(slog.New(slog.NewTextHandler(io.Discard, nil)), "runes-client-test")
}

// fakeTranscoder stands in for ffmpeg in tests. It returns the input path
// unchanged unless configured to fail.
type fakeTranscoder struct {
	available bool
	err       error
	calls     int
}

func (f *fakeTranscoder) Available() bool {
	return f.available
}

func (f *fakeTranscoder) Transcode(path string, _ AudioTargets) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return path, nil
}
