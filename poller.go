package runes

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Message types delivered by the work queue
const (
	MessageTypeRunMethod       = "run_method"
	MessageTypeCloseConnection = "close_connection"
)

// invocationMessageSchema is the Draft-7 schema every fetched request is
// validated against before dispatch.
const invocationMessageSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"enum": ["run_method", "close_connection"]},
		"bpm": {"type": "number"},
		"sample_rate": {"type": "number"},
		"data": {
			"type": "object",
			"required": ["method_name", "params"],
			"properties": {
				"method_name": {"type": "string"},
				"params": {"type": "object"}
			}
		}
	},
	"if": {"properties": {"type": {"const": "run_method"}}},
	"then": {"required": ["type", "data"]}
}`

var (
	messageSchemaOnce sync.Once
	messageSchema     *gojsonschema.Schema
	messageSchemaErr  error
)

func validateInvocationMessage(msg map[string]any) error {
	messageSchemaOnce.Do(func() {
		messageSchema, messageSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(invocationMessageSchema))
	})
	if messageSchemaErr != nil {
		return fmt.Errorf("failed to compile invocation message schema: %w", messageSchemaErr)
	}

	result, err := messageSchema.Validate(gojsonschema.NewGoLoader(msg))
	if err != nil {
		return fmt.Errorf("failed to validate invocation message: %w", err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			details = append(details, resultErr.String())
		}
		return fmt.Errorf("malformed invocation message: %s", strings.Join(details, "; "))
	}
	return nil
}

// PollingController runs the two long-lived loops that keep the client's
// liveness known to the service and fetch/dispatch pending work. The
// heartbeat loop runs on its own goroutine so a stalled poll/dispatch cycle
// cannot starve heartbeats. Iteration failures are logged and never
// terminate a loop; only context cancellation (or a close_connection
// message) ends them.
type PollingController struct {
	client *Client
	api    *APIClient
	tracer *Tracer
	logger *slog.Logger

	heartbeatInterval time.Duration
	pollInterval      time.Duration

	downloader *http.Client

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// NewPollingController creates a controller for the given client session
func NewPollingController(client *Client) *PollingController {
	return &PollingController{
		client:            client,
		api:               client.api,
		tracer:            client.tracer,
		logger:            client.logger,
		heartbeatInterval: client.cfg.HeartbeatInterval,
		pollInterval:      client.cfg.PollInterval,
		downloader:        &http.Client{Timeout: 60 * time.Second},
	}
}

// Run announces the registered method to the service, then runs the
// heartbeat and poll loops until the context is cancelled or the service
// sends close_connection. Announce failures (after retries) are returned;
// loop iteration failures are not.
func (p *PollingController) Run(ctx context.Context) error {
	if err := p.client.announce(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancelMu.Lock()
	p.cancel = cancel
	p.cancelMu.Unlock()

	go p.heartbeatLoop(ctx)
	p.pollLoop(ctx)
	return nil
}

// shutdown stops both loops; used for close_connection
func (p *PollingController) shutdown() {
	p.cancelMu.Lock()
	defer p.cancelMu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *PollingController) heartbeatLoop(ctx context.Context) {
	for {
		if err := p.api.Heartbeat(ctx, p.client.ConnectionToken()); err != nil {
			p.logger.Warn("heartbeat failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.heartbeatInterval):
		}
	}
}

func (p *PollingController) pollLoop(ctx context.Context) {
	for {
		p.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.pollInterval):
		}
	}
}

// pollOnce fetches the pending requests and dispatches the ones addressed
// to this connection. Failures in any dispatch step mark the record "error"
// on the service and the loop continues.
func (p *PollingController) pollOnce(ctx context.Context) {
	token := p.client.ConnectionToken()

	pending, err := p.api.FetchPendingRequests(ctx, token)
	if err != nil {
		p.logger.Warn("failed to fetch pending requests", "error", err)
		return
	}

	for _, record := range pending {
		if record.Token != token {
			// Not addressed to this connection
			continue
		}

		if err := p.dispatch(ctx, record); err != nil {
			p.logger.Warn("failed to dispatch pending request", "message_id", record.ID, "error", err)
			if statusErr := p.api.UpdateMessageStatus(ctx, record.Token, record.ID, StatusError); statusErr != nil {
				p.logger.Warn("failed to mark message as errored", "message_id", record.ID, "error", statusErr)
			}
		}
	}
}

// dispatch marks the record processing and hands it to the runner. Status is
// marked "processing" strictly before dispatch; "completed"/"error" land
// only via the aggregator's publish.
func (p *PollingController) dispatch(ctx context.Context, record PendingMessage) error {
	if err := p.api.UpdateMessageStatus(ctx, record.Token, record.ID, StatusProcessing); err != nil {
		return err
	}

	msg := record.Request
	if err := validateInvocationMessage(msg); err != nil {
		return err
	}

	switch msg["type"] {
	case MessageTypeCloseConnection:
		p.logger.Info("connection closed by server")
		p.shutdown()
		return nil

	case MessageTypeRunMethod:
		if p.client.Running() {
			p.logger.Warn("invocation already in progress; request not dispatched", "message_id", record.ID)
			return nil
		}

		results := p.client.Output()
		results.Clear()
		results.SetMessageID(record.ID)

		bpm, _ := msg["bpm"].(float64)
		sampleRate, _ := msg["sample_rate"].(float64)
		p.client.setSession(bpm, sampleRate)

		p.localizeHostedFiles(ctx, msg)

		data := msg["data"].(map[string]any)
		methodName, _ := data["method_name"].(string)
		args := extractArgs(data["params"])

		go func() {
			if err := p.client.Run(ctx, methodName, args); err != nil {
				p.logger.Warn("invocation failed", "method", methodName, "error", err)
			}
		}()
		return nil
	}

	return fmt.Errorf("unknown message type: %v", msg["type"])
}

// extractArgs flattens the request's {name: {value: v}} parameter map into
// plain keyword arguments.
func extractArgs(raw any) map[string]any {
	params, _ := raw.(map[string]any)
	args := make(map[string]any, len(params))
	for name, detail := range params {
		if wrapper, ok := detail.(map[string]any); ok {
			args[name] = wrapper["value"]
		} else {
			args[name] = detail
		}
	}
	return args
}

// localizeHostedFiles walks the message and replaces every string value
// pointing at the storage bucket with a locally downloaded (and, for audio,
// transcoded) file path. Failures are logged per value; the message keeps
// the original URL and dispatch proceeds.
func (p *PollingController) localizeHostedFiles(ctx context.Context, msg map[string]any) {
	tempDir, err := os.MkdirTemp("", "runes-client-")
	if err != nil {
		p.logger.Warn("failed to create download directory", "error", err)
		return
	}
	p.localizeValue(ctx, msg, tempDir)
}

func (p *PollingController) localizeValue(ctx context.Context, value any, tempDir string) {
	token := p.client.ConnectionToken()

	switch node := value.(type) {
	case map[string]any:
		for key, child := range node {
			if url, ok := child.(string); ok && p.isHostedURL(url) {
				localPath, err := p.downloadFile(ctx, url, tempDir)
				if err != nil {
					p.tracer.Error(token, StageDownloadAsset, fmt.Sprintf("error downloading: %v", err))
					continue
				}
				p.tracer.Event(token, StageDownloadAsset, fmt.Sprintf("downloaded: %s", localPath))
				node[key] = localPath
				continue
			}
			p.localizeValue(ctx, child, tempDir)
		}
	case []any:
		for _, item := range node {
			p.localizeValue(ctx, item, tempDir)
		}
	}
}

func (p *PollingController) isHostedURL(value string) bool {
	return strings.HasPrefix(value, p.client.cfg.StorageBucketURL) ||
		strings.HasPrefix(value, "https://storage.googleapis.com")
}

// downloadFile fetches a hosted file into tempDir and, for audio files,
// transcodes it to the configured input targets.
func (p *PollingController) downloadFile(ctx context.Context, fileURL, tempDir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := p.downloader.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download file %s: %w", fileURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download file %s: status %d", fileURL, resp.StatusCode)
	}

	name := filepath.Base(fileURL)
	localPath := filepath.Join(tempDir, name)

	out, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	if ClassifyFile(localPath) == FileAudio {
		token := p.client.ConnectionToken()
		transcoder := p.client.transcoder
		if transcoder != nil && transcoder.Available() {
			converted, err := transcoder.Transcode(localPath, p.client.InputTargets())
			if err != nil {
				p.tracer.Error(token, StageConvertDownload, fmt.Sprintf("error converting download: %v", err))
			} else {
				p.tracer.Event(token, StageConvertDownload, fmt.Sprintf("converted download: %s", converted))
				localPath = converted
			}
		}
	}

	return localPath, nil
}
