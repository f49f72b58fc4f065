package runes

import "log/slog"

// TraceStage tags a trace event with the pipeline stage that produced it
type TraceStage string

const (
	StageRegisterMethod  TraceStage = "client-reg-method"
	StageRunMethod       TraceStage = "client-run-method"
	StageDownloadAsset   TraceStage = "client-download-asset"
	StageConvertDownload TraceStage = "client-convert-download"
	StageConvertUpload   TraceStage = "client-convert-upload"
	StageUploadAsset     TraceStage = "client-upload-asset"
	StageSendResults     TraceStage = "client-send-results"
	StageConnection      TraceStage = "client-connection"
)

// Tracer emits structured trace events tagged with the connection token and
// pipeline stage. The telemetry sink behind the logger is a black box; events
// land on the configured slog handler.
type Tracer struct {
	logger  *slog.Logger
	service string
}

// NewTracer creates a tracer for the given service name. A nil logger falls
// back to slog.Default.
func NewTracer(logger *slog.Logger, service string) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{logger: logger, service: service}
}

// Event records a trace event
func (t *Tracer) Event(token string, stage TraceStage, msg string) {
	t.logger.Info(msg,
		"service", t.service,
		"token", token,
		"stage", string(stage),
	)
}

// Error records a trace error event
func (t *Tracer) Error(token string, stage TraceStage, msg string) {
	t.logger.Error(msg,
		"service", t.service,
		"token", token,
		"stage", string(stage),
	)
}
