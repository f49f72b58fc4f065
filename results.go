package runes

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
)

// FileResult is one uploaded output file in a response envelope
type FileResult struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

// ResponseEnvelope is the serialized outcome of one invocation. Error and
// Message are null when nothing was recorded, comma-joined otherwise.
type ResponseEnvelope struct {
	ID      string        `json:"id,omitempty"`
	Files   []FileResult  `json:"files"`
	Error   *string       `json:"error"`
	Logs    string        `json:"logs"`
	Message *string       `json:"message"`
	Status  MessageStatus `json:"status"`
}

// ResultsAggregator accumulates the files, messages, logs, and errors
// produced during one invocation and publishes them atomically. It is
// recreated on registration, bound to the connection identity and the
// configured output audio targets, and cleared between invocations.
type ResultsAggregator struct {
	api        *APIClient
	uploader   *FileUploader
	tracer     *Tracer
	transcoder Transcoder
	token      string
	targets    AudioTargets

	mu        sync.Mutex
	messageID string
	files     []FileResult
	errors    []string
	logs      strings.Builder
	messages  []string
}

func newResultsAggregator(api *APIClient, uploader *FileUploader, tracer *Tracer, transcoder Transcoder, token string, targets AudioTargets) *ResultsAggregator {
	return &ResultsAggregator{
		api:        api,
		uploader:   uploader,
		tracer:     tracer,
		transcoder: transcoder,
		token:      token,
		targets:    targets,
	}
}

// SetMessageID binds the aggregator to the message being answered
func (r *ResultsAggregator) SetMessageID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messageID = id
}

// MessageID returns the currently bound message id
func (r *ResultsAggregator) MessageID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messageID
}

// AddError appends an error to the result bundle
func (r *ResultsAggregator) AddError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

// AddMessage appends a message for the remote caller
func (r *ResultsAggregator) AddMessage(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

// AddLog appends captured log text
func (r *ResultsAggregator) AddLog(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs.WriteString(text)
}

// Errors returns a copy of the errors recorded so far
func (r *ResultsAggregator) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

// Files returns a copy of the file entries recorded so far
func (r *ResultsAggregator) Files() []FileResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FileResult(nil), r.files...)
}

// AddFileURL records an already-hosted file by URL. The type must be one of
// the supported kinds and the URL must be absolute. Violations are recorded
// as result errors and returned.
func (r *ResultsAggregator) AddFileURL(fileURL, fileType string) error {
	kind := FileKind(strings.ToLower(fileType))
	if !supportedFileKinds[kind] {
		err := fmt.Errorf("file type %s is not supported", fileType)
		r.AddError(err.Error())
		return err
	}

	parsed, err := url.Parse(fileURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		recorded := fmt.Errorf("invalid file URL: %s", fileURL)
		r.AddError(recorded.Error())
		return recorded
	}

	name := filepath.Base(parsed.Path)
	if name == "" || name == "/" || name == "." {
		name = "default_filename"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, FileResult{Name: name, URL: fileURL, Type: string(kind)})
	return nil
}

// AddFile classifies a local file, converts it if it is audio, uploads it,
// and records the resulting {name, url, type} entry. Conversion and upload
// failures are captured as result errors and do not propagate past this
// boundary; the invocation is still reported, marked errored.
func (r *ResultsAggregator) AddFile(ctx context.Context, path string) error {
	kind := ClassifyFile(path)
	uploadPath := path

	if kind == FileAudio {
		if r.transcoder == nil || !r.transcoder.Available() {
			err := errors.New(TranscoderInstallHint)
			r.AddError(err.Error())
			return err
		}

		converted, err := r.transcoder.Transcode(path, r.targets)
		if err != nil {
			r.tracer.Error(r.token, StageConvertUpload, err.Error())
			r.AddError(err.Error())
			return err
		}
		r.tracer.Event(r.token, StageConvertUpload, converted)
		uploadPath = converted
	}

	contentType := strings.TrimPrefix(filepath.Ext(uploadPath), ".")
	fileURL, err := r.uploader.Upload(ctx, uploadPath, r.token, contentType)
	if err != nil {
		r.tracer.Error(r.token, StageUploadAsset, err.Error())
		r.AddError(err.Error())
		return err
	}

	r.mu.Lock()
	r.files = append(r.files, FileResult{
		Name: filepath.Base(uploadPath),
		URL:  fileURL,
		Type: string(kind),
	})
	r.mu.Unlock()

	r.tracer.Event(r.token, StageUploadAsset, fileURL)
	return nil
}

// Clear resets the bundle to empty before the next invocation
func (r *ResultsAggregator) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messageID = ""
	r.files = nil
	r.errors = nil
	r.logs.Reset()
	r.messages = nil
}

// Publish computes the overall status, builds the response envelope, and
// sends it to the work queue keyed by (token, message id). It performs no
// local state change beyond the send; callers Clear() before the next
// invocation. The envelope is returned for inspection.
func (r *ResultsAggregator) Publish(ctx context.Context) (*ResponseEnvelope, error) {
	r.mu.Lock()
	status := StatusCompleted
	if len(r.errors) > 0 {
		status = StatusError
	}

	envelope := &ResponseEnvelope{
		ID:      r.messageID,
		Files:   append([]FileResult{}, r.files...),
		Error:   joinOrNil(r.errors),
		Logs:    r.logs.String(),
		Message: joinOrNil(r.messages),
		Status:  status,
	}
	messageID := r.messageID
	r.mu.Unlock()

	if err := r.api.SendMessageResponse(ctx, r.token, messageID, envelope); err != nil {
		r.tracer.Error(r.token, StageSendResults, err.Error())
		return envelope, err
	}

	r.tracer.Event(r.token, StageSendResults, fmt.Sprintf("published results for message %s (%s)", messageID, status))
	return envelope, nil
}

func joinOrNil(parts []string) *string {
	if len(parts) == 0 {
		return nil
	}
	joined := strings.Join(parts, ", ")
	return &joined
}
