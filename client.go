package runes

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Method is the signature of a remotely invocable function. Arguments arrive
// keyed by parameter name with contract defaults filled in; file-reference
// parameters hold local paths by the time the method runs.
type Method func(ctx context.Context, args map[string]any) error

// InitFunc is an optional initialization hook run between the "loaded:false"
// and "loaded:true" connection updates, before polling starts.
type InitFunc func(ctx context.Context) error

// Client is the session object owning the method registry, the results
// aggregator, and the connection identity. It replaces process-wide state:
// the polling controller and runner hold it by reference.
type Client struct {
	cfg        Config
	api        *APIClient
	uploader   *FileUploader
	tracer     *Tracer
	transcoder Transcoder
	logger     *slog.Logger

	gate runGate

	mu              sync.Mutex
	masterToken     string
	tokenLocked     bool
	connectionToken string
	author          string
	name            string
	description     string
	version         string

	method     Method
	methodName string
	contract   *MethodContract
	results    *ResultsAggregator
	initHook   InitFunc

	inputTargets  AudioTargets
	outputTargets AudioTargets

	sessionBPM        float64
	sessionSampleRate float64
}

// NewClient creates a client session with the given configuration. If the
// RUNES_CLIENT_TOKEN environment variable is set, the master token is fixed
// for the process lifetime and SetToken calls are ignored.
func NewClient(cfg Config) *Client {
	logger := slog.Default()
	api := NewAPIClient(cfg.APIBaseURL)

	c := &Client{
		cfg:           cfg,
		api:           api,
		uploader:      NewFileUploader(api, cfg.StorageBucketURL),
		tracer:        NewTracer(logger, "runes-client"),
		transcoder:    FFmpegTranscoder{},
		logger:        logger,
		author:        "Default Author",
		name:          "Default Name",
		description:   "Default Description",
		version:       "0.0.0",
		inputTargets:  DefaultAudioTargets(),
		outputTargets: DefaultAudioTargets(),
	}

	if token := os.Getenv(EnvMasterToken); token != "" {
		c.masterToken = token
		c.tokenLocked = true
	}

	return c
}

// SetToken sets the master account token. The token must be a well-formed
// UUID. When the environment override is active the call is logged and
// ignored.
func (c *Client) SetToken(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tokenLocked {
		c.logger.Info("token update ignored: master token is fixed by environment", "env", EnvMasterToken)
		return nil
	}
	if err := ValidateMasterToken(token); err != nil {
		return err
	}
	c.masterToken = token
	return nil
}

// SetAuthor updates the author metadata and syncs the registered contract
func (c *Client) SetAuthor(author string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.author = author
	c.syncContractLocked()
}

// SetName updates the name metadata and syncs the registered contract
func (c *Client) SetName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
	c.syncContractLocked()
}

// SetDescription updates the description metadata and syncs the registered contract
func (c *Client) SetDescription(description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.description = description
	c.syncContractLocked()
}

// SetVersion updates the version metadata and syncs the registered contract
func (c *Client) SetVersion(version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = version
	c.syncContractLocked()
}

// Descriptive metadata changes propagate into the stored contract. The
// connection identity is only recomputed on the next registration.
func (c *Client) syncContractLocked() {
	if c.contract == nil {
		return
	}
	c.contract.Author = c.author
	c.contract.Name = c.name
	c.contract.Description = c.description
	c.contract.Version = c.version
}

// RegisterInit registers the initialization hook run before polling starts
func (c *Client) RegisterInit(fn InitFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initHook = fn
}

// Input target setters

func (c *Client) SetInputSampleRate(rate int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputTargets.SetSampleRate(rate)
}

func (c *Client) SetInputBitDepth(depth int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputTargets.SetBitDepth(depth)
}

func (c *Client) SetInputChannels(channels int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputTargets.SetChannels(channels)
}

func (c *Client) SetInputFormat(format string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputTargets.SetFormat(format)
}

// Output target setters

func (c *Client) SetOutputSampleRate(rate int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputTargets.SetSampleRate(rate)
}

func (c *Client) SetOutputBitDepth(depth int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputTargets.SetBitDepth(depth)
}

func (c *Client) SetOutputChannels(channels int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputTargets.SetChannels(channels)
}

func (c *Client) SetOutputFormat(format string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputTargets.SetFormat(format)
}

// RegisterMethod validates the method's parameter contract, computes the
// deterministic connection identity, and binds a fresh results aggregator to
// it. The registry holds only the most recently registered method;
// registering again discards the previous one.
func (c *Client) RegisterMethod(name string, method Method, params []ParamDescriptor, annotations UIAnnotations) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.masterToken == "" {
		return &StateError{Message: "master token not set: call SetToken before registering a method"}
	}
	if method == nil {
		return &StateError{Message: "method must not be nil"}
	}

	specs, err := BuildParameterContract(params, annotations)
	if err != nil {
		return err
	}

	contract := &MethodContract{
		MethodName:  name,
		Params:      specs,
		Author:      c.author,
		Name:        c.name,
		Description: c.description,
		Version:     c.version,
	}

	token, err := ComputeConnectionIdentity(c.masterToken, contract)
	if err != nil {
		return err
	}

	c.method = method
	c.methodName = name
	c.contract = contract
	c.connectionToken = token
	c.results = newResultsAggregator(c.api, c.uploader, c.tracer, c.transcoder, token, c.outputTargets)

	c.tracer.Event(token, StageRegisterMethod, fmt.Sprintf("registered method: %s", name))
	return nil
}

// Output returns the results aggregator for the current invocation. It is
// nil before a method is registered.
func (c *Client) Output() *ResultsAggregator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results
}

// ConnectionToken returns the current connection identity
func (c *Client) ConnectionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionToken
}

// Contract returns the currently registered method contract
func (c *Client) Contract() *MethodContract {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contract
}

// SessionBPM returns the tempo reported by the most recent invocation request
func (c *Client) SessionBPM() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionBPM
}

// SessionSampleRate returns the sample rate reported by the most recent
// invocation request.
func (c *Client) SessionSampleRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionSampleRate
}

func (c *Client) setSession(bpm, sampleRate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionBPM = bpm
	c.sessionSampleRate = sampleRate
}

// InputTargets returns the audio targets applied to downloaded inputs
func (c *Client) InputTargets() AudioTargets {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputTargets
}

// announce pushes the registered contract and connection mapping to the
// identity service and runs the initialization hook between the loaded-flag
// updates.
func (c *Client) announce(ctx context.Context) error {
	c.mu.Lock()
	token := c.connectionToken
	masterToken := c.masterToken
	contract := c.contract
	name := c.name
	description := c.description
	connectionType := c.cfg.ConnectionType
	initHook := c.initHook
	c.mu.Unlock()

	if contract == nil {
		return &StateError{Message: "no method registered: call RegisterMethod before connecting"}
	}

	if err := c.api.CreateComputeContract(ctx, token, contract); err != nil {
		return err
	}
	if err := c.api.AddConnectionMapping(ctx, masterToken, token, name, description, connectionType); err != nil {
		return err
	}

	if err := c.api.UpdateLoadedStatus(ctx, token, false); err != nil {
		c.logger.Warn("failed to clear loaded flag", "error", err)
	}
	if initHook != nil {
		if err := initHook(ctx); err != nil {
			return fmt.Errorf("initialization hook failed: %w", err)
		}
	}
	if err := c.api.UpdateLoadedStatus(ctx, token, true); err != nil {
		c.logger.Warn("failed to set loaded flag", "error", err)
	}

	return nil
}
