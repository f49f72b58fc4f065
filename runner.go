package runes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// RunState is the process-wide invocation state. Completion sets the state
// to stopped rather than idle, so checks only distinguish running from not
// running.
type RunState int32

const (
	RunIdle RunState = iota
	RunActive
	RunStopped
)

// runGate is the single-invocation concurrency gate: an atomic
// check-and-set rather than a read-then-write race.
type runGate struct {
	state atomic.Int32
}

// tryStart transitions to running unless an invocation is already active
func (g *runGate) tryStart() bool {
	for {
		current := g.state.Load()
		if RunState(current) == RunActive {
			return false
		}
		if g.state.CompareAndSwap(current, int32(RunActive)) {
			return true
		}
	}
}

func (g *runGate) stop() {
	g.state.Store(int32(RunStopped))
}

func (g *runGate) running() bool {
	return RunState(g.state.Load()) == RunActive
}

// Running reports whether an invocation is currently active
func (c *Client) Running() bool {
	return c.gate.running()
}

// Run executes the registered method with the supplied arguments. Standard
// output and error are captured for the duration of the call and forwarded
// to the aggregator as a log entry; the streams are always restored. Method
// failures (including panics) are captured as result errors, never
// propagated: Run returns an error only for state violations or a failed
// publish. The aggregator publishes on both the success and failure path.
func (c *Client) Run(ctx context.Context, name string, args map[string]any) error {
	c.mu.Lock()
	method := c.method
	methodName := c.methodName
	contract := c.contract
	results := c.results
	token := c.connectionToken
	c.mu.Unlock()

	if method == nil || name != methodName {
		return &StateError{Message: fmt.Sprintf("method '%s' is not registered", name)}
	}
	if !c.gate.tryStart() {
		return &StateError{Message: "an invocation is already in progress"}
	}
	defer c.gate.stop()

	capture, captureErr := startOutputCapture()
	if captureErr != nil {
		c.logger.Warn("output capture unavailable", "error", captureErr)
	}

	runErr := invokeMethod(ctx, method, normalizeArgs(contract, args))

	if capture != nil {
		results.AddLog(capture.Stop())
	}

	if runErr != nil {
		results.AddError(runErr.Error())
		c.tracer.Error(token, StageRunMethod, fmt.Sprintf("error running method: %v", runErr))
	} else {
		c.tracer.Event(token, StageRunMethod, fmt.Sprintf("ran method: %s", name))
	}

	if _, err := results.Publish(ctx); err != nil {
		return err
	}
	return nil
}

// invokeMethod calls the method, converting a panic into a captured error
func invokeMethod(ctx context.Context, method Method, args map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("method panicked: %v", r)
		}
	}()
	return method(ctx, args)
}

// normalizeArgs fills missing arguments from contract defaults and coerces
// JSON numbers to int for int-typed parameters.
func normalizeArgs(contract *MethodContract, args map[string]any) map[string]any {
	normalized := make(map[string]any, len(contract.Params))
	for k, v := range args {
		normalized[k] = v
	}
	for _, param := range contract.Params {
		value, present := normalized[param.Name]
		if !present {
			if param.DefaultValue != nil {
				normalized[param.Name] = param.DefaultValue
			}
			continue
		}
		if param.Type == ParamInt {
			if f, ok := value.(float64); ok {
				normalized[param.Name] = int(f)
			}
		}
	}
	return normalized
}

// outputCapture redirects the process stdout/stderr into a buffer for the
// duration of one invocation.
type outputCapture struct {
	origStdout *os.File
	origStderr *os.File
	writeOut   *os.File
	writeErr   *os.File

	mu   sync.Mutex
	buf  bytes.Buffer
	wg   sync.WaitGroup
	once sync.Once
	text string
}

func startOutputCapture() (*outputCapture, error) {
	readOut, writeOut, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	readErr, writeErr, err := os.Pipe()
	if err != nil {
		readOut.Close()
		writeOut.Close()
		return nil, err
	}

	capture := &outputCapture{
		origStdout: os.Stdout,
		origStderr: os.Stderr,
		writeOut:   writeOut,
		writeErr:   writeErr,
	}
	os.Stdout = writeOut
	os.Stderr = writeErr

	capture.wg.Add(2)
	go capture.drain(readOut)
	go capture.drain(readErr)

	return capture, nil
}

func (c *outputCapture) drain(r *os.File) {
	defer c.wg.Done()
	defer r.Close()

	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			c.mu.Lock()
			c.buf.Write(chunk[:n])
			c.mu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				return
			}
			return
		}
	}
}

// Stop restores the original streams and returns the captured text.
// Idempotent.
func (c *outputCapture) Stop() string {
	c.once.Do(func() {
		os.Stdout = c.origStdout
		os.Stderr = c.origStderr
		c.writeOut.Close()
		c.writeErr.Close()
		c.wg.Wait()

		c.mu.Lock()
		c.text = c.buf.String()
		c.mu.Unlock()
	})
	return c.text
}
