package broker

import (
	"context"
	"fmt"
	"time"
)

// ModelRequest is one call to the language-model capability.
type ModelRequest struct {
	Prompt  string     // fully rendered prompt
	Persona Persona    // for adapters that condition on structured state
	History []Exchange // most recent last
}

// ModelResponse carries free text plus an optional structured hint.
// For respond calls the hint is the suggested decision ("attempt" or "refuse").
type ModelResponse struct {
	Text string
	Hint string
}

// LanguageModel is the external text-generation capability.
// Implementations must honour ctx cancellation; the broker enforces its own deadline regardless.
type LanguageModel interface {
	Complete(ctx context.Context, req ModelRequest) (ModelResponse, error)
}

// DependencyError wraps a failed or timed-out language-model call.
type DependencyError struct {
	Op       string
	TimedOut bool
	Err      error
}

func (e *DependencyError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("language model %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("language model %s failed: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// complete calls model with a hard deadline. The call runs in its own
// goroutine so a model that ignores ctx cannot hold the caller past timeout.
func complete(ctx context.Context, model LanguageModel, op string, req ModelRequest, timeout time.Duration) (ModelResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		resp ModelResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := model.Complete(callCtx, req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return ModelResponse{}, &DependencyError{Op: op, Err: r.err, TimedOut: callCtx.Err() != nil}
		}
		return r.resp, nil
	case <-callCtx.Done():
		return ModelResponse{}, &DependencyError{Op: op, TimedOut: true, Err: callCtx.Err()}
	}
}
