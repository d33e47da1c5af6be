package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// PipelineStater reports whether the dictation pipeline is running. The
// controller implements it.
type PipelineStater interface {
	Running() bool
}

// Pipeline returns a checker that fails while the pipeline is not running.
func Pipeline(p PipelineStater) Checker {
	return Checker{
		Name: "pipeline",
		Check: func(context.Context) error {
			if !p.Running() {
				return errors.New("pipeline is not running")
			}
			return nil
		},
	}
}

// WhisperServer returns a checker that probes a whisper-server endpoint.
// Any HTTP response counts as reachable; only transport errors fail the
// check.
func WhisperServer(serverURL string, client *http.Client) Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return Checker{
		Name: "whisper-server",
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL, nil)
			if err != nil {
				return fmt.Errorf("build probe request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("whisper-server unreachable: %w", err)
			}
			resp.Body.Close()
			return nil
		},
	}
}
