package app

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Probe blocks until the app answers on the given port or ctx expires.
type Probe func(ctx context.Context, port int) error

const probeInterval = 500 * time.Millisecond

// HTTPProbe polls Streamlit's health endpoint, falling back to the root
// path for older releases that predate /healthz.
func HTTPProbe(ctx context.Context, port int) error {
	client := &http.Client{Timeout: 2 * time.Second}
	urls := []string{
		fmt.Sprintf("http://127.0.0.1:%d/healthz", port),
		fmt.Sprintf("http://127.0.0.1:%d/", port),
	}
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		for _, url := range urls {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode < 500 {
					return nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("app: port %d never became ready: %w", port, ctx.Err())
		case <-ticker.C:
		}
	}
}
