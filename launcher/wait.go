package launcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const probeInterval = time.Millisecond * 100

// waitForServer polls baseURL until the server answers with any HTTP response, the timeout
// expires or ctx is done.
func waitForServer(ctx context.Context, baseURL string, timeout time.Duration, output io.Writer) error {
	fmt.Fprintf(output, "Connecting to identity server at %s", baseURL)
	client := http.Client{Timeout: probeInterval * 10}
	deadline := time.Now().Add(timeout)
	for {
		fmt.Fprintf(output, ".")
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			fmt.Fprintln(output)
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			fmt.Fprintln(output)
			return nil
		}
		if !time.Now().Before(deadline) {
			fmt.Fprintln(output)
			return fmt.Errorf("timed out, result of last query was: %w", err)
		}
		select {
		case <-ctx.Done():
			fmt.Fprintln(output)
			return fmt.Errorf("gave up waiting for %s: %w", baseURL, ctx.Err())
		case <-time.After(probeInterval):
		}
	}
}
