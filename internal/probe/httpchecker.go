package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/casey/netmon/internal/credential"
	"github.com/casey/netmon/internal/domain"
)

// HTTPChecker issues a GET against the configured URL. The check succeeds
// iff the response status equals the node's expected status. Latency is the
// wall time to the response headers.
type HTTPChecker struct {
	Client *http.Client
}

func NewHTTPChecker() *HTTPChecker {
	return &HTTPChecker{
		Client: &http.Client{
			// Self-signed certs are the norm on the private services
			// this monitors (Proxmox, Home Assistant, etc).
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
			// No client timeout: the per-check context is the bound.
		},
	}
}

func (h *HTTPChecker) Check(ctx context.Context, detail domain.MonitorDetail, _ *credential.Secret) Outcome {
	url := domain.NormalizeHTTPURL(detail.URL)

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fail(fmt.Sprintf("bad request: %v", err))
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fail("timeout")
		}
		return fail(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != detail.ExpectedStatus {
		return failTimed(start, fmt.Sprintf("expected status %d but got %d",
			detail.ExpectedStatus, resp.StatusCode))
	}
	return succeed(start, fmt.Sprintf("responded with status %d", resp.StatusCode))
}
