package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPGateway posts submissions to an external evaluation service:
//
//	POST {BaseURL}/evaluate {"problem_id","code","language"} -> {"score","passed","reason"}
type HTTPGateway struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) Evaluate(ctx context.Context, req Request) (Verdict, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Verdict{}, backoff.Permanent(fmt.Errorf("judge: encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return Verdict{}, backoff.Permanent(fmt.Errorf("judge: build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(httpReq)
	if err != nil {
		return Verdict{}, fmt.Errorf("judge: call evaluator: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return Verdict{}, fmt.Errorf("judge: evaluator status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return Verdict{}, backoff.Permanent(fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode))
	}

	var v Verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return Verdict{}, fmt.Errorf("judge: decode verdict: %w", err)
	}
	if v.Score == 0 && v.Passed {
		v.Score = 100
	}
	return v, nil
}
