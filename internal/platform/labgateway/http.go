package labgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type httpGateway struct {
	url    string
	client *http.Client
}

// NewHTTPGateway returns a Gateway that POSTs batches as JSON to the lab
// service endpoint.
func NewHTTPGateway(url string) Gateway {
	return &httpGateway{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type transmitResponse struct {
	ExternalOrderID string `json:"external_order_id"`
}

func (g *httpGateway) Transmit(ctx context.Context, batch Batch) (string, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var tr transmitResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if tr.ExternalOrderID == "" {
		return "", fmt.Errorf("%w: empty external order id", ErrGatewayUnavailable)
	}
	return tr.ExternalOrderID, nil
}
