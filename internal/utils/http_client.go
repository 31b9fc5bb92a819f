package utils

import (
	"net/http"
	"time"
)

// NewHTTPClient builds the shared client used for model-provider and tool
// traffic. Streaming responses rely on the per-request context rather than
// the client timeout, so a zero timeout is respected.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
