package enrich

import (
	"net/http"
	"time"
)

// defaultClient returns the shared HTTP client used by the providers.
// The overall timeout is a backstop; per-call deadlines come from the
// coordinator's contexts.
func defaultClient() *http.Client {
	tr := &http.Transport{
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		ResponseHeaderTimeout: 10 * time.Second,
		IdleConnTimeout:       30 * time.Second,
	}
	return &http.Client{
		Transport: tr,
		Timeout:   15 * time.Second,
	}
}
