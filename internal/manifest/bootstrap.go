package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// BootstrapConfig controls the startup self-registration call a service
// makes against the registration endpoint.
type BootstrapConfig struct {
	// BaseURL is the registrar's address, e.g. http://sentinel:8080.
	BaseURL string
	// Attempts bounds retries; the default is 5.
	Attempts int
	// Backoff is the initial delay, doubled per attempt; the default is 500ms.
	Backoff time.Duration
	// HTTPClient may be overridden for testing.
	HTTPClient *http.Client
}

// Bootstrap submits the service's manifest with bounded retry and backoff.
// It returns the registrar's summary on success, or the last error once
// attempts are exhausted, so the process supervisor gets a clear signal
// instead of a silently swallowed failure.
func Bootstrap(ctx context.Context, cfg BootstrapConfig, body Body, logger *slog.Logger) (ServiceSummary, error) {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return ServiceSummary{}, fmt.Errorf("bootstrap: encode manifest: %w", err)
	}

	var lastErr error
	delay := cfg.Backoff
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		summary, err := submit(ctx, client, cfg.BaseURL, payload)
		if err == nil {
			logger.Info("manifest bootstrap succeeded",
				slog.String("service", body.Service),
				slog.Int("version", summary.ManifestVersion))
			return summary, nil
		}
		lastErr = err
		logger.Warn("manifest bootstrap attempt failed",
			slog.String("service", body.Service),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		if attempt == cfg.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ServiceSummary{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return ServiceSummary{}, fmt.Errorf("bootstrap: registration failed after %d attempts: %w", cfg.Attempts, lastErr)
}

func submit(ctx context.Context, client *http.Client, baseURL string, payload []byte) (ServiceSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/manifests", bytes.NewReader(payload))
	if err != nil {
		return ServiceSummary{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return ServiceSummary{}, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return ServiceSummary{}, fmt.Errorf("registrar returned %d: %s", res.StatusCode, snippet)
	}
	var summary ServiceSummary
	if err := json.NewDecoder(res.Body).Decode(&summary); err != nil {
		return ServiceSummary{}, fmt.Errorf("decode summary: %w", err)
	}
	return summary, nil
}
