// Package actions executes automated resolution actions against the external
// automation gateway.
package actions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/octup/sentinel/internal/config"
	"github.com/octup/sentinel/internal/domain"
	"github.com/octup/sentinel/internal/resilience"
)

// GatewayExecutor POSTs each action to the automation gateway and reports the
// gateway's boolean verdict. Calls share the database-style resilience
// treatment: bounded retries and a per-call timeout.
type GatewayExecutor struct {
	baseURL string
	hc      *http.Client
}

// NewGatewayExecutor builds the executor; an empty base URL leaves every
// action failing closed.
func NewGatewayExecutor(cfg config.Config) *GatewayExecutor {
	timeout := cfg.AutomationTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GatewayExecutor{
		baseURL: strings.TrimRight(cfg.AutomationGatewayURL, "/"),
		hc:      &http.Client{Timeout: timeout},
	}
}

type actionRequest struct {
	Action        string         `json:"action"`
	Tenant        string         `json:"tenant"`
	OrderID       string         `json:"order_id"`
	ExceptionID   string         `json:"exception_id"`
	ReasonCode    string         `json:"reason_code"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Order         map[string]any `json:"order,omitempty"`
}

type actionResponse struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail"`
}

// Execute runs one action; false with nil error means the gateway declined.
func (e *GatewayExecutor) Execute(ctx domain.Context, action domain.AutomatedAction, ex domain.Exception) (bool, error) {
	if e.baseURL == "" {
		return false, fmt.Errorf("op=actions.execute: no automation gateway configured: %w", domain.ErrInvalidArgument)
	}

	body, err := json.Marshal(actionRequest{
		Action:        string(action),
		Tenant:        ex.Tenant,
		OrderID:       ex.OrderID,
		ExceptionID:   ex.ID,
		ReasonCode:    string(ex.ReasonCode),
		CorrelationID: ex.CorrelationID,
	})
	if err != nil {
		return false, fmt.Errorf("op=actions.execute: marshal: %w", err)
	}

	var out actionResponse
	err = resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/actions", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("op=actions.execute: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := e.hc.Do(req)
		if err != nil {
			return fmt.Errorf("op=actions.execute: %w: %v", domain.ErrUpstreamTimeout, err)
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if err != nil {
			return fmt.Errorf("op=actions.execute: read response: %w", err)
		}
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("op=actions.execute: gateway status %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return fmt.Errorf("op=actions.execute: gateway status %d: %w", resp.StatusCode, domain.ErrInvalidArgument)
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("op=actions.execute: decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return out.Success, nil
}
