// Package ai implements the LLM adapter: an OpenAI-compatible chat client
// wrapped with timeout, retry, circuit breaking, a daily token budget,
// content-hash response caching and mandatory PII redaction.
package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/octup/sentinel/internal/config"
	"github.com/octup/sentinel/internal/domain"
	"github.com/octup/sentinel/internal/observability"
	"github.com/octup/sentinel/internal/resilience"
)

const (
	chatTemperature = 0.2
	chatMaxTokens   = 1024
)

// Client implements domain.AIClient against an OpenAI-compatible
// chat-completions endpoint.
type Client struct {
	cfg     config.Config
	hc      *http.Client
	breaker *resilience.CircuitBreaker
	limiter *resilience.SlidingWindowLimiter
	cache   *responseCache
	budget  *Budget
	prompts *PromptSet
}

// New constructs the AI client; the breaker is shared through the registry so
// health reporting sees the same instance.
func New(cfg config.Config, reg *resilience.Registry) *Client {
	ratePerMin := cfg.AIRatePerMin
	if ratePerMin <= 0 {
		ratePerMin = 300
	}
	return &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: cfg.AITimeout()},
		breaker: reg.Get(resilience.ServiceAI),
		limiter: resilience.NewSlidingWindowLimiter(ratePerMin, time.Minute),
		cache:   newResponseCache(cfg.AICacheTTL),
		budget:  NewBudget(cfg.AIMaxDailyTokens, cfg.AIModel),
		prompts: NewPromptSet(""),
	}
}

// ReloadPrompts drops the prompt template cache.
func (c *Client) ReloadPrompts() { c.prompts.Reload() }

// ClearCache drops all cached responses and returns the evicted count.
func (c *Client) ClearCache() int { return c.cache.clear() }

// BudgetUsed returns today's estimated token consumption.
func (c *Client) BudgetUsed() int64 { return c.budget.Used() }

type chatRequest struct {
	Model          string        `json:"model"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
	Messages       []chatMessage `json:"messages"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// chatJSON performs one logical chat call: budget, breaker, bounded retries,
// then returns the raw message content. cacheKey may be empty to skip caching.
func (c *Client) chatJSON(ctx domain.Context, operation, cacheKey, systemPrompt, userPrompt string) (string, error) {
	if cacheKey != "" {
		if body, ok := c.cache.get(cacheKey); ok {
			observability.AIRequestsTotal.WithLabelValues(operation, "cache_hit").Inc()
			return body, nil
		}
	}

	if !c.limiter.Allow(operation) {
		observability.AIRequestsTotal.WithLabelValues(operation, "rate_limited").Inc()
		return "", fmt.Errorf("op=ai.%s: provider call rate exceeded: %w", operation, domain.ErrRateLimited)
	}

	promptTokens := c.budget.CountTokens(systemPrompt) + c.budget.CountTokens(userPrompt)
	if err := c.budget.Reserve(promptTokens); err != nil {
		observability.AIRequestsTotal.WithLabelValues(operation, "budget_exceeded").Inc()
		return "", err
	}

	if err := c.breaker.Allow(); err != nil {
		observability.AIRequestsTotal.WithLabelValues(operation, "circuit_open").Inc()
		return "", err
	}

	reqBody, err := json.Marshal(chatRequest{
		Model:          c.cfg.AIModel,
		Temperature:    chatTemperature,
		MaxTokens:      chatMaxTokens,
		ResponseFormat: &chatFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("op=ai.%s: marshal request: %w", operation, err)
	}

	var content string
	retryCfg := resilience.RetryConfig{
		MaxRetries:      c.cfg.AIRetryMaxAttempts,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
	}
	err = resilience.Retry(ctx, retryCfg, func() error {
		body, attemptErr := c.doChat(ctx, operation, reqBody)
		if attemptErr != nil {
			c.breaker.RecordFailure()
			return attemptErr
		}
		c.breaker.RecordSuccess()
		content = body
		return nil
	})
	if err != nil {
		observability.AIRequestsTotal.WithLabelValues(operation, "error").Inc()
		slog.Warn("ai request failed",
			slog.String("operation", operation),
			slog.Any("error", err))
		return "", err
	}

	observability.AIRequestsTotal.WithLabelValues(operation, "ok").Inc()
	if cacheKey != "" {
		c.cache.put(cacheKey, content)
	}
	return content, nil
}

// doChat is a single HTTP attempt.
func (c *Client) doChat(ctx domain.Context, operation string, reqBody []byte) (string, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.AIProviderBaseURL, "/")+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("op=ai.%s: build request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AIAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	observability.AIRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("op=ai.%s: %w: %v", operation, domain.ErrUpstreamTimeout, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("op=ai.%s: read response: %w", operation, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("op=ai.%s: provider rate limited: %w", operation, domain.ErrRateLimited)
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("op=ai.%s: provider status %d", operation, resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("op=ai.%s: provider status %d: %w", operation, resp.StatusCode, domain.ErrInvalidArgument)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("op=ai.%s: decode envelope: %w", operation, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("op=ai.%s: empty choices", operation)
	}
	c.budget.Charge(out.Usage.CompletionTokens)
	return stripFences(out.Choices[0].Message.Content), nil
}

// stripFences removes markdown code fences some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// parseInto unmarshals model output; any parse error is a request failure.
func parseInto(operation, body string, v any) error {
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("op=ai.%s: malformed model output: %w", operation, err)
	}
	return nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// last4 keeps only the trailing characters of an identifier for cache keys.
func last4(s string) string {
	if len(s) <= 4 {
		return s
	}
	return s[len(s)-4:]
}

// ClassifyException labels an exception and drafts ops/client notes. The
// context data is redacted before leaving the process; responses are cached by
// a content hash of (tenant, reason code, order id suffix, context).
func (c *Client) ClassifyException(ctx domain.Context, ex domain.Exception) (domain.Classification, error) {
	redacted := RedactMap(ex.ContextData)
	ctxJSON, err := json.Marshal(redacted)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("op=ai.classify: marshal context: %w", err)
	}

	user, err := c.prompts.Render(PromptClassifyException, map[string]string{
		"reason_code": string(ex.ReasonCode),
		"severity":    string(ex.Severity),
		"order_ref":   last4(ex.OrderID),
		"context":     string(ctxJSON),
	})
	if err != nil {
		return domain.Classification{}, err
	}

	key := CacheKey("classify", ex.Tenant, string(ex.ReasonCode), last4(ex.OrderID), string(ctxJSON))
	body, err := c.chatJSON(ctx, "classify_exception", key, systemPromptOps, user)
	if err != nil {
		return domain.Classification{}, err
	}

	var out domain.Classification
	if err := parseInto("classify_exception", body, &out); err != nil {
		return domain.Classification{}, err
	}
	out.Confidence = clamp01(out.Confidence)
	return out, nil
}

// AnalyzeOrderProblems inspects a raw order payload for fulfillment problems.
func (c *Client) AnalyzeOrderProblems(ctx domain.Context, rawOrder map[string]any) (domain.ProblemReport, error) {
	redacted := RedactMap(rawOrder)
	orderJSON, err := json.Marshal(redacted)
	if err != nil {
		return domain.ProblemReport{}, fmt.Errorf("op=ai.analyze_order: marshal order: %w", err)
	}

	user, err := c.prompts.Render(PromptAnalyzeOrder, map[string]string{
		"order": string(orderJSON),
	})
	if err != nil {
		return domain.ProblemReport{}, err
	}

	key := CacheKey("analyze_order", string(orderJSON))
	body, err := c.chatJSON(ctx, "analyze_order_problems", key, systemPromptOps, user)
	if err != nil {
		return domain.ProblemReport{}, err
	}

	var out domain.ProblemReport
	if err := parseInto("analyze_order_problems", body, &out); err != nil {
		return domain.ProblemReport{}, err
	}
	out.Confidence = clamp01(out.Confidence)
	out.AnalysisMethod = "ai"
	return out, nil
}

// AnalyzeAutomatedResolution asks whether the exception can resolve without a
// human. rawOrder must be unenriched order data; callers never add computed
// flags or hints.
func (c *Client) AnalyzeAutomatedResolution(ctx domain.Context, rawOrder map[string]any, rc domain.ReasonCode) (domain.ResolutionAnalysis, error) {
	redacted := RedactMap(rawOrder)
	orderJSON, err := json.Marshal(redacted)
	if err != nil {
		return domain.ResolutionAnalysis{}, fmt.Errorf("op=ai.analyze_resolution: marshal order: %w", err)
	}

	user, err := c.prompts.Render(PromptAnalyzeResolution, map[string]string{
		"reason_code": string(rc),
		"order":       string(orderJSON),
	})
	if err != nil {
		return domain.ResolutionAnalysis{}, err
	}

	key := CacheKey("analyze_resolution", string(rc), string(orderJSON))
	body, err := c.chatJSON(ctx, "analyze_automated_resolution", key, systemPromptOps, user)
	if err != nil {
		return domain.ResolutionAnalysis{}, err
	}

	var out domain.ResolutionAnalysis
	if err := parseInto("analyze_automated_resolution", body, &out); err != nil {
		return domain.ResolutionAnalysis{}, err
	}
	out.Confidence = clamp01(out.Confidence)
	out.SuccessProbability = clamp01(out.SuccessProbability)
	out.AutomatedActions = filterKnownActions(out.AutomatedActions)
	return out, nil
}

// LintPolicy reviews operator policy text. Lint runs are operator-triggered
// and uncached.
func (c *Client) LintPolicy(ctx domain.Context, policyText, policyType string) (domain.LintReport, error) {
	user, err := c.prompts.Render(PromptLintPolicy, map[string]string{
		"policy_type": policyType,
		"policy_text": RedactText(policyText),
	})
	if err != nil {
		return domain.LintReport{}, err
	}

	body, err := c.chatJSON(ctx, "lint_policy", "", systemPromptLint, user)
	if err != nil {
		return domain.LintReport{}, err
	}

	var out domain.LintReport
	if err := parseInto("lint_policy", body, &out); err != nil {
		return domain.LintReport{}, err
	}
	return out, nil
}

// filterKnownActions drops anything outside the closed action set.
func filterKnownActions(in []domain.AutomatedAction) []domain.AutomatedAction {
	known := map[domain.AutomatedAction]struct{}{
		domain.ActionAddressValidation:     {},
		domain.ActionPaymentRetry:          {},
		domain.ActionInventoryReallocation: {},
		domain.ActionSystemRecovery:        {},
		domain.ActionCarrierAPIUpdate:      {},
	}
	out := in[:0]
	for _, a := range in {
		if _, ok := known[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

const (
	systemPromptOps  = "You are a precise assistant for an order-fulfillment operations platform. Always answer with a single valid JSON object and nothing else."
	systemPromptLint = "You are a meticulous reviewer of operational policy documents. Always answer with a single valid JSON object and nothing else."
)
