package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/safepay/guard/internal/circuitbreaker"
	"github.com/safepay/guard/internal/features"
	"github.com/safepay/guard/internal/metrics"
)

const breakerKey = "scoring"

// Client scores against an external model service. Any failure
// (transport error, timeout, open breaker, malformed response) resolves
// to the neutral fallback result; the caller never sees an error.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewClient creates a remote scoring client with a hard per-call
// deadline and a circuit breaker in front of the service.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New(5, 30*time.Second),
		logger:  logger,
	}
}

// scoreRequest is the raw transaction as the scoring service expects
// it. The service derives its own features; it never sees ours. MCC
// travels as a string and the timestamp as ISO-8601.
type scoreRequest struct {
	TransactionID string  `json:"transaction_id"`
	UserID        string  `json:"user_id"`
	Amount        float64 `json:"amount"`
	Merchant      string  `json:"merchant"`
	MCC           string  `json:"mcc"`
	Timestamp     string  `json:"timestamp"`
	City          string  `json:"city,omitempty"`
	DeviceID      string  `json:"device_id,omitempty"`
}

// wireFlag is a risk flag in the service's field names.
type wireFlag struct {
	Flag        string `json:"flag"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

type wirePromptContext struct {
	PromptTemplate string `json:"prompt_template"`
}

type scoreResponse struct {
	RiskScore           float64            `json:"risk_score"`
	RiskLevel           string             `json:"risk_level"`
	AnomalyScore        float64            `json:"anomaly_score"`
	FraudProbability    float64            `json:"fraud_probability"`
	RiskFlags           []wireFlag         `json:"risk_flags"`
	GeminiPromptContext *wirePromptContext `json:"gemini_prompt_context"`
}

// Score calls the external service, falling back on any failure. The
// service's verdict is taken whole: its score, its tier, and its
// flags, with no local re-derivation.
func (c *Client) Score(ctx context.Context, in ScoreInput, _ features.Vector) Result {
	if !c.breaker.Allow(breakerKey) {
		c.logger.Warn("scoring circuit open, using fallback score")
		return c.fallback()
	}

	resp, err := c.call(ctx, in)
	if err != nil {
		c.breaker.RecordFailure(breakerKey)
		c.logger.Error("scoring service unavailable, using fallback score", "error", err)
		return c.fallback()
	}
	c.breaker.RecordSuccess(breakerKey)

	flags := make([]Flag, 0, len(resp.RiskFlags))
	for _, f := range resp.RiskFlags {
		flags = append(flags, Flag{Code: f.Flag, Message: f.Description, Severity: f.Severity})
	}

	r := Result{
		Score:            resp.RiskScore,
		Tier:             Tier(resp.RiskLevel),
		AnomalyScore:     resp.AnomalyScore,
		FraudProbability: resp.FraudProbability,
		Flags:            flags,
	}
	if resp.GeminiPromptContext != nil {
		r.PromptTemplate = resp.GeminiPromptContext.PromptTemplate
	}
	return r
}

func (c *Client) call(ctx context.Context, in ScoreInput) (*scoreResponse, error) {
	body, err := json.Marshal(scoreRequest{
		TransactionID: in.TransactionID,
		UserID:        in.UserID,
		Amount:        in.Amount,
		Merchant:      in.Merchant,
		MCC:           strconv.Itoa(in.MCC),
		Timestamp:     in.Timestamp.UTC().Format(time.RFC3339),
		City:          in.City,
		DeviceID:      in.DeviceID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scoring service returned %d", httpResp.StatusCode)
	}

	var resp scoreResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode scoring response: %w", err)
	}
	if resp.RiskScore < 0 || resp.RiskScore > 1 ||
		resp.AnomalyScore < 0 || resp.AnomalyScore > 1 ||
		resp.FraudProbability < 0 || resp.FraudProbability > 1 {
		return nil, fmt.Errorf("scoring response out of range: risk=%v anomaly=%v fraud=%v",
			resp.RiskScore, resp.AnomalyScore, resp.FraudProbability)
	}
	if !ValidTier(resp.RiskLevel) {
		return nil, fmt.Errorf("scoring response has unknown risk level %q", resp.RiskLevel)
	}
	return &resp, nil
}

// fallback returns the neutral result with no flags. Flags describe
// the model's verdict; when there is no verdict there are no flags,
// and an alerting fallback still gets the generic flag downstream.
func (c *Client) fallback() Result {
	metrics.ScoringFallbacksTotal.Inc()
	return FallbackResult()
}

// Compile-time assertion that Client implements Scorer.
var _ Scorer = (*Client)(nil)
