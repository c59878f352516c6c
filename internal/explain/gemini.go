package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/safepay/guard/internal/circuitbreaker"
	"github.com/safepay/guard/internal/risk"
)

const breakerKey = "explain"

// GeminiClient generates explanations through a Gemini-compatible
// generateContent endpoint.
type GeminiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewGeminiClient creates a generator client with a hard per-call
// deadline and a circuit breaker.
func NewGeminiClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *GeminiClient {
	return &GeminiClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New(3, time.Minute),
		logger:  logger,
	}
}

const promptTemplate = `You are explaining a flagged payment to a family member who watches over this account.

Transaction: $%.2f at %q (merchant category %d)%s at hour %d.
Risk score: %.2f (%s). The account's average transaction is $%.2f over %d transactions.
Signals: %s

Respond with JSON only: {"summary": one sentence, "reasons": [2 to 4 short strings], "action": one sentence}.
Plain language. No jargon, no blame.`

// buildPrompt renders the scoring context into the model prompt. A
// prompt pre-rendered by the scoring service wins over the local
// template.
func buildPrompt(rc *risk.Context) string {
	if rc.PromptTemplate != "" {
		return rc.PromptTemplate
	}
	var signals []string
	for _, f := range rc.Flags {
		signals = append(signals, f.Message)
	}
	if len(signals) == 0 {
		signals = []string{"none specific; the overall pattern was unusual"}
	}
	city := ""
	if rc.City != "" {
		city = fmt.Sprintf(" in %s", rc.City)
	}
	return fmt.Sprintf(promptTemplate,
		rc.Amount, rc.Merchant, rc.MCC, city, rc.Hour,
		rc.Score, rc.Tier, rc.AvgAmount, rc.TxnCount,
		strings.Join(signals, "; "),
	)
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Explain asks the model for an explanation. Any transport failure,
// open breaker, or malformed response is returned as an error; the
// caller decides to fall back.
func (g *GeminiClient) Explain(ctx context.Context, rc *risk.Context) (*Explanation, error) {
	if !g.breaker.Allow(breakerKey) {
		return nil, fmt.Errorf("explanation circuit open")
	}

	exp, err := g.call(ctx, rc)
	if err != nil {
		g.breaker.RecordFailure(breakerKey)
		return nil, err
	}
	g.breaker.RecordSuccess(breakerKey)
	return exp, nil
}

func (g *GeminiClient) call(ctx context.Context, rc *risk.Context) (*Explanation, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: buildPrompt(rc)}}}},
	})
	if err != nil {
		return nil, err
	}

	url := g.baseURL + "/v1beta/models/gemini-2.0-flash:generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	httpResp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explanation service returned %d", httpResp.StatusCode)
	}

	var resp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode explanation response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty explanation response")
	}

	return parseExplanation(resp.Candidates[0].Content.Parts[0].Text)
}

// parseExplanation extracts and validates the model's JSON payload.
// Models like wrapping JSON in markdown fences; strip them.
func parseExplanation(text string) (*Explanation, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var exp Explanation
	if err := json.Unmarshal([]byte(text), &exp); err != nil {
		return nil, fmt.Errorf("explanation is not valid JSON: %w", err)
	}
	if exp.Summary == "" || exp.Action == "" {
		return nil, fmt.Errorf("explanation missing summary or action")
	}
	if len(exp.Reasons) < 2 || len(exp.Reasons) > 4 {
		return nil, fmt.Errorf("explanation must have 2-4 reasons, got %d", len(exp.Reasons))
	}
	return &exp, nil
}

// Compile-time assertion that GeminiClient implements Generator.
var _ Generator = (*GeminiClient)(nil)
