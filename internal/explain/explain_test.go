package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/safepay/guard/internal/risk"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func cryptoContext() *risk.Context {
	return &risk.Context{
		UserID:   "usr_margaret",
		Amount:   850,
		Merchant: "CoinFlip Bitcoin ATM",
		MCC:      6051,
		City:     "Miami",
		Hour:     2,
		Score:    0.94,
		Tier:     risk.TierCritical,
		Flags: []risk.Flag{
			{Code: "LARGE_AMOUNT", Message: "Much larger than this account's usual spending"},
			{Code: "HIGH_RISK_CATEGORY", Message: "Crypto ATMs are a common scam payment channel"},
			{Code: "NEW_MERCHANT", Message: "First transaction at this merchant"},
			{Code: "NEW_LOCATION", Message: "First transaction in this city"},
			{Code: "UNUSUAL_TIME", Message: "Charged during unusual overnight hours"},
		},
		AvgAmount: 44.50,
		TxnCount:  30,
	}
}

func TestFallback(t *testing.T) {
	exp := Fallback(cryptoContext())

	if !exp.IsFallback {
		t.Error("template explanation must be marked as fallback")
	}
	if !strings.Contains(exp.Summary, "crypto or quasi-cash") {
		t.Errorf("summary should name the category: %q", exp.Summary)
	}
	if !strings.Contains(exp.Summary, "$850.00") || !strings.Contains(exp.Summary, "critical") {
		t.Errorf("summary missing amount or tier: %q", exp.Summary)
	}
	// Reasons come from the flags, capped at four
	if len(exp.Reasons) != 4 {
		t.Errorf("got %d reasons, want 4", len(exp.Reasons))
	}
	if exp.Reasons[0] != "Much larger than this account's usual spending" {
		t.Errorf("reasons not taken from flags: %v", exp.Reasons)
	}
	if exp.Action == "" {
		t.Error("fallback must carry a recommended action")
	}
}

func TestFallback_NoFlags(t *testing.T) {
	rc := cryptoContext()
	rc.Flags = nil

	exp := Fallback(rc)
	if len(exp.Reasons) != 2 {
		t.Fatalf("flagless context should get the generic reason plus the score line, got %v", exp.Reasons)
	}
	if !strings.Contains(exp.Reasons[1], "0.94") || !strings.Contains(exp.Reasons[1], "critical") {
		t.Errorf("padding reason should carry the score and tier: %q", exp.Reasons[1])
	}
}

func TestFallback_SingleFlagStillGivesTwoReasons(t *testing.T) {
	rc := cryptoContext()
	rc.Flags = rc.Flags[:1]

	exp := Fallback(rc)
	if len(exp.Reasons) != 2 {
		t.Fatalf("one flag should be padded to two reasons, got %v", exp.Reasons)
	}
	if exp.Reasons[0] != rc.Flags[0].Message {
		t.Errorf("first reason should be the flag message: %v", exp.Reasons)
	}
}

func TestParseExplanation(t *testing.T) {
	valid := `{"summary": "A large charge was made.", "reasons": ["big", "new merchant"], "action": "Call them."}`

	exp, err := parseExplanation(valid)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if exp.Summary != "A large charge was made." || len(exp.Reasons) != 2 {
		t.Errorf("parsed wrong: %+v", exp)
	}

	// Markdown fences get stripped
	fenced := "```json\n" + valid + "\n```"
	if _, err := parseExplanation(fenced); err != nil {
		t.Errorf("fenced JSON should parse: %v", err)
	}

	bad := []string{
		`not json at all`,
		`{"summary": "", "reasons": ["a", "b"], "action": "x"}`,
		`{"summary": "s", "reasons": ["only one"], "action": "x"}`,
		`{"summary": "s", "reasons": ["a","b","c","d","e"], "action": "x"}`,
		`{"summary": "s", "reasons": ["a", "b"], "action": ""}`,
	}
	for _, text := range bad {
		if _, err := parseExplanation(text); err == nil {
			t.Errorf("accepted malformed explanation: %s", text)
		}
	}
}

func geminiReply(text string) string {
	payload := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func TestGeminiClient_Explain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if !strings.Contains(r.URL.Path, "generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, geminiReply(`{"summary": "Unusual crypto purchase.", "reasons": ["large amount", "new merchant"], "action": "Check with the account holder."}`))
	}))
	defer srv.Close()

	client := NewGeminiClient(srv.URL, "test-key", 2*time.Second, testLogger())
	exp, err := client.Explain(context.Background(), cryptoContext())
	if err != nil {
		t.Fatalf("Explain failed: %v", err)
	}
	if exp.Summary != "Unusual crypto purchase." {
		t.Errorf("summary = %q", exp.Summary)
	}
	if exp.IsFallback {
		t.Error("model explanation must not be marked fallback")
	}
}

func TestGeminiClient_ServerErrorOpensBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewGeminiClient(srv.URL, "k", 2*time.Second, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := client.Explain(ctx, cryptoContext()); err == nil {
			t.Fatal("expected an error from a 500 response")
		}
	}

	// Breaker is now open; the call is refused without hitting the server
	if _, err := client.Explain(ctx, cryptoContext()); err == nil || !strings.Contains(err.Error(), "circuit open") {
		t.Errorf("got %v, want open-circuit refusal", err)
	}
}

func TestGeminiClient_MalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, geminiReply(`the model rambled instead of answering in JSON`))
	}))
	defer srv.Close()

	client := NewGeminiClient(srv.URL, "k", 2*time.Second, testLogger())
	if _, err := client.Explain(context.Background(), cryptoContext()); err == nil {
		t.Fatal("malformed model output must be an error")
	}
}

// recordPatcher captures AttachExplanation calls.
type recordPatcher struct {
	mu      sync.Mutex
	alertID string
	summary string
	reasons []string
	action  string
}

func (p *recordPatcher) AttachExplanation(ctx context.Context, alertID, summary string, reasons []string, action string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alertID = alertID
	p.summary = summary
	p.reasons = reasons
	p.action = action
	return nil
}

type failingGen struct{}

func (failingGen) Explain(ctx context.Context, rc *risk.Context) (*Explanation, error) {
	return nil, fmt.Errorf("model unavailable")
}

func TestWorker_NoGeneratorUsesTemplate(t *testing.T) {
	patcher := &recordPatcher{}
	w := NewWorker(nil, patcher, time.Second, testLogger())

	w.explain(context.Background(), "alr_1", cryptoContext())

	patcher.mu.Lock()
	defer patcher.mu.Unlock()
	if patcher.alertID != "alr_1" {
		t.Fatalf("explanation attached to %q, want alr_1", patcher.alertID)
	}
	if !strings.Contains(patcher.summary, "flagged") {
		t.Errorf("template summary missing: %q", patcher.summary)
	}
	if len(patcher.reasons) == 0 || patcher.action == "" {
		t.Error("attached explanation incomplete")
	}
}

func TestWorker_GeneratorFailureFallsBack(t *testing.T) {
	patcher := &recordPatcher{}
	w := NewWorker(failingGen{}, patcher, time.Second, testLogger())

	w.explain(context.Background(), "alr_2", cryptoContext())

	patcher.mu.Lock()
	defer patcher.mu.Unlock()
	if patcher.summary == "" {
		t.Fatal("fallback explanation was not attached")
	}
}
