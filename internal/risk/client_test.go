package risk

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/safepay/guard/internal/features"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleInput() ScoreInput {
	return ScoreInput{
		TransactionID: "txn_0123456789abcdef01234567",
		UserID:        "usr_0123456789abcdef01234567",
		Amount:        850,
		Merchant:      "CoinFlip Bitcoin ATM",
		MCC:           6051,
		Timestamp:     time.Date(2026, 3, 14, 2, 47, 0, 0, time.UTC),
		City:          "Miami",
		DeviceID:      "dev-9",
	}
}

func healthyBody() map[string]interface{} {
	return map[string]interface{}{
		"risk_score":        0.84,
		"risk_level":        "CRITICAL",
		"anomaly_score":     0.8,
		"fraud_probability": 0.9,
		"risk_flags": []map[string]string{
			{"flag": "HIGH_RISK_CATEGORY", "description": "Merchant category is frequently involved in fraud", "severity": "high"},
			{"flag": "UNUSUAL_TIME", "description": "Transaction at an hour this user rarely transacts", "severity": "medium"},
		},
		"gemini_prompt_context": map[string]string{
			"prompt_template": "Explain this charge to the account holder's family.",
		},
	}
}

func TestClient_Score(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/score" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			TransactionID string  `json:"transaction_id"`
			UserID        string  `json:"user_id"`
			Amount        float64 `json:"amount"`
			Merchant      string  `json:"merchant"`
			MCC           string  `json:"mcc"`
			Timestamp     string  `json:"timestamp"`
			City          string  `json:"city"`
			DeviceID      string  `json:"device_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.TransactionID != "txn_0123456789abcdef01234567" {
			t.Errorf("transaction_id = %q", req.TransactionID)
		}
		if req.UserID != "usr_0123456789abcdef01234567" {
			t.Errorf("user_id = %q", req.UserID)
		}
		if req.Amount != 850 {
			t.Errorf("amount = %v", req.Amount)
		}
		if req.Merchant != "CoinFlip Bitcoin ATM" {
			t.Errorf("merchant = %q", req.Merchant)
		}
		if req.MCC != "6051" {
			t.Errorf("mcc = %q, want string \"6051\"", req.MCC)
		}
		if _, err := time.Parse(time.RFC3339, req.Timestamp); err != nil {
			t.Errorf("timestamp %q is not ISO-8601: %v", req.Timestamp, err)
		}
		if req.City != "Miami" || req.DeviceID != "dev-9" {
			t.Errorf("city = %q, device_id = %q", req.City, req.DeviceID)
		}
		_ = json.NewEncoder(w).Encode(healthyBody())
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second, testLogger())
	result := c.Score(context.Background(), sampleInput(), features.Vector{})

	if result.Score != 0.84 {
		t.Errorf("score = %v, want 0.84", result.Score)
	}
	if result.Tier != TierCritical {
		t.Errorf("tier = %s, want CRITICAL", result.Tier)
	}
	if result.AnomalyScore != 0.8 || result.FraudProbability != 0.9 {
		t.Errorf("ensemble parts = %v/%v", result.AnomalyScore, result.FraudProbability)
	}
	if result.Fallback {
		t.Error("healthy response should not be a fallback")
	}
	if len(result.Flags) != 2 {
		t.Fatalf("flags = %+v, want the service's two flags", result.Flags)
	}
	if result.Flags[0].Code != FlagHighRiskCategory || result.Flags[0].Severity != SeverityHigh {
		t.Errorf("first flag = %+v", result.Flags[0])
	}
	if result.Flags[0].Message == "" {
		t.Error("flag description was dropped")
	}
	if result.PromptTemplate != "Explain this charge to the account holder's family." {
		t.Errorf("prompt template = %q", result.PromptTemplate)
	}
}

// A service that rejects requests missing its required fields, the way
// a schema-validating model server does, must still accept what the
// client sends during normal operation.
func TestClient_StrictServerAcceptsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		for _, field := range []string{"transaction_id", "user_id", "merchant", "mcc", "timestamp"} {
			s, ok := req[field].(string)
			if !ok || s == "" {
				t.Errorf("request missing required field %q", field)
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}
		}
		amount, ok := req["amount"].(float64)
		if !ok || amount <= 0 {
			t.Errorf("request amount invalid: %v", req["amount"])
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		if _, err := time.Parse(time.RFC3339, req["timestamp"].(string)); err != nil {
			t.Errorf("request timestamp invalid: %v", err)
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		_ = json.NewEncoder(w).Encode(healthyBody())
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second, testLogger())
	result := c.Score(context.Background(), sampleInput(), features.Vector{})

	if result.Fallback {
		t.Fatal("a schema-validating server rejected the request; wire shape is wrong")
	}
}

func TestClient_ServerErrorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second, testLogger())
	result := c.Score(context.Background(), sampleInput(), features.Vector{})

	if !result.Fallback {
		t.Fatal("expected fallback result")
	}
	if result.Score != FallbackScore {
		t.Errorf("fallback score = %v, want %v", result.Score, FallbackScore)
	}
	if result.Tier != TierMedium {
		t.Errorf("fallback tier = %s, want MEDIUM", result.Tier)
	}
	// The fallback carries no flags: there was no verdict to describe.
	if len(result.Flags) != 0 {
		t.Errorf("fallback flags = %+v, want none", result.Flags)
	}
	if result.PromptTemplate != "" {
		t.Errorf("fallback prompt template = %q, want empty", result.PromptTemplate)
	}
}

func TestClient_OutOfRangeResponseFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := healthyBody()
		body["risk_score"] = 1.7
		_ = json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second, testLogger())
	result := c.Score(context.Background(), sampleInput(), features.Vector{})
	if !result.Fallback {
		t.Fatal("expected fallback for out-of-range response")
	}
}

func TestClient_UnknownRiskLevelFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := healthyBody()
		body["risk_level"] = "SEVERE"
		_ = json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second, testLogger())
	result := c.Score(context.Background(), sampleInput(), features.Vector{})
	if !result.Fallback {
		t.Fatal("expected fallback for unknown risk level")
	}
}

func TestClient_UnreachableFallsBack(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 500*time.Millisecond, testLogger())

	result := c.Score(context.Background(), sampleInput(), features.Vector{})
	if !result.Fallback {
		t.Fatal("expected fallback when the service is unreachable")
	}
	if result.Score != 0.35 {
		t.Errorf("fallback score = %v, want 0.35", result.Score)
	}
}
