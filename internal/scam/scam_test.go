package scam

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/safepay/guard/internal/risk"
)

func detectedNames(v *Verdict) map[string]bool {
	names := make(map[string]bool)
	for _, s := range v.Signals {
		if s.Detected {
			names[s.Name] = true
		}
	}
	return names
}

func TestAnalyze_GiftCardThreat(t *testing.T) {
	// The classic: an "IRS agent" threatening arrest unless paid in
	// gift cards today.
	v := Analyze(Input{
		SMSContent: "This is the IRS. A warrant for your arrest will be issued today " +
			"unless you settle your balance with a gift card. Act now.",
	})

	if v.Label != LabelScam {
		t.Fatalf("label = %s, want SCAM (%+v)", v.Label, v)
	}
	if v.RiskLevel != risk.TierCritical && v.RiskLevel != risk.TierHigh {
		t.Errorf("risk level = %s, want HIGH or CRITICAL", v.RiskLevel)
	}
	if v.Confidence < 0.5 || v.Confidence > 1 {
		t.Errorf("confidence = %v, want in (0.5, 1]", v.Confidence)
	}

	names := detectedNames(v)
	for _, want := range []string{"Urgency", "Threat", "Money", "Government Impersonation"} {
		if !names[want] {
			t.Errorf("expected signal %q to fire, got %v", want, names)
		}
	}
	if v.Summary == "" || v.Summary[:4] != "This" {
		t.Errorf("summary = %q", v.Summary)
	}
}

func TestAnalyze_TyposquatEmailAddress(t *testing.T) {
	v := Analyze(Input{
		EmailAddress: "security@paypa1-secure.xyz",
		EmailBody:    "verify your account password",
	})

	if v.Label != LabelScam {
		t.Fatalf("label = %s, want SCAM", v.Label)
	}
	names := detectedNames(v)
	for _, want := range []string{"Typosquat", "Suspicious Domain", "Credential Request"} {
		if !names[want] {
			t.Errorf("expected signal %q to fire, got %v", want, names)
		}
	}
}

func TestAnalyze_LegitimateMessage(t *testing.T) {
	v := Analyze(Input{
		EmailBody: "Hi Grandma, dinner is at six on Sunday. Bring the photo album!",
	})

	if v.Label != LabelSafe {
		t.Fatalf("label = %s, want SAFE (%+v)", v.Label, v)
	}
	if v.RiskLevel != risk.TierLow {
		t.Errorf("risk level = %s, want LOW", v.RiskLevel)
	}
	if v.Confidence < 0.5 {
		t.Errorf("a clean message should be called SAFE confidently, got %v", v.Confidence)
	}
	for name := range detectedNames(v) {
		t.Errorf("unexpected signal fired: %s", name)
	}
}

func TestAnalyze_EverySignalListed(t *testing.T) {
	// The verdict always reports the full rule set, fired or not.
	v := Analyze(Input{PhoneNumber: "1-800-555-0199"})
	if len(v.Signals) != len(rules) {
		t.Fatalf("signals = %d, want %d", len(v.Signals), len(rules))
	}
	for _, s := range v.Signals {
		if s.Name == "" || s.Description == "" {
			t.Errorf("signal missing name or description: %+v", s)
		}
	}
}

func TestAnalyze_ConfidenceShape(t *testing.T) {
	v := Analyze(Input{
		SMSContent: "URGENT: your account is suspended. Wire $500 immediately or face legal action.",
	})
	if v.ConfidencePct == "" || v.ConfidencePct[len(v.ConfidencePct)-1] != '%' {
		t.Errorf("confidence pct = %q", v.ConfidencePct)
	}
	if v.AnalyzedAt.IsZero() {
		t.Error("analyzed_at not set")
	}
}

func TestHandler_Detect(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler().RegisterRoutes(r.Group("/v1"))

	body, _ := json.Marshal(map[string]string{
		"sms_content": "Congratulations, you are a winner! Claim your free prize today.",
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/detect-scam", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var v Verdict
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal verdict: %v", err)
	}
	if v.Label != LabelScam {
		t.Errorf("label = %s, want SCAM", v.Label)
	}
	if len(v.Signals) != len(rules) {
		t.Errorf("signals = %d, want %d", len(v.Signals), len(rules))
	}
}

func TestHandler_RequiresAtLeastOneField(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler().RegisterRoutes(r.Group("/v1"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/detect-scam", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if resp["error"] != "validation_error" {
		t.Errorf("error code = %q", resp["error"])
	}
}
