package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/engine"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/monitor"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/signal"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/config"
)

type fakeEngine struct {
	receipt      engine.SignalReceipt
	summary      engine.BroadcastSummary
	broadcastErr error
	closeAll     []engine.SignalReceipt

	lastText   string
	lastUserID string
	lastSymbol string
}

func (f *fakeEngine) SubmitSignal(_ context.Context, rawText string, _ signal.Source, userID string) engine.SignalReceipt {
	f.lastText = rawText
	f.lastUserID = userID
	return f.receipt
}

func (f *fakeEngine) BroadcastSignal(_ context.Context, rawText string, _ signal.Source) (engine.BroadcastSummary, error) {
	f.lastText = rawText
	return f.summary, f.broadcastErr
}

func (f *fakeEngine) CancelAllForSymbol(_ context.Context, userID, symbol string) engine.SignalReceipt {
	f.lastUserID = userID
	f.lastSymbol = symbol
	return f.receipt
}

func (f *fakeEngine) CloseAllForUser(_ context.Context, userID string) ([]engine.SignalReceipt, error) {
	f.lastUserID = userID
	return f.closeAll, nil
}

const testPassword = "operator-pass"

func newTestServer(t *testing.T, eng *fakeEngine) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	return NewServer(Options{
		Engine:       eng,
		Settings:     config.DefaultSettings(),
		Metrics:      monitor.NewSystemMetrics(),
		JWTSecret:    "test-secret",
		OperatorHash: string(hash),
		Version:      "test",
	})
}

func obtainToken(t *testing.T, s *Server) string {
	t.Helper()
	w := doJSON(s, "POST", "/api/v1/auth/token", map[string]string{"password": testPassword}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("token request failed: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	return resp.Token
}

func doJSON(s *Server, method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t, &fakeEngine{})
	w := doJSON(s, "GET", "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("health = %d", w.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, &fakeEngine{})

	w := doJSON(s, "POST", "/api/v1/signal", map[string]string{"text": "x", "user_id": "u"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}

	w = doJSON(s, "POST", "/api/v1/signal", map[string]string{"text": "x", "user_id": "u"}, "garbage")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token = %d, want 401", w.Code)
	}
}

func TestTokenRejectsWrongPassword(t *testing.T) {
	s := newTestServer(t, &fakeEngine{})
	w := doJSON(s, "POST", "/api/v1/auth/token", map[string]string{"password": "wrong"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d, want 401", w.Code)
	}
}

func TestSubmitSignal(t *testing.T) {
	eng := &fakeEngine{receipt: engine.SignalReceipt{
		SignalID: "sig-1", Status: engine.StatusExecuted, Symbol: "BTCUSDT",
	}}
	s := newTestServer(t, eng)
	token := obtainToken(t, s)

	w := doJSON(s, "POST", "/api/v1/signal", map[string]any{
		"text":    "幣種：BTCUSDT",
		"user_id": "user-a",
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("submit = %d %s", w.Code, w.Body.String())
	}
	if eng.lastUserID != "user-a" {
		t.Errorf("user forwarded = %q", eng.lastUserID)
	}

	var receipt engine.SignalReceipt
	if err := json.Unmarshal(w.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if receipt.Status != engine.StatusExecuted || receipt.Symbol != "BTCUSDT" {
		t.Errorf("receipt = %+v", receipt)
	}
}

func TestSubmitSignalValidation(t *testing.T) {
	s := newTestServer(t, &fakeEngine{})
	token := obtainToken(t, s)

	w := doJSON(s, "POST", "/api/v1/signal", map[string]string{"text": "no user"}, token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing user_id = %d, want 400", w.Code)
	}
}

func TestBroadcastUnparseableSignal(t *testing.T) {
	eng := &fakeEngine{broadcastErr: engine.ErrUnparseable}
	s := newTestServer(t, eng)
	token := obtainToken(t, s)

	w := doJSON(s, "POST", "/api/v1/signal/broadcast", map[string]string{"text": "gm"}, token)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("unparseable = %d, want 422", w.Code)
	}
}

func TestBroadcastSummaryPassthrough(t *testing.T) {
	eng := &fakeEngine{summary: engine.BroadcastSummary{
		TotalUsers: 3, SuccessCount: 2, SkippedNoAPIKey: 1,
	}}
	s := newTestServer(t, eng)
	token := obtainToken(t, s)

	w := doJSON(s, "POST", "/api/v1/signal/broadcast", map[string]string{"text": "幣種：BTC"}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("broadcast = %d", w.Code)
	}
	var summary engine.BroadcastSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary != eng.summary {
		t.Errorf("summary = %+v", summary)
	}
}

func TestCancelSymbolUppercases(t *testing.T) {
	eng := &fakeEngine{receipt: engine.SignalReceipt{Status: engine.StatusExecuted}}
	s := newTestServer(t, eng)
	token := obtainToken(t, s)

	w := doJSON(s, "POST", "/api/v1/positions/btcusdt/cancel", map[string]string{"user_id": "user-a"}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel = %d %s", w.Code, w.Body.String())
	}
	if eng.lastSymbol != "BTCUSDT" {
		t.Errorf("symbol = %q, want BTCUSDT", eng.lastSymbol)
	}
}

func TestCloseAll(t *testing.T) {
	eng := &fakeEngine{closeAll: []engine.SignalReceipt{
		{Status: engine.StatusExecuted, Symbol: "BTCUSDT"},
		{Status: engine.StatusRejected, Symbol: "ETHUSDT"},
	}}
	s := newTestServer(t, eng)
	token := obtainToken(t, s)

	w := doJSON(s, "POST", "/api/v1/positions/close-all", map[string]string{"user_id": "user-a"}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("close-all = %d", w.Code)
	}
	var resp struct {
		Count    int                    `json:"count"`
		Receipts []engine.SignalReceipt `json:"receipts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 || len(resp.Receipts) != 2 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSettingsAndStatus(t *testing.T) {
	s := newTestServer(t, &fakeEngine{})
	token := obtainToken(t, s)

	w := doJSON(s, "GET", "/api/v1/settings", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("settings = %d", w.Code)
	}
	var settings map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &settings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := settings["risk"]; !ok {
		t.Error("settings missing risk section")
	}

	w = doJSON(s, "GET", "/api/v1/status", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var status struct {
		Status  string                  `json:"status"`
		Metrics monitor.MetricsSnapshot `json:"metrics"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != "ok" {
		t.Errorf("status = %+v", status)
	}
}
