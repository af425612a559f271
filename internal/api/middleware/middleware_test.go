package middleware

import (
	"crypto/ecdsa"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"

	"perpetual/pkg/crypto"
	"perpetual/pkg/utils"
)

const testToken = "governance-test-token"

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func hashToken(t *testing.T) string {
	t.Helper()
	hash, err := crypto.HashToken(testToken, 4)
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}
	return hash
}

// ============ GovernanceAuth ============

func TestGovernanceAuth(t *testing.T) {
	hash := hashToken(t)

	tests := []struct {
		name   string
		hash   string
		header string
		status int
	}{
		{"valid token", hash, "Bearer " + testToken, http.StatusOK},
		{"lowercase scheme", hash, "bearer " + testToken, http.StatusOK},
		{"missing header", hash, "", http.StatusUnauthorized},
		{"wrong scheme", hash, "Basic " + testToken, http.StatusUnauthorized},
		{"wrong token", hash, "Bearer nope", http.StatusUnauthorized},
		{"governance disabled", "", "Bearer " + testToken, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := GovernanceAuth(AuthConfig{TokenHash: tt.hash, FailureRate: 10, FailureBurst: 10}, utils.NewNopLogger())(okHandler())

			req := httptest.NewRequest(http.MethodPost, "/api/v1/governance/markets", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestGovernanceAuth_FailureLimit(t *testing.T) {
	clock := utils.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	h := GovernanceAuth(AuthConfig{
		TokenHash:    hashToken(t),
		FailureRate:  1,
		FailureBurst: 2,
		Clock:        clock,
	}, utils.NewNopLogger())(okHandler())

	send := func(token, addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = addr
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("bad", "10.0.0.1:1000"); code != http.StatusUnauthorized {
		t.Fatalf("first attempt: expected 401, got %d", code)
	}
	if code := send("bad", "10.0.0.1:1001"); code != http.StatusUnauthorized {
		t.Fatalf("second attempt: expected 401, got %d", code)
	}
	// Ведро пусто: даже верный токен с этого IP получает 429
	if code := send(testToken, "10.0.0.1:1002"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exhausting attempts, got %d", code)
	}
	// Другой IP не затронут
	if code := send(testToken, "10.0.0.2:1000"); code != http.StatusOK {
		t.Fatalf("other ip: expected 200, got %d", code)
	}
	// Проверенный токен кешируется и проходит без лимита
	if code := send(testToken, "10.0.0.1:1003"); code != http.StatusOK {
		t.Fatalf("cached token: expected 200, got %d", code)
	}

	clock.Advance(2 * time.Second)
	if code := send("bad", "10.0.0.1:1004"); code != http.StatusUnauthorized {
		t.Fatalf("after refill: expected 401, got %d", code)
	}
}

// ============ CORS ============

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		origin      string
		method      string
		wantOrigin  string
		wantStatus  int
		wantHandler bool
	}{
		{"allowed origin", []string{"http://localhost:3000"}, "http://localhost:3000", http.MethodGet, "http://localhost:3000", http.StatusOK, true},
		{"foreign origin", []string{"http://localhost:3000"}, "http://evil.example", http.MethodGet, "", http.StatusOK, true},
		{"no origin", []string{"http://localhost:3000"}, "", http.MethodGet, "", http.StatusOK, true},
		{"wildcard", []string{"*"}, "http://any.example", http.MethodGet, "*", http.StatusOK, true},
		{"preflight", []string{"http://localhost:3000"}, "http://localhost:3000", http.MethodOptions, "http://localhost:3000", http.StatusNoContent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := CORS(tt.origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(tt.method, "/api/v1/markets", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin: expected %q, got %q", tt.wantOrigin, got)
			}
			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if called != tt.wantHandler {
				t.Errorf("handler called = %v, want %v", called, tt.wantHandler)
			}
		})
	}
}

// ============ Logging / Recovery ============

func TestLogging_RequestID(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Logging(utils.NewNopLogger()))
	r.Handle("/markets/{base}/{quote}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("generated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/markets/ETH/USD", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusTeapot {
			t.Errorf("expected status %d, got %d", http.StatusTeapot, w.Code)
		}
		if w.Header().Get(RequestIDHeader) == "" {
			t.Error("request id should be generated")
		}
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/markets/ETH/USD", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if got := w.Header().Get(RequestIDHeader); got != "req-42" {
			t.Errorf("expected request id req-42, got %q", got)
		}
	})
}

func TestRecovery(t *testing.T) {
	h := Recovery(utils.NewNopLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}

	var body authError
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("expected INTERNAL_ERROR, got %q", body.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.7:5555"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	if got := clientIP(req); got != "192.168.1.7" {
		t.Errorf("expected 192.168.1.7, got %q", got)
	}
}

// ============ TraderSignature ============

func signedRequest(t *testing.T, key *ecdsa.PrivateKey, claimed string, ts int64, path, body string) *http.Request {
	t.Helper()
	sig, err := crypto.SignRequest(key, http.MethodPost, path, ts, []byte(body))
	if err != nil {
		t.Fatalf("sign request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(AddressHeader, claimed)
	req.Header.Set(TimestampHeader, strconv.FormatInt(ts, 10))
	req.Header.Set(SignatureHeader, sig)
	return req
}

func TestTraderSignature(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	key, _ := ethcrypto.GenerateKey()
	attacker, _ := ethcrypto.GenerateKey()
	trader := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	const path = "/api/v1/positions/0x01/close"
	body := `{"slippage_bps":50}`

	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{"valid signature", func() *http.Request {
			return signedRequest(t, key, trader, now.Unix(), path, body)
		}, http.StatusOK},
		{"forged address header", func() *http.Request {
			return signedRequest(t, attacker, trader, now.Unix(), path, body)
		}, http.StatusUnauthorized},
		{"header only", func() *http.Request {
			req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
			req.Header.Set(AddressHeader, trader)
			return req
		}, http.StatusUnauthorized},
		{"expired", func() *http.Request {
			return signedRequest(t, key, trader, now.Add(-10*time.Minute).Unix(), path, body)
		}, http.StatusUnauthorized},
		{"from the future", func() *http.Request {
			return signedRequest(t, key, trader, now.Add(10*time.Minute).Unix(), path, body)
		}, http.StatusUnauthorized},
		{"body swapped", func() *http.Request {
			req := signedRequest(t, key, trader, now.Unix(), path, body)
			req.Body = io.NopCloser(strings.NewReader(`{"slippage_bps":10000}`))
			return req
		}, http.StatusUnauthorized},
		{"bad timestamp", func() *http.Request {
			req := signedRequest(t, key, trader, now.Unix(), path, body)
			req.Header.Set(TimestampHeader, "yesterday")
			return req
		}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotBody string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				gotBody = string(b)
				w.WriteHeader(http.StatusOK)
			})
			h := TraderSignature(SignatureConfig{Clock: utils.NewManualClock(now)}, utils.NewNopLogger())(next)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, tt.req())

			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.status == http.StatusOK && gotBody != body {
				t.Errorf("handler got body %q, want %q", gotBody, body)
			}
		})
	}
}

func TestTraderSignature_Replay(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	key, _ := ethcrypto.GenerateKey()
	trader := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	h := TraderSignature(SignatureConfig{Clock: utils.NewManualClock(now)}, utils.NewNopLogger())(okHandler())

	first := signedRequest(t, key, trader, now.Unix(), "/api/v1/liquidators", "")
	replay := first.Clone(first.Context())
	replay.Body = io.NopCloser(strings.NewReader(""))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, first)
	if w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, replay)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("replayed request: expected 401, got %d", w.Code)
	}
}
