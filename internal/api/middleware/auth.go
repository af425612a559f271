package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	jsoniter "github.com/json-iterator/go"

	"perpetual/pkg/crypto"
	"perpetual/pkg/ratelimit"
	"perpetual/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// verifiedCacheSize - сколько проверенных токенов держим в памяти,
// чтобы не считать bcrypt на каждый запрос
const verifiedCacheSize = 64

// AuthConfig - настройки аутентификации governance
//
// TokenHash - bcrypt хеш governance токена (SECURITY_GOVERNANCE_TOKEN_HASH).
// Пустой хеш отключает governance endpoints: все запросы получают 403.
// FailureRate/FailureBurst - лимит неудачных попыток на IP.
type AuthConfig struct {
	TokenHash    string
	FailureRate  float64
	FailureBurst float64
	Clock        utils.Clock
}

type authError struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// GovernanceAuth - middleware для governance endpoints
//
// Проверяет заголовок Authorization: Bearer <token> против bcrypt хеша.
// Неудачные попытки ограничены по IP клиента: после исчерпания лимита
// запросы получают 429 без проверки токена.
//
// Использование:
//
//	gov := api.PathPrefix("/governance").Subrouter()
//	gov.Use(middleware.GovernanceAuth(cfg, log))
func GovernanceAuth(cfg AuthConfig, log *utils.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = utils.L()
	}
	log = log.WithComponent("governance_auth")

	failures := ratelimit.NewKeyedLimiter(cfg.FailureRate, cfg.FailureBurst, cfg.Clock)
	verified, _ := lru.New(verifiedCacheSize)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.TokenHash == "" {
				writeAuthError(w, http.StatusForbidden, "governance is disabled")
				return
			}

			ip := clientIP(r)
			token := bearerToken(r)
			if token == "" {
				if !failures.Allow(ip) {
					writeAuthError(w, http.StatusTooManyRequests, "too many failed attempts")
					return
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="governance"`)
				writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			sum := sha256.Sum256([]byte(token))
			key := hex.EncodeToString(sum[:])
			if _, ok := verified.Get(key); ok {
				next.ServeHTTP(w, r)
				return
			}

			// Лимит проверяем до bcrypt: перебор не должен нагружать CPU
			if !failures.Allow(ip) {
				writeAuthError(w, http.StatusTooManyRequests, "too many failed attempts")
				return
			}

			if err := crypto.VerifyToken(token, cfg.TokenHash); err != nil {
				log.Warn("governance auth failed", utils.String("ip", ip), utils.Err(err))
				w.Header().Set("WWW-Authenticate", `Bearer realm="governance"`)
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			verified.Add(key, struct{}{})
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// clientIP - IP без порта. X-Forwarded-For не учитывается: заголовок
// контролирует клиент.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeAuthError(w http.ResponseWriter, status int, details string) {
	code := "UNAUTHORIZED"
	switch status {
	case http.StatusTooManyRequests:
		code = "RATE_LIMITED"
	case http.StatusRequestEntityTooLarge:
		code = "PAYLOAD_TOO_LARGE"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(authError{Error: http.StatusText(status), Code: code, Details: details})
}
