package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"

	"perpetual/pkg/crypto"
	"perpetual/pkg/utils"
)

// Заголовки подписанного запроса трейдера
const (
	AddressHeader   = "X-Trader-Address"
	TimestampHeader = "X-Trader-Timestamp"
	SignatureHeader = "X-Trader-Signature"
)

const (
	// DefaultSignatureMaxAge - допустимое расхождение timestamp с часами сервера
	DefaultSignatureMaxAge = 5 * time.Minute

	maxSignedBody = 1 << 20
	seenCacheSize = 4096
)

// SignatureConfig - настройки проверки подписей трейдеров
type SignatureConfig struct {
	MaxAge time.Duration
	Clock  utils.Clock
}

// TraderSignature - middleware для изменяющих endpoints трейдера
//
// X-Trader-Address принимается только вместе с подписью этого адреса
// (pkg/crypto.RequestMessage): метод, путь, timestamp и keccak тела.
// Подпись действует MaxAge и принимается один раз.
//
// Использование:
//
//	signed := middleware.TraderSignature(cfg, log)
//	api.Handle("/positions", signed(http.HandlerFunc(h.OpenPosition))).Methods("POST")
func TraderSignature(cfg SignatureConfig, log *utils.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = utils.L()
	}
	log = log.WithComponent("trader_auth")
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultSignatureMaxAge
	}
	clock := utils.ClockOrSystem(cfg.Clock)
	seen, _ := lru.New(seenCacheSize)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(AddressHeader))
			signature := r.Header.Get(SignatureHeader)
			if !common.IsHexAddress(raw) || signature == "" {
				writeAuthError(w, http.StatusUnauthorized, "signed trader address is required")
				return
			}
			addr := common.HexToAddress(raw)

			ts, err := strconv.ParseInt(r.Header.Get(TimestampHeader), 10, 64)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid signature timestamp")
				return
			}
			if age := clock.Now().Sub(time.Unix(ts, 0)); age > cfg.MaxAge || age < -cfg.MaxAge {
				writeAuthError(w, http.StatusUnauthorized, "signature expired")
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSignedBody))
			if err != nil {
				writeAuthError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if err := crypto.VerifyRequest(addr, r.Method, r.URL.Path, ts, body, signature); err != nil {
				log.Warn("trader signature rejected",
					utils.String("address", addr.Hex()),
					utils.String("path", r.URL.Path),
					utils.String("ip", clientIP(r)),
					utils.Err(err),
				)
				writeAuthError(w, http.StatusUnauthorized, "invalid signature")
				return
			}

			// ключ по сообщению: варианты записи одной подписи не проходят повторно
			key := addr.Hex() + "\n" + string(crypto.RequestMessage(r.Method, r.URL.Path, ts, body))
			if replayed, _ := seen.ContainsOrAdd(key, struct{}{}); replayed {
				writeAuthError(w, http.StatusUnauthorized, "signature already used")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
