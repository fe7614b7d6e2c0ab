package auth

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	loggerpkg "FlowPay-Chain/pkg/logger"
)

// MaxBodyBytes 限制签名请求体大小。
const MaxBodyBytes = 1 << 20

// Middleware 返回一个 HTTP 中间件，校验签名并把调用方放入上下文。
// 没有签名头的 GET 请求直接放行。
func (s *Service) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := loggerpkg.Audit()
			if s != nil && s.audit != nil {
				logger = s.audit
			}
			if r.Method == http.MethodGet && r.Header.Get(HeaderSigner) == "" {
				next.ServeHTTP(w, r)
				return
			}

			// 读取请求体用于验签，再放回给后续处理器。
			body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
			if err != nil || len(body) > MaxBodyBytes {
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			subject, err := s.Verify(r.Context(), r.Method, r.URL.Path, r.Header.Get, body)
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrReplayed) {
					status = http.StatusConflict
				}
				http.Error(w, http.StatusText(status), status)
				logger.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"error", err.Error(),
				)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			signer := ""
			if subject != nil {
				signer = subject.Address.Hex()
			}
			logger.Info("api_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"signer", signer,
			)
		})
	}
}

// auditWriter 是一个包装了 http.ResponseWriter 的结构体，用于捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
