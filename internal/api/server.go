package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"FlowPay-Chain/internal/auth"
	xerrors "FlowPay-Chain/internal/errors"
	"FlowPay-Chain/internal/observability/metrics"
	"FlowPay-Chain/internal/platform"
	"FlowPay-Chain/internal/router"
	"FlowPay-Chain/pkg/logger"
)

// Server 负责暴露 REST 接口。
type Server struct {
	addr     string
	platform *platform.Platform
	auth     *auth.Service
	metrics  *metrics.Metrics
	limiter  *RateLimiter
	log      *slog.Logger
}

// Option customises a Server.
type Option func(*Server)

// WithAuth 设置请求签名校验服务。未设置时只接受只读请求。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// WithMetrics 记录请求指标并挂载 /metrics。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimiter 启用按来源 IP 的限流。
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, p *platform.Platform, opts ...Option) *Server {
	s := &Server{addr: addr, platform: p, log: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		if s.auth != nil {
			r.Use(s.auth.Middleware())
		}

		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Post("/jobs/{jobID}/cancel", s.handleCancelJob)
		r.Post("/jobs/{jobID}/finalize", s.handleFinalizeJob)
		r.Post("/jobs/{jobID}/milestones/{milestoneID}/proof", s.handleSubmitProof)
		r.Post("/jobs/{jobID}/milestones/{milestoneID}/approve", s.handleApproveMilestone)
		r.Post("/jobs/{jobID}/milestones/{milestoneID}/release", s.handleReleasePayment)
		r.Get("/clients/{address}/jobs", s.handleListClientJobs)
		r.Get("/freelancers/{address}/jobs", s.handleListFreelancerJobs)

		r.Get("/custody", s.handleCustodySummary)
		r.Get("/custody/positions/{address}", s.handleGetPosition)
		r.Post("/custody/deposit", s.handleDeposit)
		r.Post("/custody/harvest", s.handleHarvest)
		r.Post("/custody/withdraw", s.handleWithdraw)
		r.Post("/custody/withdraw-principal", s.handleWithdrawPrincipal)

		r.Get("/quote", s.handleQuote)
		r.Post("/swap", s.handleSwap)
		r.Get("/pools", s.handleListPools)
		r.Post("/pools", s.handleAddLiquidity)
		r.Get("/pools/{assetA}/{assetB}", s.handlePoolReserves)

		r.Get("/balances/{asset}/{address}", s.handleBalance)
		r.Post("/transfers", s.handleTransfer)
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	go s.limiter.Run(ctx)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// statusFor 将错误码映射为 HTTP 状态码。
func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeUnauthorized:
		return http.StatusForbidden
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeInvalidState, xerrors.CodeAlreadyInitialized:
		return http.StatusConflict
	case xerrors.CodeSlippageExceeded, xerrors.CodeInsufficientBalance, router.CodeInsufficientLiquidity, xerrors.CodeArithmetic:
		return http.StatusUnprocessableEntity
	case xerrors.CodeStorageFailure, xerrors.CodePublishFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.log.Error("请求处理失败",
			slog.String("path", r.URL.Path),
			slog.String("code", string(code)),
			slog.Any("error", err),
		)
	}
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	writeError(w, status, string(code), message)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	seq, err := s.platform.Ledger().Sequence(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sequence": seq})
}
