package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "FlashRoute/internal/errors"
	"FlashRoute/internal/flashloan"
	"FlashRoute/internal/journal"
)

// Server 负责暴露 REST 接口，供外部提交闪电贷步骤并查询审计记录。
type Server struct {
	addr    string
	runner  *flashloan.Runner
	journal *journal.Service
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, runner *flashloan.Runner, svc *journal.Service) *Server {
	return &Server{addr: addr, runner: runner, journal: svc}
}

// Handler 返回完整路由，便于测试直接挂载。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/flashloans", s.handleFlashloans)
	mux.HandleFunc("/api/v1/steps", s.handleListSteps)
	mux.HandleFunc("/api/v1/steps/", s.handleStepDetail)
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
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

// stepResponse 将步骤记录与本次执行错误一并返回。
type stepResponse struct {
	Step  *journal.Step `json:"step"`
	Error string        `json:"error,omitempty"`
}

func (s *Server) handleFlashloans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.runner == nil {
		http.Error(w, "执行器未初始化", http.StatusServiceUnavailable)
		return
	}

	var req flashloan.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	step, err := s.runner.Run(r.Context(), req)
	if err != nil {
		if step == nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		// 步骤已登记并回滚，返回终态记录与错误信息。
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(stepResponse{Step: step, Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(stepResponse{Step: step})
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.journal == nil {
		http.Error(w, "步骤记录未初始化", http.StatusServiceUnavailable)
		return
	}

	opts := journal.ListOptions{}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts.Limit = parsed
		}
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		opts.Status = journal.Status(raw)
	}

	steps, err := s.journal.List(r.Context(), opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(steps)
}

func (s *Server) handleStepDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.journal == nil {
		http.Error(w, "步骤记录未初始化", http.StatusServiceUnavailable)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/steps/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "非法的步骤 ID", http.StatusBadRequest)
		return
	}

	step, err := s.journal.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(step)
}

// statusFor 将内部错误码映射为 HTTP 状态码。
func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, journal.CodeStepNotFound, flashloan.CodeRouteNotFound, flashloan.CodeMarketNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, journal.CodeStepConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
