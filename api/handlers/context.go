package handlers

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/BaSui01/contextcache/api"
	"github.com/BaSui01/contextcache/internal/telemetry"
	llmcontext "github.com/BaSui01/contextcache/llm/context"
	"github.com/BaSui01/contextcache/llm/tokenizer"
	"github.com/BaSui01/contextcache/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// =============================================================================
// ✂️ 上下文截断 Handler
// =============================================================================

// TruncationRecorder 记录截断结果
type TruncationRecorder interface {
	RecordTruncation(report llmcontext.TruncationReport)
}

// ContextHandler 上下文截断处理器
// 截断配置可在运行时通过 SetConfig 替换（配置热重载）。
type ContextHandler struct {
	cfg          atomic.Pointer[llmcontext.TruncationConfig]
	defaultModel string
	recorder     TruncationRecorder
	logger       *zap.Logger
}

// NewContextHandler 创建上下文截断处理器，recorder 可为 nil
func NewContextHandler(cfg llmcontext.TruncationConfig, defaultModel string, recorder TruncationRecorder, logger *zap.Logger) *ContextHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ContextHandler{
		defaultModel: defaultModel,
		recorder:     recorder,
		logger:       logger.With(zap.String("handler", "context")),
	}
	h.cfg.Store(&cfg)
	return h
}

// SetConfig 替换后续请求使用的截断配置
func (h *ContextHandler) SetConfig(cfg llmcontext.TruncationConfig) {
	h.cfg.Store(&cfg)
}

// Config 返回当前截断配置
func (h *ContextHandler) Config() llmcontext.TruncationConfig {
	return *h.cfg.Load()
}

// HandleTruncate 处理截断请求
// @Summary 截断对话
// @Description 按 token 预算截断消息列表：先丢弃未配对消息，再丢弃最旧的问答对，最后压缩最后一对
// @Tags 上下文
// @Accept json
// @Produce json
// @Param request body api.TruncateRequest true "截断请求"
// @Success 200 {object} Response{data=api.TruncateResponse} "截断结果"
// @Failure 400 {object} Response "请求无效"
// @Router /api/v1/context/truncate [post]
func (h *ContextHandler) HandleTruncate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.TruncateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := validateTruncateRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	model := req.Model
	if model == "" {
		model = h.defaultModel
	}
	maxContext, reserved := ResolveBudget(model, req.MaxContextTokens, req.ReservedCompletionTokens)

	_, span := telemetry.StartSpan(r.Context(), "context.truncate",
		attribute.String("model", model),
		attribute.Int("messages", len(req.Messages)),
		attribute.Int("max_context_tokens", maxContext))
	defer span.End()

	logger := requestLogger(r, h.logger)
	est := tokenizer.GetEstimatorOrHeuristic(model)
	tr := llmcontext.NewTruncator(est, h.Config(), logger)

	start := time.Now()
	out, report := tr.TruncateWithReport(req.Messages, req.SystemPromptTokens, maxContext, reserved)
	elapsed := time.Since(start)

	span.SetAttributes(telemetry.TruncationAttributes(report)...)
	if h.recorder != nil {
		h.recorder.RecordTruncation(report)
	}
	if report.Overflow {
		logger.Warn("system messages exceed the context budget",
			zap.String("model", model),
			zap.Int("available", report.Available),
			zap.Int("final_tokens", report.FinalTokens))
	}

	WriteSuccess(w, api.TruncateResponse{
		Messages:  out,
		Report:    report,
		Estimator: est.Name(),
		Elapsed:   elapsed,
	})
}

// ResolveBudget 返回截断预算，未指定的值取模型默认上下文窗口与回复上限
func ResolveBudget(model string, maxContext int, reserved *int) (int, int) {
	limits, _ := tokenizer.LimitsForModel(model)
	if maxContext <= 0 {
		maxContext = limits.MaxContextTokens
	}
	if reserved != nil {
		return maxContext, *reserved
	}
	return maxContext, min(limits.MaxCompletionTokens, maxContext/4)
}

func validateTruncateRequest(req *api.TruncateRequest) *types.Error {
	if req.MaxContextTokens < 0 {
		return types.NewError(types.ErrInvalidRequest, "max_context_tokens must not be negative")
	}
	if req.SystemPromptTokens < 0 {
		return types.NewError(types.ErrInvalidRequest, "system_prompt_tokens must not be negative")
	}
	if req.ReservedCompletionTokens != nil && *req.ReservedCompletionTokens < 0 {
		return types.NewError(types.ErrInvalidRequest, "reserved_completion_tokens must not be negative")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case types.RoleSystem, types.RoleUser, types.RoleAssistant, types.RoleTool:
		default:
			return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("messages[%d]: unknown role %q", i, m.Role))
		}
	}
	return nil
}
