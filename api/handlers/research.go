package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/synapselabs/cortex/api"
	"github.com/synapselabs/cortex/research"
	"github.com/synapselabs/cortex/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🔎 深度研究 Handler
// =============================================================================

// researchExecutionBudget bounds how long a plan's execution phase is allowed
// to run once kicked off in the background.
const researchExecutionBudget = 10 * time.Minute

// ResearchHandler is A6: the façade fronting C7, turning one query into a
// plan immediately and running the plan's execution in the background so the
// submitting request doesn't block on it.
type ResearchHandler struct {
	orchestrator *research.Orchestrator
	logger       *zap.Logger
}

// NewResearchHandler creates the research façade handler.
func NewResearchHandler(orchestrator *research.Orchestrator, logger *zap.Logger) *ResearchHandler {
	return &ResearchHandler{orchestrator: orchestrator, logger: logger}
}

// HandlePlan 提交一个深度研究请求
// @Summary 提交研究请求
// @Description 为一个查询生成研究计划并在后台异步执行
// @Tags 研究
// @Accept json
// @Produce json
// @Param request body api.ResearchRequest true "研究请求"
// @Success 202 {object} Response "研究计划"
// @Failure 400 {object} Response "无效请求"
// @Failure 500 {object} Response "内部错误"
// @Security ApiKeyAuth
// @Router /v1/research [post]
func (h *ResearchHandler) HandlePlan(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ResearchRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if req.Query == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "query is required", h.logger)
		return
	}

	plan, err := h.orchestrator.Plan(r.Context(), req.Query)
	if err != nil {
		WriteErrorMessage(w, http.StatusUnprocessableEntity, types.ErrPlanInvalid, err.Error(), h.logger)
		return
	}

	// The plan is frozen; execution runs detached from the request context so
	// a client disconnect doesn't cancel an in-flight research run.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), researchExecutionBudget)
		defer cancel()
		result := h.orchestrator.Execute(ctx, plan)
		h.logger.Info("research execution finished",
			zap.String("plan_id", plan.ID),
			zap.String("status", string(result.Status)),
		)
	}()

	h.logger.Info("research plan accepted", zap.String("plan_id", plan.ID), zap.String("query", req.Query))
	WriteJSON(w, http.StatusAccepted, Response{
		Success:   true,
		Data:      plan,
		Timestamp: time.Now(),
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

// HandleGetResult 查询一个研究计划的当前结果
// @Summary 获取研究结果
// @Description 返回给定 planId 的当前（或最终）研究结果
// @Tags 研究
// @Produce json
// @Param planId path string true "计划 ID"
// @Success 200 {object} Response "研究结果"
// @Failure 404 {object} Response "计划未找到"
// @Security ApiKeyAuth
// @Router /v1/research/{planId} [get]
func (h *ResearchHandler) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	planID := r.PathValue("planId")
	if planID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "planId is required", h.logger)
		return
	}

	result, ok := h.orchestrator.CachedResult(planID)
	if !ok {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrorCode("PLAN_NOT_FOUND"), "research plan not found", h.logger)
		return
	}

	WriteSuccess(w, result)
}
