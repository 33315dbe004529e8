package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"coach_reconcile/internal/checkpoint"
	"coach_reconcile/internal/common"
)

const (
	defaultListLimit = 20
	maxListLimit    = 200
)

// RunHandler các route xem trạng thái lần chạy (chỉ đọc)
type RunHandler struct {
	checkpoints checkpoint.Store
}

// NewRunHandler tạo handler
func NewRunHandler(checkpoints checkpoint.Store) *RunHandler {
	return &RunHandler{checkpoints: checkpoints}
}

// HandleHealth kiểm tra tình trạng hệ thống
// @Router /health [get]
func (h *RunHandler) HandleHealth(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	healthData := fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"services":  fiber.Map{"api": "ok", "checkpoint": "ok"},
	}
	if _, err := h.checkpoints.ListRuns(ctx, 1); err != nil {
		healthData["status"] = "degraded"
		healthData["services"].(fiber.Map)["checkpoint"] = "error"
		healthData["checkpoint_error"] = err.Error()
		return JSONResponse(c, fiber.StatusServiceUnavailable, fiber.Map{
			"code":    fiber.StatusServiceUnavailable,
			"message": "Hệ thống đang gặp sự cố",
			"data":    healthData,
			"status":  "error",
		})
	}
	return HandleResponse(c, healthData, nil)
}

// HandleListRuns danh sách các lần chạy, mới nhất trước
// @Param limit query int false "Số run tối đa (mặc định 20)"
// @Router /api/v1/runs [get]
func (h *RunHandler) HandleListRuns(c fiber.Ctx) error {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return HandleResponse(c, nil, common.NewError(common.ErrCodeValidation, "limit phải là số nguyên dương", fiber.Map{"limit": raw}))
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	runs, err := h.checkpoints.ListRuns(c.Context(), limit)
	if err != nil {
		return HandleResponse(c, nil, err)
	}
	// Bản tóm tắt danh sách không kèm báo cáo đầy đủ
	for i := range runs {
		runs[i].Report = nil
	}
	if runs == nil {
		runs = []checkpoint.Run{}
	}
	return HandleResponse(c, runs, nil)
}

// HandleGetRun chi tiết một lần chạy kèm báo cáo và lịch sử các bước
// @Router /api/v1/runs/{id} [get]
func (h *RunHandler) HandleGetRun(c fiber.Ctx) error {
	runID := c.Params("id")
	run, err := h.checkpoints.GetRun(c.Context(), runID)
	if err != nil {
		return HandleResponse(c, nil, err)
	}

	history, err := h.checkpoints.History(c.Context(), runID)
	if err != nil && !common.IsCode(err, common.ErrCodeRunNotFound) {
		return HandleResponse(c, nil, err)
	}
	steps := make([]fiber.Map, 0, len(history))
	for _, e := range history {
		steps = append(steps, fiber.Map{"seq": e.Seq, "step": e.Step, "createdAt": e.CreatedAt})
	}
	return HandleResponse(c, fiber.Map{"run": run, "steps": steps}, nil)
}
