package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"coach_reconcile/internal/common"
)

// MsgSuccess message chuẩn khi thành công
const MsgSuccess = "Thao tác thành công"

// JSONResponse trả về JSON với Content-Type: application/json; charset=utf-8
func JSONResponse(c fiber.Ctx, statusCode int, data interface{}) error {
	c.Set("Content-Type", "application/json; charset=utf-8")
	return c.Status(statusCode).JSON(data)
}

// HandleResponse chuẩn hoá response trả về cho client
func HandleResponse(c fiber.Ctx, data interface{}, err error) error {
	if err != nil {
		var customErr *common.Error
		if errors.As(err, &customErr) {
			return JSONResponse(c, statusOf(customErr.Code), fiber.Map{
				"code":    customErr.Code.Code,
				"message": customErr.Message,
				"details": customErr.Details,
				"status":  "error",
			})
		}
		return JSONResponse(c, fiber.StatusInternalServerError, fiber.Map{
			"code":    common.ErrCodeStoreRead.Code,
			"message": err.Error(),
			"status":  "error",
		})
	}

	return JSONResponse(c, fiber.StatusOK, fiber.Map{
		"code":    fiber.StatusOK,
		"message": MsgSuccess,
		"data":    data,
		"status":  "success",
	})
}

// statusOf map mã lỗi sang HTTP status
func statusOf(code common.ErrorCode) int {
	switch code.Code {
	case common.ErrCodeRunNotFound.Code:
		return fiber.StatusNotFound
	case common.ErrCodeValidation.Code, common.ErrCodeConfig.Code:
		return fiber.StatusBadRequest
	case common.ErrCodeStoreConnection.Code:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
