package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
)

type consumerResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// machineUpdate injects a machine-queue event as if it came from the broker.
func (s *Server) machineUpdate(c echo.Context) error {
	var evt model.QueueEvent
	if err := c.Bind(&evt); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	if strings.TrimSpace(evt.QueueID) == "" || strings.TrimSpace(evt.Status) == "" {
		return c.JSON(http.StatusBadRequest, consumerResponse{
			Success: false,
			Message: "Missing required fields: queueId and status are required",
		})
	}

	ctx := c.Request().Context()
	res, err := s.feedback.HandleQueueEvent(ctx, evt)
	if err != nil {
		return err
	}

	message := "Machine update processed"
	if !res.Applied {
		message = "Machine update ignored"
		if res.Message != "" {
			message = res.Message
		}
	}
	logger.FromContext(ctx).Info("Manual machine update",
		zap.String("queue_id", evt.QueueID),
		zap.String("batch_id", evt.BatchID),
		zap.Bool("applied", res.Applied),
	)
	return c.JSON(http.StatusOK, consumerResponse{Success: true, Message: message, Data: res})
}

func (s *Server) consumerStatus(c echo.Context) error {
	if s.consumer == nil {
		return c.JSON(http.StatusServiceUnavailable, consumerResponse{Success: false, Message: "Consumer not configured"})
	}
	return c.JSON(http.StatusOK, consumerResponse{
		Success: true,
		Message: "Consumer status",
		Data:    s.consumer.Status(),
	})
}
