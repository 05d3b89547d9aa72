package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"gitlab.com/timkado/api/production-feedback-service/internal/model"
)

type markReadRequest struct {
	NotificationIDs []string `json:"notificationIds"`
}

type updatedResponse struct {
	Message string `json:"message"`
	Updated int64  `json:"updated"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

func (s *Server) createNotification(c echo.Context) error {
	var input model.NotificationInput
	if err := c.Bind(&input); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	n, err := s.notifications.Create(c.Request().Context(), input)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, n)
}

func (s *Server) markMultipleRead(c echo.Context) error {
	var req markReadRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	if len(req.NotificationIDs) == 0 {
		return badRequest("notificationIds must not be empty")
	}
	updated, err := s.notifications.MarkMultipleRead(c.Request().Context(), req.NotificationIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updatedResponse{Message: "Notifications marked as read", Updated: updated})
}

func (s *Server) notificationsByFeedback(c echo.Context) error {
	items, err := s.notifications.ListByFeedback(c.Request().Context(), c.Param("feedbackId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

func (s *Server) notificationsByRecipient(c echo.Context) error {
	filter := model.RecipientFilter{
		RecipientType: model.RecipientType(c.Param("recipientType")),
		RecipientID:   c.Param("recipientId"),
	}
	if raw := c.QueryParam("isRead"); raw != "" {
		isRead, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest("isRead must be a boolean")
		}
		filter.IsRead = &isRead
	}

	items, err := s.notifications.ListByRecipient(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

func (s *Server) unreadCount(c echo.Context) error {
	count, err := s.notifications.UnreadCount(c.Request().Context(),
		model.RecipientType(c.Param("recipientType")), c.Param("recipientId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, countResponse{Count: count})
}

func (s *Server) markAllRead(c echo.Context) error {
	updated, err := s.notifications.MarkAllRead(c.Request().Context(),
		model.RecipientType(c.Param("recipientType")), c.Param("recipientId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updatedResponse{Message: "All notifications marked as read", Updated: updated})
}

func (s *Server) getNotification(c echo.Context) error {
	n, err := s.notifications.Get(c.Request().Context(), c.Param("notificationId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

func (s *Server) updateNotification(c echo.Context) error {
	var flags model.NotificationFlags
	if err := c.Bind(&flags); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	n, err := s.notifications.UpdateFlags(c.Request().Context(), c.Param("notificationId"), flags)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

func (s *Server) markRead(c echo.Context) error {
	n, err := s.notifications.MarkRead(c.Request().Context(), c.Param("notificationId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

func (s *Server) deleteNotification(c echo.Context) error {
	if err := s.notifications.Delete(c.Request().Context(), c.Param("notificationId")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Notification deleted successfully"})
}

func nonNil(items []model.NotificationRecord) []model.NotificationRecord {
	if items == nil {
		return []model.NotificationRecord{}
	}
	return items
}
