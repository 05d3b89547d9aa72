package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/internal/tenant"
)

type feedbackResponse struct {
	Message   string                `json:"message"`
	Feedback  *model.FeedbackRecord `json:"feedback"`
	Anomalies []model.Anomaly       `json:"anomalies,omitempty"`
}

// updateFeedbackRequest is a field patch plus the overrun override.
type updateFeedbackRequest struct {
	model.FeedbackPatch
	AllowOverrun bool `json:"allowOverrun,omitempty"`
}

func (s *Server) listFeedback(c echo.Context) error {
	filter, err := parseFeedbackFilter(c)
	if err != nil {
		return err
	}
	page, err := parsePagination(c)
	if err != nil {
		return err
	}

	result, err := s.feedback.List(c.Request().Context(), filter, page)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) createFeedback(c echo.Context) error {
	var input model.FeedbackInput
	if err := c.Bind(&input); err != nil {
		return badRequest("invalid request body: %v", err)
	}

	res, err := s.feedback.Create(c.Request().Context(), input)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, feedbackResponse{
		Message:  "Feedback created successfully",
		Feedback: res.Record,
	})
}

func (s *Server) feedbackSummary(c echo.Context) error {
	summary, err := s.feedback.Summary(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) feedbackByBatch(c echo.Context) error {
	fb, err := s.feedback.ByBatch(c.Request().Context(), c.Param("batchId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, fb)
}

func (s *Server) feedbackByProduction(c echo.Context) error {
	items, err := s.feedback.ByProduction(c.Request().Context(), c.Param("productionId"))
	if err != nil {
		return err
	}
	if items == nil {
		items = []model.FeedbackRecord{}
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) getFeedback(c echo.Context) error {
	fb, err := s.feedback.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, fb)
}

func (s *Server) updateFeedback(c echo.Context) error {
	var req updateFeedbackRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body: %v", err)
	}

	ctx := c.Request().Context()
	upd, err := model.NewManualUpdate(c.Param("id"), req.FeedbackPatch, tenant.ActorFromContext(ctx))
	if err != nil {
		return err
	}
	upd.AllowOverrun = req.AllowOverrun

	res, err := s.feedback.Update(ctx, upd)
	if err != nil {
		return err
	}

	message := "Feedback updated successfully"
	if !res.Applied && res.Message != "" {
		message = res.Message
	}
	return c.JSON(http.StatusOK, feedbackResponse{
		Message:   message,
		Feedback:  res.Record,
		Anomalies: res.Delta.Anomalies,
	})
}

func (s *Server) deleteFeedback(c echo.Context) error {
	if err := s.feedback.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Feedback deleted successfully"})
}

func (s *Server) marketplaceStatus(c echo.Context) error {
	view, err := s.feedback.MarketplaceStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) syncMarketplace(c echo.Context) error {
	res, err := s.feedback.SyncMarketplace(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func parseFeedbackFilter(c echo.Context) (model.FeedbackFilter, error) {
	filter := model.FeedbackFilter{
		BatchID:     c.QueryParam("batchId"),
		ProductName: c.QueryParam("productName"),
	}
	if raw := c.QueryParam("status"); raw != "" {
		st, ok := model.NormalizeStatus(raw)
		if !ok {
			return filter, badRequest("unknown status %q", raw)
		}
		filter.Status = st
	}

	var err error
	if filter.StartDate, err = parseDateParam(c, "startDate"); err != nil {
		return filter, err
	}
	if filter.EndDate, err = parseDateParam(c, "endDate"); err != nil {
		return filter, err
	}
	return filter, nil
}

func parsePagination(c echo.Context) (model.Pagination, error) {
	var page model.Pagination
	for name, dst := range map[string]*int{
		"page":     &page.Page,
		"pageSize": &page.PageSize,
		"limit":    &page.Limit,
		"offset":   &page.Offset,
	} {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return page, badRequest("%s must be a non-negative integer", name)
		}
		*dst = n
	}
	return page, nil
}

// parseDateParam accepts RFC3339 timestamps or plain dates.
func parseDateParam(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, badRequest("%s must be an RFC3339 timestamp or a YYYY-MM-DD date", name)
}
