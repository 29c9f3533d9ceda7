package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/vw-ai/lifetrace/internal/retrieve"
)

func (s *Server) getInsightsOverview(c echo.Context) error {
	dateStart, err := validateDateParam(c, "date_start")
	if err != nil {
		return err
	}
	dateEnd, err := validateDateParam(c, "date_end")
	if err != nil {
		return err
	}
	overview, err := s.deps.Insights.Overview(c.Request().Context(), dateStart, dateEnd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, overview)
}

func (s *Server) getTimeDistribution(c echo.Context) error {
	dateStart, err := validateDateParam(c, "date_start")
	if err != nil {
		return err
	}
	dateEnd, err := validateDateParam(c, "date_end")
	if err != nil {
		return err
	}
	groupBy := c.QueryParam("group_by")
	switch groupBy {
	case "":
		groupBy = "day"
	case "day", "week", "month":
	default:
		return validationError("group_by must be one of {day, week, month}")
	}

	dist, err := s.deps.Insights.TimeDistribution(c.Request().Context(), dateStart, dateEnd, groupBy)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dist)
}

func (s *Server) getSystemHealth(c echo.Context) error {
	health := SystemHealth{
		Status:   "healthy",
		Services: map[string]ServiceHealth{},
	}

	if err := s.deps.Store.Ping(c.Request().Context()); err != nil {
		health.Status = "degraded"
		health.Services["database"] = ServiceHealth{Status: "unhealthy", Detail: err.Error()}
	} else {
		health.Services["database"] = ServiceHealth{Status: "healthy"}
	}

	health.Services["calendar_provider"] = configuredHealth(s.deps.Calendar != nil)
	health.Services["notes_provider"] = configuredHealth(s.deps.Notes != nil)
	health.Services["llm_provider"] = configuredHealth(s.deps.Taxonomy != nil)

	code := http.StatusOK
	if health.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, health)
}

func configuredHealth(ok bool) ServiceHealth {
	if ok {
		return ServiceHealth{Status: "healthy"}
	}
	return ServiceHealth{Status: "unconfigured"}
}

func (s *Server) getSystemStats(c echo.Context) error {
	stats, err := s.deps.Store.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) getTaxonomyInfo(c echo.Context) error {
	tax, syn := s.deps.Resources.Active()
	return c.JSON(http.StatusOK, map[string]any{
		"categories":         tax.Taxonomy,
		"synonyms":           syn.Synonyms,
		"personal_shortcuts": syn.PersonalShortcuts,
	})
}

func (s *Server) updateTaxonomy(c echo.Context) error {
	if s.deps.Taxonomy == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "taxonomy builder not configured")
	}
	var req TaxonomyBuildRequest
	if err := c.Bind(&req); err != nil {
		return validationError("malformed request body")
	}
	if req.DateStart != "" && !dateRe.MatchString(req.DateStart) {
		return validationError("date_start must match YYYY-MM-DD")
	}
	if req.DateEnd != "" && !dateRe.MatchString(req.DateEnd) {
		return validationError("date_end must match YYYY-MM-DD")
	}

	res, err := s.deps.Taxonomy.Build(c.Request().Context(), req.DateStart, req.DateEnd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) getContext(c echo.Context) error {
	query := c.QueryParam("query")
	hours := retrieve.DefaultHours
	if raw := c.QueryParam("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return validationError("hours must be a positive integer")
		}
		hours = n
	}
	k := retrieve.DefaultK
	if raw := c.QueryParam("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return validationError("k must be a positive integer")
		}
		k = n
	}

	results, err := s.deps.Retriever.Retrieve(c.Request().Context(), query, hours, k)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"query": query, "results": results})
}

func (s *Server) getContextByDate(c echo.Context) error {
	query := c.QueryParam("query")
	date := c.QueryParam("date")
	if !dateRe.MatchString(date) {
		return validationError("date must match YYYY-MM-DD")
	}
	window := 1
	if raw := c.QueryParam("days_window"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return validationError("days_window must be a non-negative integer")
		}
		window = n
	}
	k := retrieve.DefaultK
	if raw := c.QueryParam("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return validationError("k must be a positive integer")
		}
		k = n
	}

	results, err := s.deps.Retriever.RetrieveByDate(c.Request().Context(), query, date, window, k)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"query": query, "date": date, "results": results})
}
