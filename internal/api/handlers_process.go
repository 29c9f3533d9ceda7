package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vw-ai/lifetrace/internal/processor"
)

func (s *Server) triggerProcessing(c echo.Context) error {
	var req ProcessRequest
	if err := c.Bind(&req); err != nil {
		return validationError("malformed request body")
	}
	if req.DateStart != "" && !dateRe.MatchString(req.DateStart) {
		return validationError("date_start must match YYYY-MM-DD")
	}
	if req.DateEnd != "" && !dateRe.MatchString(req.DateEnd) {
		return validationError("date_end must match YYYY-MM-DD")
	}

	job := s.deps.Processor.Start(c.Request().Context(), processor.Options{
		DateStart:            req.DateStart,
		DateEnd:              req.DateEnd,
		RegenerateSystemTags: req.RegenerateSystemTags,
	})
	// Counts start zeroed: the job has only just been handed to its worker.
	return c.JSON(http.StatusAccepted, map[string]any{
		"status":  "processing",
		"job_id":  job.ID,
		"message": "Processing started. Poll /process/status/{job_id} for updates.",
		"processed_counts": map[string]int{
			"raw_activities":       0,
			"processed_activities": 0,
		},
		"tag_analysis": map[string]any{
			"total_unique_tags":         0,
			"average_tags_per_activity": 0.0,
		},
	})
}

func (s *Server) getProcessStatus(c echo.Context) error {
	job, ok := s.deps.Processor.Jobs().Get(c.Param("job_id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) getProcessProgress(c echo.Context) error {
	snap, ok := s.deps.Processor.Jobs().Progress(c.Param("job_id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) getProcessHistory(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return validationError("limit must be a positive integer")
		}
		limit = n
	}
	return c.JSON(http.StatusOK, s.deps.Processor.Jobs().History(limit))
}

// importWindow converts hours_since_last_update into a [start, end] date
// range ending today, plus the updated-since cutoff.
func importWindow(hours int) (startDate, endDate string, since time.Time, err error) {
	if hours < 1 || hours > 8760 {
		return "", "", time.Time{}, validationError("hours_since_last_update must be in [1, 8760]")
	}
	now := time.Now().UTC()
	since = now.Add(-time.Duration(hours) * time.Hour)
	return since.Format("2006-01-02"), now.Format("2006-01-02"), since, nil
}

func (s *Server) importCalendar(c echo.Context) error {
	if s.deps.Calendar == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "calendar ingestor not configured")
	}
	req := ImportRequest{HoursSinceLastUpdate: 24}
	if err := c.Bind(&req); err != nil {
		return validationError("malformed request body")
	}
	startDate, endDate, since, err := importWindow(req.HoursSinceLastUpdate)
	if err != nil {
		return err
	}

	res, err := s.deps.Calendar.Ingest(c.Request().Context(), startDate, endDate, nil, since)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "success", "counts": res})
}

func (s *Server) importNotes(c echo.Context) error {
	if s.deps.Notes == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "notes ingestor not configured")
	}
	req := ImportRequest{HoursSinceLastUpdate: 24}
	if err := c.Bind(&req); err != nil {
		return validationError("malformed request body")
	}
	if _, _, _, err := importWindow(req.HoursSinceLastUpdate); err != nil {
		return err
	}

	res, err := s.deps.Notes.Ingest(c.Request().Context(), nil, 0, nil)
	if err != nil {
		return err
	}

	// Index whatever the traversal refreshed so retrieval stays warm.
	if s.deps.Indexer != nil {
		if _, err := s.deps.Indexer.Index(c.Request().Context(), "recent", req.HoursSinceLastUpdate); err != nil {
			s.log.Warn("post-import indexing failed", "error", err)
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "success", "counts": res})
}

func (s *Server) getImportStatus(c echo.Context) error {
	ctx := c.Request().Context()
	stats, err := s.deps.Store.Stats(ctx)
	if err != nil {
		return err
	}

	status := map[string]any{
		"calendar": map[string]any{
			"configured":     s.deps.Calendar != nil,
			"raw_activities": stats.RawActivities,
			"date_start":     stats.RawDateStart,
			"date_end":       stats.RawDateEnd,
		},
		"notes": map[string]any{
			"configured": s.deps.Notes != nil,
			"pages":      stats.NotePages,
			"blocks":     stats.NoteBlocks,
			"leaves":     stats.LeafBlocks,
			"embeddings": stats.Embeddings,
		},
	}
	return c.JSON(http.StatusOK, status)
}
