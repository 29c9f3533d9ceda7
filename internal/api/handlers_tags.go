package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/vw-ai/lifetrace/internal/cleaner"
	"github.com/vw-ai/lifetrace/internal/types"
)

func (s *Server) getTags(c echo.Context) error {
	sortBy := c.QueryParam("sort_by")
	switch sortBy {
	case "", "name", "usage_count", "created_at":
	default:
		return validationError("sort_by must be one of {name, usage_count, created_at}")
	}
	limit, offset, err := pagination(c)
	if err != nil {
		return err
	}

	items, total, err := s.deps.Store.ListTags(c.Request().Context(), types.TagFilter{
		SortBy: sortBy,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return err
	}
	if items == nil {
		items = []*types.Tag{}
	}
	return c.JSON(http.StatusOK, PaginatedTags{
		Items:      items,
		TotalCount: total,
		PageInfo:   pageInfo(limit, offset, total),
	})
}

func tagID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, validationError("tag id must be a positive integer")
	}
	return id, nil
}

func (s *Server) getTag(c echo.Context) error {
	id, err := tagID(c)
	if err != nil {
		return err
	}
	tag, err := s.deps.Store.GetTag(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tag)
}

func (s *Server) createTag(c echo.Context) error {
	var req TagCreateRequest
	if err := c.Bind(&req); err != nil {
		return validationError("malformed request body")
	}
	name, err := validateTagName(req.Name)
	if err != nil {
		return err
	}
	if err := validateColor(req.Color); err != nil {
		return err
	}

	tag := &types.Tag{Name: name, Description: req.Description, Color: req.Color}
	if _, err := s.deps.Store.CreateTag(c.Request().Context(), tag); err != nil {
		return err
	}
	created, err := s.deps.Store.GetTag(c.Request().Context(), tag.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) updateTag(c echo.Context) error {
	id, err := tagID(c)
	if err != nil {
		return err
	}
	var req TagCreateRequest
	if err := c.Bind(&req); err != nil {
		return validationError("malformed request body")
	}
	name, err := validateTagName(req.Name)
	if err != nil {
		return err
	}
	if err := validateColor(req.Color); err != nil {
		return err
	}

	ctx := c.Request().Context()
	tag, err := s.deps.Store.GetTag(ctx, id)
	if err != nil {
		return err
	}
	tag.Name = name
	tag.Description = req.Description
	tag.Color = req.Color
	if err := s.deps.Store.UpdateTag(ctx, tag); err != nil {
		return err
	}
	updated, err := s.deps.Store.GetTag(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteTag(c echo.Context) error {
	id, err := tagID(c)
	if err != nil {
		return err
	}
	if err := s.deps.Store.DeleteTag(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) cleanupTags(c echo.Context) error {
	var req CleanupRequest
	if err := c.Bind(&req); err != nil {
		return validationError("malformed request body")
	}
	if req.DateStart != "" && !dateRe.MatchString(req.DateStart) {
		return validationError("date_start must match YYYY-MM-DD")
	}
	if req.DateEnd != "" && !dateRe.MatchString(req.DateEnd) {
		return validationError("date_end must match YYYY-MM-DD")
	}

	summary, err := s.deps.Cleaner.Clean(c.Request().Context(), cleaner.Request{
		DryRun:           req.DryRun,
		RemovalThreshold: req.RemovalThreshold,
		MergeThreshold:   req.MergeThreshold,
		DateStart:        req.DateStart,
		DateEnd:          req.DateEnd,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}
