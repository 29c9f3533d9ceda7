package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vw-ai/lifetrace/internal/types"
)

func (s *Server) getRawActivities(c echo.Context) error {
	source, err := validateSourceParam(c)
	if err != nil {
		return err
	}
	dateStart, err := validateDateParam(c, "date_start")
	if err != nil {
		return err
	}
	dateEnd, err := validateDateParam(c, "date_end")
	if err != nil {
		return err
	}
	limit, offset, err := pagination(c)
	if err != nil {
		return err
	}

	items, total, err := s.deps.Store.ListRawActivities(c.Request().Context(), types.RawActivityFilter{
		Source:    source,
		DateStart: dateStart,
		DateEnd:   dateEnd,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return err
	}
	if items == nil {
		items = []*types.RawActivity{}
	}
	return c.JSON(http.StatusOK, PaginatedRawActivities{
		Items:      items,
		TotalCount: total,
		PageInfo:   pageInfo(limit, offset, total),
	})
}

func (s *Server) getProcessedActivities(c echo.Context) error {
	dateStart, err := validateDateParam(c, "date_start")
	if err != nil {
		return err
	}
	dateEnd, err := validateDateParam(c, "date_end")
	if err != nil {
		return err
	}
	limit, offset, err := pagination(c)
	if err != nil {
		return err
	}

	var tags []string
	if raw := c.QueryParam("tags"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}

	ctx := c.Request().Context()
	items, total, err := s.deps.Store.ListProcessedActivities(ctx, types.ProcessedActivityFilter{
		DateStart: dateStart,
		DateEnd:   dateEnd,
		Tags:      tags,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return err
	}

	views := make([]*ProcessedActivityView, 0, len(items))
	for _, pa := range items {
		paTags, err := s.deps.Store.TagsForProcessedActivity(ctx, pa.ID)
		if err != nil {
			return err
		}
		if paTags == nil {
			paTags = []*types.TagWithConfidence{}
		}
		views = append(views, &ProcessedActivityView{ProcessedActivity: pa, Tags: paTags})
	}
	return c.JSON(http.StatusOK, PaginatedProcessedActivities{
		Items:      views,
		TotalCount: total,
		PageInfo:   pageInfo(limit, offset, total),
	})
}
