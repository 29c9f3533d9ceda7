package api

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/vw-ai/lifetrace/internal/types"
)

var (
	dateRe    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeRe    = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
	colorRe   = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	tagNameRe = regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// validationError surfaces as 422 via the error handler.
func validationError(format string, args ...any) error {
	return echo.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf(format, args...))
}

func validateDateParam(c echo.Context, name string) (string, error) {
	val := c.QueryParam(name)
	if val == "" {
		return "", nil
	}
	if !dateRe.MatchString(val) {
		return "", validationError("%s must match YYYY-MM-DD", name)
	}
	return val, nil
}

func validateSourceParam(c echo.Context) (string, error) {
	val := c.QueryParam("source")
	if val == "" {
		return "", nil
	}
	if val != types.SourceCalendar && val != types.SourceNotes {
		return "", validationError("source must be one of {calendar, notes}")
	}
	return val, nil
}

func validateTagName(name string) (string, error) {
	if name == "" {
		return "", validationError("tag name is required")
	}
	if len(name) > 100 {
		return "", validationError("tag name must be at most 100 characters")
	}
	if !tagNameRe.MatchString(name) {
		return "", validationError("tag name may contain letters, digits, dashes, underscores, and spaces")
	}
	return name, nil
}

func validateColor(color *string) error {
	if color == nil || *color == "" {
		return nil
	}
	if !colorRe.MatchString(*color) {
		return validationError("color must match ^#[0-9a-fA-F]{6}$")
	}
	return nil
}

// pagination parses and bounds limit (1-1000, default 100) and offset (>= 0).
func pagination(c echo.Context) (limit, offset int, err error) {
	limit = defaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxLimit {
			return 0, 0, validationError("limit must be an integer in [1, %d]", maxLimit)
		}
	}
	if raw := c.QueryParam("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, validationError("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}
