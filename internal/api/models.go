package api

import (
	"github.com/vw-ai/lifetrace/internal/types"
)

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

// PageInfo describes one page of a paginated listing.
type PageInfo struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

func pageInfo(limit, offset, total int) PageInfo {
	return PageInfo{Limit: limit, Offset: offset, HasMore: offset+limit < total}
}

// PaginatedRawActivities is the /activities/raw payload.
type PaginatedRawActivities struct {
	Items      []*types.RawActivity `json:"items"`
	TotalCount int                  `json:"total_count"`
	PageInfo   PageInfo             `json:"page_info"`
}

// ProcessedActivityView embeds tags into a processed activity.
type ProcessedActivityView struct {
	*types.ProcessedActivity
	Tags []*types.TagWithConfidence `json:"tags"`
}

// PaginatedProcessedActivities is the /activities/processed payload.
type PaginatedProcessedActivities struct {
	Items      []*ProcessedActivityView `json:"items"`
	TotalCount int                      `json:"total_count"`
	PageInfo   PageInfo                 `json:"page_info"`
}

// PaginatedTags is the /tags payload.
type PaginatedTags struct {
	Items      []*types.Tag `json:"items"`
	TotalCount int          `json:"total_count"`
	PageInfo   PageInfo     `json:"page_info"`
}

// TagCreateRequest creates or updates a tag.
type TagCreateRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Color       *string `json:"color"`
}

// ProcessRequest triggers a processing job.
type ProcessRequest struct {
	UseDatabase          bool   `json:"use_database"`
	RegenerateSystemTags bool   `json:"regenerate_system_tags"`
	DateStart            string `json:"date_start"`
	DateEnd              string `json:"date_end"`
}

// ImportRequest triggers an ingestion run.
type ImportRequest struct {
	HoursSinceLastUpdate int `json:"hours_since_last_update"`
}

// CleanupRequest triggers a tag cleanup run.
type CleanupRequest struct {
	DryRun           bool    `json:"dry_run"`
	RemovalThreshold float64 `json:"removal_threshold"`
	MergeThreshold   float64 `json:"merge_threshold"`
	DateStart        string  `json:"date_start"`
	DateEnd          string  `json:"date_end"`
}

// TaxonomyBuildRequest triggers a taxonomy rebuild.
type TaxonomyBuildRequest struct {
	DateStart string `json:"date_start"`
	DateEnd   string `json:"date_end"`
}

// ServiceHealth is one dependency's health.
type ServiceHealth struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// SystemHealth is the /system/health payload.
type SystemHealth struct {
	Status   string                   `json:"status"`
	Services map[string]ServiceHealth `json:"services"`
}
