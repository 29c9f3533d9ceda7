// Package notion traverses the note workspace page tree into the store.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Text-bearing block types whose concatenated rich text becomes the block
// text. Anything else is structural and never a leaf.
var textBlockTypes = map[string]bool{
	"paragraph":          true,
	"bulleted_list_item": true,
	"numbered_list_item": true,
	"to_do":              true,
	"quote":              true,
	"callout":            true,
	"heading_1":          true,
	"heading_2":          true,
	"heading_3":          true,
	"toggle":             true,
}

// IsTextBearing reports whether blockType carries extractable text.
func IsTextBearing(blockType string) bool { return textBlockTypes[blockType] }

// Page is a discovered workspace page.
type Page struct {
	ID           string
	Title        string
	URL          string
	LastEditedAt *time.Time
}

// Block is one node of a page's block tree as the provider returns it.
type Block struct {
	ID           string
	Type         string
	Text         string
	HasChildren  bool
	LastEditedAt *time.Time
}

// Provider is the paginated list+fetch surface of the notes workspace.
type Provider interface {
	SearchPages(ctx context.Context, cursor string) (pages []Page, nextCursor string, err error)
	GetPage(ctx context.Context, pageID string) (*Page, error)
	BlockChildren(ctx context.Context, blockID, cursor string) (blocks []Block, nextCursor string, err error)
}

const (
	notionBaseURL    = "https://api.notion.com/v1"
	notionAPIVersion = "2022-06-28"
)

// APIProvider implements Provider against the Notion REST API.
type APIProvider struct {
	HTTP    *http.Client
	APIKey  string
	BaseURL string // overridable for tests
}

var _ Provider = (*APIProvider)(nil)

// NewAPIProvider builds a provider with the integration token.
func NewAPIProvider(apiKey string) *APIProvider {
	return &APIProvider{
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		APIKey:  apiKey,
		BaseURL: notionBaseURL,
	}
}

func (p *APIProvider) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Notion-Version", notionAPIVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	return json.Unmarshal(data, out)
}

// APIError carries the provider status so callers can decide on retries
// (429 and 5xx are retryable).
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("notes API %d: %s", e.Status, body)
}

// Retryable reports whether the call is worth repeating.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type searchResponse struct {
	Results    []json.RawMessage `json:"results"`
	NextCursor string            `json:"next_cursor"`
	HasMore    bool              `json:"has_more"`
}

type pageObject struct {
	ID             string                     `json:"id"`
	Object         string                     `json:"object"`
	URL            string                     `json:"url"`
	LastEditedTime string                     `json:"last_edited_time"`
	Properties     map[string]json.RawMessage `json:"properties"`
}

// SearchPages pages through every page the integration can see.
func (p *APIProvider) SearchPages(ctx context.Context, cursor string) ([]Page, string, error) {
	body := map[string]any{
		"filter":    map[string]string{"property": "object", "value": "page"},
		"page_size": 100,
	}
	if cursor != "" {
		body["start_cursor"] = cursor
	}
	var resp searchResponse
	if err := p.do(ctx, http.MethodPost, "/search", body, &resp); err != nil {
		return nil, "", err
	}

	pages := make([]Page, 0, len(resp.Results))
	for _, raw := range resp.Results {
		var obj pageObject
		if err := json.Unmarshal(raw, &obj); err != nil || obj.Object != "page" {
			continue
		}
		pages = append(pages, pageFromObject(obj))
	}
	next := ""
	if resp.HasMore {
		next = resp.NextCursor
	}
	return pages, next, nil
}

// GetPage fetches a single page by id.
func (p *APIProvider) GetPage(ctx context.Context, pageID string) (*Page, error) {
	var obj pageObject
	if err := p.do(ctx, http.MethodGet, "/pages/"+pageID, nil, &obj); err != nil {
		return nil, err
	}
	page := pageFromObject(obj)
	return &page, nil
}

func pageFromObject(obj pageObject) Page {
	page := Page{ID: obj.ID, URL: obj.URL, Title: pageTitle(obj.Properties)}
	if t, err := time.Parse(time.RFC3339, obj.LastEditedTime); err == nil {
		page.LastEditedAt = &t
	}
	return page
}

// pageTitle extracts the title property's plain text.
func pageTitle(props map[string]json.RawMessage) string {
	for _, raw := range props {
		var prop struct {
			Type  string     `json:"type"`
			Title []richText `json:"title"`
		}
		if err := json.Unmarshal(raw, &prop); err != nil {
			continue
		}
		if prop.Type == "title" {
			return plainText(prop.Title)
		}
	}
	return ""
}

type richText struct {
	PlainText string `json:"plain_text"`
}

func plainText(rt []richText) string {
	var sb strings.Builder
	for _, t := range rt {
		sb.WriteString(t.PlainText)
	}
	return strings.TrimSpace(sb.String())
}

type blockListResponse struct {
	Results    []json.RawMessage `json:"results"`
	NextCursor string            `json:"next_cursor"`
	HasMore    bool              `json:"has_more"`
}

// BlockChildren pages through the direct children of a block or page.
func (p *APIProvider) BlockChildren(ctx context.Context, blockID, cursor string) ([]Block, string, error) {
	path := "/blocks/" + blockID + "/children?page_size=100"
	if cursor != "" {
		path += "&start_cursor=" + cursor
	}
	var resp blockListResponse
	if err := p.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, "", err
	}

	blocks := make([]Block, 0, len(resp.Results))
	for _, raw := range resp.Results {
		if b, ok := parseBlock(raw); ok {
			blocks = append(blocks, b)
		}
	}
	next := ""
	if resp.HasMore {
		next = resp.NextCursor
	}
	return blocks, next, nil
}

func parseBlock(raw json.RawMessage) (Block, bool) {
	var head struct {
		ID             string `json:"id"`
		Type           string `json:"type"`
		HasChildren    bool   `json:"has_children"`
		LastEditedTime string `json:"last_edited_time"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.ID == "" {
		return Block{}, false
	}
	b := Block{ID: head.ID, Type: head.Type, HasChildren: head.HasChildren}
	if t, err := time.Parse(time.RFC3339, head.LastEditedTime); err == nil {
		b.LastEditedAt = &t
	}

	if IsTextBearing(head.Type) {
		// The typed payload sits under a key named after the block type.
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(raw, &payload); err == nil {
			if typed, ok := payload[head.Type]; ok {
				var content struct {
					RichText []richText `json:"rich_text"`
				}
				if err := json.Unmarshal(typed, &content); err == nil {
					b.Text = plainText(content.RichText)
				}
			}
		}
	}
	return b, true
}
