// Package calendar pulls events from a calendar provider into raw activities.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Event is one provider event. Start and End hold either an RFC 3339 instant
// or a bare YYYY-MM-DD for all-day events.
type Event struct {
	ID          string          `json:"id"`
	Summary     string          `json:"summary"`
	Description string          `json:"description"`
	Start       string          `json:"-"`
	End         string          `json:"-"`
	Updated     string          `json:"updated"`
	HTMLLink    string          `json:"htmlLink"`
	Raw         json.RawMessage `json:"-"`
}

// Provider lists events for a calendar in a half-open window, one page at a
// time. An empty next token ends the pagination.
type Provider interface {
	Events(ctx context.Context, calendarID string, timeMin, timeMax time.Time, pageToken string) (events []Event, nextToken string, err error)
}

const googleEventsURL = "https://www.googleapis.com/calendar/v3/calendars/%s/events"

// GoogleProvider talks to the Google Calendar v3 REST API with a bearer
// token obtained by an external credential helper; this package never runs
// an OAuth flow or persists credentials.
type GoogleProvider struct {
	HTTP      *http.Client
	TokenPath string // file containing the access token
	BaseURL   string // overridable for tests
}

var _ Provider = (*GoogleProvider)(nil)

// NewGoogleProvider builds a provider reading the bearer token from tokenPath.
func NewGoogleProvider(tokenPath string) *GoogleProvider {
	return &GoogleProvider{
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		TokenPath: tokenPath,
	}
}

func (g *GoogleProvider) token() (string, error) {
	data, err := os.ReadFile(g.TokenPath)
	if err != nil {
		return "", fmt.Errorf("read calendar credentials: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

type eventsPage struct {
	Items         []json.RawMessage `json:"items"`
	NextPageToken string            `json:"nextPageToken"`
}

type eventEnvelope struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Updated     string    `json:"updated"`
	HTMLLink    string    `json:"htmlLink"`
	Start       eventTime `json:"start"`
	End         eventTime `json:"end"`
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

func (t eventTime) value() string {
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}

// Events fetches one page of single-event instances ordered by start time.
func (g *GoogleProvider) Events(ctx context.Context, calendarID string, timeMin, timeMax time.Time, pageToken string) ([]Event, string, error) {
	token, err := g.token()
	if err != nil {
		return nil, "", err
	}

	base := g.BaseURL
	if base == "" {
		base = fmt.Sprintf(googleEventsURL, url.PathEscape(calendarID))
	}
	q := url.Values{}
	q.Set("timeMin", timeMin.UTC().Format(time.RFC3339))
	q.Set("timeMax", timeMax.UTC().Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("calendar API %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var page eventsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, "", fmt.Errorf("decode events page: %w", err)
	}

	events := make([]Event, 0, len(page.Items))
	for _, raw := range page.Items {
		var env eventEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		events = append(events, Event{
			ID:          env.ID,
			Summary:     env.Summary,
			Description: env.Description,
			Start:       env.Start.value(),
			End:         env.End.value(),
			Updated:     env.Updated,
			HTMLLink:    env.HTMLLink,
			Raw:         raw,
		})
	}
	return events, page.NextPageToken, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
