// Package insights reshapes processed activities into the analytics read
// models behind /insights.
package insights

import (
	"context"
	"sort"
	"time"

	"github.com/vw-ai/lifetrace/internal/storage"
)

// TopActivity is one entry of the top-5 list.
type TopActivity struct {
	Tag   string  `json:"tag"`
	Hours float64 `json:"hours"`
}

// DateRange is the covered window.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Overview is the /insights/overview payload.
type Overview struct {
	TotalTrackedHours   float64            `json:"total_tracked_hours"`
	ActivityCount       int                `json:"activity_count"`
	UniqueTags          int                `json:"unique_tags"`
	TagTimeDistribution map[string]int     `json:"tag_time_distribution"`
	TagPercentages      map[string]float64 `json:"tag_percentages"`
	Top5Activities      []TopActivity      `json:"top_5_activities"`
	DateRange           DateRange          `json:"date_range"`
}

// TimeSeriesPoint is one bucket of the time distribution.
type TimeSeriesPoint struct {
	Date         string         `json:"date"`
	TotalMinutes int            `json:"total_minutes"`
	TagBreakdown map[string]int `json:"tag_breakdown"`
}

// Summary aggregates the distribution.
type Summary struct {
	TotalPeriodHours  float64 `json:"total_period_hours"`
	AverageDailyHours float64 `json:"average_daily_hours"`
	MostProductiveDay string  `json:"most_productive_day"`
}

// TimeDistribution is the /insights/time-distribution payload.
type TimeDistribution struct {
	TimeSeries []TimeSeriesPoint `json:"time_series"`
	Summary    Summary           `json:"summary"`
}

// Service computes the analytics read models.
type Service struct {
	store storage.Storage
}

// NewService wires the service.
func NewService(store storage.Storage) *Service {
	return &Service{store: store}
}

// Overview aggregates tracked time by tag over the date window.
func (s *Service) Overview(ctx context.Context, dateStart, dateEnd string) (*Overview, error) {
	activities, tagsByActivity, err := s.store.ProcessedActivitiesForInsights(ctx, dateStart, dateEnd)
	if err != nil {
		return nil, err
	}

	today := time.Now().Format("2006-01-02")
	out := &Overview{
		TagTimeDistribution: map[string]int{},
		TagPercentages:      map[string]float64{},
		Top5Activities:      []TopActivity{},
		DateRange:           DateRange{Start: today, End: today},
	}
	if len(activities) == 0 {
		return out, nil
	}

	totalMinutes := 0
	var dates []string
	for _, a := range activities {
		totalMinutes += a.TotalDurationMinutes
		dates = append(dates, a.Date)
		for _, tag := range tagsByActivity[a.ID] {
			out.TagTimeDistribution[tag] += a.TotalDurationMinutes
		}
	}
	sort.Strings(dates)

	out.TotalTrackedHours = round2(float64(totalMinutes) / 60)
	out.ActivityCount = len(activities)
	out.UniqueTags = len(out.TagTimeDistribution)
	out.DateRange = DateRange{Start: dates[0], End: dates[len(dates)-1]}

	for tag, minutes := range out.TagTimeDistribution {
		if totalMinutes > 0 {
			out.TagPercentages[tag] = round1(float64(minutes) / float64(totalMinutes) * 100)
		}
	}

	type tagMinutes struct {
		tag     string
		minutes int
	}
	ranked := make([]tagMinutes, 0, len(out.TagTimeDistribution))
	for tag, minutes := range out.TagTimeDistribution {
		ranked = append(ranked, tagMinutes{tag, minutes})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].minutes != ranked[j].minutes {
			return ranked[i].minutes > ranked[j].minutes
		}
		return ranked[i].tag < ranked[j].tag
	})
	for i, r := range ranked {
		if i >= 5 {
			break
		}
		out.Top5Activities = append(out.Top5Activities, TopActivity{
			Tag:   r.tag,
			Hours: round2(float64(r.minutes) / 60),
		})
	}
	return out, nil
}

// TimeDistribution buckets tracked time by day, ISO week start, or month.
func (s *Service) TimeDistribution(ctx context.Context, dateStart, dateEnd, groupBy string) (*TimeDistribution, error) {
	activities, tagsByActivity, err := s.store.ProcessedActivitiesForInsights(ctx, dateStart, dateEnd)
	if err != nil {
		return nil, err
	}

	out := &TimeDistribution{
		TimeSeries: []TimeSeriesPoint{},
		Summary:    Summary{MostProductiveDay: time.Now().Format("2006-01-02")},
	}
	if len(activities) == 0 {
		return out, nil
	}

	groups := map[string]*TimeSeriesPoint{}
	totalMinutes := 0
	for _, a := range activities {
		key := bucketKey(a.Date, groupBy)
		point, ok := groups[key]
		if !ok {
			point = &TimeSeriesPoint{Date: key, TagBreakdown: map[string]int{}}
			groups[key] = point
		}
		point.TotalMinutes += a.TotalDurationMinutes
		totalMinutes += a.TotalDurationMinutes
		for _, tag := range tagsByActivity[a.ID] {
			point.TagBreakdown[tag] += a.TotalDurationMinutes
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best, bestMinutes := keys[0], -1
	for _, k := range keys {
		out.TimeSeries = append(out.TimeSeries, *groups[k])
		if groups[k].TotalMinutes > bestMinutes {
			best, bestMinutes = k, groups[k].TotalMinutes
		}
	}

	out.Summary.TotalPeriodHours = round2(float64(totalMinutes) / 60)
	out.Summary.AverageDailyHours = round2(float64(totalMinutes) / 60 / float64(len(keys)))
	out.Summary.MostProductiveDay = best
	return out, nil
}

// bucketKey maps a date to its grouping bucket: the date itself, the Monday
// of its week, or the first of its month.
func bucketKey(date, groupBy string) string {
	switch groupBy {
	case "week":
		d, err := time.Parse("2006-01-02", date)
		if err != nil {
			return date
		}
		offset := (int(d.Weekday()) + 6) % 7 // Monday start
		return d.AddDate(0, 0, -offset).Format("2006-01-02")
	case "month":
		if len(date) >= 7 {
			return date[:7] + "-01"
		}
	}
	return date
}

func round2(f float64) float64 { return float64(int(f*100+0.5)) / 100 }

func round1(f float64) float64 { return float64(int(f*10+0.5)) / 10 }
