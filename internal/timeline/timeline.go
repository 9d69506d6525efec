// Package timeline deduplicates, orders, and windows canonical posts.
package timeline

import (
	"slices"
	"time"

	"github.com/ppiankov/insight/internal/source"
)

// Order is a sort direction by publication date.
type Order string

const (
	Ascending  Order = "asc"
	Descending Order = "desc"
)

// ParseOrder maps "asc"/"desc" to an Order. Anything else is descending,
// newest first.
func ParseOrder(s string) Order {
	if Order(s) == Ascending {
		return Ascending
	}
	return Descending
}

// Dedup keeps the first post seen for each URL. The input order of the
// survivors is preserved. It returns the number of posts removed.
func Dedup(posts []source.Post) ([]source.Post, int) {
	seen := make(map[string]struct{}, len(posts))
	out := make([]source.Post, 0, len(posts))
	for _, p := range posts {
		if _, ok := seen[p.URL]; ok {
			continue
		}
		seen[p.URL] = struct{}{}
		out = append(out, p)
	}
	return out, len(posts) - len(out)
}

// Sort orders posts by date in place and returns them. The sort is stable.
// Undated posts trail dated ones in both directions.
func Sort(posts []source.Post, order Order) []source.Post {
	slices.SortStableFunc(posts, func(a, b source.Post) int {
		switch {
		case !a.HasDate() && !b.HasDate():
			return 0
		case !a.HasDate():
			return 1
		case !b.HasDate():
			return -1
		}
		c := a.Date.Compare(b.Date)
		if order == Descending {
			return -c
		}
		return c
	})
	return posts
}

// DayWindow returns the half-open UTC interval [D 00:00, D+1 00:00) for
// the calendar day of day.
func DayWindow(day time.Time) (start, end time.Time) {
	start = source.TodayStart(day)
	return start, start.AddDate(0, 0, 1)
}

// FilterDay keeps posts whose UTC date falls on day's UTC calendar day.
// Undated posts are kept only when includeUndated is set.
func FilterDay(posts []source.Post, day time.Time, includeUndated bool) []source.Post {
	start, end := DayWindow(day)
	return filter(posts, includeUndated, func(d time.Time) bool {
		return !d.Before(start) && d.Before(end)
	})
}

// FilterSince keeps posts published at or after since.
func FilterSince(posts []source.Post, since time.Time, includeUndated bool) []source.Post {
	return filter(posts, includeUndated, func(d time.Time) bool {
		return !d.Before(since)
	})
}

func filter(posts []source.Post, includeUndated bool, keep func(time.Time) bool) []source.Post {
	out := make([]source.Post, 0, len(posts))
	for _, p := range posts {
		if !p.HasDate() {
			if includeUndated {
				out = append(out, p)
			}
			continue
		}
		if keep(p.Date.UTC()) {
			out = append(out, p)
		}
	}
	return out
}

// Day is one UTC calendar day of posts. Date is zero for the undated bucket.
type Day struct {
	Date  time.Time
	Posts []source.Post
}

// GroupByDay buckets posts by UTC calendar day in ascending day order, each
// bucket sorted ascending. Undated posts form a final bucket.
func GroupByDay(posts []source.Post) []Day {
	buckets := make(map[time.Time][]source.Post)
	var undated []source.Post
	for _, p := range posts {
		if !p.HasDate() {
			undated = append(undated, p)
			continue
		}
		d := source.TodayStart(p.Date)
		buckets[d] = append(buckets[d], p)
	}

	days := make([]Day, 0, len(buckets)+1)
	for d, ps := range buckets {
		days = append(days, Day{Date: d, Posts: Sort(ps, Ascending)})
	}
	slices.SortFunc(days, func(a, b Day) int { return a.Date.Compare(b.Date) })

	if len(undated) > 0 {
		days = append(days, Day{Posts: undated})
	}
	return days
}
