package service

import (
	"fmt"
	"math"
	"readsync/internal/config"
	"readsync/internal/core/domain/models"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// markedStatusFinished is the shelf's markedStatus for a fully read book.
const markedStatusFinished = 4

const placeholder = "Unknown"

// Columns names the destination table's columns.
type Columns struct {
	Title         string
	Author        string
	Progress      string
	Status        string
	Cover         string
	Categories    string
	CompletedDate string
}

// Mapper turns shelf books into table rows. It does no I/O and never fails:
// bad optional values are dropped and reported as notes.
type Mapper struct {
	cols       Columns
	finished   string
	inProgress string
	loc        *time.Location
}

func NewMapper(cfg *config.Config) *Mapper {
	return &Mapper{
		cols: Columns{
			Title:         cfg.ColumnTitle,
			Author:        cfg.ColumnAuthor,
			Progress:      cfg.ColumnProgress,
			Status:        cfg.ColumnStatus,
			Cover:         cfg.ColumnCover,
			Categories:    cfg.ColumnCategories,
			CompletedDate: cfg.ColumnCompletedDate,
		},
		finished:   cfg.StatusFinished,
		inProgress: cfg.StatusInProgress,
		loc:        cfg.Location(),
	}
}

// Map builds a fresh row for book. The returned notes describe every value
// that was defaulted or omitted because it was missing or malformed.
func (m *Mapper) Map(book models.SourceRecord) (models.DestinationRecord, []string) {
	var notes []string
	note := func(format string, args ...any) {
		notes = append(notes, fmt.Sprintf(format, args...))
	}

	fields := models.DestinationRecord{}

	fields[m.cols.Title] = m.requiredString(book, "title", note)
	fields[m.cols.Author] = m.requiredString(book, "author", note)
	fields[m.cols.Progress] = progress(book, note)

	if markedStatus(book) == markedStatusFinished {
		fields[m.cols.Status] = m.finished
	} else {
		fields[m.cols.Status] = m.inProgress
	}

	if cover, ok := coverURL(book, note); ok {
		fields[m.cols.Cover] = map[string]string{"link": cover, "text": cover}
	}

	if cats := categories(book, note); len(cats) > 0 {
		fields[m.cols.Categories] = cats
	}

	if date, ok := m.completedDate(book, note); ok {
		fields[m.cols.CompletedDate] = date
	}

	return fields, notes
}

func (m *Mapper) requiredString(book models.SourceRecord, key string, note func(string, ...any)) string {
	s, _ := book[key].(string)
	s = strings.TrimSpace(s)
	if s == "" {
		note("%s missing, using %q", key, placeholder)
		return placeholder
	}
	return s
}

func progress(book models.SourceRecord, note func(string, ...any)) int64 {
	raw, ok := book["readingProgress"]
	if !ok || raw == nil {
		return 0
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil || math.IsNaN(f) {
		note("readingProgress %v is not a number, using 0", raw)
		return 0
	}
	switch {
	case f < 0:
		note("readingProgress %v below 0, clamped", raw)
		return 0
	case f > 100:
		note("readingProgress %v above 100, clamped", raw)
		return 100
	}
	// Fractional percentages are truncated.
	return int64(math.Trunc(f))
}

func markedStatus(book models.SourceRecord) int64 {
	raw, ok := book["markedStatus"]
	if !ok || raw == nil {
		return 0
	}
	s, err := cast.ToInt64E(raw)
	if err != nil {
		return 0
	}
	return s
}

func coverURL(book models.SourceRecord, note func(string, ...any)) (string, bool) {
	raw, ok := book["cover"]
	if !ok || raw == nil {
		return "", false
	}
	s, _ := raw.(string)
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		note("cover %q is not an http(s) URL, omitted", s)
		return "", false
	}
	return s, true
}

func categories(book models.SourceRecord, note func(string, ...any)) []string {
	raw, ok := book["categories"]
	if !ok || raw == nil {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		note("categories is not a list, omitted")
		return nil
	}

	var out []string
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		title, _ := obj["title"].(string)
		if title = strings.TrimSpace(title); title != "" {
			out = append(out, title)
		}
	}
	return out
}

func (m *Mapper) completedDate(book models.SourceRecord, note func(string, ...any)) (string, bool) {
	raw, ok := book["finishReadingTime"]
	if !ok || raw == nil {
		return "", false
	}
	ts, err := cast.ToInt64E(raw)
	if err != nil || ts <= 0 {
		note("finishReadingTime %v is not a valid timestamp, omitted", raw)
		return "", false
	}
	return time.Unix(ts, 0).In(m.loc).Format(time.DateOnly), true
}
