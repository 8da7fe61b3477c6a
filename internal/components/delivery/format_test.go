package delivery

import (
	"testing"
	"time"

	"github.com/calrelay/calrelay/internal/components/calendar"
)

func newTestFormatter(t *testing.T) *Formatter {
	t.Helper()
	f, err := NewFormatter("Asia/Tokyo", "2006/01/02 15:04:05")
	if err != nil {
		t.Fatalf("NewFormatter() error = %v", err)
	}
	return f
}

func TestFormat_AllDayEndIsInclusive(t *testing.T) {
	f := newTestFormatter(t)
	rec := f.Format(calendar.Event{
		Summary: "Offsite",
		Status:  "confirmed",
		Start:   calendar.EventTime{Date: "2024-05-01"},
		End:     calendar.EventTime{Date: "2024-05-03"},
	})

	if rec.Start != "2024-05-01" {
		t.Errorf("Start = %q, want native date", rec.Start)
	}
	if rec.End != "2024-05-02" {
		t.Errorf("End = %q, want 2024-05-02", rec.End)
	}
}

func TestFormat_AllDayEndAcrossMonth(t *testing.T) {
	f := newTestFormatter(t)
	rec := f.Format(calendar.Event{
		Start: calendar.EventTime{Date: "2024-02-29"},
		End:   calendar.EventTime{Date: "2024-03-01"},
	})
	if rec.End != "2024-02-29" {
		t.Errorf("End = %q, want 2024-02-29", rec.End)
	}
}

func TestFormat_TimedInDisplayZone(t *testing.T) {
	f := newTestFormatter(t)
	rec := f.Format(calendar.Event{
		Summary: "Standup",
		Start:   calendar.EventTime{DateTime: time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)},
		End:     calendar.EventTime{DateTime: time.Date(2024, 5, 1, 1, 15, 30, 0, time.UTC)},
	})
	if rec.Start != "2024/05/01 10:00:00" {
		t.Errorf("Start = %q", rec.Start)
	}
	if rec.End != "2024/05/01 10:15:30" {
		t.Errorf("End = %q", rec.End)
	}
}

func TestFormat_Status(t *testing.T) {
	f := newTestFormatter(t)
	tests := []struct {
		status string
		want   string
	}{
		{"cancelled", StatusCancelled},
		{"confirmed", StatusCreatedUpdated},
		{"tentative", StatusCreatedUpdated},
		{"", StatusCreatedUpdated},
	}
	for _, tt := range tests {
		if got := f.Format(calendar.Event{Status: tt.status}).Status; got != tt.want {
			t.Errorf("status %q rendered %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestFormat_Placeholders(t *testing.T) {
	f := newTestFormatter(t)
	rec := f.Format(calendar.Event{ID: "ev3", Status: "cancelled"})

	if rec.Description != NoDescription {
		t.Errorf("Description = %q, want %q", rec.Description, NoDescription)
	}
	if rec.Title != NoTitle {
		t.Errorf("Title = %q", rec.Title)
	}
	if rec.Start != NoTime || rec.End != NoTime {
		t.Errorf("missing times rendered %q ~ %q", rec.Start, rec.End)
	}
	if rec.Editor != NoEditor {
		t.Errorf("Editor = %q", rec.Editor)
	}
}

func TestFormat_EditorFallback(t *testing.T) {
	f := newTestFormatter(t)
	tests := []struct {
		person calendar.Person
		want   string
	}{
		{calendar.Person{DisplayName: "Alice", Email: "alice@example.com"}, "Alice"},
		{calendar.Person{Email: "bob@example.com"}, "bob@example.com"},
	}
	for _, tt := range tests {
		if got := f.Format(calendar.Event{Creator: tt.person}).Editor; got != tt.want {
			t.Errorf("editor for %+v = %q, want %q", tt.person, got, tt.want)
		}
	}
}

func TestRecord_Text(t *testing.T) {
	rec := Record{
		Title:       "Offsite",
		Status:      StatusCancelled,
		Start:       "2024-05-01",
		End:         "2024-05-02",
		Description: NoDescription,
		Editor:      "Alice",
	}
	want := "\"Offsite\" was cancelled\nTime: 2024-05-01 ~ 2024-05-02\nDetails: none\nEditor: Alice"
	if got := rec.Text(); got != want {
		t.Errorf("Text() =\n%s\nwant\n%s", got, want)
	}
}

func TestNewFormatter_BadZone(t *testing.T) {
	if _, err := NewFormatter("Nowhere/Special", ""); err == nil {
		t.Fatal("expected error for unknown zone")
	}
}
