package delivery

import (
	"fmt"
	"time"

	"github.com/calrelay/calrelay/internal/components/calendar"
)

// Rendered status values.
const (
	StatusCreatedUpdated = "created/updated"
	StatusCancelled      = "cancelled"
)

// Placeholders for fields the provider left out.
const (
	NoDescription = "none"
	NoTitle       = "(no title)"
	NoTime        = "-"
	NoEditor      = "unknown"
)

const dateLayout = "2006-01-02"

// Record is one event rendered for display.
type Record struct {
	EventID     string
	Title       string
	Status      string
	Start       string
	End         string
	Description string
	Editor      string
}

// Period renders "<start> ~ <end>".
func (r Record) Period() string {
	return r.Start + " ~ " + r.End
}

// Text renders the plain-text chat message.
func (r Record) Text() string {
	return fmt.Sprintf("\"%s\" was %s\nTime: %s\nDetails: %s\nEditor: %s",
		r.Title, r.Status, r.Period(), r.Description, r.Editor)
}

// Formatter turns provider events into display records.
type Formatter struct {
	loc    *time.Location
	layout string
}

// NewFormatter renders timed values in the IANA zone tz with the given Go
// layout.
func NewFormatter(tz, layout string) (*Formatter, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("delivery: load time zone %q: %w", tz, err)
	}
	if layout == "" {
		layout = "2006/01/02 15:04:05"
	}
	return &Formatter{loc: loc, layout: layout}, nil
}

// Format renders ev.
func (f *Formatter) Format(ev calendar.Event) Record {
	r := Record{
		EventID:     ev.ID,
		Title:       ev.Summary,
		Status:      StatusCreatedUpdated,
		Start:       f.start(ev.Start),
		End:         f.end(ev.End),
		Description: ev.Description,
		Editor:      editor(ev.Creator),
	}
	if ev.Cancelled() {
		r.Status = StatusCancelled
	}
	if r.Title == "" {
		r.Title = NoTitle
	}
	if r.Description == "" {
		r.Description = NoDescription
	}
	return r
}

func (f *Formatter) start(t calendar.EventTime) string {
	switch {
	case t.AllDay():
		return t.Date
	case t.DateTime.IsZero():
		return NoTime
	default:
		return t.DateTime.In(f.loc).Format(f.layout)
	}
}

// end converts an exclusive all-day end date to the inclusive last day.
func (f *Formatter) end(t calendar.EventTime) string {
	switch {
	case t.AllDay():
		d, err := time.Parse(dateLayout, t.Date)
		if err != nil {
			return t.Date
		}
		return d.AddDate(0, 0, -1).Format(dateLayout)
	case t.DateTime.IsZero():
		return NoTime
	default:
		return t.DateTime.In(f.loc).Format(f.layout)
	}
}

func editor(p calendar.Person) string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName
	case p.Email != "":
		return p.Email
	default:
		return NoEditor
	}
}
