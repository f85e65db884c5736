package services

import (
	"regexp"
	"strings"
	"time"

	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/models"
)

const (
	dayToday        = " today "
	dayTomorrow     = " tomorrow "
	subsequentDays  = " and has planned leaves/WFH for subsequent days "
	leaveQualifier  = " on "
	cancelledSuffix = " has cancelled Intimation"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Renderer turns intimation events into notification text. Dates are
// compared against the server's local calendar day at render time.
type Renderer struct {
	now func() time.Time
}

// NewRenderer returns a Renderer reading the clock from now, or time.Now when nil.
func NewRenderer(now func() time.Time) *Renderer {
	if now == nil {
		now = time.Now
	}
	return &Renderer{now: now}
}

// RenderIntimation renders a created or updated intimation for the named employee.
func (r *Renderer) RenderIntimation(evt *models.IntimationEvent, name string) models.RenderedNotification {
	title := name + " has planned WFH/Leaves for subsequent days."
	if len(evt.Requests) > 0 {
		first := evt.Requests[0]
		if day := r.dayText(first.Date); day != "" {
			title = intimationTitle(name, first, day, len(evt.Requests) > 1)
		}
	}
	return models.RenderedNotification{
		Title:                 normalize(title),
		Body:                  evt.Reason,
		RecipientEmployeeID:   evt.EmployeeID,
		RecipientEmployeeName: name,
	}
}

// RenderCancellation renders a cancelled intimation. Requests do not affect the text.
func (r *Renderer) RenderCancellation(evt *models.IntimationEvent, name string) models.RenderedNotification {
	return models.RenderedNotification{
		Title:                 normalize(name + cancelledSuffix),
		Body:                  evt.Reason,
		RecipientEmployeeID:   evt.EmployeeID,
		RecipientEmployeeName: name,
	}
}

// dayText classifies date as today, tomorrow or neither (empty).
func (r *Renderer) dayText(date string) string {
	now := r.now()
	switch date {
	case now.Format(models.DateLayout):
		return dayToday
	case now.AddDate(0, 0, 1).Format(models.DateLayout):
		return dayTomorrow
	default:
		return ""
	}
}

func intimationTitle(name string, req models.IntimationRequest, day string, hasMore bool) string {
	first, second := req.FirstHalf, req.SecondHalf
	more := ""
	if hasMore {
		more = subsequentDays
	}

	var b strings.Builder
	b.WriteString(name)
	b.WriteString(" is ")
	switch {
	case first == second:
		b.WriteString(qualified(first))
		b.WriteString(day)
	case first == models.StatusWFO:
		b.WriteString(qualified(second))
		b.WriteString(" in second half ")
		b.WriteString(day)
	case second == models.StatusWFO:
		b.WriteString(qualified(first))
		b.WriteString(" in first half ")
		b.WriteString(day)
	default:
		b.WriteString(qualified(first))
		b.WriteString(" in first half and ")
		b.WriteString(qualified(second))
		b.WriteString(" in second half ")
		b.WriteString(day)
	}
	b.WriteString(more)
	return b.String()
}

// qualified prefixes Leave with "on" ("on Leave"); WFH and WFO stand alone.
func qualified(status models.HalfDayStatus) string {
	if status == models.StatusLeave {
		return leaveQualifier + string(status)
	}
	return string(status)
}

func normalize(title string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(title, " "))
}
