package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/jku-tools/moodle-mirror/internal/session"
	"github.com/jku-tools/moodle-mirror/pkg/moodle"
)

const calendarMethod = "core_calendar_get_action_events_by_timesort"

type calendarArgs struct {
	LimitNum                  int   `json:"limitnum"`
	TimeSortFrom              int64 `json:"timesortfrom"`
	LimitToNonSuspendedEvents bool  `json:"limittononsuspendedevents"`
}

type calendarEventJSON struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ModuleName  string `json:"modulename"`
	EventType   string `json:"eventtype"`
	TimeStart   int64  `json:"timestart"`
	TimeSort    int64  `json:"timesort"`
	URL         string `json:"url"`
	Course      struct {
		ID       int64  `json:"id"`
		FullName string `json:"fullname"`
	} `json:"course"`
}

// Calendar fetches the upcoming action events (assignments, exams) sorted
// by time, at most limit entries.
func (e *Engine) Calendar(ctx context.Context, limit int) ([]moodle.CalendarEvent, error) {
	if limit <= 0 {
		limit = 26
	}
	replies, err := e.client.Service(ctx, []session.ServiceCall{{
		Index:  0,
		Method: calendarMethod,
		Args: calendarArgs{
			LimitNum:                  limit,
			TimeSortFrom:              time.Now().Unix(),
			LimitToNonSuspendedEvents: true,
		},
	}})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Events []calendarEventJSON `json:"events"`
	}
	if err := json.Unmarshal(replies[0], &payload); err != nil {
		return nil, &moodle.ParseError{Page: "calendar", Missing: "events payload"}
	}

	events := make([]moodle.CalendarEvent, 0, len(payload.Events))
	for _, ev := range payload.Events {
		events = append(events, moodle.CalendarEvent{
			ID:          ev.ID,
			Name:        ev.Name,
			Description: ev.Description,
			ModuleName:  ev.ModuleName,
			EventType:   ev.EventType,
			TimeStart:   ev.TimeStart,
			TimeSort:    ev.TimeSort,
			CourseID:    ev.Course.ID,
			CourseName:  ev.Course.FullName,
			URL:         ev.URL,
		})
	}
	return events, nil
}

// WriteICS exports calendar events as an iCalendar feed.
func WriteICS(w io.Writer, events []moodle.CalendarEvent) error {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	for _, e := range events {
		ev := cal.AddEvent(fmt.Sprintf("%d@moodle-mirror", e.ID))
		ev.SetDtStampTime(time.Now())
		ev.SetStartAt(time.Unix(e.TimeStart, 0))
		ev.SetEndAt(time.Unix(e.TimeStart, 0).Add(time.Hour))
		ev.SetSummary(fmt.Sprintf("%s: %s", e.CourseName, e.Name))
		ev.SetDescription(e.Description)
		if e.URL != "" {
			ev.SetURL(e.URL)
		}
	}
	_, err := io.WriteString(w, cal.Serialize())
	return err
}
