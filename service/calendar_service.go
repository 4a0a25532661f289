package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	model "github.com/sahilkadam/complianceos/models"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// CalendarTransport mirrors task milestones into an external calendar.
// All calls are best-effort; callers log failures and move on, a
// calendar outage never blocks a task mutation.
type CalendarTransport interface {
	CreateStartEvent(task *model.Task) (eventID, htmlLink string, err error)
	MarkCompleted(task *model.Task, completedAt time.Time) error
	DeleteEvent(eventID string) error
}

// CalendarService is the Google Calendar transport. Events are
// informational: a start event is created when a task materializes and
// retitled on completion.
type CalendarService struct {
	srv        *calendar.Service
	calendarID string
	loc        *time.Location
	startHH    int
	endHH      int
}

// NewCalendarServiceFromEnv builds the service from a service-account
// credentials file (GOOGLE_CREDENTIALS_FILE). Returns nil with no error
// when the variable is unset: calendar mirroring is optional and the
// rest of the system treats a nil service as "feature off".
func NewCalendarServiceFromEnv(ctx context.Context) (*CalendarService, error) {
	credsFile := os.Getenv("GOOGLE_CREDENTIALS_FILE")
	if credsFile == "" {
		log.Println("GOOGLE_CREDENTIALS_FILE not set; calendar mirroring disabled")
		return nil, nil
	}

	b, err := os.ReadFile(credsFile)
	if err != nil {
		return nil, fmt.Errorf("reading calendar credentials %s: %w", credsFile, err)
	}
	config, err := google.JWTConfigFromJSON(b, calendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("parsing calendar credentials: %w", err)
	}

	srv, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}

	calendarID := os.Getenv("CALENDAR_ID")
	if calendarID == "" {
		calendarID = "primary"
	}
	tz := os.Getenv("CAL_TIMEZONE")
	if tz == "" {
		tz = "Asia/Kolkata"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading calendar timezone %s: %w", tz, err)
	}

	return &CalendarService{
		srv:        srv,
		calendarID: calendarID,
		loc:        loc,
		startHH:    envHour("CAL_START_HH", 10),
		endHH:      envHour("CAL_END_HH", 18),
	}, nil
}

func envHour(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 23 {
			return n
		}
	}
	return fallback
}

// timeRange places an event inside the working-day window on the given
// date.
func (s *CalendarService) timeRange(day time.Time) (*calendar.EventDateTime, *calendar.EventDateTime) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, s.startHH, 0, 0, 0, s.loc)
	end := time.Date(y, m, d, s.endHH, 0, 0, 0, s.loc)
	return &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: s.loc.String()},
		&calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: s.loc.String()}
}

func eventDescription(task *model.Task) string {
	clientName := task.ClientNameSnapshot
	if clientName == "" {
		clientName = task.ClientID
	}
	desc := fmt.Sprintf("Client: %s\nStart: %s\nDue: %s\n",
		clientName,
		task.StartDate.Format(model.DateLayout),
		task.DueDate.Format(model.DateLayout))
	if task.CalendarDescription != "" {
		desc += "\n" + task.CalendarDescription
	}
	return desc
}

// CreateStartEvent inserts the "START:" event on the task's start date
// and returns the event id and browser link.
func (s *CalendarService) CreateStartEvent(task *model.Task) (string, string, error) {
	start, end := s.timeRange(task.StartDate)
	event := &calendar.Event{
		Summary:     "START: " + task.Title,
		Description: eventDescription(task),
		Start:       start,
		End:         end,
	}

	created, err := s.srv.Events.Insert(s.calendarID, event).SendUpdates("none").Do()
	if err != nil {
		return "", "", fmt.Errorf("%w: inserting calendar event for task %s: %v", ErrTransport, task.ID, err)
	}
	log.Printf("[CreateStartEvent] Event %s created for task %s", created.Id, task.ID)
	return created.Id, created.HtmlLink, nil
}

// MarkCompleted retitles the task's event to "DONE:" and stamps the
// completion time into its description. Tasks without an event are
// silently fine.
func (s *CalendarService) MarkCompleted(task *model.Task, completedAt time.Time) error {
	if task.CalendarEventID == "" {
		return nil
	}
	patch := &calendar.Event{
		Summary: "DONE: " + task.Title,
		Description: eventDescription(task) +
			"\nCompleted: " + completedAt.In(s.loc).Format("2006-01-02 15:04"),
	}
	if _, err := s.srv.Events.Patch(s.calendarID, task.CalendarEventID, patch).SendUpdates("none").Do(); err != nil {
		return fmt.Errorf("%w: patching calendar event %s: %v", ErrTransport, task.CalendarEventID, err)
	}
	log.Printf("[MarkCompleted] Event %s retitled for task %s", task.CalendarEventID, task.ID)
	return nil
}

// DeleteEvent removes a task's event, used when the task itself is
// deleted.
func (s *CalendarService) DeleteEvent(eventID string) error {
	if eventID == "" {
		return nil
	}
	if err := s.srv.Events.Delete(s.calendarID, eventID).Do(); err != nil {
		return fmt.Errorf("%w: deleting calendar event %s: %v", ErrTransport, eventID, err)
	}
	return nil
}
