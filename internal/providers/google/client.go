// Package google reads the Google Calendar events feed using sync tokens.
package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Martian-dev/inbox-sync/internal/model"
	"github.com/Martian-dev/inbox-sync/internal/sync"
)

const previewRunes = 255

// Client reads one calendar of one Google account.
type Client struct {
	svc        *calendar.Service
	calendarID string
}

// New creates a client from a broker-issued OAuth token.
func New(ctx context.Context, accessToken, calendarID string) (*Client, error) {
	config := &oauth2.Config{
		Scopes: []string{calendar.CalendarReadonlyScope},
	}
	httpClient := config.Client(ctx, &oauth2.Token{AccessToken: accessToken})

	svc, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return NewWithService(svc, calendarID), nil
}

// NewWithService wraps an existing service. An empty calendarID means the
// primary calendar.
func NewWithService(svc *calendar.Service, calendarID string) *Client {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Client{svc: svc, calendarID: calendarID}
}

// CalendarFeed returns the events feed. Google reports removals in an
// incremental feed as events with status cancelled; they become tombstones.
func (c *Client) CalendarFeed() sync.Feed[model.CalendarEvent] {
	return &calendarFeed{c: c}
}

// link is the opaque continuation handed to the runner. Page continuations of
// a fresh listing repeat its window; sync token continuations never do.
type link struct {
	SyncToken string `json:"s,omitempty"`
	PageToken string `json:"p,omitempty"`
	TimeMin   string `json:"min,omitempty"`
	TimeMax   string `json:"max,omitempty"`
	PageSize  int64  `json:"n,omitempty"`
}

func (l link) encode() string {
	b, _ := json.Marshal(l)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeLink(s string) (link, error) {
	var l link
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return l, fmt.Errorf("invalid calendar cursor: %w", err)
	}
	if err := json.Unmarshal(b, &l); err != nil {
		return l, fmt.Errorf("invalid calendar cursor: %w", err)
	}
	if l.SyncToken == "" && l.PageToken == "" {
		return l, errors.New("invalid calendar cursor: empty")
	}
	return l, nil
}

type calendarFeed struct {
	c *Client
}

func (f *calendarFeed) StartFresh(ctx context.Context, opts sync.QueryOptions) (*sync.Page[model.CalendarEvent], error) {
	l := link{PageSize: int64(opts.PageSize)}
	if !opts.Start.IsZero() {
		l.TimeMin = opts.Start.UTC().Format(time.RFC3339)
	}
	if !opts.End.IsZero() {
		l.TimeMax = opts.End.UTC().Format(time.RFC3339)
	}
	return f.list(ctx, l)
}

func (f *calendarFeed) Resume(ctx context.Context, s string) (*sync.Page[model.CalendarEvent], error) {
	l, err := decodeLink(s)
	if err != nil {
		return nil, err
	}
	return f.list(ctx, l)
}

func (f *calendarFeed) list(ctx context.Context, l link) (*sync.Page[model.CalendarEvent], error) {
	call := f.c.svc.Events.List(f.c.calendarID).ShowDeleted(true).SingleEvents(true).Context(ctx)
	if l.SyncToken != "" {
		call = call.SyncToken(l.SyncToken)
	} else {
		if l.TimeMin != "" {
			call = call.TimeMin(l.TimeMin)
		}
		if l.TimeMax != "" {
			call = call.TimeMax(l.TimeMax)
		}
		if l.PageSize > 0 {
			call = call.MaxResults(l.PageSize)
		}
	}
	if l.PageToken != "" {
		call = call.PageToken(l.PageToken)
	}

	resp, err := call.Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusGone {
			return nil, fmt.Errorf("calendar events: %w: %v", sync.ErrCursorExpired, err)
		}
		return nil, fmt.Errorf("calendar events: %w", err)
	}

	page := &sync.Page[model.CalendarEvent]{Changes: make([]sync.Change[model.CalendarEvent], 0, len(resp.Items))}
	for _, e := range resp.Items {
		if e == nil || e.Id == "" {
			continue
		}
		if e.Status == model.EventCancelled {
			page.Changes = append(page.Changes, sync.Remove[model.CalendarEvent](e.Id))
			continue
		}
		page.Changes = append(page.Changes, sync.Upsert(e.Id, toEvent(e)))
	}

	switch {
	case resp.NextPageToken != "":
		next := l
		next.PageToken = resp.NextPageToken
		page.Next = sync.NextPage(next.encode())
	case resp.NextSyncToken != "":
		page.Next = sync.DeltaLink(link{SyncToken: resp.NextSyncToken}.encode())
	default:
		page.Next = sync.NextPage("")
	}
	return page, nil
}

func toEvent(e *calendar.Event) model.CalendarEvent {
	ev := model.CalendarEvent{
		ICalUID:          model.StringPtr(e.ICalUID),
		SeriesMasterID:   model.StringPtr(e.RecurringEventId),
		EventType:        model.StringPtr(e.EventType),
		Subject:          model.StringPtr(e.Summary),
		Body:             model.StringPtr(e.Description),
		Location:         model.StringPtr(e.Location),
		Status:           model.EventConfirmed,
		Sensitivity:      model.StringPtr(e.Visibility),
		WebLink:          model.StringPtr(e.HtmlLink),
		OnlineMeetingURL: model.StringPtr(e.HangoutLink),
		Attendees:        model.Attendees{},
		Categories:       model.Strings{},
	}
	if e.Description != "" {
		ev.BodyType = model.StringPtr("text")
		ev.BodyPreview = model.StringPtr(preview(e.Description, previewRunes))
	}
	if e.Transparency == "transparent" {
		ev.ShowAs = model.StringPtr("free")
	} else {
		ev.ShowAs = model.StringPtr("busy")
	}
	if e.Start != nil {
		ev.StartMs, ev.IsAllDay = eventTime(e.Start)
		ev.TimeZone = model.StringPtr(e.Start.TimeZone)
	}
	if e.End != nil {
		ev.EndMs, _ = eventTime(e.End)
	}
	if e.Organizer != nil {
		ev.OrganizerName = model.StringPtr(e.Organizer.DisplayName)
		ev.OrganizerEmail = model.StringPtr(strings.ToLower(e.Organizer.Email))
	}
	for _, a := range e.Attendees {
		if a == nil || a.Email == "" {
			continue
		}
		kind := "required"
		if a.Optional {
			kind = "optional"
		} else if a.Resource {
			kind = "resource"
		}
		ev.Attendees = append(ev.Attendees, model.Attendee{
			Name:     a.DisplayName,
			Email:    strings.ToLower(a.Email),
			Type:     kind,
			Response: a.ResponseStatus,
		})
	}
	if t, err := time.Parse(time.RFC3339, e.Updated); err == nil {
		ev.RemoteUpdatedMs = model.MillisPtr(&t)
	}
	return ev
}

// preview cuts s to at most n runes.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// eventTime reads a timed or all-day boundary. All-day dates are midnight UTC.
func eventTime(t *calendar.EventDateTime) (*int64, bool) {
	if t.DateTime != "" {
		if parsed, err := time.Parse(time.RFC3339, t.DateTime); err == nil {
			return model.MillisPtr(&parsed), false
		}
		return nil, false
	}
	if t.Date != "" {
		if parsed, err := time.Parse("2006-01-02", t.Date); err == nil {
			return model.MillisPtr(&parsed), true
		}
	}
	return nil, false
}
