package outlook

import (
	"context"
	"strings"
	"time"

	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/Martian-dev/inbox-sync/internal/model"
	"github.com/Martian-dev/inbox-sync/internal/sync"
)

// graphDateTime is the layout of DateTimeTimeZone.dateTime.
const graphDateTime = "2006-01-02T15:04:05.9999999"

// CalendarFeed is the calendarView delta feed of the user's default calendar.
func (c *Client) CalendarFeed() sync.Feed[model.CalendarEvent] {
	return &calendarFeed{c: c}
}

type calendarFeed struct {
	c *Client
}

func (f *calendarFeed) StartFresh(ctx context.Context, opts sync.QueryOptions) (*sync.Page[model.CalendarEvent], error) {
	start, end := opts.Start, opts.End
	if start.IsZero() {
		start = time.Now().AddDate(0, -1, 0)
	}
	if end.IsZero() {
		end = start.AddDate(1, 1, 0)
	}

	params := &users.ItemCalendarViewDeltaRequestBuilderGetQueryParameters{
		StartDateTime: stringPtr(start.UTC().Format(time.RFC3339)),
		EndDateTime:   stringPtr(end.UTC().Format(time.RFC3339)),
	}
	if len(opts.Select) > 0 {
		params.Select = opts.Select
	}
	// calendarView delta rejects $filter, $orderby and $search.
	resp, err := f.c.graph.Users().ByUserId(f.c.userID).CalendarView().Delta().GetAsDeltaGetResponse(ctx,
		&users.ItemCalendarViewDeltaRequestBuilderGetRequestConfiguration{
			QueryParameters: params,
			Headers:         freshHeaders(opts.PageSize, true),
		})
	if err != nil {
		return nil, wrap(err, "calendar delta")
	}
	return deltaPage(resp.GetValue(), resp.GetOdataNextLink(), resp.GetOdataDeltaLink(), toEventChange), nil
}

func (f *calendarFeed) Resume(ctx context.Context, link string) (*sync.Page[model.CalendarEvent], error) {
	resp, err := f.c.graph.Users().ByUserId(f.c.userID).CalendarView().Delta().WithUrl(link).GetAsDeltaGetResponse(ctx, nil)
	if err != nil {
		return nil, wrap(err, "calendar delta")
	}
	return deltaPage(resp.GetValue(), resp.GetOdataNextLink(), resp.GetOdataDeltaLink(), toEventChange), nil
}

func toEventChange(e models.Eventable) sync.Change[model.CalendarEvent] {
	id := *e.GetId()
	if removed(e.GetAdditionalData()) {
		return sync.Remove[model.CalendarEvent](id)
	}
	return sync.Upsert(id, toEvent(e))
}

func toEvent(e models.Eventable) model.CalendarEvent {
	ev := model.CalendarEvent{
		ICalUID:         str(e.GetICalUId()),
		SeriesMasterID:  str(e.GetSeriesMasterId()),
		EventType:       enum(e.GetTypeEscaped()),
		Subject:         str(e.GetSubject()),
		BodyPreview:     str(e.GetBodyPreview()),
		ShowAs:          enum(e.GetShowAs()),
		Importance:      enum(e.GetImportance()),
		Sensitivity:     enum(e.GetSensitivity()),
		Categories:      model.Strings(e.GetCategories()),
		WebLink:         str(e.GetWebLink()),
		RemoteUpdatedMs: model.MillisPtr(e.GetLastModifiedDateTime()),
		Status:          model.EventConfirmed,
		Attendees:       model.Attendees{},
	}

	if b := e.GetBody(); b != nil {
		ev.Body = str(b.GetContent())
		ev.BodyType = enum(b.GetContentType())
	}
	if l := e.GetLocation(); l != nil {
		ev.Location = str(l.GetDisplayName())
	}
	if allDay := e.GetIsAllDay(); allDay != nil {
		ev.IsAllDay = *allDay
	}
	if cancelled := e.GetIsCancelled(); cancelled != nil && *cancelled {
		ev.Status = model.EventCancelled
	}
	if s := e.GetStart(); s != nil {
		ev.StartMs = parseDateTime(s.GetDateTime(), s.GetTimeZone())
		ev.TimeZone = str(s.GetTimeZone())
	}
	if end := e.GetEnd(); end != nil {
		ev.EndMs = parseDateTime(end.GetDateTime(), end.GetTimeZone())
	}
	if o := e.GetOrganizer(); o != nil && o.GetEmailAddress() != nil {
		ev.OrganizerName = str(o.GetEmailAddress().GetName())
		ev.OrganizerEmail = str(o.GetEmailAddress().GetAddress())
	}
	if m := e.GetOnlineMeeting(); m != nil {
		ev.OnlineMeetingURL = str(m.GetJoinUrl())
	}
	for _, a := range e.GetAttendees() {
		addr := a.GetEmailAddress()
		if addr == nil || deref(addr.GetAddress()) == "" {
			continue
		}
		att := model.Attendee{Name: deref(addr.GetName()), Email: strings.ToLower(deref(addr.GetAddress()))}
		if t := enum(a.GetTypeEscaped()); t != nil {
			att.Type = *t
		}
		if st := a.GetStatus(); st != nil {
			if r := enum(st.GetResponse()); r != nil {
				att.Response = *r
			}
		}
		ev.Attendees = append(ev.Attendees, att)
	}
	return ev
}

// parseDateTime reads a Graph DateTimeTimeZone. Zones Go cannot load, such
// as Windows zone names, are read as UTC; fresh requests ask for UTC.
func parseDateTime(value, zone *string) *int64 {
	if value == nil || *value == "" {
		return nil
	}
	loc := time.UTC
	if zone != nil && *zone != "" {
		if l, err := time.LoadLocation(*zone); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(graphDateTime, *value, loc)
	if err != nil {
		return nil
	}
	return model.MillisPtr(&t)
}

func stringPtr(s string) *string {
	return &s
}
