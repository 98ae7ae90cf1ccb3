package provider

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/njoerd114/socialsync/internal/gateway"
	"github.com/njoerd114/socialsync/internal/model"
	"github.com/njoerd114/socialsync/internal/state"
	"github.com/njoerd114/socialsync/internal/sync"
)

const (
	googleProvider  = "google"
	googleBaseURL   = "https://www.googleapis.com/calendar/v3"
	googleService   = "google-calendars"
	googlePageSize  = 250
	googleCalendar  = "primary"
	jsonContentType = "application/json"
)

var googleErrors = gateway.ErrorPaths{
	Code:    []string{"error.code"},
	Type:    []string{"error.status"},
	Message: []string{"error.message"},
}

func googleExpired(app *gateway.AppError) bool {
	return app.Code == 401 || app.Type == "UNAUTHENTICATED"
}

// Event fields stored on calendar records.
const (
	fieldSummary     = "summary"
	fieldDescription = "description"
	fieldLocation    = "location"
	fieldStart       = "start"
	fieldEnd         = "end"
	fieldAllDay      = "all_day"
)

// googleCalendars syncs the events of the account's primary calendar in
// both directions.
type googleCalendars struct {
	sync.Base
	base     string
	pageSize int
}

func newGoogleCalendars(s Settings, d Deps) sync.Adaptor {
	return &googleCalendars{
		Base: sync.NewBase(sync.Spec{
			Provider: googleProvider,
			Service:  googleService,
			DataType: model.DataTypeCalendars,
			Keys:     keys(googleProvider, googleService, "client_id", "client_secret"),
			TwoWay:   true,
			Expired:  googleExpired,
		}, d.Records),
		base:     s.base(googleBaseURL),
		pageSize: s.pageSize(googlePageSize),
	}
}

func (a *googleCalendars) eventsURL() string {
	return a.base + "/calendars/" + googleCalendar + "/events"
}

func (a *googleCalendars) BeginSync(ap *sync.AccountPass) {
	auth := gateway.Bearer(ap.Token.AccessToken)
	list := func(pageToken string) gateway.Request {
		q := url.Values{}
		q.Set("maxResults", strconv.Itoa(a.pageSize))
		q.Set("singleEvents", "false")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		return gateway.Request{Method: "GET", URL: a.eventsURL() + "?" + q.Encode(), Auth: auth}
	}

	ap.Paginate(sync.PageSpec{
		First:   list(""),
		Next:    list,
		Extract: extractGoogleEvents,
	}, func(recs []*model.Record, complete bool) {
		ap.Stage(sync.Reconcile(ap.ID(), recs, ap.Snapshot, complete))
		ap.Upsync(sync.UpsyncSpec{
			Build:  func(c state.LocalChange) (gateway.Request, error) { return a.upsyncRequest(c, auth) },
			Accept: acceptGoogleEvent,
		}, func() {
			if len(ap.Local) > 0 {
				ap.Logger().Debug("upsync finished", "changes", len(ap.Local), "failed", len(ap.Failures))
			}
		})
	})
}

func (a *googleCalendars) upsyncRequest(c state.LocalChange, auth gateway.Authorizer) (gateway.Request, error) {
	switch c.Kind {
	case model.ChangeAdded:
		body, err := encodeGoogleEvent(c.Record)
		if err != nil {
			return gateway.Request{}, err
		}
		return gateway.Request{Method: "POST", URL: a.eventsURL(), Body: body, ContentType: jsonContentType, Auth: auth}, nil
	case model.ChangeModified, model.ChangeDeleted:
		if c.Record.RemoteID == "" {
			return gateway.Request{}, fmt.Errorf("%s change for %s has no remote id", c.Kind, c.Record.LocalID)
		}
		u := a.eventsURL() + "/" + url.PathEscape(c.Record.RemoteID)
		if c.Kind == model.ChangeDeleted {
			return gateway.Request{Method: "DELETE", URL: u, Auth: auth}, nil
		}
		body, err := encodeGoogleEvent(c.Record)
		if err != nil {
			return gateway.Request{}, err
		}
		return gateway.Request{Method: "PUT", URL: u, Body: body, ContentType: jsonContentType, Auth: auth}, nil
	}
	return gateway.Request{}, fmt.Errorf("unsupported change kind %d", c.Kind)
}

func acceptGoogleEvent(c state.LocalChange, reply *gateway.Reply) (string, error) {
	if c.Kind != model.ChangeAdded {
		return c.Record.RemoteID, nil
	}
	id := gjson.GetBytes(reply.Body, "id").String()
	if id == "" {
		return "", fmt.Errorf("insert reply for %s carries no event id", c.Record.LocalID)
	}
	return id, nil
}

// encodeGoogleEvent renders a calendar record as an events resource.
func encodeGoogleEvent(r *model.Record) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	set := func(path, value string) {
		if err != nil || value == "" {
			return
		}
		body, err = sjson.SetBytes(body, path, value)
	}
	set("summary", r.Fields[fieldSummary])
	set("description", r.Fields[fieldDescription])
	set("location", r.Fields[fieldLocation])
	timeKey := "dateTime"
	if r.Fields[fieldAllDay] == "true" {
		timeKey = "date"
	}
	set("start."+timeKey, r.Fields[fieldStart])
	set("end."+timeKey, r.Fields[fieldEnd])
	if err != nil {
		return nil, fmt.Errorf("encoding event %s: %w", r.LocalID, err)
	}
	return body, nil
}

func extractGoogleEvents(body []byte) (sync.Page, error) {
	if !gjson.ValidBytes(body) {
		return sync.Page{}, errInvalidJSON
	}
	var p sync.Page
	gjson.GetBytes(body, "items").ForEach(func(_, ev gjson.Result) bool {
		id := ev.Get("id").String()
		if id == "" || ev.Get("status").String() == "cancelled" {
			return true
		}
		allDay := !ev.Get("start.dateTime").Exists()
		start, end := ev.Get("start.dateTime").String(), ev.Get("end.dateTime").String()
		if allDay {
			start, end = ev.Get("start.date").String(), ev.Get("end.date").String()
		}
		p.Records = append(p.Records, &model.Record{
			RemoteID: id,
			Fields: map[string]string{
				fieldSummary:     ev.Get("summary").String(),
				fieldDescription: ev.Get("description").String(),
				fieldLocation:    ev.Get("location").String(),
				fieldStart:       start,
				fieldEnd:         end,
				fieldAllDay:      strconv.FormatBool(allDay),
			},
			Volatile: map[string]string{
				"etag":      ev.Get("etag").String(),
				"html_link": ev.Get("htmlLink").String(),
			},
		})
		return true
	})
	p.Next = gjson.GetBytes(body, "nextPageToken").String()
	return p, nil
}
