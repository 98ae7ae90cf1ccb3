package provider

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/njoerd114/socialsync/internal/model"
)

const googleEvents = `{
  "items": [
    {"id":"e1","status":"confirmed","summary":"Standup","start":{"dateTime":"2026-10-14T09:00:00Z"},"end":{"dateTime":"2026-10-14T09:15:00Z"},"etag":"\"1\""},
    {"id":"e2","status":"confirmed","summary":"Holiday","start":{"date":"2026-10-20"},"end":{"date":"2026-10-21"}},
    {"id":"e3","status":"cancelled"}
  ]
}`

func TestGoogleCalendars_FetchAndUpsync(t *testing.T) {
	var (
		auth     string
		inserted string
		putCalls int
	)
	e := newEnv(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/calendars/primary/events":
			writeJSON(w, 200, googleEvents)
		case r.Method == http.MethodPost && r.URL.Path == "/calendars/primary/events":
			b, _ := io.ReadAll(r.Body)
			inserted = string(b)
			writeJSON(w, 200, `{"id":"e-new"}`)
		case r.Method == http.MethodPut:
			putCalls++
			writeJSON(w, 500, `{"error":{"code":500,"message":"backend error"}}`)
		default:
			writeJSON(w, 404, `{"error":{"code":404,"message":"not found"}}`)
		}
	})
	id := e.account("google", "google-calendars")

	res := e.sync("google", model.DataTypeCalendars)
	if res.Result != model.ResultSuccess || res.Added != 2 {
		t.Fatalf("first pass = %+v, want two events added", res)
	}
	if auth != "Bearer tok" {
		t.Errorf("Authorization = %q", auth)
	}
	recs := e.records(id, model.DataTypeCalendars)
	if recs["e2"] == nil || recs["e2"].Fields[fieldAllDay] != "true" || recs["e2"].Fields[fieldStart] != "2026-10-20" {
		t.Errorf("all-day event = %+v", recs["e2"])
	}
	if _, ok := recs["e3"]; ok {
		t.Error("cancelled event stored")
	}

	ctx := context.Background()
	if err := e.store.StageLocalChange(ctx, model.ChangeAdded, &model.Record{
		AccountID: id, DataType: model.DataTypeCalendars,
		Fields: map[string]string{fieldSummary: "Lunch", fieldStart: "2026-10-15T12:00:00Z", fieldEnd: "2026-10-15T13:00:00Z", fieldAllDay: "false"},
	}); err != nil {
		t.Fatalf("StageLocalChange add: %v", err)
	}
	e1 := recs["e1"].Clone()
	e1.Fields[fieldSummary] = "Standup (moved)"
	if err := e.store.StageLocalChange(ctx, model.ChangeModified, e1); err != nil {
		t.Fatalf("StageLocalChange modify: %v", err)
	}

	res = e.sync("google", model.DataTypeCalendars)

	if res.Result != model.ResultSuccess {
		t.Fatalf("second pass = %v/%v, want success despite item failure", res.Result, res.Code)
	}
	if res.Upsynced != 1 || res.Failures != 1 || putCalls != 1 {
		t.Errorf("upsynced/failures/puts = %d/%d/%d, want 1/1/1", res.Upsynced, res.Failures, putCalls)
	}
	if gjson.Get(inserted, "summary").String() != "Lunch" || gjson.Get(inserted, "start.dateTime").String() != "2026-10-15T12:00:00Z" {
		t.Errorf("insert body = %s", inserted)
	}
	if recs := e.records(id, model.DataTypeCalendars); recs["e-new"] == nil {
		t.Error("inserted event not resolved to its remote id")
	}

	local, err := e.store.LocalChanges(ctx, id, model.DataTypeCalendars)
	if err != nil {
		t.Fatalf("LocalChanges: %v", err)
	}
	if len(local) != 1 || local[0].Record.RemoteID != "e1" {
		t.Errorf("pending changes = %+v, want the failed e1 modification", local)
	}
}

func TestGoogleCalendars_UnauthenticatedRaisesFlag(t *testing.T) {
	e := newEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 401, `{"error":{"code":401,"message":"Invalid Credentials","status":"UNAUTHENTICATED"}}`)
	})
	id := e.account("google", "google-calendars")

	res := e.sync("google", model.DataTypeCalendars)

	if res.Code != model.ErrAuthentication {
		t.Errorf("code = %v, want authentication_failure", res.Code)
	}
	if got := e.flag(id, "google-calendars", model.KeyCredentialsNeedUpdateFrom); got != "socialsync-google" {
		t.Errorf("CredentialsNeedUpdateFrom = %q", got)
	}
}

func TestEncodeGoogleEvent_AllDay(t *testing.T) {
	b, err := encodeGoogleEvent(&model.Record{Fields: map[string]string{
		fieldSummary: "Trip", fieldStart: "2026-11-01", fieldEnd: "2026-11-03", fieldAllDay: "true",
	}})
	if err != nil {
		t.Fatalf("encodeGoogleEvent: %v", err)
	}
	s := string(b)
	if gjson.Get(s, "start.date").String() != "2026-11-01" || gjson.Get(s, "start.dateTime").Exists() {
		t.Errorf("body = %s", s)
	}
	if strings.Contains(s, "description") {
		t.Errorf("empty fields should be omitted: %s", s)
	}
}
