package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/inbox-sync/internal/api"
	"github.com/Martian-dev/inbox-sync/internal/app"
	"github.com/Martian-dev/inbox-sync/internal/auth"
	"github.com/Martian-dev/inbox-sync/internal/config"
	"github.com/Martian-dev/inbox-sync/internal/model"
	"github.com/Martian-dev/inbox-sync/internal/store/storetest"
	"github.com/Martian-dev/inbox-sync/internal/sync"
)

type calendarProvider struct{}

func (calendarProvider) CalendarFeed() sync.Feed[model.CalendarEvent] { return calendarFeed{} }

type calendarFeed struct{}

func (calendarFeed) StartFresh(context.Context, sync.QueryOptions) (*sync.Page[model.CalendarEvent], error) {
	return &sync.Page[model.CalendarEvent]{
		Changes: []sync.Change[model.CalendarEvent]{sync.Upsert("e1", model.CalendarEvent{})},
		Next:    sync.DeltaLink("d1"),
	}, nil
}

func (calendarFeed) Resume(context.Context, string) (*sync.Page[model.CalendarEvent], error) {
	return &sync.Page[model.CalendarEvent]{Next: sync.DeltaLink("d1")}, nil
}

type tokenVerifier string

func (v tokenVerifier) UserFromRequest(r *http.Request) (*auth.User, error) {
	if r.Header.Get("Authorization") != "Bearer "+string(v) {
		return nil, errors.New("bad token")
	}
	return &auth.User{ID: "u1"}, nil
}

func newServer(t *testing.T, verifier api.Verifier) (*api.Server, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	factory := func(context.Context, config.AccountConfig) (app.Provider, error) {
		return calendarProvider{}, nil
	}
	svc := app.NewService(storetest.New(t), factory, config.SyncConfig{Events: true},
		[]config.AccountConfig{{ID: "bob", Provider: "google"}})

	srv := &api.Server{Service: svc, Verifier: verifier}
	return srv, srv.Routes()
}

func do(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	_, h := newServer(t, nil)

	w := do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestTriggerSyncAndListCursors(t *testing.T) {
	_, h := newServer(t, nil)

	w := do(h, http.MethodPost, "/v1/accounts/bob/sync/calendar", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report app.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.Results, 1)
	assert.Equal(t, 1, report.Results[0].Created)
	assert.Equal(t, "d1", report.Results[0].DeltaToken)

	w = do(h, http.MethodGet, "/v1/accounts/bob/sync", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Cursors []model.SyncCursor `json:"cursors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Cursors, 1)
	assert.Equal(t, model.StatusCompleted, body.Cursors[0].Status)

	w = do(h, http.MethodPost, "/v1/accounts/bob/sync/calendar?full=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.Results[0].FullSync)
}

func TestTriggerSyncErrors(t *testing.T) {
	srv, h := newServer(t, nil)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown resource", "/v1/accounts/bob/sync/mail", http.StatusBadRequest},
		{"unknown account", "/v1/accounts/carol/sync/calendar", http.StatusNotFound},
		{"unsupported", "/v1/accounts/bob/sync/teams", http.StatusUnprocessableEntity},
		{"bad full flag", "/v1/accounts/bob/sync/calendar?full=maybe", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, http.MethodPost, tt.path, "")
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	release := make(chan struct{})
	require.NoError(t, srv.Service.Manager.Start(context.Background(), sync.Key("bob", model.ResourceCalendar), func(context.Context) error {
		<-release
		return nil
	}))
	w := do(h, http.MethodPost, "/v1/accounts/bob/sync/calendar", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	close(release)
	srv.Service.Manager.Wait()

	w = do(h, http.MethodGet, "/v1/accounts/carol/sync", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerifierGuardsV1Only(t *testing.T) {
	_, h := newServer(t, tokenVerifier("good"))

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/v1/accounts", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/v1/accounts", "bad").Code)

	w := do(h, http.MethodGet, "/v1/accounts", "good")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"accounts":["bob"]}`, w.Body.String())
}
