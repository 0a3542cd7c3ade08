package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/roster/api"
	"github.com/kilianp07/roster/api/httpx"
	"github.com/kilianp07/roster/core/events"
	"github.com/kilianp07/roster/core/lifecycle"
	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/infra/store"
)

const (
	token        = "secret"
	minimalCover = "Mo 06:00-08:00\nMo 08:30-10:30\nMo 11:00-13:00\n"
)

type client struct {
	t   *testing.T
	srv *httptest.Server
}

func newServer(t *testing.T) *client {
	t.Helper()
	m := lifecycle.New(store.NewMemoryStore())
	srv := httptest.NewServer(api.NewHandler(m, api.Config{Tokens: map[string]string{token: "ops"}}))
	t.Cleanup(func() {
		srv.Close()
		_ = m.Close()
	})
	return &client{t: t, srv: srv}
}

func (c *client) do(method, path, body string, out any) *http.Response {
	c.t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, rd)
	require.NoError(c.t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	resp.Body = io.NopCloser(bytes.NewReader(b))
	if out != nil {
		require.NoError(c.t, json.Unmarshal(b, out), string(b))
	}
	return resp
}

func (c *client) solved(text string) model.PlanVersion {
	c.t.Helper()
	var f model.ForecastVersion
	body, _ := json.Marshal(map[string]string{"source": "test", "week_anchor": "2026-03-02", "text": text})
	resp := c.do(http.MethodPost, "/v1/forecasts", string(body), &f)
	require.Equal(c.t, http.StatusCreated, resp.StatusCode)

	var p model.PlanVersion
	resp = c.do(http.MethodPost, "/v1/plans?wait=true",
		`{"forecast_id":"`+f.ID+`","seed":1,"config":{"refine":{"enabled":false}}}`, &p)
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	require.Equal(c.t, model.PlanSolved, p.Status, p.FailureReason)
	return p
}

func TestAuth(t *testing.T) {
	c := newServer(t)

	resp, err := c.srv.Client().Get(c.srv.URL + "/v1/forecasts")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, c.srv.URL+"/v1/forecasts", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = c.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = c.srv.Client().Get(c.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPlanFlow(t *testing.T) {
	c := newServer(t)
	p := c.solved(minimalCover)
	assert.Equal(t, 1, p.KPIs.DriversTotal)

	var as []model.Assignment
	resp := c.do(http.MethodGet, "/v1/plans/"+p.ID+"/assignments", "", &as)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, as, 3)

	resp = c.do(http.MethodGet, "/v1/plans/"+p.ID+"/assignments?format=csv", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	rows, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "2026-03-02", rows[1][2])

	var k model.KPIs
	c.do(http.MethodGet, "/v1/plans/"+p.ID+"/kpis", "", &k)
	assert.Equal(t, p.KPIs, k)

	var recs []model.AuditRecord
	resp = c.do(http.MethodPost, "/v1/plans/"+p.ID+"/audit", "", &recs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, recs, len(model.AllChecks))

	var locked model.PlanVersion
	resp = c.do(http.MethodPost, "/v1/plans/"+p.ID+"/lock", "", &locked)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.PlanLocked, locked.Status)
	assert.Equal(t, "ops", locked.LockedBy)

	var prob httpx.Problem
	resp = c.do(http.MethodPost, "/v1/plans/"+p.ID+"/lock", `{"actor":"someone"}`, &prob)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(model.CodePlanImmutable), prob.Code)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))

	var evs []events.Event
	c.do(http.MethodGet, "/v1/plans/"+p.ID+"/events?from=1", "", &evs)
	require.NotEmpty(t, evs)
	assert.Equal(t, int64(1), evs[0].Seq)
	assert.Equal(t, model.PlanQueued, *evs[0].Status)

	var ps []model.PlanVersion
	c.do(http.MethodGet, "/v1/plans?forecast_id="+p.ForecastID, "", &ps)
	assert.Len(t, ps, 1)
}

func TestErrors(t *testing.T) {
	c := newServer(t)

	var prob httpx.Problem
	resp := c.do(http.MethodGet, "/v1/plans/missing", "", &prob)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(model.CodeNotFound), prob.Code)

	resp = c.do(http.MethodPost, "/v1/plans", `{"forecast_id":"x","bogus":1}`, &prob)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(model.CodeInputInvalid), prob.Code)

	var f model.ForecastVersion
	resp = c.do(http.MethodPost, "/v1/forecasts", `{"text":"XX 06:00-08:00\n"}`, &f)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, model.ValidationFail, f.Status)
	resp = c.do(http.MethodPost, "/v1/plans", `{"forecast_id":"`+f.ID+`"}`, &prob)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, string(model.CodeForecastNotSolvable), prob.Code)

	resp = c.do(http.MethodPost, "/v1/forecasts", `{"text":"Mo 06:00-08:00","week_anchor":"next week"}`, &prob)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = c.do(http.MethodGet, "/v1/plans/missing/events?from=x", "", &prob)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestPlainTextAndDiff(t *testing.T) {
	c := newServer(t)

	post := func(text string) model.ForecastVersion {
		req, _ := http.NewRequest(http.MethodPost, c.srv.URL+"/v1/forecasts?source=upload&week_anchor=2026-03-02", strings.NewReader(text))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
		resp, err := c.srv.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var f model.ForecastVersion
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&f))
		return f
	}
	old := post(minimalCover)
	cur := post(minimalCover + "Di 06:00-08:00\n")
	assert.Equal(t, "upload", cur.Source)

	var recs []model.DiffRecord
	resp := c.do(http.MethodGet, "/v1/forecasts/"+old.ID+"/diff/"+cur.ID, "", &recs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, recs, 1)
	assert.Equal(t, model.DiffAdded, recs[0].Type)

	var list []map[string]any
	c.do(http.MethodGet, "/v1/forecasts", "", &list)
	assert.Len(t, list, 2)
}

func TestEventStreams(t *testing.T) {
	c := newServer(t)
	p := c.solved(minimalCover)

	t.Run("websocket", func(t *testing.T) {
		url := "ws" + strings.TrimPrefix(c.srv.URL, "http") + "/v1/plans/" + p.ID + "/events/ws?until=terminal"
		hdr := http.Header{"Authorization": {"Bearer " + token}}
		conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
		require.NoError(t, err)
		defer conn.Close()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

		var got []events.Event
		for {
			var ev events.Event
			if err := conn.ReadJSON(&ev); err != nil {
				assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
				break
			}
			got = append(got, ev)
		}
		require.NotEmpty(t, got)
		assert.Equal(t, int64(1), got[0].Seq)
		assert.Equal(t, model.PlanSolved, *got[len(got)-1].Status)
	})

	t.Run("sse", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.srv.URL+"/v1/plans/"+p.ID+"/events/sse?until=terminal&from=2", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := c.srv.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		var ids []string
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if id, ok := strings.CutPrefix(sc.Text(), "id: "); ok {
				ids = append(ids, id)
			}
		}
		require.NotEmpty(t, ids)
		assert.Equal(t, "2", ids[0])
	})
}
