// Package forecasts exposes forecast ingestion and comparison over HTTP.
//
//	POST /v1/forecasts                      ingest a forecast text
//	GET  /v1/forecasts                      list forecast versions
//	GET  /v1/forecasts/{id}                 one forecast with its lines and tours
//	GET  /v1/forecasts/{id}/diff/{other}    tour changes from {id} to {other}
package forecasts

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kilianp07/roster/api/httpx"
	"github.com/kilianp07/roster/core/model"
)

// Service is the part of the lifecycle manager used by the handlers.
type Service interface {
	Ingest(ctx context.Context, source, text string, weekAnchor time.Time) (model.ForecastVersion, error)
	Forecast(ctx context.Context, id string) (model.ForecastVersion, error)
	Forecasts(ctx context.Context) ([]model.ForecastVersion, error)
	Diff(ctx context.Context, oldID, newID string) ([]model.DiffRecord, error)
}

// IngestRequest is the JSON body of POST /v1/forecasts.
type IngestRequest struct {
	Source string `json:"source"`
	// WeekAnchor is the Monday of the planned week, as a date or RFC3339.
	WeekAnchor string `json:"week_anchor"`
	Text       string `json:"text"`
}

// Summary is a forecast version without its lines and tours.
type Summary struct {
	ID          string                 `json:"id"`
	Source      string                 `json:"source"`
	Status      model.ValidationStatus `json:"status"`
	WeekAnchor  time.Time              `json:"week_anchor"`
	CreatedAt   time.Time              `json:"created_at"`
	Tours       int                    `json:"tours"`
	Instances   int                    `json:"instances"`
	ContentHash string                 `json:"content_hash"`
}

func summarize(f model.ForecastVersion) Summary {
	return Summary{
		ID:          f.ID,
		Source:      f.Source,
		Status:      f.Status,
		WeekAnchor:  f.WeekAnchor,
		CreatedAt:   f.CreatedAt,
		Tours:       len(f.Tours),
		Instances:   f.InstanceCount(),
		ContentHash: f.ContentHash,
	}
}

// Register mounts the forecast routes on mux.
func Register(mux *http.ServeMux, svc Service) {
	mux.HandleFunc("POST /v1/forecasts", ingest(svc))
	mux.HandleFunc("GET /v1/forecasts", list(svc))
	mux.HandleFunc("GET /v1/forecasts/{id}", get(svc))
	mux.HandleFunc("GET /v1/forecasts/{id}/diff/{other}", diff(svc))
}

// ingest accepts either a JSON IngestRequest or a text/plain body with the
// source and week given as query parameters.
func ingest(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IngestRequest
		if strings.HasPrefix(r.Header.Get("Content-Type"), "text/plain") {
			b, err := io.ReadAll(io.LimitReader(r.Body, httpx.MaxBodyBytes))
			if err != nil {
				httpx.WriteError(w, r, model.Errorf(model.CodeInputInvalid, "read body").Wrap(err))
				return
			}
			req = IngestRequest{
				Source:     r.URL.Query().Get("source"),
				WeekAnchor: r.URL.Query().Get("week_anchor"),
				Text:       string(b),
			}
		} else if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		anchor, err := ParseWeekAnchor(req.WeekAnchor)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httpx.WriteError(w, r, model.Errorf(model.CodeInputInvalid, "forecast text is empty"))
			return
		}
		if req.Source == "" {
			req.Source = "api"
		}
		f, err := svc.Ingest(r.Context(), req.Source, req.Text, anchor)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		w.Header().Set("Location", "/v1/forecasts/"+f.ID)
		httpx.WriteJSON(w, http.StatusCreated, f)
	}
}

func list(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fs, err := svc.Forecasts(r.Context())
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		out := make([]Summary, len(fs))
		for i, f := range fs {
			out[i] = summarize(f)
		}
		httpx.WriteJSON(w, http.StatusOK, out)
	}
}

func get(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := svc.Forecast(r.Context(), r.PathValue("id"))
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, f)
	}
}

func diff(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := svc.Diff(r.Context(), r.PathValue("id"), r.PathValue("other"))
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		if recs == nil {
			recs = []model.DiffRecord{}
		}
		httpx.WriteJSON(w, http.StatusOK, recs)
	}
}

// ParseWeekAnchor accepts a date (2006-01-02) or an RFC3339 timestamp. An
// empty string yields the zero time.
func ParseWeekAnchor(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, model.Errorf(model.CodeInputInvalid, "week_anchor %q is neither a date nor RFC3339", s)
	}
	return t, nil
}
