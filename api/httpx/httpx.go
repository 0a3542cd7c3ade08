// Package httpx holds the JSON, error and authentication helpers shared by
// the HTTP handlers.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kilianp07/roster/core/model"
)

// MaxBodyBytes bounds request bodies. Forecast uploads are the largest.
const MaxBodyBytes = 8 << 20

// Problem represents an RFC7807 problem details response body. Code carries
// the reason code of a rejected operation.
type Problem struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Status   int            `json:"status"`
	Detail   string         `json:"detail,omitempty"`
	Instance string         `json:"instance,omitempty"`
	Code     string         `json:"code,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// StatusClientClosedRequest is reported for cancelled operations.
const StatusClientClosedRequest = 499

// StatusFor maps a reason code to an HTTP status.
func StatusFor(code model.ReasonCode) int {
	switch code {
	case model.CodeInputInvalid, model.CodeConfigInvalid:
		return http.StatusBadRequest
	case model.CodeForecastNotSolvable:
		return http.StatusUnprocessableEntity
	case model.CodeNotFound:
		return http.StatusNotFound
	case model.CodeInvalidTransition, model.CodePlanImmutable, model.CodeAuditAppendOnly,
		model.CodeAuditGateBlocked, model.CodeFreezeWindowViolation:
		return http.StatusConflict
	case model.CodeOverrideRejected:
		return http.StatusForbidden
	case model.CodeCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteProblem writes a problem without a reason code.
func WriteProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// WriteError renders err as a problem. Errors carrying a reason code keep
// it and their details; anything else is an internal error.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var me *model.Error
	if !errors.As(err, &me) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			me = model.Errorf(model.CodeCancelled, "request cancelled").Wrap(err)
		} else {
			WriteProblem(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), err.Error(), r.URL.Path)
			return
		}
	}
	status := StatusFor(me.Code)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "urn:roster:error:" + strings.ToLower(string(me.Code)),
		Title:    string(me.Code),
		Status:   status,
		Detail:   me.Error(),
		Instance: r.URL.Path,
		Code:     string(me.Code),
		Details:  me.Details,
	})
}

// DecodeJSON decodes the request body into v. Unknown fields are rejected.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return model.Errorf(model.CodeInputInvalid, "request body is empty")
		}
		return model.Errorf(model.CodeInputInvalid, "decode request body").Wrap(err)
	}
	return nil
}

type actorKey struct{}

// Actor returns the principal attached by RequireBearer, or "".
func Actor(ctx context.Context) string {
	a, _ := ctx.Value(actorKey{}).(string)
	return a
}

// WithActor attaches an actor name to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// RequireBearer rejects requests whose Authorization header does not carry
// one of tokens. tokens maps a token to the actor it authenticates. An empty
// map disables the check.
func RequireBearer(tokens map[string]string, next http.Handler) http.Handler {
	if len(tokens) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			w.Header().Set("WWW-Authenticate", `Bearer realm="roster"`)
			WriteProblem(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", r.URL.Path)
			return
		}
		tok := strings.TrimSpace(authz[len("Bearer "):])
		actor, ok := tokens[tok]
		if !ok {
			WriteProblem(w, http.StatusUnauthorized, "unauthorized", "unknown bearer token", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// PathValue returns a required path parameter.
func PathValue(r *http.Request, name string) (string, error) {
	v := r.PathValue(name)
	if v == "" {
		return "", model.Errorf(model.CodeInputInvalid, "missing path parameter %s", name)
	}
	return v, nil
}

// Int64Query parses an optional integer query parameter.
func Int64Query(r *http.Request, name string, def int64) (int64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, model.Errorf(model.CodeInputInvalid, "query parameter %s: %q is not an integer", name, s)
	}
	return v, nil
}
