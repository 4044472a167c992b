package api

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/ato-project/ato/pkg/telemetry"
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument wraps every request in a span, records request metrics and logs
// the outcome. The route label is the matched mux pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.tel != nil && telemetry.FromTelemetryContext(ctx) == nil {
			ctx = s.tel.WithContext(ctx)
		}
		op := telemetry.StartOperation(ctx, "api.request")
		r = r.WithContext(op.Ctx)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		op.Span.SetAttributes(
			telemetry.AttrHTTPRoute.String(route),
			telemetry.AttrHTTPStatus.Int(rec.status),
		)
		var err error
		if rec.status >= http.StatusInternalServerError {
			err = fmt.Errorf("%s %s: %s", r.Method, route, http.StatusText(rec.status))
		}
		op.End(err)

		duration := op.Timer.Duration()
		if s.tel != nil {
			s.tel.Metrics.RecordHTTPRequest(r.Method, route, rec.status, duration)
		}

		event := s.logger.Debug()
		if rec.status >= http.StatusInternalServerError {
			event = s.logger.Error()
		} else if rec.status >= http.StatusBadRequest {
			event = s.logger.Info()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", rec.status).
			Dur("duration", duration).
			Msg("Request served")
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.Error().
					Interface("panic", v).
					Bytes("stack", debug.Stack()).
					Str("path", r.URL.Path).
					Msg("Handler panicked")
				writeError(w, fmt.Errorf("panic: %v", v))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
