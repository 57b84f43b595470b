package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/readlater/readlater/internal/api/models"
)

// Recovery turns a handler panic into a 500 problem. The panic is logged on
// the request logger, so the line carries the user and export request the
// handler had tagged, and recorded on the request span.
//
// http.ErrAbortHandler is re-raised. No problem is written when the handler
// already started its response.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := newStatusWriter(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				err := fmt.Errorf("panic: %v", rec)
				span := trace.SpanFromContext(r.Context())
				span.RecordError(err)
				span.SetStatus(codes.Error, "panic")

				RequestLogger(r.Context(), log).Error().
					Err(err).
					Str("route", routePattern(r)).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				if sw.wroteHeader {
					return
				}
				problem := models.NewProblem(models.ProblemTypeInternal, GetRequestID(r.Context()), "an unexpected error occurred")
				problem.Instance = r.URL.Path
				problem.Write(sw)
			}()

			next.ServeHTTP(sw, r)
		})
	}
}
