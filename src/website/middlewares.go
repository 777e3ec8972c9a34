package website

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/opencompanion/companion/src/logging"
	"github.com/opencompanion/companion/src/oops"
	"github.com/opencompanion/companion/src/perf"
)

func panicCatcherMiddleware(h Handler) Handler {
	return func(c *RequestContext) (res ResponseData) {
		defer func() {
			if recovered := recover(); recovered != nil {
				maybeError, ok := recovered.(error)
				var err error
				if ok {
					err = oops.New(maybeError, "request panicked")
				} else {
					err = oops.New(nil, fmt.Sprintf("Recovered from panic with value: %v", recovered))
				}
				res = c.ErrorResponse(http.StatusInternalServerError, err)
			}
		}()

		return h(c)
	}
}

// Gives each request a logger tagged with its route, and puts it (and the perf
// tracker) on the context so helpers further down can find them.
func requestContextMiddleware(h Handler) Handler {
	return func(c *RequestContext) ResponseData {
		logger := c.Logger.With().
			Str("route", c.Route).
			Str("method", c.Req.Method).
			Str("path", c.Req.URL.Path).
			Logger()
		c.Logger = &logger
		c.withValues(func(ctx context.Context) context.Context {
			return logging.AttachLoggerToContext(c.Logger, ctx)
		})

		return h(c)
	}
}

const slowRequestThreshold = 2 * time.Second

func trackRequestPerf(h Handler) Handler {
	return func(c *RequestContext) (res ResponseData) {
		c.Perf = perf.MakeNewRequestPerf(c.Route, c.Req.Method, c.Req.URL.Path)
		c.withValues(func(ctx context.Context) context.Context {
			return perf.AttachPerf(ctx, c.Perf)
		})
		defer func() {
			c.Perf.EndRequest()
			ev := c.Logger.Info()
			if c.Perf.Slow(slowRequestThreshold) {
				ev = c.Logger.Warn().Bool("slow", true)
			}
			ev.
				Int("status", res.StatusCode).
				Object("perf", c.Perf).
				Msg(fmt.Sprintf("Served [%s] %s in %.4fms", c.Perf.Method, c.Perf.Path, float64(c.Perf.Duration().Microseconds())/1000))
		}()

		return h(c)
	}
}

func logContextErrors(c *RequestContext, errs ...error) {
	for _, err := range errs {
		c.Logger.Error().Timestamp().Stack().Str("Requested", c.FullUrl()).Err(err).Msg("error occurred during request")
	}
}

func logContextErrorsMiddleware(h Handler) Handler {
	return func(c *RequestContext) ResponseData {
		res := h(c)
		logContextErrors(c, res.Errors...)
		return res
	}
}
