package website

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opencompanion/companion/src/charcard"
	"github.com/opencompanion/companion/src/logging"
	"github.com/opencompanion/companion/src/perf"
	"github.com/rs/zerolog"
)

type Router struct {
	Routes []Route

	// Runs when a path matches some route, but not for the request's method. If
	// nil, routing carries on to the next route as though nothing matched.
	MethodNotAllowed Handler
}

type Route struct {
	Method  string // empty matches any method
	Regexes []*regexp.Regexp
	Handler Handler
}

func (r *Route) String() string {
	var routeStrings []string
	for _, regex := range r.Regexes {
		routeStrings = append(routeStrings, regex.String())
	}
	return fmt.Sprintf("%s %v", r.Method, routeStrings)
}

type RouteBuilder struct {
	Router      *Router
	Prefixes    []*regexp.Regexp
	Middlewares []Middleware
}

type Handler func(c *RequestContext) ResponseData
type Middleware func(h Handler) Handler

func applyMiddlewares(h Handler, ms []Middleware) Handler {
	for i := len(ms) - 1; i >= 0; i-- {
		h = ms[i](h)
	}
	return h
}

func (rb *RouteBuilder) Handle(methods []string, regex *regexp.Regexp, h Handler) {
	if !strings.HasPrefix(regex.String(), "^") {
		panic("All routing regexes must begin with '^'")
	}

	h = applyMiddlewares(h, rb.Middlewares)
	for _, method := range methods {
		rb.Router.Routes = append(rb.Router.Routes, Route{
			Method:  method,
			Regexes: append(rb.Prefixes[:len(rb.Prefixes):len(rb.Prefixes)], regex),
			Handler: h,
		})
	}
}

func (rb *RouteBuilder) AnyMethod(regex *regexp.Regexp, h Handler) {
	rb.Handle([]string{""}, regex, h)
}

func (rb *RouteBuilder) GET(regex *regexp.Regexp, h Handler) {
	rb.Handle([]string{http.MethodGet}, regex, h)
}

func (rb *RouteBuilder) POST(regex *regexp.Regexp, h Handler) {
	rb.Handle([]string{http.MethodPost}, regex, h)
}

func (rb *RouteBuilder) MethodNotAllowed(h Handler) {
	rb.Router.MethodNotAllowed = applyMiddlewares(h, rb.Middlewares)
}

func (rb *RouteBuilder) Group(regex *regexp.Regexp, ms ...Middleware) RouteBuilder {
	newRb := *rb
	newRb.Prefixes = append(rb.Prefixes[:len(rb.Prefixes):len(rb.Prefixes)], regex)
	newRb.Middlewares = append(rb.Middlewares[:len(rb.Middlewares):len(rb.Middlewares)], ms...)
	return newRb
}

// Matches path against each of the route's regexes in turn, each one consuming
// the part of the path it matched. Trailing slashes are never consumed.
func (r *Route) match(path string) (map[string]string, bool) {
	params := map[string]string{}
	for _, regex := range r.Regexes {
		match := regex.FindStringSubmatch(path)
		if match == nil {
			return nil, false
		}

		for i, name := range regex.SubexpNames() {
			if name == "" {
				continue
			}
			if _, exists := params[name]; exists {
				logging.Warn().
					Str("route", r.String()).
					Str("paramName", name).
					Msg("duplicate names for path parameters; last one wins")
			}
			params[name] = match[i]
		}

		path = path[len(strings.TrimSuffix(match[0], "/")):]
		if path == "" {
			path = "/"
		}
	}
	return params, true
}

const allowedMethodsParam = "__allowed"

func (r *Router) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	method := req.Method
	if method == http.MethodHead {
		method = http.MethodGet // HEADs are routed like GETs
	}

	path := strings.TrimSuffix(req.URL.Path, "/")
	if path == "" {
		path = "/"
	}

	var allowed []string
	for i := range r.Routes {
		route := &r.Routes[i]
		params, ok := route.match(path)
		if !ok {
			continue
		}

		handler := route.Handler
		if route.Method != "" && route.Method != method {
			allowed = append(allowed, route.Method)
			continue
		}
		if route.Method == "" && len(allowed) > 0 && r.MethodNotAllowed != nil {
			handler = r.MethodNotAllowed
			params[allowedMethodsParam] = allowHeader(allowed)
		}

		c := &RequestContext{
			Route:      route.String(),
			Logger:     logging.GlobalLogger(),
			Req:        req,
			Res:        rw,
			PathParams: params,

			ctx: req.Context(),
		}
		doRequest(rw, c, handler)
		return
	}

	panic(fmt.Sprintf("Path '%s' did not match any routes! Make sure to register a wildcard route to act as a 404.", req.URL))
}

func allowHeader(methods []string) string {
	seen := map[string]bool{}
	var result []string
	for _, m := range methods {
		if !seen[m] {
			seen[m] = true
			result = append(result, m)
		}
		if m == http.MethodGet && !seen[http.MethodHead] {
			seen[http.MethodHead] = true
			result = append(result, http.MethodHead)
		}
	}
	sort.Strings(result)
	return strings.Join(result, ", ")
}

type RequestContext struct {
	Route      string
	Logger     *zerolog.Logger
	Req        *http.Request
	PathParams map[string]string

	// For the rare handler that needs the real writer, e.g. for http.MaxBytesReader.
	Res http.ResponseWriter

	Conn  *pgxpool.Pool
	Codec *charcard.Codec

	Perf *perf.RequestPerf

	ctx context.Context
}

var _ context.Context = &RequestContext{}

func (c *RequestContext) Deadline() (time.Time, bool) {
	return c.ctx.Deadline()
}

func (c *RequestContext) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *RequestContext) Err() error {
	return c.ctx.Err()
}

func (c *RequestContext) Value(key any) any {
	return c.ctx.Value(key)
}

// Layers more values onto the request's context, so code that only sees a
// context.Context can find the request logger and perf.
func (c *RequestContext) withValues(f func(ctx context.Context) context.Context) {
	c.ctx = f(c.ctx)
}

func (c *RequestContext) URL() *url.URL {
	return c.Req.URL
}

func (c *RequestContext) FullUrl() string {
	scheme := "http"
	if proto := c.Req.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if c.Req.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Req.Host + c.Req.URL.String()
}

type errorBody struct {
	Error string `json:"error"`
}

/*
Responds with a JSON error. The client sees the Msg of the first SafeError in
errs, or else the plain status text, so internal details never leak. All errs
are logged by the error-logging middleware.
*/
func (c *RequestContext) ErrorResponse(status int, errs ...error) ResponseData {
	msg := http.StatusText(status)
	for _, err := range errs {
		var safe *SafeError
		if errors.As(err, &safe) {
			msg = safe.Msg
			break
		}
	}

	res := ResponseData{
		StatusCode: status,
		Errors:     errs,
	}
	res.WriteJson(errorBody{Error: msg}, c.Perf)
	return res
}

// For client mistakes: responds with msg and logs nothing.
func (c *RequestContext) RejectRequest(status int, msg string) ResponseData {
	res := ResponseData{StatusCode: status}
	res.WriteJson(errorBody{Error: msg}, c.Perf)
	return res
}

type ResponseData struct {
	StatusCode int
	Body       *bytes.Buffer
	Errors     []error

	header http.Header
}

var _ http.ResponseWriter = &ResponseData{}

func (rd *ResponseData) Header() http.Header {
	if rd.header == nil {
		rd.header = make(http.Header)
	}
	return rd.header
}

func (rd *ResponseData) Write(p []byte) (n int, err error) {
	if rd.Body == nil {
		rd.Body = new(bytes.Buffer)
	}
	return rd.Body.Write(p)
}

func (rd *ResponseData) WriteHeader(status int) {
	rd.StatusCode = status
}

func (rd *ResponseData) WriteJson(data any, rp *perf.RequestPerf) {
	rp.StartBlock("JSON", "Encode response")
	defer rp.EndBlock()

	dataJson, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	rd.Header().Set("Content-Type", "application/json")
	rd.Write(dataJson)
}

// Sends a PNG. If filename is set the browser is told to download it.
func (rd *ResponseData) WritePNG(data []byte, filename string) {
	rd.Header().Set("Content-Type", "image/png")
	if filename != "" {
		rd.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	rd.Write(data)
}

func doRequest(rw http.ResponseWriter, c *RequestContext, h Handler) {
	defer func() {
		// Last resort. Anything that wants a proper error response should
		// catch its panics in middleware.
		if recovered := recover(); recovered != nil {
			logging.LogPanicValue(c.Logger, recovered, "request panicked and was not handled")
			rw.WriteHeader(http.StatusInternalServerError)
			rw.Write([]byte("There was a problem handling your request."))
		}
	}()

	res := h(c)
	if res.StatusCode == 0 {
		res.StatusCode = http.StatusOK
	}

	// Content-Type and Content-Length are set here rather than left to
	// http.ResponseWriter so that HEAD responses carry them too.
	var body []byte
	if res.Body != nil {
		body = res.Body.Bytes()
		if res.Header().Get("Content-Type") == "" {
			res.Header().Set("Content-Type", http.DetectContentType(body))
		}
		if res.Header().Get("Content-Length") == "" {
			res.Header().Set("Content-Length", strconv.Itoa(len(body)))
		}
	}
	if c.Req.Method == http.MethodHead {
		body = nil
	}

	for name, vals := range res.Header() {
		for _, val := range vals {
			rw.Header().Add(name, val)
		}
	}
	rw.WriteHeader(res.StatusCode)

	if len(body) > 0 {
		if _, err := io.Copy(rw, bytes.NewReader(body)); err != nil {
			if errors.Is(err, syscall.EPIPE) {
				// The client hung up
				logging.Debug().Msg("Broken pipe")
			} else {
				logging.Error().Err(err).Msg("failed to write response body")
			}
		}
	}
}
