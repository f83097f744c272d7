// Package session is the authenticated HTTP session shared by every worker
// of a run. It exposes exactly two operations: a one-time login and a timed
// retrieval of the target's index page.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ptracker/ptload/internal/tracing"
)

const (
	loginPath       = "/login/"
	csrfCookieName  = "csrftoken"
	maxErrorSnippet = 512
)

// TimedResult is the outcome of one successful index retrieval.
type TimedResult struct {
	StatusCode int
	Elapsed    time.Duration
}

// Seconds returns the elapsed wall-clock time in seconds.
func (r TimedResult) Seconds() float64 { return r.Elapsed.Seconds() }

// StatusError reports a response with an unexpected status code.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Option customizes a Session.
type Option func(*Session)

// WithTracer records a client span per request.
func WithTracer(tracer trace.Tracer, propagate bool) Option {
	return func(s *Session) {
		if tracer != nil {
			s.tracer = tracer
		}
		s.propagate = propagate
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Session wraps an owned *http.Client; the client is never exposed.
type Session struct {
	client        *http.Client
	root          string
	tracer        trace.Tracer
	propagate     bool
	now           func() time.Time
	authenticated atomic.Bool
}

// New validates rootURL and returns an unauthenticated Session. The client
// must carry a cookie jar for Authenticate to have any effect.
func New(rootURL string, client *http.Client, opts ...Option) (*Session, error) {
	root := strings.TrimSpace(rootURL)
	if root == "" {
		return nil, errors.New("root URL is required")
	}
	u, err := url.Parse(root)
	if err != nil {
		return nil, fmt.Errorf("parse root URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("root URL %q must use http or https", rootURL)
	}
	if client == nil {
		return nil, errors.New("http client is required")
	}

	s := &Session{
		client: client,
		root:   strings.TrimRight(root, "/"),
		tracer: noop.NewTracerProvider().Tracer("session"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RootURL returns the normalized root URL, without a trailing slash.
func (s *Session) RootURL() string { return s.root }

// Authenticated reports whether Authenticate has succeeded.
func (s *Session) Authenticated() bool { return s.authenticated.Load() }

// Authenticate logs in through the login form: it fetches the form to obtain
// the CSRF cookie, then posts the credentials with that token.
func (s *Session) Authenticate(ctx context.Context, user, password string) (err error) {
	ctx, span := tracing.StartRequestSpan(ctx, s.tracer, http.MethodPost, "login")
	defer func() { tracing.EndSpan(span, err) }()

	loginURL := s.root + loginPath

	if err := s.do(ctx, "get login form", http.MethodGet, loginURL, nil, nil); err != nil {
		return err
	}

	form := url.Values{
		"username": {user},
		"password": {password},
	}
	if token := s.cookie(loginURL, csrfCookieName); token != "" {
		form.Set("csrfmiddlewaretoken", token)
	}
	header := http.Header{
		"Content-Type": {"application/x-www-form-urlencoded"},
		"Referer":      {loginURL},
	}
	if err := s.do(ctx, "post login form", http.MethodPost, loginURL, strings.NewReader(form.Encode()), header); err != nil {
		return err
	}

	s.authenticated.Store(true)
	return nil
}

// GetIndex performs one timed GET of the root URL. Any status other than 200
// is returned as a *StatusError.
func (s *Session) GetIndex(ctx context.Context) (result TimedResult, err error) {
	ctx, span := tracing.StartRequestSpan(ctx, s.tracer, http.MethodGet, "index")
	defer func() {
		tracing.EndSpan(span, err,
			attribute.Int("http.response.status_code", result.StatusCode),
			attribute.Float64("ptload.elapsed_seconds", result.Seconds()),
		)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.root, nil)
	if err != nil {
		return TimedResult{}, err
	}
	if s.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	start := s.now()
	resp, err := s.client.Do(req)
	if err != nil {
		return TimedResult{}, err
	}
	_, copyErr := io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	result = TimedResult{StatusCode: resp.StatusCode, Elapsed: s.now().Sub(start)}

	if copyErr != nil {
		return result, fmt.Errorf("read index body: %w", copyErr)
	}
	if resp.StatusCode != http.StatusOK {
		return result, &StatusError{Op: "get index", StatusCode: resp.StatusCode}
	}
	return result, nil
}

func (s *Session) do(ctx context.Context, op, method, target string, body io.Reader, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if s.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippet))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *Session) cookie(rawURL, name string) string {
	if s.client.Jar == nil {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, c := range s.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}
