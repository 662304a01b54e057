package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-grab-ebooks/config"
	"github.com/aluiziolira/go-grab-ebooks/parser"
)

// Site paths. The base URL comes from configuration.
const (
	LoginPath     = "/register"
	OfferPath     = "/packt/offers/free-learning"
	InventoryPath = "/account/my-ebooks"
)

// Request steps, used as metric labels and log attributes.
const (
	stepLogin     = "login"
	stepOffer     = "offer"
	stepClaim     = "claim"
	stepBook      = "book"
	stepInventory = "inventory"
	stepDownload  = "download"
)

// Session is the logged-in browser emulation shared by every step. HTML pages
// go through the colly collector; binary transfers go through resty. Both use
// the same cookie jar so the login carries over.
type Session struct {
	cfg       *config.Config
	base      *url.URL
	collector *colly.Collector
	http      *resty.Client
	logger    *slog.Logger
	Metrics   *Metrics

	now func() time.Time
}

// Option customises a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics shares a metrics bundle with the session.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.Metrics = m
	}
}

// NewSession builds an unauthenticated session configured from cfg.
func NewSession(cfg *config.Config, opts ...Option) (*Session, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	var transport http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.DownloadTimeout,
	}
	if cfg.CloudflareBypass {
		transport = cloudflarebp.AddCloudFlareByPass(transport)
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(transport)
	collector.SetCookieJar(jar)

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetCookieJar(jar).
		SetTransport(transport).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Connection", "keep-alive")

	s := &Session{
		cfg:       cfg,
		base:      parsed,
		collector: collector,
		http:      client,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// WithTransport replaces the round tripper of both HTTP stacks.
func (s *Session) WithTransport(rt http.RoundTripper) {
	s.collector.WithTransport(rt)
	s.http.SetTransport(rt)
}

// URL resolves a site-relative path against the base URL.
func (s *Session) URL(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return s.base.String() + path
	}
	return s.base.ResolveReference(ref).String()
}

// Login performs the two-step form login: fetch the login page for its
// form_build_id token, then post the credentials with it. Only a 200 on the
// post counts as success.
func (s *Session) Login(ctx context.Context, email, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loginURL := s.URL(LoginPath)
	s.logger.Info("creating session", slog.String("url", loginURL))

	p, err := s.fetch(stepLogin, http.MethodGet, loginURL, nil)
	if err != nil {
		return &AuthenticationError{Status: p.status, Err: err}
	}
	doc, err := p.document()
	if err != nil {
		return &AuthenticationError{Status: p.status, Err: err}
	}
	token, err := extractOrMarkup(loginURL, doc, parser.ExtractFormBuildID)
	if err != nil {
		return &AuthenticationError{Status: p.status, Err: err}
	}

	form := map[string]string{
		"email":         email,
		"password":      password,
		"op":            "Login",
		"form_build_id": token,
		"form_id":       "packt_user_login_form",
	}
	p, err = s.fetch(stepLogin, http.MethodPost, loginURL, form)
	if err != nil || p.status != http.StatusOK {
		return &AuthenticationError{Status: p.status, Err: err}
	}

	s.logger.Info("session created, logged in successfully")
	return nil
}

// page is the outcome of one HTML fetch.
type page struct {
	url    string
	status int
	doc    *goquery.Selection
}

func (p *page) document() (*goquery.Selection, error) {
	if p.doc == nil {
		return nil, &MarkupError{URL: p.url, Err: fmt.Errorf("response is not an HTML document")}
	}
	return p.doc, nil
}

// fetch issues one request through a clone of the collector, which shares the
// HTTP backend and cookie jar but none of the callbacks. A non-2xx answer or
// transport failure is returned as an error; 2xx answers other than 200 are
// left for the caller to reject.
func (s *Session) fetch(step, method, rawURL string, form map[string]string) (*page, error) {
	p := &page{url: rawURL}
	c := s.collector.Clone()

	var start time.Time
	c.OnRequest(func(r *colly.Request) {
		start = time.Now()
		r.Headers.Set("Connection", "keep-alive")
		s.Metrics.IncRequest(step)
		s.logger.Debug("request", slog.String("step", step), slog.String("method", r.Method), slog.String("url", r.URL.String()))
	})
	c.OnResponse(func(r *colly.Response) {
		p.status = r.StatusCode
		s.Metrics.ObserveDuration(time.Since(start))
		if r.StatusCode != http.StatusOK {
			s.logger.Warn("unexpected status", slog.String("step", step), slog.Int("status", r.StatusCode), slog.String("url", rawURL))
		}
	})
	c.OnHTML("html", func(e *colly.HTMLElement) {
		p.doc = e.DOM
	})

	var reqErr error
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			p.status = r.StatusCode
		}
		reqErr = err
	})

	var err error
	if method == http.MethodPost {
		err = c.Post(rawURL, form)
	} else {
		err = c.Visit(rawURL)
	}
	if err == nil {
		err = reqErr
	}
	if err != nil {
		if p.status != 0 {
			err = &StatusError{URL: rawURL, Status: p.status}
		}
		classified := classifyError(err, p.status)
		s.Metrics.IncError(errorTypeLabel(classified))
		s.logger.Error("request error",
			slog.String("step", step),
			slog.String("url", rawURL),
			slog.Int("status", p.status),
			slog.Any("error", err),
		)
		return p, classified
	}
	return p, nil
}

func extractOrMarkup[T any](pageURL string, doc *goquery.Selection, extract func(*goquery.Selection) (T, error)) (T, error) {
	v, err := extract(doc)
	if err != nil {
		return v, &MarkupError{URL: pageURL, Err: err}
	}
	return v, nil
}

// Download is an open transfer. The caller must close Body.
type Download struct {
	URL           string
	Body          io.ReadCloser
	ContentLength int64 // -1 when the server does not say
}

// Open starts a streamed GET for a site-relative download path. Anything but
// a 200 is returned as an error wrapping *StatusError. There is no cap on the
// whole transfer; it is aborted once no data arrives for DownloadTimeout.
func (s *Session) Open(ctx context.Context, path string) (*Download, error) {
	target := s.URL(path)
	s.Metrics.IncRequest(stepDownload)
	start := time.Now()

	ctx, cancel := context.WithCancelCause(ctx)
	idle := newIdleBody(ctx, cancel, s.cfg.DownloadTimeout)

	res, err := s.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(target)
	if err != nil {
		idle.Close()
		classified := classifyError(idle.cause(err), 0)
		s.Metrics.IncError(errorTypeLabel(classified))
		return nil, classified
	}
	s.Metrics.ObserveDuration(time.Since(start))

	body := res.RawBody()
	if res.StatusCode() != http.StatusOK {
		if body != nil {
			body.Close()
		}
		idle.Close()
		statusErr := &StatusError{URL: target, Status: res.StatusCode()}
		classified := classifyError(statusErr, statusErr.Status)
		s.Metrics.IncError(errorTypeLabel(classified))
		return nil, classified
	}
	idle.body = body

	length := int64(-1)
	if res.RawResponse != nil && res.RawResponse.ContentLength > 0 {
		length = res.RawResponse.ContentLength
	} else if n, err := strconv.ParseInt(res.Header().Get("Content-Length"), 10, 64); err == nil && n > 0 {
		length = n
	}

	return &Download{URL: target, Body: idle, ContentLength: length}, nil
}
