package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aluiziolira/go-grab-ebooks/config"
	"github.com/aluiziolira/go-grab-ebooks/models"
)

const testBase = "http://packt.test"

const loginPage = `<html><body>
<form id="packt-user-login-form" action="/register" method="post">
	<input type="hidden" name="form_build_id" value="form-token-42">
	<input name="email"><input name="password" type="password">
</form></body></html>`

const offerPage = `<html><body>
<div class="dotd-main-book-image float-left"><a href="/application-development/mastering-go"><img src="x.png"></a></div>
<div class="dotd-main-book-summary float-left">
	<div class="dotd-title">
		<h2>
			Mastering Go
		</h2>
	</div>
	<div>Write concurrent programs.</div>
</div>
<a class="twelve-days-claim" href="/freelearning-claim/123/21478">Claim Your Free eBook</a>
</body></html>`

const bookPage = `<html><body>
<div class="book-top-block-info-authors">Mihalis Tsoukalos</div>
<time>April 2018</time>
<div class="book-top-block-code"><a href="/code_download/28591">Code Files</a></div>
</body></html>`

const libraryPage = `<html><body>
<div id="product-account-list">
	<div class="product-line unseen" title="Mastering Go [eBook]" nid="1001"></div>
	<div class="product-line unseen" title="Learning Rust [eBook]" nid="1002"></div>
	<div class="product-line unseen" title="Old Video Course" nid="1003"></div>
</div>
<div class="product-buttons-line toggle">
	<a href="/ebook_download/1001/pdf">PDF</a>
	<a href="/ebook_download/1001/epub">ePub</a>
	<a href="/code_download/5001">Code</a>
</div>
<div class="product-buttons-line toggle">
	<a href="/ebook_download/1002/mobi">Mobi</a>
</div>
</body></html>`

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func newTestSession(t *testing.T) (*Session, *httpmock.MockTransport) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBase
	cfg.Timeout = time.Second

	s, err := NewSession(cfg, WithMetrics(NewMetrics()))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	transport := httpmock.NewMockTransport()
	s.WithTransport(transport)
	return s, transport
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: &StatusError{URL: "x", Status: 500}, statusCode: 500, expected: "status"},
		{name: "markup", err: &MarkupError{URL: "x", Err: errors.New("gone")}, statusCode: 0, expected: "markup"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestFatalWrapsOnce(t *testing.T) {
	if Fatal("login", nil) != nil {
		t.Fatalf("nil should stay nil")
	}
	inner := &AuthenticationError{Status: 403}
	err := Fatal("login", inner)
	again := Fatal("pipeline", err)
	var fatal *FatalError
	if !errors.As(again, &fatal) || fatal.Step != "login" {
		t.Fatalf("expected the first step to survive, got %v", again)
	}
	var auth *AuthenticationError
	if !errors.As(again, &auth) {
		t.Fatalf("fatal error should unwrap to the authentication error")
	}
}

func TestLoginPostsTokenAndReusesCookies(t *testing.T) {
	s, transport := newTestSession(t)

	transport.RegisterResponder("GET", testBase+LoginPath, htmlResponder(loginPage))
	transport.RegisterResponder("POST", testBase+LoginPath, func(req *http.Request) (*http.Response, error) {
		if err := req.ParseForm(); err != nil {
			return nil, err
		}
		want := map[string]string{
			"email":         "reader@example.com",
			"password":      "hunter2",
			"op":            "Login",
			"form_build_id": "form-token-42",
			"form_id":       "packt_user_login_form",
		}
		for k, v := range want {
			if got := req.PostForm.Get(k); got != v {
				return httpmock.NewStringResponse(400, fmt.Sprintf("%s=%q", k, got)), nil
			}
		}
		resp := httpmock.NewStringResponse(200, "<html><body>welcome</body></html>")
		resp.Header.Set("Content-Type", "text/html")
		resp.Header.Set("Set-Cookie", "SESS=abc123; Path=/")
		return resp, nil
	})
	transport.RegisterResponder("GET", testBase+InventoryPath, func(req *http.Request) (*http.Response, error) {
		cookie, err := req.Cookie("SESS")
		if err != nil || cookie.Value != "abc123" {
			return httpmock.NewStringResponse(403, "no session"), nil
		}
		resp := httpmock.NewStringResponse(200, libraryPage)
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	})

	if err := s.Login(context.Background(), "reader@example.com", "hunter2"); err != nil {
		t.Fatalf("login: %v", err)
	}
	entries, err := s.Inventory(context.Background())
	if err != nil {
		t.Fatalf("inventory after login: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if got := testutil.ToFloat64(s.Metrics.RequestsTotal.WithLabelValues(stepLogin)); got != 2 {
		t.Fatalf("login requests = %v, want 2", got)
	}
}

func TestLoginFailures(t *testing.T) {
	tests := []struct {
		name       string
		loginPage  string
		postStatus int
		wantStatus int
		wantMarkup bool
	}{
		{name: "rejected credentials", loginPage: loginPage, postStatus: http.StatusUnauthorized, wantStatus: http.StatusUnauthorized},
		{name: "accepted but not 200", loginPage: loginPage, postStatus: http.StatusAccepted, wantStatus: http.StatusAccepted},
		{name: "token missing", loginPage: "<html><body>maintenance</body></html>", postStatus: 200, wantStatus: 200, wantMarkup: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, transport := newTestSession(t)
			transport.RegisterResponder("GET", testBase+LoginPath, htmlResponder(tt.loginPage))
			resp := httpmock.NewStringResponse(tt.postStatus, "<html></html>")
			resp.Header.Set("Content-Type", "text/html")
			transport.RegisterResponder("POST", testBase+LoginPath, httpmock.ResponderFromResponse(resp))

			err := s.Login(context.Background(), "a", "b")
			var authErr *AuthenticationError
			if !errors.As(err, &authErr) {
				t.Fatalf("expected AuthenticationError, got %v", err)
			}
			if authErr.Status != tt.wantStatus {
				t.Fatalf("status = %d, want %d", authErr.Status, tt.wantStatus)
			}
			var markup *MarkupError
			if errors.As(err, &markup) != tt.wantMarkup {
				t.Fatalf("markup error presence mismatch: %v", err)
			}
			if tt.wantMarkup && transport.GetCallCountInfo()["POST "+testBase+LoginPath] != 0 {
				t.Fatalf("credentials must not be posted without a token")
			}
		})
	}
}

func TestClaim(t *testing.T) {
	s, transport := newTestSession(t)
	transport.RegisterResponder("GET", testBase+OfferPath, htmlResponder(offerPage))
	transport.RegisterResponder("GET", testBase+"/freelearning-claim/123/21478", htmlResponder("<html><body>added</body></html>"))

	result, err := s.Claim(context.Background())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.Title != "Mastering Go" {
		t.Fatalf("title = %q", result.Title)
	}
	if result.Link != testBase+"/freelearning-claim/123/21478" {
		t.Fatalf("link = %q", result.Link)
	}
}

func TestClaimFailureCarriesTitle(t *testing.T) {
	s, transport := newTestSession(t)
	transport.RegisterResponder("GET", testBase+OfferPath, htmlResponder(offerPage))
	transport.RegisterResponder("GET", testBase+"/freelearning-claim/123/21478", httpmock.NewStringResponder(500, "boom"))

	_, err := s.Claim(context.Background())
	var claimErr *ClaimFailedError
	if !errors.As(err, &claimErr) {
		t.Fatalf("expected ClaimFailedError, got %v", err)
	}
	if claimErr.Title != "Mastering Go" {
		t.Fatalf("title = %q, want the scraped title", claimErr.Title)
	}
	if claimErr.Status != 500 {
		t.Fatalf("status = %d, want 500", claimErr.Status)
	}
	if !strings.Contains(claimErr.Error(), "Mastering Go") {
		t.Fatalf("message should mention the title: %v", claimErr)
	}
}

func TestClaimOfferPageUnavailable(t *testing.T) {
	s, transport := newTestSession(t)
	transport.RegisterResponder("GET", testBase+OfferPath, httpmock.NewStringResponder(503, "down"))

	_, err := s.Claim(context.Background())
	var claimErr *ClaimFailedError
	if !errors.As(err, &claimErr) || claimErr.Status != 503 || claimErr.Title != "" {
		t.Fatalf("unexpected error: %#v", err)
	}
}

func TestClaimedBookDetails(t *testing.T) {
	s, transport := newTestSession(t)
	fixed := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	transport.RegisterResponder("GET", testBase+OfferPath, htmlResponder(offerPage))
	transport.RegisterResponder("GET", testBase+"/application-development/mastering-go", htmlResponder(bookPage))

	book, err := s.ClaimedBookDetails(context.Background(), "Mastering Go")
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	want := models.ClaimedBook{
		Title:        "Mastering Go",
		Description:  "Write concurrent programs.",
		Author:       "Mihalis Tsoukalos",
		PublishDate:  "April 2018",
		BookURL:      testBase + "/application-development/mastering-go",
		CodeFilesURL: testBase + "/code_download/28591",
		CapturedAt:   fixed,
	}
	if book != want {
		t.Fatalf("book = %+v\nwant %+v", book, want)
	}
}

func TestInventory(t *testing.T) {
	s, transport := newTestSession(t)
	transport.RegisterResponder("GET", testBase+InventoryPath, htmlResponder(libraryPage))

	entries, err := s.Inventory(context.Background())
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Title != "Mastering Go" || len(entries[0].Downloads) != 3 {
		t.Fatalf("first entry = %+v", entries[0])
	}
	if entries[0].Downloads[models.FormatCode] != "/code_download/5001" {
		t.Fatalf("code path = %q", entries[0].Downloads[models.FormatCode])
	}
	if entries[1].Downloads[models.FormatMOBI] != "/ebook_download/1002/mobi" || len(entries[1].Downloads) != 1 {
		t.Fatalf("second entry = %+v", entries[1])
	}
	if len(entries[2].Downloads) != 0 {
		t.Fatalf("third entry should have no downloads: %+v", entries[2])
	}
}

func TestInventoryHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
		{status: http.StatusInternalServerError, expected: "status"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			s, transport := newTestSession(t)
			transport.RegisterResponder("GET", testBase+InventoryPath, httpmock.NewStringResponder(tt.status, ""))

			_, err := s.Inventory(context.Background())
			var invErr *InventoryError
			if !errors.As(err, &invErr) || invErr.Status != tt.status {
				t.Fatalf("expected InventoryError with status %d, got %v", tt.status, err)
			}
			if got := testutil.ToFloat64(s.Metrics.ErrorsTotal.WithLabelValues(tt.expected)); got != 1 {
				t.Fatalf("errors{%s} = %v, want 1", tt.expected, got)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	s, transport := newTestSession(t)
	body := strings.Repeat("x", 1000)
	transport.RegisterResponder("GET", testBase+"/ebook_download/1001/pdf", func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(200, body)
		resp.Header.Set("Content-Length", "1000")
		return resp, nil
	})
	transport.RegisterResponder("GET", testBase+"/ebook_download/1001/epub", httpmock.NewStringResponder(404, "missing"))

	dl, err := s.Open(context.Background(), "/ebook_download/1001/pdf")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dl.Body.Close()
	if dl.ContentLength != 1000 {
		t.Fatalf("content length = %d", dl.ContentLength)
	}
	data, err := io.ReadAll(dl.Body)
	if err != nil || string(data) != body {
		t.Fatalf("body mismatch: %v", err)
	}

	_, err = s.Open(context.Background(), "/ebook_download/1001/epub")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != 404 {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
	if ErrorType(err) != "not_found" {
		t.Fatalf("error type = %q", ErrorType(err))
	}
}

func TestOpenSendsLoginCookie(t *testing.T) {
	s, transport := newTestSession(t)
	transport.RegisterResponder("GET", testBase+LoginPath, htmlResponder(loginPage))
	transport.RegisterResponder("POST", testBase+LoginPath, func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(200, "<html><body>welcome</body></html>")
		resp.Header.Set("Content-Type", "text/html")
		resp.Header.Set("Set-Cookie", "SESS=abc123; Path=/")
		return resp, nil
	})
	transport.RegisterResponder("GET", testBase+"/ebook_download/1001/pdf", func(req *http.Request) (*http.Response, error) {
		cookie, err := req.Cookie("SESS")
		if err != nil || cookie.Value != "abc123" {
			return httpmock.NewStringResponse(403, "no session"), nil
		}
		return httpmock.NewStringResponse(200, "%PDF"), nil
	})

	if err := s.Login(context.Background(), "reader@example.com", "hunter2"); err != nil {
		t.Fatalf("login: %v", err)
	}
	dl, err := s.Open(context.Background(), "/ebook_download/1001/pdf")
	if err != nil {
		t.Fatalf("open after login: %v", err)
	}
	defer dl.Body.Close()
	data, err := io.ReadAll(dl.Body)
	if err != nil || string(data) != "%PDF" {
		t.Fatalf("body = %q, err = %v", data, err)
	}
}

// trickle serves chunks of 8 bytes with gap between them, then stalls for
// stall before the last one.
func trickle(chunks int, gap, stall time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(chunks*8))
		flusher := w.(http.Flusher)
		for i := 0; i < chunks; i++ {
			wait := gap
			if i == chunks-1 && stall > 0 {
				wait = stall
			}
			if i > 0 {
				select {
				case <-time.After(wait):
				case <-r.Context().Done():
					return
				}
			}
			w.Write([]byte("abcdefgh"))
			flusher.Flush()
		}
	}
}

func newServerSession(t *testing.T, handler http.Handler, idle time.Duration) *Session {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Timeout = time.Second
	cfg.DownloadTimeout = idle
	s, err := NewSession(cfg, WithMetrics(NewMetrics()))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func TestOpenAllowsSlowSteadyTransfer(t *testing.T) {
	// 6 chunks 60ms apart take longer than the 200ms timeout overall.
	s := newServerSession(t, trickle(6, 60*time.Millisecond, 0), 200*time.Millisecond)

	dl, err := s.Open(context.Background(), "/ebook_download/1001/pdf")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dl.Body.Close()
	data, err := io.ReadAll(dl.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != 48 {
		t.Fatalf("read %d bytes, want 48", len(data))
	}
}

func TestOpenAbortsStalledTransfer(t *testing.T) {
	s := newServerSession(t, trickle(2, 0, 2*time.Second), 100*time.Millisecond)

	dl, err := s.Open(context.Background(), "/ebook_download/1001/pdf")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dl.Body.Close()
	start := time.Now()
	_, err = io.ReadAll(dl.Body)
	if !errors.Is(err, ErrIdleTimeout) {
		t.Fatalf("expected idle timeout, got %v", err)
	}
	if ErrorType(err) != "timeout" {
		t.Fatalf("error type = %q", ErrorType(err))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("stalled read took %v", elapsed)
	}
}
