package testutil

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// Call is one outbound request observed by an Upstream.
type Call struct {
	Method string
	Host   string
	Path   string
	Query  url.Values
	Header http.Header
	Body   string
}

// Upstream is a fake for every external API the verifier talks to. Requests keep their
// original Host header, so handlers can be registered with host patterns such as
// "PUT discord.com/api/v9/guilds/{guild}/members/{user}/roles/{role}".
type Upstream struct {
	Server *httptest.Server
	Mux    *http.ServeMux

	mu    sync.Mutex
	calls []Call
}

// NewUpstream starts the fake and closes it when the test ends.
func NewUpstream(t testing.TB) *Upstream {
	t.Helper()

	u := &Upstream{Mux: http.NewServeMux()}
	u.Server = httptest.NewServer(u.Mux)
	t.Cleanup(u.Server.Close)

	return u
}

// Handle registers a handler on the fake using http.ServeMux pattern syntax.
func (u *Upstream) Handle(pattern string, h http.HandlerFunc) {
	u.Mux.HandleFunc(pattern, h)
}

// Client returns an *http.Client that sends every request, whatever its URL, to the fake.
func (u *Upstream) Client() *http.Client {
	target, _ := url.Parse(u.Server.URL)
	return &http.Client{
		Transport: &rewriteTransport{upstream: u, target: target, next: http.DefaultTransport},
	}
}

// Calls returns a copy of every request seen so far.
func (u *Upstream) Calls() []Call {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]Call, len(u.calls))
	copy(out, u.calls)
	return out
}

// Count returns the number of calls matching method, host and path prefix.
// Empty method or host match anything.
func (u *Upstream) Count(method, host, pathPrefix string) int {
	n := 0
	for _, c := range u.Calls() {
		if method != "" && c.Method != method {
			continue
		}
		if host != "" && c.Host != host {
			continue
		}
		if strings.HasPrefix(c.Path, pathPrefix) {
			n++
		}
	}
	return n
}

// Find returns the calls matching method, host and path prefix.
func (u *Upstream) Find(method, host, pathPrefix string) []Call {
	var out []Call
	for _, c := range u.Calls() {
		if (method == "" || c.Method == method) && (host == "" || c.Host == host) && strings.HasPrefix(c.Path, pathPrefix) {
			out = append(out, c)
		}
	}
	return out
}

func (u *Upstream) record(c Call) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, c)
}

type rewriteTransport struct {
	upstream *Upstream
	target   *url.URL
	next     http.RoundTripper
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		_ = req.Body.Close()
	}

	rt.upstream.record(Call{
		Method: req.Method,
		Host:   req.URL.Hostname(),
		Path:   req.URL.Path,
		Query:  req.URL.Query(),
		Header: req.Header.Clone(),
		Body:   string(body),
	})

	out := req.Clone(req.Context())
	out.Host = req.URL.Host
	out.URL.Scheme = rt.target.Scheme
	out.URL.Host = rt.target.Host
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))

	return rt.next.RoundTrip(out)
}
