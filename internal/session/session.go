// Package session holds the authenticated state (cookie jar + CSRF token)
// shared by every request to the site.
package session

import (
	"crypto/tls"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"
)

// Options configures the HTTP client backing a Session.
type Options struct {
	Timeout     time.Duration
	InsecureTLS bool
	// Headers applied to every request unless already set.
	Headers map[string]string
}

// Session is the single authenticated session against the site. The cookie
// jar is mutated by every response that sets cookies; the CSRF token is set
// once by the auth client and read by everyone else.
type Session struct {
	BaseURL string

	client  *http.Client
	headers map[string]string

	mu    sync.RWMutex
	token string
}

// New creates an empty session for the given site.
func New(baseURL string, opts Options) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
	}
	if opts.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Session{
		BaseURL: baseURL,
		client: &http.Client{
			Jar:       jar,
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		headers: opts.Headers,
	}, nil
}

// Token returns the CSRF token, or "" when none has been fetched yet.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken stores the CSRF token for subsequent requests.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Cookie returns the named cookie currently held for the site, or nil.
func (s *Session) Cookie(name string) *http.Cookie {
	base, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil
	}
	for _, cookie := range s.client.Jar.Cookies(base) {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

// Do executes the request with the session's default headers applied for
// anything the caller did not set.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	for k, v := range s.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return s.client.Do(req)
}
