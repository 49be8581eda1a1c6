// Package httpclient provides the shared outbound HTTP client used for
// upstream dispatch.
package httpclient

import (
	"sync"
	"time"

	"github.com/imroc/req/v3"
)

var (
	defaultClient *req.Client
	once          sync.Once
)

// Get returns the shared upstream client. Streaming completions can run
// for minutes, so the timeout is generous.
func Get() *req.Client {
	once.Do(func() {
		defaultClient = New("")
	})
	return defaultClient
}

// New builds an upstream client. proxyURL overrides the environment proxy
// when non-empty. Cookies are never persisted between requests.
func New(proxyURL string) *req.Client {
	client := req.C().
		SetTimeout(10 * time.Minute).
		SetCookieJar(nil)
	if proxyURL != "" {
		client.SetProxyURL(proxyURL)
	}
	return client
}
