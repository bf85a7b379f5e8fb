package httputil

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"rentwatch/config"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

type Clients struct {
	Scraping  *http.Client // target sites, proxied when PROXY_URL is set
	UserAgent string
}

func NewClients(cfg config.ScraperConfig) *Clients {
	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
		MaxIdleConns:      20,
		IdleConnTimeout:   90 * time.Second,
	}
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	return &Clients{
		Scraping:  &http.Client{Timeout: timeout, Transport: transport},
		UserAgent: ua,
	}
}

// SetBrowserHeaders makes a crawler request look like a regular page load.
func (c *Clients) SetBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Referer", "https://www.google.com/")
}
