package probe

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	maxRedirects = 10
	maxBodyDrain = 64 << 10
)

// HTTP probes with a GET request.
type HTTP struct {
	client    *http.Client
	userAgent string
}

type HTTPOption func(*HTTP)

func WithClient(c *http.Client) HTTPOption { return func(h *HTTP) { h.client = c } }

func WithUserAgent(ua string) HTTPOption { return func(h *HTTP) { h.userAgent = ua } }

func NewHTTP(opts ...HTTPOption) *HTTP {
	h := &HTTP{
		client:    NewHTTPClient(),
		userAgent: "upwatch",
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// NewHTTPClient returns the probe client. Timeouts come from the request
// context; the transport only bounds connection setup.
func NewHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Transport: tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				// Hand back the last 3xx; Classify reports it as unexpected.
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

func (h *HTTP) Probe(ctx context.Context, url string) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		// A URL that can't form a request will never recover.
		return Outcome{Kind: Unexpected, Reason: err.Error()}
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return ErrorOutcome(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyDrain))

	return Classify(resp.StatusCode)
}
