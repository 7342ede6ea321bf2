package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"upwatch/pkg/tokencache"
)

// WebhookSender posts notices for opaque requester ids to a send API.
type WebhookSender struct {
	url    string
	client *http.Client
	tokens *tokencache.Cache
}

// NewWebhookSender returns a sender for endpoint. tokens may be nil when the API
// takes no bearer token.
func NewWebhookSender(endpoint string, client *http.Client, tokens *tokencache.Cache) *WebhookSender {
	if client == nil {
		client = NewHTTPClient(10 * time.Second)
	}
	return &WebhookSender{url: endpoint, client: client, tokens: tokens}
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   3 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr, Timeout: timeout}
}

type webhookPayload struct {
	Notice
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (s *WebhookSender) Send(ctx context.Context, n Notice) error {
	subject, body := Render(n)
	raw, err := json.Marshal(webhookPayload{Notice: n, Subject: subject, Body: body})
	if err != nil {
		return err
	}

	status, snippet, err := s.post(ctx, raw, n.JobID)
	if err == nil && status == http.StatusUnauthorized && s.tokens != nil {
		// Token revoked or expired early; fetch a fresh one and try once more.
		s.tokens.Invalidate()
		status, snippet, err = s.post(ctx, raw, n.JobID)
	}
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("webhook: status %d: %s", status, snippet)
	}
	return nil
}

func (s *WebhookSender) post(ctx context.Context, raw []byte, jobID string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", jobID)
	if s.tokens != nil {
		tok, err := s.tokens.Get(ctx)
		if err != nil {
			return 0, "", fmt.Errorf("webhook token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	snippet := strings.TrimSpace(string(b))
	if len(snippet) > 512 {
		snippet = snippet[:512]
	}
	return resp.StatusCode, snippet, nil
}

// ClientCredentials returns a token fetch for an OAuth2 client-credentials
// endpoint.
func ClientCredentials(client *http.Client, tokenURL, clientID, clientSecret string) tokencache.FetchFunc {
	if client == nil {
		client = NewHTTPClient(10 * time.Second)
	}
	return func(ctx context.Context) (tokencache.Token, error) {
		form := url.Values{}
		form.Set("grant_type", "client_credentials")
		form.Set("client_id", clientID)
		form.Set("client_secret", clientSecret)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return tokencache.Token{}, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := client.Do(req)
		if err != nil {
			return tokencache.Token{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return tokencache.Token{}, fmt.Errorf("token endpoint: status %d", resp.StatusCode)
		}
		var out struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
			return tokencache.Token{}, fmt.Errorf("token endpoint: %w", err)
		}
		if out.AccessToken == "" {
			return tokencache.Token{}, fmt.Errorf("token endpoint: empty access_token")
		}
		tok := tokencache.Token{Value: out.AccessToken}
		if out.ExpiresIn > 0 {
			tok.ExpiresAt = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
		}
		return tok, nil
	}
}

// StaticToken never expires.
func StaticToken(v string) tokencache.FetchFunc {
	return func(context.Context) (tokencache.Token, error) {
		return tokencache.Token{Value: v}, nil
	}
}
