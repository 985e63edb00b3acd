// Package pdfservices is the REST fallback backend: it uploads the rendered
// brief text to a hosted PDF creation API and downloads the result.
package pdfservices

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/briefgate/pkg/budget"
	"github.com/Mindburn-Labs/briefgate/pkg/credentials"
	"github.com/Mindburn-Labs/briefgate/pkg/retry"
	"github.com/Mindburn-Labs/briefgate/pkg/router"
)

const (
	DefaultBaseURL          = "https://pdf-services.adobe.io"
	DefaultPollInterval     = 2 * time.Second
	DefaultPollTimeout      = 300 * time.Second
	DefaultRequestTimeout   = 60 * time.Second
	DefaultDocumentLanguage = "en-US"

	minPollInterval  = 100 * time.Millisecond
	maxResponseBytes = 1 << 20
	maxDownloadBytes = 256 << 20
)

// Job statuses reported while polling.
const (
	StatusInProgress = "in progress"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Config holds endpoints and timings. Zero values take the defaults.
type Config struct {
	BaseURL          string
	TokenURL         string
	PollInterval     time.Duration
	PollTimeout      time.Duration
	RequestTimeout   time.Duration
	DocumentLanguage string
}

// NormalizeBaseURL accepts an endpoint copied from any operation URL and
// returns the service root.
func NormalizeBaseURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	if u == "" {
		return DefaultBaseURL
	}
	if i := strings.Index(u, "/operation/"); i >= 0 {
		u = u[:i]
	}
	for _, suffix := range []string{"/operation", "/assets", "/token"} {
		u = strings.TrimSuffix(u, suffix)
	}
	return u
}

func (c Config) withDefaults() Config {
	c.BaseURL = NormalizeBaseURL(c.BaseURL)
	if c.TokenURL == "" {
		c.TokenURL = c.BaseURL + "/token"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.DocumentLanguage == "" {
		c.DocumentLanguage = DefaultDocumentLanguage
	}
	return c
}

// Client talks to the PDF service with one set of credentials.
type Client struct {
	cfg     Config
	creds   credentials.Credentials
	http    *http.Client
	token   tokenHolder
	limiter *rate.Limiter
	budget  budget.Limiter
	backoff retry.Policy
	sleep   retry.Sleeper
	now     func() time.Time
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.http = h
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithBudget gates job creation.
func WithBudget(l budget.Limiter) ClientOption {
	return func(c *Client) {
		c.budget = l
	}
}

func WithBackoff(p retry.Policy) ClientOption {
	return func(c *Client) {
		c.backoff = p
	}
}

// WithSleeper replaces the wait used for retries and polling.
func WithSleeper(s retry.Sleeper) ClientOption {
	return func(c *Client) {
		c.sleep = s
	}
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

func NewClient(cfg Config, creds credentials.Credentials, opts ...ClientOption) (*Client, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, errors.New("pdfservices: client id and secret are required")
	}
	c := &Client{
		cfg:     cfg.withDefaults(),
		creds:   creds,
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		budget:  budget.Unlimited{},
		backoff: retry.DefaultPolicy,
		sleep:   retry.ContextSleep,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = slog.Default().With("component", "pdfservices", "client_id", credentials.Mask(creds.ClientID))
	return c, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

// Token returns a valid access token, exchanging credentials when needed.
func (c *Client) Token(ctx context.Context) (*Token, error) {
	if t, ok := c.token.load(c.now()); ok {
		return t, nil
	}
	var t *Token
	err := c.withRetry(ctx, "token", func(ctx context.Context) error {
		var err error
		t, err = c.fetchToken(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.token.store(t)
	return t, nil
}

func (c *Client) fetchToken(ctx context.Context) (*Token, error) {
	form := url.Values{}
	form.Set("client_id", c.creds.ClientID)
	form.Set("client_secret", c.creds.ClientSecret)

	resp, body, err := c.send(ctx, "token", http.MethodPost, c.cfg.TokenURL,
		strings.NewReader(form.Encode()), map[string]string{"Content-Type": "application/x-www-form-urlencoded"}, maxResponseBytes)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, newStatusError("token", c.cfg.TokenURL, resp, body)
	}

	var tr struct {
		AccessToken string          `json:"access_token"`
		TokenType   string          `json:"token_type"`
		ExpiresIn   json.RawMessage `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &APIError{Op: "token", StatusCode: resp.StatusCode, URL: c.cfg.TokenURL, BodyExcerpt: excerpt(body), Err: err}
	}
	if tr.AccessToken == "" {
		return nil, &APIError{Op: "token", StatusCode: resp.StatusCode, URL: c.cfg.TokenURL, Err: errors.New("token response missing access_token")}
	}
	t := &Token{AccessToken: tr.AccessToken, TokenType: tr.TokenType}
	if t.TokenType == "" {
		t.TokenType = "Bearer"
	}
	if len(tr.ExpiresIn) > 0 && string(tr.ExpiresIn) != "null" {
		secs, err := strconv.ParseInt(string(tr.ExpiresIn), 10, 64)
		if err != nil {
			return nil, &APIError{Op: "token", StatusCode: resp.StatusCode, URL: c.cfg.TokenURL, Err: errors.New("token response expires_in must be an integer")}
		}
		t.ExpiresAt = c.now().Add(time.Duration(secs) * time.Second)
	} else if exp, ok := jwtExpiry(t.AccessToken); ok {
		t.ExpiresAt = exp
	}
	return t, nil
}

// Asset is an uploaded input document.
type Asset struct {
	ID        string `json:"assetID"`
	UploadURI string `json:"uploadUri"`
}

// CreateAsset reserves an upload location for mediaType.
func (c *Client) CreateAsset(ctx context.Context, mediaType string) (Asset, error) {
	return c.attempt().createAsset(ctx, mediaType)
}

func (a *attempt) createAsset(ctx context.Context, mediaType string) (Asset, error) {
	reqBody, err := json.Marshal(map[string]string{"mediaType": mediaType})
	if err != nil {
		return Asset{}, err
	}
	u := a.c.cfg.BaseURL + "/assets"
	_, body, err := a.authorized(ctx, "create asset", http.MethodPost, u, reqBody, maxResponseBytes)
	if err != nil {
		return Asset{}, err
	}
	var asset Asset
	if err := json.Unmarshal(body, &asset); err != nil {
		return Asset{}, &APIError{Op: "create asset", URL: u, BodyExcerpt: excerpt(body), Err: err}
	}
	if asset.ID == "" || asset.UploadURI == "" {
		return Asset{}, &APIError{Op: "create asset", URL: u, BodyExcerpt: excerpt(body), Err: errors.New("response missing assetID or uploadUri")}
	}
	return asset, nil
}

// Upload PUTs data to a pre-signed upload URI.
func (c *Client) Upload(ctx context.Context, uploadURI, mediaType string, data []byte) error {
	return c.withRetry(ctx, "upload", func(ctx context.Context) error {
		resp, body, err := c.send(ctx, "upload", http.MethodPut, uploadURI, bytes.NewReader(data),
			map[string]string{"Content-Type": mediaType}, maxResponseBytes)
		if err != nil {
			return err
		}
		if resp.StatusCode/100 != 2 {
			return newStatusError("upload", redact(uploadURI), resp, body)
		}
		return nil
	})
}

// CreatePDFJob starts a conversion of assetID and returns the job status URL.
// The budget is consulted first; a denied budget creates nothing.
func (c *Client) CreatePDFJob(ctx context.Context, assetID string) (string, error) {
	return c.attempt().createPDFJob(ctx, assetID)
}

func (a *attempt) createPDFJob(ctx context.Context, assetID string) (string, error) {
	c := a.c
	if err := budget.Check(ctx, c.budget, c.creds.ClientID); err != nil {
		return "", err
	}
	reqBody, err := json.Marshal(map[string]string{"assetID": assetID, "documentLanguage": c.cfg.DocumentLanguage})
	if err != nil {
		return "", err
	}
	u := c.cfg.BaseURL + "/operation/createpdf"
	resp, _, err := a.authorized(ctx, "create job", http.MethodPost, u, reqBody, maxResponseBytes)
	if err != nil {
		return "", err
	}
	loc := strings.TrimSpace(resp.Header.Get("Location"))
	if loc == "" {
		return "", &APIError{Op: "create job", StatusCode: resp.StatusCode, URL: u, Err: errors.New("response missing Location header")}
	}
	if !strings.HasPrefix(loc, "http://") && !strings.HasPrefix(loc, "https://") {
		loc = c.cfg.BaseURL + "/" + strings.TrimPrefix(loc, "/")
	}
	return loc, nil
}

type jobStatus struct {
	Status string `json:"status"`
	Asset  *struct {
		DownloadURI string `json:"downloadUri"`
	} `json:"asset"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Poll waits for the job at location to finish and returns its download URI.
func (c *Client) Poll(ctx context.Context, location string) (string, error) {
	return c.attempt().poll(ctx, location)
}

func (a *attempt) poll(ctx context.Context, location string) (string, error) {
	c := a.c
	deadline := c.now().Add(c.cfg.PollTimeout)
	interval := c.cfg.PollInterval
	if interval < minPollInterval {
		interval = minPollInterval
	}

	attempts := 0
	last := ""
	for {
		attempts++
		_, body, err := a.authorized(ctx, "poll", http.MethodGet, location, nil, maxResponseBytes)
		if err != nil {
			return "", err
		}
		var st jobStatus
		if err := json.Unmarshal(body, &st); err != nil {
			return "", &APIError{Op: "poll", URL: location, BodyExcerpt: excerpt(body), Err: err}
		}
		last = st.Status

		switch strings.ToLower(st.Status) {
		case StatusDone:
			if st.Asset == nil || st.Asset.DownloadURI == "" {
				return "", &APIError{Op: "poll", URL: location, BodyExcerpt: excerpt(body), Err: errors.New("done job missing asset.downloadUri")}
			}
			return st.Asset.DownloadURI, nil
		case StatusFailed:
			msg := "job failed"
			if st.Error != nil && st.Error.Message != "" {
				msg = st.Error.Message
			}
			return "", &APIError{Op: "poll", URL: location, Err: fmt.Errorf("%w: %s", router.ErrJobFailed, msg)}
		case StatusInProgress:
		default:
			return "", &APIError{Op: "poll", URL: location, BodyExcerpt: excerpt(body), Err: fmt.Errorf("unexpected job status %q", st.Status)}
		}

		if !c.now().Add(interval).Before(deadline) {
			return "", &PollTimeoutError{Timeout: c.cfg.PollTimeout, Attempts: attempts, LastStatus: last}
		}
		if err := c.sleep(ctx, interval); err != nil {
			return "", err
		}
	}
}

// Download fetches a pre-signed result URI.
func (c *Client) Download(ctx context.Context, uri string) ([]byte, error) {
	var out []byte
	err := c.withRetry(ctx, "download", func(ctx context.Context) error {
		resp, body, err := c.send(ctx, "download", http.MethodGet, uri, nil, nil, maxDownloadBytes)
		if err != nil {
			return err
		}
		if resp.StatusCode/100 != 2 {
			return newStatusError("download", redact(uri), resp, body)
		}
		out = body
		return nil
	})
	return out, err
}

// CreatePDF runs the whole conversion for one input document as a single
// attempt: across all of its calls the token is refreshed at most once.
func (c *Client) CreatePDF(ctx context.Context, mediaType string, data []byte) ([]byte, error) {
	a := c.attempt()
	asset, err := a.createAsset(ctx, mediaType)
	if err != nil {
		return nil, err
	}
	if err := c.Upload(ctx, asset.UploadURI, mediaType, data); err != nil {
		return nil, err
	}
	loc, err := a.createPDFJob(ctx, asset.ID)
	if err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "job created", "asset_id", asset.ID)
	dl, err := a.poll(ctx, loc)
	if err != nil {
		return nil, err
	}
	return c.Download(ctx, dl)
}

// attempt is one conversion against the service. It owns the single token
// refresh that attempt is allowed.
type attempt struct {
	c         *Client
	refreshed bool
}

func (c *Client) attempt() *attempt { return &attempt{c: c} }

// authorized sends a JSON request with the access token. The first 401 or
// 403 of an attempt refreshes the token and repeats the request once; any
// later rejection is returned as is.
func (a *attempt) authorized(ctx context.Context, op, method, u string, body []byte, limit int64) (*http.Response, []byte, error) {
	c := a.c
	var (
		resp *http.Response
		out  []byte
	)
	call := func(ctx context.Context) error {
		tok, err := c.Token(ctx)
		if err != nil {
			return err
		}
		headers := map[string]string{
			"Authorization": "Bearer " + tok.AccessToken,
			"x-api-key":     c.creds.ClientID,
		}
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
			headers["Content-Type"] = "application/json"
		}
		r, b, err := c.send(ctx, op, method, u, rd, headers, limit)
		if err != nil {
			return err
		}
		if r.StatusCode/100 != 2 {
			apiErr := newStatusError(op, u, r, b)
			if errors.Is(apiErr.Err, router.ErrAuth) {
				c.token.invalidate(tok)
			}
			return apiErr
		}
		resp, out = r, b
		return nil
	}

	err := c.withRetry(ctx, op, call)
	if err != nil && isAuth(err) && !a.refreshed && ctx.Err() == nil {
		a.refreshed = true
		c.logger.WarnContext(ctx, "request rejected, refreshing token", "op", op)
		err = call(ctx)
	}
	return resp, out, err
}

func (c *Client) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	return retry.Once(ctx, c.backoff, retry.Key{Backend: "pdfservices", Op: op}, c.sleep, isRetryable, fn)
}

// send performs one HTTP exchange bounded by the request timeout.
func (c *Client) send(ctx context.Context, op, method, u string, body io.Reader, headers map[string]string, limit int64) (*http.Response, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, nil, &APIError{Op: op, URL: redact(u), Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, fmt.Errorf("pdfservices %s: %w", op, ctxErr)
		}
		return nil, nil, &APIError{Op: op, URL: redact(u), Retryable: true, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, nil, &APIError{Op: op, StatusCode: resp.StatusCode, URL: redact(u), Retryable: true, Err: err}
	}
	return resp, data, nil
}

// redact drops the query string, which carries signatures on pre-signed URIs.
func redact(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
