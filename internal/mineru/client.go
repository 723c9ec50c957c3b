package mineru

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"ocrbatch/internal/services"
)

const (
	defaultBaseURL     = "https://mineru.net/api/v4"
	defaultUserAgent   = "ocrbatch/dev"
	defaultHTTPTimeout = 60 * time.Second
	errorBodyLimit     = 4096
)

// Config describes the MinerU client configuration. HTTPClient is used for API
// calls; uploads to signed URLs and bundle downloads use TransferClient, which
// should not carry an overall timeout since bodies can be large.
type Config struct {
	BaseURL        string
	Token          string
	UserAgent      string
	Timeout        time.Duration
	HTTPClient     *http.Client
	TransferClient *http.Client
}

// Client wraps the MinerU batch extraction API.
type Client struct {
	token     string
	userAgent string
	baseURL   *url.URL
	http      *http.Client
	transfer  *http.Client
}

// New creates a Client from the supplied configuration.
func New(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, services.Wrap(services.ErrConfiguration, "mineru", "new client", "api token is required", nil)
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "mineru", "new client", "parse base url", err)
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	transfer := cfg.TransferClient
	if transfer == nil {
		transfer = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: timeout,
			TLSHandshakeTimeout:   10 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		}}
	}
	return &Client{
		token:     token,
		userAgent: userAgent,
		baseURL:   baseURL,
		http:      client,
		transfer:  transfer,
	}, nil
}

// RequestUploadURLs registers a batch and returns one signed upload URL per file.
func (c *Client) RequestUploadURLs(ctx context.Context, req BatchRequest) (UploadBatch, error) {
	if c == nil {
		return UploadBatch{}, errors.New("mineru: client is nil")
	}
	if len(req.Files) == 0 {
		return UploadBatch{}, errors.New("mineru: batch request has no files")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return UploadBatch{}, fmt.Errorf("mineru: encode batch request: %w", err)
	}
	endpoint := c.baseURL.JoinPath("file-urls", "batch")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return UploadBatch{}, fmt.Errorf("mineru: build batch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.applyHeaders(httpReq)

	var out UploadBatch
	if err := c.doAPI(httpReq, "request upload urls", &out); err != nil {
		return UploadBatch{}, err
	}
	if strings.TrimSpace(out.BatchID) == "" {
		return UploadBatch{}, fmt.Errorf("mineru: request upload urls: response missing batch_id")
	}
	return out, nil
}

// Upload pushes the file at path to a signed upload URL with a single PUT.
// The request carries no Content-Type or Authorization header because the
// URL signature covers the request.
func (c *Client) Upload(ctx context.Context, uploadURL, path string) error {
	if c == nil {
		return errors.New("mineru: client is nil")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("mineru: open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("mineru: stat %s: %w", path, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
	if err != nil {
		return fmt.Errorf("mineru: build upload request: %w", err)
	}
	httpReq.ContentLength = info.Size()
	if info.Size() == 0 {
		httpReq.Body = http.NoBody
	}

	resp, err := c.transfer.Do(httpReq)
	if err != nil {
		return services.Wrap(services.ErrTransient, "mineru", "upload", "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &APIError{Op: "upload", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// BatchResults fetches the current status of every file in a batch.
func (c *Client) BatchResults(ctx context.Context, batchID string) (BatchResults, error) {
	if c == nil {
		return BatchResults{}, errors.New("mineru: client is nil")
	}
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return BatchResults{}, errors.New("mineru: batch id is required")
	}
	endpoint := c.baseURL.JoinPath("extract-results", "batch", batchID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return BatchResults{}, fmt.Errorf("mineru: build status request: %w", err)
	}
	c.applyHeaders(httpReq)

	var out BatchResults
	if err := c.doAPI(httpReq, "batch results", &out); err != nil {
		return BatchResults{}, err
	}
	return out, nil
}

// Download streams the result bundle at bundleURL into w and returns the
// number of bytes written.
func (c *Client) Download(ctx context.Context, bundleURL string, w io.Writer) (int64, error) {
	if c == nil {
		return 0, errors.New("mineru: client is nil")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, bundleURL, nil)
	if err != nil {
		return 0, fmt.Errorf("mineru: build download request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.transfer.Do(httpReq)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "mineru", "download", "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return 0, &APIError{Op: "download", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, services.Wrap(services.ErrTransient, "mineru", "download", "read body", err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return n, services.Wrap(services.ErrTransient, "mineru", "download",
			fmt.Sprintf("short body: got %d of %d bytes", n, resp.ContentLength), nil)
	}
	return n, nil
}

func (c *Client) doAPI(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "mineru", op, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var env envelope
		if json.Unmarshal(body, &env) == nil && (env.Msg != "" || env.code() != "") {
			apiErr.Code = env.code()
			apiErr.Message = env.Msg
			apiErr.TraceID = env.TraceID
		}
		return apiErr
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return services.Wrap(services.ErrTransient, "mineru", op, "decode response", err)
	}
	if !env.ok() {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Code: env.code(), Message: env.Msg, TraceID: env.TraceID}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("mineru: %s: response missing data", op)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("mineru: %s: decode data: %w", op, err)
	}
	return nil
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", c.userAgent)
}
