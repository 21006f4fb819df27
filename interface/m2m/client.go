package m2m

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/airbusgeo/geocube-m2m/service"
	"github.com/airbusgeo/geocube-m2m/service/log"
	"go.uber.org/zap"
)

const (
	// DefaultURL is the stable version of the USGS M2M json api
	DefaultURL = "https://m2m.cr.usgs.gov/api/api/json/stable/"
	// MaxEntityIDs is the maximum number of scenes accepted by download-options
	MaxEntityIDs = 50000
)

// Endpoints of the service
const (
	EndpointLogin            = "login"
	EndpointLoginToken       = "login-token"
	EndpointLogout           = "logout"
	EndpointDatasetSearch    = "dataset-search"
	EndpointSceneSearch      = "scene-search"
	EndpointDownloadOptions  = "download-options"
	EndpointDownloadRequest  = "download-request"
	EndpointDownloadRetrieve = "download-retrieve"
)

// Client of the M2M service. All the calls are blocking and sequential.
type Client struct {
	serviceURL string
	client     *http.Client
	tokens     *tokenStore
}

// Option configures the Client
type Option func(c *Client)

// WithTimeout sets the timeout of each request (default: 2 minutes, 0 for none)
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

// NewClient creates a client of the service available at serviceURL (DefaultURL if empty)
func NewClient(serviceURL string, options ...Option) *Client {
	if serviceURL == "" {
		serviceURL = DefaultURL
	}
	if !strings.HasSuffix(serviceURL, "/") {
		serviceURL += "/"
	}
	tokens := &tokenStore{}
	c := &Client{
		serviceURL: serviceURL,
		tokens:     tokens,
		client: &http.Client{
			Timeout: 2 * time.Minute,
			Transport: &transportToken{
				originalTransport: http.DefaultTransport,
				tokens:            tokens,
				blackList:         []string{EndpointLogin, EndpointLoginToken},
			},
		},
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Token returns the current session token (empty if not logged in)
func (c *Client) Token() string {
	return c.tokens.Get()
}

type envelope struct {
	RequestID    json.RawMessage `json:"requestId"`
	Data         json.RawMessage `json:"data"`
	ErrorCode    json.RawMessage `json:"errorCode"`
	ErrorMessage *string         `json:"errorMessage"`
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// send posts the payload to the endpoint and decodes the data of the response into out (if not nil)
func (c *Client) send(ctx context.Context, endpoint string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s.Marshal: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s.NewRequest: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Logger(ctx).Debug("m2m request", zap.String("endpoint", endpoint))
	resp, err := c.client.Do(req)
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("%s: %w", endpoint, err))
	}
	if resp == nil || resp.Body == nil {
		return service.MakeFatal(fmt.Errorf("%s: %w", endpoint, ErrEmptyResponse))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("%s.ReadAll: %w", endpoint, err))
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		if resp.StatusCode >= 300 {
			return c.httpError(endpoint, resp.StatusCode, respBody)
		}
		return service.MakeFatal(fmt.Errorf("%s: %w", endpoint, ErrEmptyResponse))
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		if resp.StatusCode >= 300 {
			return c.httpError(endpoint, resp.StatusCode, respBody)
		}
		return service.MakeFatal(fmt.Errorf("%s.Unmarshal: %w (response: %s)", endpoint, err, truncate(respBody)))
	}

	if !isNull(env.ErrorCode) {
		apiErr := &APIError{Endpoint: endpoint, Code: strings.Trim(string(env.ErrorCode), `"`)}
		if env.ErrorMessage != nil {
			apiErr.Message = *env.ErrorMessage
		}
		return service.MakeFatal(apiErr)
	}

	if resp.StatusCode >= 300 {
		return c.httpError(endpoint, resp.StatusCode, respBody)
	}

	log.Logger(ctx).Debug("m2m response", zap.String("endpoint", endpoint), zap.ByteString("requestId", env.RequestID))
	if out == nil || isNull(env.Data) {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return service.MakeFatal(fmt.Errorf("%s.Unmarshal data: %w (data: %s)", endpoint, err, truncate(env.Data)))
	}
	return nil
}

func (c *Client) httpError(endpoint string, statusCode int, body []byte) error {
	err := &HTTPError{Endpoint: endpoint, StatusCode: statusCode, Body: truncate(body)}
	if service.TemporaryStatus(statusCode) {
		return service.MakeTemporary(err)
	}
	return service.MakeFatal(err)
}

func truncate(body []byte) string {
	const maxLen = 512
	if len(body) > maxLen {
		return string(body[:maxLen]) + "..."
	}
	return string(body)
}

func (c *Client) authenticated(endpoint string) error {
	if c.tokens.Get() == "" {
		return service.MakeFatal(fmt.Errorf("%s: %w", endpoint, ErrNotAuthenticated))
	}
	return nil
}

// Login authenticates with a password and stores the session token
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	return c.login(ctx, EndpointLogin, map[string]string{"username": username, "password": password})
}

// LoginToken authenticates with an application token and stores the session token
func (c *Client) LoginToken(ctx context.Context, username, token string) (string, error) {
	return c.login(ctx, EndpointLoginToken, map[string]string{"username": username, "token": token})
}

func (c *Client) login(ctx context.Context, endpoint string, payload map[string]string) (string, error) {
	var token string
	if err := c.send(ctx, endpoint, payload, &token); err != nil {
		if errors.Is(err, ErrEmptyResponse) || !service.Temporary(err) {
			return "", fmt.Errorf("Login: %w: %w", ErrAuthentication, err)
		}
		return "", fmt.Errorf("Login.%w", err)
	}
	if token == "" {
		return "", service.MakeFatal(fmt.Errorf("Login: %w: missing token", ErrAuthentication))
	}
	c.tokens.Set(token)
	return token, nil
}

// Logout invalidates the session token
func (c *Client) Logout(ctx context.Context) error {
	if err := c.authenticated(EndpointLogout); err != nil {
		return err
	}
	if err := c.send(ctx, EndpointLogout, nil, nil); err != nil {
		return fmt.Errorf("Logout.%w", err)
	}
	c.tokens.Set("")
	return nil
}

// DatasetSearch returns the datasets matching the request
func (c *Client) DatasetSearch(ctx context.Context, req DatasetSearchRequest) ([]Dataset, error) {
	if err := c.authenticated(EndpointDatasetSearch); err != nil {
		return nil, err
	}
	var datasets []Dataset
	if err := c.send(ctx, EndpointDatasetSearch, req, &datasets); err != nil {
		return nil, fmt.Errorf("DatasetSearch.%w", err)
	}
	return datasets, nil
}

// SceneSearch returns one page of scenes matching the request
func (c *Client) SceneSearch(ctx context.Context, req SceneSearchRequest) (SceneSearchResult, error) {
	if err := c.authenticated(EndpointSceneSearch); err != nil {
		return SceneSearchResult{}, err
	}
	var result SceneSearchResult
	if err := c.send(ctx, EndpointSceneSearch, req, &result); err != nil {
		return SceneSearchResult{}, fmt.Errorf("SceneSearch.%w", err)
	}
	return result, nil
}

// DownloadOptions returns the products of the scenes.
// The number of entity ids should not exceed MaxEntityIDs. A larger request is logged but still sent.
func (c *Client) DownloadOptions(ctx context.Context, req DownloadOptionsRequest) ([]DownloadOption, error) {
	if err := c.authenticated(EndpointDownloadOptions); err != nil {
		return nil, err
	}
	if len(req.EntityIDs) > MaxEntityIDs {
		log.Logger(ctx).Sugar().Warnf("download-options: %d scenes requested, the service accepts at most %d", len(req.EntityIDs), MaxEntityIDs)
	}
	var options []DownloadOption
	if err := c.send(ctx, EndpointDownloadOptions, req, &options); err != nil {
		return nil, fmt.Errorf("DownloadOptions.%w", err)
	}
	return options, nil
}

// DownloadRequest asks the service to prepare the downloads
func (c *Client) DownloadRequest(ctx context.Context, req DownloadRequestRequest) (DownloadRequestResult, error) {
	if err := c.authenticated(EndpointDownloadRequest); err != nil {
		return DownloadRequestResult{}, err
	}
	var result DownloadRequestResult
	if err := c.send(ctx, EndpointDownloadRequest, req, &result); err != nil {
		return DownloadRequestResult{}, fmt.Errorf("DownloadRequest.%w", err)
	}
	return result, nil
}

// DownloadRetrieve returns the downloads of the label
func (c *Client) DownloadRetrieve(ctx context.Context, req DownloadRetrieveRequest) (DownloadRetrieveResult, error) {
	if err := c.authenticated(EndpointDownloadRetrieve); err != nil {
		return DownloadRetrieveResult{}, err
	}
	var result DownloadRetrieveResult
	if err := c.send(ctx, EndpointDownloadRetrieve, req, &result); err != nil {
		return DownloadRetrieveResult{}, fmt.Errorf("DownloadRetrieve.%w", err)
	}
	return result, nil
}
