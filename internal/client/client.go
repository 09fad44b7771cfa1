// Package client calls the chat Read and Write operations over HTTP.
package client

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

	"github.com/MarcoPoloResearchLab/chatlog/internal/protocol"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 5 * time.Second
	maxResponseBytes      = 1 << 20
)

var (
	errMissingBaseURL = errors.New("client: base url is required")

	// ErrRejected marks a write the server answered with a non-success status.
	ErrRejected = errors.New("client: request rejected")
)

// TransportError reports a failed call as observed by the client: network failure,
// timeout, undecodable body or non-success status.
type TransportError struct {
	Op     string
	Status int
	Code   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		if e.Code != "" {
			return fmt.Sprintf("%s: status %d (%s)", e.Op, e.Status, e.Code)
		}
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is an HTTP implementation of the sync protocol.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Read fetches the current tail. An empty log yields an empty, non-nil slice.
func (c *Client) Read(ctx context.Context) ([]protocol.MessagePayload, error) {
	const op = "read"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+protocol.MessagesPath, nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Debug("read failed", zap.Error(err))
		return nil, &TransportError{Op: op, Err: err}
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if response.StatusCode != http.StatusOK {
		var failure protocol.ErrorResponse
		_ = json.Unmarshal(body, &failure)
		return nil, &TransportError{Op: op, Status: response.StatusCode, Code: failure.Error, Err: ErrRejected}
	}

	messages := make([]protocol.MessagePayload, 0)
	if err := json.Unmarshal(body, &messages); err != nil {
		return nil, &TransportError{Op: op, Status: response.StatusCode, Err: err}
	}
	if messages == nil {
		messages = make([]protocol.MessagePayload, 0)
	}
	return messages, nil
}

// Write submits a message. Any non-success answer is returned as a *TransportError
// alongside the decoded response, which for server failures still carries a time.
func (c *Client) Write(ctx context.Context, text, author string) (protocol.WriteResponse, error) {
	const op = "write"

	encoded, err := json.Marshal(protocol.WriteRequest{Message: text, From: author})
	if err != nil {
		return protocol.WriteResponse{}, &TransportError{Op: op, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+protocol.MessagesPath, bytes.NewReader(encoded))
	if err != nil {
		return protocol.WriteResponse{}, &TransportError{Op: op, Err: err}
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Debug("write failed", zap.Error(err))
		return protocol.WriteResponse{}, &TransportError{Op: op, Err: err}
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return protocol.WriteResponse{}, &TransportError{Op: op, Err: err}
	}

	var payload protocol.WriteResponse
	decodeErr := json.Unmarshal(body, &payload)
	if response.StatusCode != http.StatusOK {
		return payload, &TransportError{Op: op, Status: response.StatusCode, Code: payload.Error, Err: ErrRejected}
	}
	if decodeErr != nil {
		return protocol.WriteResponse{}, &TransportError{Op: op, Status: response.StatusCode, Err: decodeErr}
	}
	return payload, nil
}
