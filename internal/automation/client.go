// Package automation is the typed gateway to the remote scraping/automation service.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vehiclefolders/internal/execlog"
)

const maxResponseBodyBytes = 10 << 20

// Sentinel errors for transport failures. A *TransportError always unwraps to one of these.
var (
	ErrUnreachable       = errors.New("automation service unreachable")
	ErrTimeout           = errors.New("automation service timeout")
	ErrCanceled          = errors.New("automation service request canceled")
	ErrRemoteStatus      = errors.New("automation service returned non-success status")
	ErrMalformedResponse = errors.New("automation service returned malformed response")
)

// TransportError means the remote call could not be completed.
type TransportError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client is the interface for calling the automation service.
// Every method merges the response logs into log, whether or not the call succeeded.
type Client interface {
	Infractions(ctx context.Context, req Request, log *execlog.Logger) (*Response, error)
	Debt(ctx context.Context, req Request, log *execlog.Logger) (*Response, error)
	RegistrationStatus(ctx context.Context, req Request, log *execlog.Logger) (*Response, error)
	PaymentAgreement(ctx context.Context, req Request, log *execlog.Logger) (*Response, error)
	CertificateRequest(ctx context.Context, req Request, log *execlog.Logger) (*Response, error)
	CertificateIssuance(ctx context.Context, req Request, log *execlog.Logger) (*Response, error)
	Ready(ctx context.Context) error
}

// HTTPClient implements Client over the service's JSON HTTP API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a new automation HTTP client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Infractions(ctx context.Context, req Request, log *execlog.Logger) (*Response, error) {
	return c.call(ctx, EndpointInfractions, req, log)
}

func (c *HTTPClient) Debt(ctx context.Context, req Request, log *execlog.Logger) (*Response, error) {
	return c.call(ctx, EndpointDebt, req, log)
}

func (c *HTTPClient) RegistrationStatus(ctx context.Context, req Request, log *execlog.Logger) (*Response, error) {
	return c.call(ctx, EndpointRegistrationStatus, req, log)
}

func (c *HTTPClient) PaymentAgreement(ctx context.Context, req Request, log *execlog.Logger) (*Response, error) {
	return c.call(ctx, EndpointPaymentAgreement, req, log)
}

func (c *HTTPClient) CertificateRequest(ctx context.Context, req Request, log *execlog.Logger) (*Response, error) {
	return c.call(ctx, EndpointCertificateRequest, req, log)
}

func (c *HTTPClient) CertificateIssuance(ctx context.Context, req Request, log *execlog.Logger) (*Response, error) {
	return c.call(ctx, EndpointCertificateIssuance, req, log)
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	u := fmt.Sprintf("%s/health", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: automation service not ready (status %d)", ErrUnreachable, resp.StatusCode)
	}

	return nil
}

func (c *HTTPClient) call(ctx context.Context, endpoint string, req Request, log *execlog.Logger) (*Response, error) {
	if log == nil {
		log = execlog.New(nil)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", endpoint, err)
	}

	u := fmt.Sprintf("%s/api/automation/%s", c.baseURL, endpoint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.JobID != uuid.Nil {
		httpReq.Header.Set("X-Request-ID", req.JobID.String())
	}

	log.Info("calling automation service", map[string]any{
		"endpoint":    endpoint,
		"vehicleData": req.VehicleData,
	})

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, classifyError(endpoint, err)
	}

	var wire wireResponse
	decodeErr := json.Unmarshal(raw, &wire)
	if decodeErr == nil {
		log.AddLogs(convertLogs(wire.Logs))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && wire.errorMessage() != "" {
			msg = wire.errorMessage()
		}
		return nil, &TransportError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    msg,
			Err:        ErrRemoteStatus,
		}
	}
	if decodeErr != nil {
		return nil, &TransportError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    decodeErr.Error(),
			Err:        ErrMalformedResponse,
		}
	}
	if wire.Success && !wire.hasData() {
		return nil, &TransportError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    "success reported without data",
			Err:        ErrMalformedResponse,
		}
	}

	log.Info("automation service responded", map[string]any{
		"endpoint":    endpoint,
		"success":     wire.Success,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	// Logs stay on the response for inspection; they are already merged into log.
	return wire.toResponse(), nil
}

func (c *HTTPClient) setHeaders(httpReq *http.Request) {
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(endpoint string, err error) error {
	kind := ErrUnreachable
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = ErrTimeout
	case errors.Is(err, context.Canceled):
		kind = ErrCanceled
	}
	return &TransportError{Endpoint: endpoint, Message: err.Error(), Err: kind}
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
