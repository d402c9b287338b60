package gateway

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

	"attendance.agent/internal/core/model"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	pathCheckWorkStatus    = "/core/checkWorkStatus"
	pathMarkAutoAttendance = "/core/markAutoAttendance"
	pathGetOfficeLocations = "/core/getOfficeLocations"
	pathUpdateDeviceID     = "/core/updateDeviceId"
	pathModifyToken        = "/core/modifyToken"
)

// ErrUnavailable marks failures worth retrying on a later trigger: network
// errors, 5xx responses and an open circuit.
var ErrUnavailable = errors.New("backend unavailable")

// errMalformed is a 2xx answer that could not be decoded. Retrying it could
// repeat a submission the backend already accepted.
var errMalformed = errors.New("malformed backend response")

// StatusError is a non-successful HTTP answer from the backend.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s returned status %d: %s", e.Path, e.StatusCode, e.Body)
}

// Gateway contract for the attendance backend.
type Gateway interface {
	CheckWorkStatus(ctx context.Context, token string) (model.WorkStatus, error)
	SubmitAttendance(ctx context.Context, token string, at model.Coordinates, source model.Source) (model.SubmitResult, error)
	FetchOfficeLocations(ctx context.Context, token string) ([]model.OfficeLocation, error)
}

// HTTPClient talks to the backend over JSON POSTs.
type HTTPClient struct {
	client      *http.Client
	baseURL     string
	maxAttempts uint
	backoff     func() backoff.BackOff
	cb          *gobreaker.CircuitBreaker
}

// Option configures the HTTPClient.
type Option func(*HTTPClient)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxAttempts bounds how many times one call is tried.
func WithMaxAttempts(n uint) Option {
	return func(c *HTTPClient) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackOff replaces the retry schedule. Tests use it to avoid sleeping.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *HTTPClient) {
		c.backoff = f
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		c.client = hc
	}
}

// NewHTTPClient new HTTPClient with a circuit breaker in front of the backend.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:     strings.TrimRight(baseURL, "/"),
		maxAttempts: 3,
		backoff:     defaultBackOff,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "Attendance-Backend",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip if failure rate is at least 50% after at least 10 requests
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.5
		},
		IsSuccessful: func(err error) bool {
			// 4xx answers mean the backend is healthy
			var se *StatusError
			return err == nil || (errors.As(err, &se) && se.StatusCode < 500)
		},
	})
	return c
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

type tokenRequest struct {
	Token string `json:"token"`
}

type workStatusResponse struct {
	Data *bool `json:"data"`
}

// CheckWorkStatus asks whether the employee should mark today. A missing or
// null answer counts as working.
func (c *HTTPClient) CheckWorkStatus(ctx context.Context, token string) (model.WorkStatus, error) {
	var resp workStatusResponse
	if err := c.call(ctx, pathCheckWorkStatus, token, tokenRequest{Token: token}, &resp); err != nil {
		return model.WorkStatus{}, err
	}
	if resp.Data == nil {
		return model.WorkStatus{Working: true}, nil
	}
	return model.WorkStatus{Working: *resp.Data}, nil
}

type markRequest struct {
	Token     string       `json:"token"`
	Latitude  float64      `json:"latitude"`
	Longitude float64      `json:"longitude"`
	Source    model.Source `json:"source"`
}

type markResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// SubmitAttendance records attendance at the given position.
func (c *HTTPClient) SubmitAttendance(ctx context.Context, token string, at model.Coordinates, source model.Source) (model.SubmitResult, error) {
	req := markRequest{
		Token:     token,
		Latitude:  at.Latitude,
		Longitude: at.Longitude,
		Source:    source,
	}
	var resp markResponse
	if err := c.call(ctx, pathMarkAutoAttendance, token, req, &resp); err != nil {
		return model.SubmitResult{}, err
	}

	result := model.SubmitResult{Success: true, Message: resp.Message}
	if resp.Success != nil {
		result.Success = *resp.Success
	}
	log.Ctx(ctx).Info().Str("source", string(source)).Bool("success", result.Success).Msg("Attendance submitted to backend")
	return result, nil
}

type officeDTO struct {
	ID        json.RawMessage `json:"id"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Name      string          `json:"name"`
}

type officesResponse struct {
	Offices []officeDTO `json:"offices"`
}

// FetchOfficeLocations returns the offices the employee may mark at.
func (c *HTTPClient) FetchOfficeLocations(ctx context.Context, token string) ([]model.OfficeLocation, error) {
	var resp officesResponse
	if err := c.call(ctx, pathGetOfficeLocations, token, tokenRequest{Token: token}, &resp); err != nil {
		return nil, err
	}

	offices := make([]model.OfficeLocation, 0, len(resp.Offices))
	for _, o := range resp.Offices {
		offices = append(offices, model.OfficeLocation{
			ID:        rawID(o.ID),
			Latitude:  o.Latitude,
			Longitude: o.Longitude,
			Name:      o.Name,
		})
	}
	return offices, nil
}

// UpdateDeviceID registers the device with the backend.
func (c *HTTPClient) UpdateDeviceID(ctx context.Context, token, deviceID string) error {
	body := struct {
		Token    string `json:"token"`
		DeviceID string `json:"deviceId"`
	}{Token: token, DeviceID: deviceID}
	return c.call(ctx, pathUpdateDeviceID, token, body, nil)
}

// ModifyToken registers a new push token for the device.
func (c *HTTPClient) ModifyToken(ctx context.Context, token, pushToken string) error {
	body := struct {
		Token     string `json:"token"`
		PushToken string `json:"pushToken"`
	}{Token: token, PushToken: pushToken}
	return c.call(ctx, pathModifyToken, token, body, nil)
}

// call posts body with bounded exponential backoff. 4xx answers and an open
// circuit end the retries immediately.
func (c *HTTPClient) call(ctx context.Context, path, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", path, err)
	}

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		_, err := c.cb.Execute(func() (interface{}, error) {
			return nil, c.post(ctx, path, token, payload, out)
		})
		if err == nil {
			return struct{}{}, nil
		}

		var se *StatusError
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			log.Ctx(ctx).Warn().Str("path", path).Msg("Circuit breaker is open; skipping backend call")
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: %w", ErrUnavailable, err))
		case errors.As(err, &se) && se.StatusCode < 500, errors.Is(err, errMalformed):
			return struct{}{}, backoff.Permanent(err)
		}
		log.Ctx(ctx).Warn().Err(err).Str("path", path).Int("attempt", attempt).Msg("Backend call failed")
		return struct{}{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.backoff()),
		backoff.WithMaxTries(c.maxAttempts),
	)
	return err
}

func (c *HTTPClient) post(ctx context.Context, path, token string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", path, err)
	}

	if resp.StatusCode >= 300 {
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", errMalformed, path, err)
	}
	return nil
}

// rawID accepts numeric and string identifiers.
func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
