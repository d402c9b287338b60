package location

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"k8s.io/utils/clock"
)

// DevicePath is where the agent exposes the device state.
const DevicePath = "/api/v1/device"

// RemoteProvider serves positions from the device bridge of an agent running
// in another process. It polls the agent until a fresh fix shows up or ctx
// ends.
type RemoteProvider struct {
	baseURL  string
	client   *http.Client
	clock    clock.PassiveClock
	maxAge   time.Duration
	interval time.Duration
}

// NewRemoteProvider creates a provider reading the agent at baseURL.
func NewRemoteProvider(baseURL string, clk clock.PassiveClock, maxAge, interval time.Duration) *RemoteProvider {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &RemoteProvider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport), Timeout: 5 * time.Second},
		clock:    clk,
		maxAge:   maxAge,
		interval: interval,
	}
}

// CurrentLocation implements Provider.
func (p *RemoteProvider) CurrentLocation(ctx context.Context, req Request) (Reading, error) {
	requestedAt := p.clock.Now()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		st, err := p.fetch(ctx)
		if err == nil {
			r, ok, err := evaluate(st, req, requestedAt, p.maxAge)
			if err != nil || ok {
				return r, err
			}
		} else if ctx.Err() == nil {
			log.Ctx(ctx).Warn().Err(err).Msg("Device bridge unreachable")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return Reading{}, budgetExhausted(ctx)
		}
	}
}

func (p *RemoteProvider) fetch(ctx context.Context) (State, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+DevicePath, nil)
	if err != nil {
		return State{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return State{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return State{}, fmt.Errorf("device bridge returned %d", resp.StatusCode)
	}
	var st State
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&st); err != nil {
		return State{}, fmt.Errorf("failed to decode device state: %w", err)
	}
	return st, nil
}
