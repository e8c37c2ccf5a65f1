package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/printdesk/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// Probe checks a single backing dependency.
type Probe struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// ProbeOption customises NewProbeHealthRepository.
type ProbeOption func(*probeHealthRepository)

// WithProbeTimeout sets the timeout for probes that do not declare one.
func WithProbeTimeout(timeout time.Duration) ProbeOption {
	return func(r *probeHealthRepository) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithProbeClock injects the clock used for latency and timestamps.
func WithProbeClock(clock func() time.Time) ProbeOption {
	return func(r *probeHealthRepository) {
		if clock != nil {
			r.now = clock
		}
	}
}

type probeHealthRepository struct {
	probes  []Probe
	timeout time.Duration
	now     func() time.Time
}

var _ HealthRepository = (*probeHealthRepository)(nil)

// NewProbeHealthRepository runs the supplied probes concurrently on every Collect.
func NewProbeHealthRepository(probes []Probe, opts ...ProbeOption) (HealthRepository, error) {
	if len(probes) == 0 {
		return nil, errors.New("health repository: at least one probe is required")
	}
	for _, p := range probes {
		if strings.TrimSpace(p.Name) == "" {
			return nil, errors.New("health repository: probe name is required")
		}
		if p.Check == nil {
			return nil, fmt.Errorf("health repository: probe %s has no check", p.Name)
		}
	}
	r := &probeHealthRepository{
		probes:  append([]Probe(nil), probes...),
		timeout: defaultProbeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

func (r *probeHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	if ctx == nil {
		return domain.HealthReport{}, errors.New("health repository: context is required")
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]domain.DependencyHealth, len(r.probes))
	)
	for _, probe := range r.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			result := r.run(ctx, p)
			mu.Lock()
			results[p.Name] = result
			mu.Unlock()
		}(probe)
	}
	wg.Wait()

	status := domain.HealthStatusOK
	for _, res := range results {
		switch res.Status {
		case domain.HealthStatusError:
			status = domain.HealthStatusError
		case domain.HealthStatusDegraded:
			if status == domain.HealthStatusOK {
				status = domain.HealthStatusDegraded
			}
		}
	}
	return domain.HealthReport{Status: status, Checks: results, GeneratedAt: r.now()}, nil
}

func (r *probeHealthRepository) run(ctx context.Context, p Probe) domain.DependencyHealth {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := p.Check(probeCtx)
	end := r.now()

	out := domain.DependencyHealth{Status: domain.HealthStatusOK, Detail: "ok", Latency: end.Sub(start), CheckedAt: end}
	if err == nil && probeCtx.Err() != nil {
		err = probeCtx.Err()
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		out.Status, out.Detail = domain.HealthStatusError, "timeout"
	case errors.Is(err, context.Canceled):
		out.Status, out.Detail = domain.HealthStatusError, "cancelled"
	default:
		out.Status, out.Detail = domain.HealthStatusDegraded, err.Error()
	}
	return out
}
