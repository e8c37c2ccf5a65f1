package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/printdesk/api/internal/domain"
	"github.com/printdesk/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	// ShopFeed, when set, adds a check reporting whether live shop settings have been received.
	ShopFeed interface{ Live() bool }
	Clock    func() time.Time
	Build    BuildInfo
}

type systemService struct {
	healthRepo repositories.HealthRepository
	shopFeed   interface{ Live() bool }
	clock      func() time.Time
	build      BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service providing readiness reports.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		shopFeed:   deps.ShopFeed,
		clock: func() time.Time {
			return clock().UTC()
		},
		build: build,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (HealthReport, error) {
	if ctx == nil {
		return HealthReport{}, errors.New("system service: context is required")
	}

	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return HealthReport{}, err
	}

	now := s.clock()
	report.GeneratedAt = ensureTimestamp(report.GeneratedAt, now)
	if report.Checks == nil {
		report.Checks = map[string]domain.DependencyHealth{}
	}
	if s.shopFeed != nil {
		check := domain.DependencyHealth{Status: domain.HealthStatusOK, CheckedAt: now}
		if !s.shopFeed.Live() {
			check.Status = domain.HealthStatusDegraded
			check.Detail = "serving fallback pricing"
		}
		report.Checks["shopSettings"] = check
	}
	report.Status = deriveStatus(report.Checks)
	report.Version = chooseFirstNonEmpty(report.Version, s.build.Version)
	report.CommitSHA = chooseFirstNonEmpty(report.CommitSHA, s.build.CommitSHA)
	report.Environment = chooseFirstNonEmpty(report.Environment, s.build.Environment)
	if report.Uptime <= 0 && !s.build.StartedAt.IsZero() {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	return report, nil
}

func ensureTimestamp(ts time.Time, fallback time.Time) time.Time {
	if ts.IsZero() {
		return fallback
	}
	return ts.UTC()
}

func chooseFirstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func deriveStatus(checks map[string]domain.DependencyHealth) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch strings.TrimSpace(check.Status) {
		case domain.HealthStatusOK, "":
			continue
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
