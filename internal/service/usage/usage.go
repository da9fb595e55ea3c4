package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/m3u-dvr/internal/config"
	"github.com/m3u-dvr/internal/job"
	"github.com/m3u-dvr/internal/statusfile"
	"github.com/m3u-dvr/internal/store"
	"github.com/m3u-dvr/internal/tracker"
)

// ErrLimitReached is returned when a service has no free connection.
var ErrLimitReached = errors.New("service connection limit reached")

// Usage is the concurrent use of one streaming service, counted at read time.
type Usage struct {
	ServiceID string `json:"serviceId"`
	Live      int    `json:"live"`
	Consumers int    `json:"consumers"`
	Downloads int    `json:"downloads"`
	Total     int    `json:"total"`
	Limit     int    `json:"limit"` // 0 = unlimited
}

// Service counts usage across live jobs, player consumers and downloads.
// There is no lock: two racing starts may briefly overshoot the limit.
type Service struct {
	cfg       *config.Config
	store     *store.Store
	consumers *tracker.Consumers
}

func New(cfg *config.Config, st *store.Store, consumers *tracker.Consumers) *Service {
	return &Service{cfg: cfg, store: st, consumers: consumers}
}

// ServiceFor returns the service an entry URL belongs to, or "".
func (s *Service) ServiceFor(rawURL string) string {
	if svc, ok := s.cfg.LookupService(rawURL); ok {
		return svc.ID
	}
	return ""
}

// Usage returns the current usage of serviceID.
func (s *Service) Usage(ctx context.Context, serviceID string) (Usage, error) {
	u := Usage{ServiceID: serviceID}
	if svc, ok := s.cfg.ServiceByID(serviceID); ok {
		u.Limit = svc.MaxConnections
	}
	u.Consumers = s.consumers.CountForService(serviceID)

	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return u, fmt.Errorf("list jobs: %w", err)
	}
	for _, jf := range jobs {
		j := jf.Job
		owner := j.ServiceID
		if owner == "" {
			owner = s.ServiceFor(j.Entry.URL)
		}
		if owner != serviceID {
			continue
		}
		latest, err := statusfile.ReadLatest(j.StatusFile)
		if err != nil || job.IsTerminal(latest[job.KeyStatus]) {
			continue
		}
		switch j.Kind {
		case job.KindLive:
			u.Live++
		case job.KindDownload, job.KindMovie:
			u.Downloads++
		case job.KindRecording:
		}
	}
	u.Total = u.Live + u.Consumers + u.Downloads
	return u, nil
}

// Admit returns ErrLimitReached when serviceID is at its ceiling.
// Unknown services and services without a ceiling are always admitted.
func (s *Service) Admit(ctx context.Context, serviceID string) error {
	if serviceID == "" {
		return nil
	}
	svc, ok := s.cfg.ServiceByID(serviceID)
	if !ok || svc.MaxConnections <= 0 {
		return nil
	}
	u, err := s.Usage(ctx, serviceID)
	if err != nil {
		return err
	}
	if u.Total >= svc.MaxConnections {
		return fmt.Errorf("%s (%d/%d): %w", svc.Name, u.Total, svc.MaxConnections, ErrLimitReached)
	}
	return nil
}
