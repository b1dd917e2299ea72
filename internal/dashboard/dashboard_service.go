package dashboard

import (
	"context"
	"time"

	"dailybrief/internal/schedule"
	"dailybrief/internal/scheduler"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// StatsStore counts schedule rows.
type StatsStore interface {
	CountEnabled(ctx context.Context) (int, error)
	CountSentOn(ctx context.Context, day string) (int, error)
}

// ReportSource exposes the most recent pass.
type ReportSource interface {
	LastReport() *scheduler.RunReport
}

// DashboardData is the operator status view.
type DashboardData struct {
	Today        string               `json:"today"`
	EnabledUsers int                  `json:"enabledUsers"`
	SentToday    int                  `json:"sentToday"`
	PendingToday int                  `json:"pendingToday"`
	LastRun      *scheduler.RunReport `json:"lastRun,omitempty"`
}

// Service aggregates dashboard data.
type Service struct {
	store   StatsStore
	reports ReportSource
}

// NewService creates a new Service.
func NewService(store StatsStore, reports ReportSource) *Service {
	return &Service{store: store, reports: reports}
}

// GetDashboardData runs the counts in parallel.
func (s *Service) GetDashboardData(ctx context.Context, now time.Time) (*DashboardData, error) {
	data := DashboardData{Today: now.UTC().Format(schedule.DateLayout)}
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		count, err := s.store.CountEnabled(ctx)
		if err != nil {
			log.Errorf("GetDashboardData: CountEnabled failed: %v", err)
			return err
		}
		data.EnabledUsers = count
		return nil
	})

	eg.Go(func() error {
		count, err := s.store.CountSentOn(ctx, data.Today)
		if err != nil {
			log.Errorf("GetDashboardData: CountSentOn failed: %v", err)
			return err
		}
		data.SentToday = count
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if data.EnabledUsers > data.SentToday {
		data.PendingToday = data.EnabledUsers - data.SentToday
	}
	data.LastRun = s.reports.LastReport()
	return &data, nil
}
