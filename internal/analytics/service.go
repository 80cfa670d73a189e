// Package analytics aggregates the delivery log and the queue for the admin
// dashboard.
package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/znz-systems/courier/internal/models"
	"github.com/znz-systems/courier/internal/store"
)

const (
	DefaultWindow = 30 * 24 * time.Hour
	topTemplates  = 10
)

type Summary struct {
	Since               time.Time
	QueueStats          []models.QueueStatusCount
	StatusStats         []models.LogStatusCount
	DailyVolume         []models.DailyVolume
	TemplatePerformance []models.TemplatePerformance
}

type Service struct {
	queue store.QueueStore
	log   store.DeliveryLogStore
	now   func() time.Time
}

func NewService(queue store.QueueStore, log store.DeliveryLogStore) *Service {
	return &Service{queue: queue, log: log, now: time.Now}
}

// Summary reports queue and delivery statistics for the trailing window.
// A non-positive window selects DefaultWindow.
func (s *Service) Summary(ctx context.Context, window time.Duration) (*Summary, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	since := s.now().Add(-window)

	queueStats, err := s.queue.CountQueuedEmailsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	statusStats, err := s.log.CountDeliveryLogByStatus(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("status stats: %w", err)
	}
	daily, err := s.log.DailyDeliveryVolume(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("daily volume: %w", err)
	}
	perf, err := s.log.TemplatePerformance(ctx, since, topTemplates)
	if err != nil {
		return nil, fmt.Errorf("template performance: %w", err)
	}
	for i := range perf {
		perf[i].SuccessRate = successRate(perf[i].Successful, perf[i].Total)
	}

	return &Summary{
		Since:               since,
		QueueStats:          queueStats,
		StatusStats:         statusStats,
		DailyVolume:         daily,
		TemplatePerformance: perf,
	}, nil
}

func (s *Service) ListQueue(ctx context.Context, q models.QueueQuery) ([]models.QueuedEmailView, int, error) {
	rows, total, err := s.queue.ListQueuedEmails(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("listing queue: %w", err)
	}
	return rows, total, nil
}

func (s *Service) ListDeliveryLog(ctx context.Context, q models.DeliveryLogQuery) ([]models.DeliveryLogEntryView, int, error) {
	rows, total, err := s.log.ListDeliveryLog(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("listing delivery log: %w", err)
	}
	return rows, total, nil
}

// successRate returns successful*100/total rounded to two decimals.
func successRate(successful, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(successful)*10000/float64(total)) / 100
}
