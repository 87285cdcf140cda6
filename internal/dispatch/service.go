// Package dispatch submits outbound events to Klaviyo and records them in the local log.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/klaviyo-relay/internal/httputil"
	"github.com/telhawk-systems/klaviyo-relay/internal/klaviyo"
	"github.com/telhawk-systems/klaviyo-relay/internal/logging"
	"github.com/telhawk-systems/klaviyo-relay/internal/metrics"
	"github.com/telhawk-systems/klaviyo-relay/internal/models"
	"github.com/telhawk-systems/klaviyo-relay/internal/repository"
)

const (
	ModeSingle      = "single"
	ModeIndependent = "independent"
	ModeAtomic      = "atomic"
)

// Notifier is told about events Klaviyo accepted.
type Notifier interface {
	NotifyDispatched(ctx context.Context, n models.DispatchNotification) error
}

// Options selects the bulk submission policy.
type Options struct {
	// PerItemIsolation submits bulk items one by one when true. When false the
	// batch is one local transaction and one remote bulk job.
	PerItemIsolation bool
}

type Service struct {
	client   *klaviyo.Client
	repo     repository.Repository
	notifier Notifier
	logger   *logging.Logger
	opts     Options
	now      func() time.Time
}

// NewService creates the dispatch engine. notifier may be nil.
func NewService(client *klaviyo.Client, repo repository.Repository, notifier Notifier, logger *logging.Logger, opts Options) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		client:   client,
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// BulkMode names the configured bulk policy.
func (s *Service) BulkMode() string {
	if s.opts.PerItemIsolation {
		return ModeIndependent
	}
	return ModeAtomic
}

// Submit logs and sends one event inside a single local transaction. Any
// failure rolls the log row back; an event Klaviyo already accepted stays sent.
func (s *Service) Submit(ctx context.Context, req models.CreateEventRequest) (*models.DispatchResult, error) {
	return s.submit(ctx, req, ModeSingle)
}

func (s *Service) submit(ctx context.Context, req models.CreateEventRequest, mode string) (*models.DispatchResult, error) {
	row := req.ToLog()
	var remote interface{}

	err := s.repo.WithTx(ctx, func(tx repository.Repository) error {
		if err := tx.InsertEventLog(ctx, row); err != nil {
			return err
		}
		out, err := s.client.CreateEvent(ctx, req.ToNewEvent())
		if err != nil {
			return err
		}
		remote = out
		return nil
	})
	if err != nil {
		metrics.DispatchedEventsTotal.WithLabelValues(mode, "failed").Inc()
		s.logger.ErrorContext(ctx, "event dispatch failed",
			logging.EventName(req.EventName),
			slog.String("mode", mode),
			logging.Error(err),
		)
		return nil, fmt.Errorf("failed to send event %q: %w", req.EventName, err)
	}

	metrics.DispatchedEventsTotal.WithLabelValues(mode, "sent").Inc()
	s.notify(ctx, models.DispatchNotification{LogID: row.ID, EventName: req.EventName, Mode: mode})
	return &models.DispatchResult{
		Success: true,
		Message: "Event sent to Klaviyo",
		LogID:   row.ID,
		Data:    remote,
	}, nil
}

// SubmitBulk sends a batch according to the configured policy and reports every item.
func (s *Service) SubmitBulk(ctx context.Context, reqs []models.CreateEventRequest) *models.BulkResponse {
	if s.opts.PerItemIsolation {
		return s.submitIndependent(ctx, reqs)
	}
	return s.submitAtomic(ctx, reqs)
}

func (s *Service) submitIndependent(ctx context.Context, reqs []models.CreateEventRequest) *models.BulkResponse {
	resp := &models.BulkResponse{
		Total:   len(reqs),
		Mode:    ModeIndependent,
		Results: make([]models.BulkEventResult, 0, len(reqs)),
	}
	for _, req := range reqs {
		item := models.BulkEventResult{EventName: req.EventName, Profile: req.ProfileAttributes}
		res, err := s.submit(ctx, req, ModeIndependent)
		if err != nil {
			item.Error = httputil.ErrorPayload(err)
			resp.FailedCount++
		} else {
			item.Success = true
			item.Data = res.Data
			resp.SuccessCount++
		}
		resp.Results = append(resp.Results, item)
	}
	return resp
}

func (s *Service) submitAtomic(ctx context.Context, reqs []models.CreateEventRequest) *models.BulkResponse {
	resp := &models.BulkResponse{
		Total:   len(reqs),
		Mode:    ModeAtomic,
		Results: make([]models.BulkEventResult, 0, len(reqs)),
	}
	rows := make([]*models.EventLog, len(reqs))
	var remote interface{}

	err := s.repo.WithTx(ctx, func(tx repository.Repository) error {
		events := make([]klaviyo.NewEvent, len(reqs))
		for i, req := range reqs {
			rows[i] = req.ToLog()
			if err := tx.InsertEventLog(ctx, rows[i]); err != nil {
				return err
			}
			events[i] = req.ToNewEvent()
		}
		out, err := s.client.CreateBulkEventsJob(ctx, events)
		if err != nil {
			return err
		}
		remote = out
		return nil
	})

	var payload interface{}
	if err != nil {
		payload = httputil.ErrorPayload(err)
		metrics.DispatchedEventsTotal.WithLabelValues(ModeAtomic, "failed").Add(float64(len(reqs)))
		s.logger.ErrorContext(ctx, "bulk dispatch failed",
			logging.Count(int64(len(reqs))),
			logging.Error(err),
		)
	} else {
		metrics.DispatchedEventsTotal.WithLabelValues(ModeAtomic, "sent").Add(float64(len(reqs)))
	}

	for i, req := range reqs {
		item := models.BulkEventResult{EventName: req.EventName, Profile: req.ProfileAttributes}
		if err != nil {
			item.Error = payload
			resp.FailedCount++
		} else {
			item.Success = true
			item.Data = remote
			resp.SuccessCount++
			s.notify(ctx, models.DispatchNotification{LogID: rows[i].ID, EventName: req.EventName, Mode: ModeAtomic})
		}
		resp.Results = append(resp.Results, item)
	}
	return resp
}

// MergeProfiles merges the duplicates named by req into its primary profile.
func (s *Service) MergeProfiles(ctx context.Context, req models.MergeProfilesRequest) (interface{}, error) {
	out, err := s.client.MergeProfiles(ctx, req.PrimaryProfileID, req.SourceIDs())
	if err != nil {
		s.logger.ErrorContext(ctx, "profile merge failed",
			logging.ProfileID(req.PrimaryProfileID),
			logging.Error(err),
		)
		return nil, fmt.Errorf("failed to merge profiles: %w", err)
	}
	return out, nil
}

func (s *Service) notify(ctx context.Context, n models.DispatchNotification) {
	if s.notifier == nil {
		return
	}
	n.ID = uuid.New().String()
	n.AcceptedAt = s.now().UTC()
	if err := s.notifier.NotifyDispatched(ctx, n); err != nil {
		s.logger.WarnContext(ctx, "dispatch notification failed",
			logging.EventName(n.EventName),
			logging.Error(err),
		)
	}
}
