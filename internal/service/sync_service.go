package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/creatorsync/internal/collector"
	appErrors "github.com/unclebandit/creatorsync/internal/errors"
	"github.com/unclebandit/creatorsync/internal/metrics"
	"github.com/unclebandit/creatorsync/internal/model"
	"github.com/unclebandit/creatorsync/internal/queue"
	"github.com/unclebandit/creatorsync/internal/repository"
)

// AnalyticsFetcher is the synchronous collector endpoint.
type AnalyticsFetcher interface {
	FetchAnalytics(ctx context.Context, platform, username string) (*collector.Analytics, error)
}

type SyncOptions struct {
	RefreshThreshold  time.Duration
	ScrapeMaxAttempts int
	IdleInterval      time.Duration
	Now               func() time.Time
}

// SyncService keeps cached profile metrics fresh.
type SyncService struct {
	profiles  repository.ProfileRepositoryInterface
	collector AnalyticsFetcher
	broker    queue.Broker
	logger    *zap.Logger
	opts      SyncOptions
}

func NewSyncService(
	profiles repository.ProfileRepositoryInterface,
	fetcher AnalyticsFetcher,
	broker queue.Broker,
	logger *zap.Logger,
	opts SyncOptions,
) *SyncService {
	if opts.RefreshThreshold <= 0 {
		opts.RefreshThreshold = 7 * 24 * time.Hour
	}
	if opts.ScrapeMaxAttempts <= 0 {
		opts.ScrapeMaxAttempts = 3
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &SyncService{
		profiles:  profiles,
		collector: fetcher,
		broker:    broker,
		logger:    logger,
		opts:      opts,
	}
}

func (s *SyncService) NeedsRefresh(p *model.TrackedProfile, now time.Time) bool {
	return p.NeedsRefresh(now, s.opts.RefreshThreshold)
}

// SyncAccount refreshes one profile. A stale profile is handed to the
// collector's queue unless force is set; otherwise the collector is called
// directly and the result persisted. Unknown accounts and collector outages
// are not errors.
func (s *SyncService) SyncAccount(ctx context.Context, p *model.TrackedProfile, force bool) error {
	log := s.logger.With(zap.Int64("profile_id", p.ID), zap.String("platform", p.Platform), zap.String("handle", p.Handle))

	if !force && s.NeedsRefresh(p, s.opts.Now()) {
		if _, err := s.RequestScrape(ctx, p, queue.PriorityDefault); err != nil {
			return err
		}
		log.Info("stale profile queued for scrape")
		metrics.SyncOutcomesTotal.WithLabelValues(p.Platform, "queued").Inc()
		return nil
	}

	result, err := s.collector.FetchAnalytics(ctx, p.Platform, p.Handle)
	switch {
	case errors.Is(err, collector.ErrNotFound):
		log.Warn("collector has no such account")
		metrics.SyncOutcomesTotal.WithLabelValues(p.Platform, "not_found").Inc()
		return nil
	case errors.Is(err, collector.ErrTransient):
		log.Warn("collector unavailable, falling back to scrape queue", zap.Error(err))
		if _, err := s.RequestScrape(ctx, p, queue.PriorityDefault); err != nil {
			return err
		}
		metrics.SyncOutcomesTotal.WithLabelValues(p.Platform, "fallback").Inc()
		return nil
	case err != nil:
		metrics.SyncOutcomesTotal.WithLabelValues(p.Platform, "error").Inc()
		return fmt.Errorf("fetch analytics for %s/%s: %w", p.Platform, p.Handle, err)
	}

	if err := s.Persist(ctx, p, result); err != nil {
		metrics.SyncOutcomesTotal.WithLabelValues(p.Platform, "error").Inc()
		return err
	}
	log.Info("profile synced", zap.Int("posts", len(result.Posts)))
	metrics.SyncOutcomesTotal.WithLabelValues(p.Platform, "synced").Inc()
	return nil
}

// SyncByID loads a profile and syncs it.
func (s *SyncService) SyncByID(ctx context.Context, id int64, force bool) error {
	p, err := s.profiles.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return s.SyncAccount(ctx, p, force)
}

// RequestScrape publishes a scrape request for the collector and returns the
// request id.
func (s *SyncService) RequestScrape(ctx context.Context, p *model.TrackedProfile, priority queue.Priority) (string, error) {
	req := model.ScrapeRequest{
		RequestID:   uuid.NewString(),
		Username:    p.Handle,
		Platform:    p.Platform,
		RequestType: model.ScrapeRequestTypeUser,
		Priority:    int(priority),
		MaxAttempts: s.opts.ScrapeMaxAttempts,
	}
	if _, err := s.broker.Publish(ctx, queue.ScrapeIn, req, priority); err != nil {
		return "", fmt.Errorf("publish scrape request for %s/%s: %w", p.Platform, p.Handle, err)
	}
	return req.RequestID, nil
}

// Persist writes a collector result for p in one transaction.
func (s *SyncService) Persist(ctx context.Context, p *model.TrackedProfile, result *collector.Analytics) error {
	now := s.opts.Now()
	posts := toTrackedPosts(p.ID, result.Posts)
	snap := ComputeSnapshot(posts, result.User.Metrics.FollowersCount, now)

	updated := *p
	updated.FollowersCount = result.User.Metrics.FollowersCount
	updated.FollowingCount = result.User.Metrics.FollowingCount
	updated.PostsCount = result.User.Metrics.MediaCount

	ed := result.User.EngagementData
	if ed == (collector.EngagementData{}) {
		ed = collector.EngagementData{
			AverageLikes:    snap.AvgLikes,
			AverageComments: snap.AvgComments,
			AverageShares:   snap.AvgShares,
			AverageViews:    snap.AvgViews,
		}
	}
	updated.AvgLikes = round2(ed.AverageLikes)
	updated.AvgComments = round2(ed.AverageComments)
	updated.AvgShares = round2(ed.AverageShares)
	updated.AvgViews = round2(ed.AverageViews)
	updated.EngagementRate = EngagementRate(updated.AvgLikes, updated.AvgComments, updated.AvgShares, updated.FollowersCount)
	updated.AvgByType = snap.ByType
	updated.EngagementSnapshot = snap
	updated.LastSyncedAt = &now
	if latest := latestPost(posts); latest != nil {
		updated.LastPostedAt = latest
	}

	if err := s.profiles.Persist(ctx, &model.ProfileSync{Profile: &updated, Posts: posts}); err != nil {
		return fmt.Errorf("persist profile %d: %w", p.ID, err)
	}
	*p = updated
	return nil
}

func toTrackedPosts(profileID int64, in []collector.Post) []model.TrackedPost {
	seen := make(map[string]struct{}, len(in))
	out := make([]model.TrackedPost, 0, len(in))
	for _, p := range in {
		if p.PostID == "" {
			continue
		}
		if _, dup := seen[p.PostID]; dup {
			continue
		}
		seen[p.PostID] = struct{}{}
		out = append(out, model.TrackedPost{
			ProfileID:      profileID,
			PlatformPostID: p.PostID,
			PostType:       p.PostType,
			Content:        p.Content,
			Hashtags:       p.Hashtags,
			Mentions:       p.Mentions,
			Likes:          p.Metrics.LikesCount,
			Comments:       p.Metrics.CommentsCount,
			Views:          p.Metrics.ViewsCount,
			Shares:         p.Metrics.SharesCount,
			PostedAt:       p.Time(),
		})
	}
	return out
}

func latestPost(posts []model.TrackedPost) *time.Time {
	var latest *time.Time
	for _, p := range posts {
		if p.PostedAt != nil && (latest == nil || p.PostedAt.After(*latest)) {
			latest = p.PostedAt
		}
	}
	return latest
}

type DrainSummary struct {
	Received int `json:"received"`
	Synced   int `json:"synced"`
	Ignored  int `json:"ignored"`
	Skipped  int `json:"skipped"`
	Requeued int `json:"requeued"`
}

// ProcessCompletionQueue drains up to limit completion events and force-syncs
// the profiles they name. The batch ends early after a requeue so the same
// message is not picked straight back up.
func (s *SyncService) ProcessCompletionQueue(ctx context.Context, limit int) (DrainSummary, error) {
	var sum DrainSummary
	for sum.Received < limit {
		msg, err := s.broker.ConsumeNext(ctx, queue.ScrapeOut)
		if err != nil {
			return sum, fmt.Errorf("consume %s: %w", queue.ScrapeOut, err)
		}
		if msg == nil {
			break
		}
		sum.Received++

		if s.handleCompletion(ctx, msg, &sum) {
			sum.Requeued++
			if err := s.broker.Nack(msg, true); err != nil {
				return sum, fmt.Errorf("nack %s: %w", msg.ID, err)
			}
			break
		}
		if err := s.broker.Ack(msg); err != nil {
			return sum, fmt.Errorf("ack %s: %w", msg.ID, err)
		}
	}
	return sum, nil
}

// handleCompletion reports whether the message should be requeued.
func (s *SyncService) handleCompletion(ctx context.Context, msg *queue.Message, sum *DrainSummary) bool {
	var ev model.ScrapeCompletion
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		s.logger.Warn("dropping malformed completion event", zap.String("broker_message_id", msg.ID), zap.Error(err))
		sum.Ignored++
		return false
	}
	if ev.Event != model.EventScrapeCompleted {
		sum.Ignored++
		return false
	}
	if ev.Platform == "" || ev.Username == "" {
		s.logger.Warn("completion event without platform or username", zap.String("broker_message_id", msg.ID))
		sum.Skipped++
		return false
	}

	log := s.logger.With(zap.String("platform", ev.Platform), zap.String("handle", ev.Username))
	p, err := s.profiles.FindByHandle(ctx, ev.Platform, ev.Username)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			log.Info("completion for untracked profile skipped")
			sum.Skipped++
			return false
		}
		log.Error("profile lookup failed", zap.Error(err))
		return true
	}

	if err := s.SyncAccount(ctx, p, true); err != nil {
		if errors.Is(err, appErrors.ErrNotFound) || errors.Is(err, appErrors.ErrValidation) {
			log.Warn("completion sync skipped", zap.Error(err))
			sum.Skipped++
			return false
		}
		log.Error("completion sync failed", zap.Error(err))
		return true
	}
	sum.Synced++
	return false
}

// RunDrainer processes completion batches until ctx is canceled, sleeping
// the idle interval when a batch found nothing to do. Cancellation is only
// observed between batches.
func (s *SyncService) RunDrainer(ctx context.Context, batch int) error {
	s.logger.Info("completion drainer started", zap.Int("batch", batch))
	for {
		if ctx.Err() != nil {
			s.logger.Info("completion drainer stopping")
			return nil
		}

		sum, err := s.ProcessCompletionQueue(context.WithoutCancel(ctx), batch)
		if err != nil {
			return err
		}
		if sum.Received > 0 {
			s.logger.Info("completion batch processed",
				zap.Int("received", sum.Received),
				zap.Int("synced", sum.Synced),
				zap.Int("ignored", sum.Ignored),
				zap.Int("skipped", sum.Skipped),
				zap.Int("requeued", sum.Requeued))
		}
		if sum.Received == 0 || sum.Requeued > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.opts.IdleInterval):
			}
		}
	}
}
