package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/creatorsync/internal/db"
	appErrors "github.com/unclebandit/creatorsync/internal/errors"
	"github.com/unclebandit/creatorsync/internal/model"
)

type ProfileRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*model.TrackedProfile, error)
	ListActive(ctx context.Context) ([]*model.TrackedProfile, error)
	FindByHandle(ctx context.Context, platform, handle string) (*model.TrackedProfile, error)
	Persist(ctx context.Context, sync *model.ProfileSync) error
}

type ProfileRepository struct {
	DB *sql.DB
}

const profileColumns = `id, actor_id, platform, handle, active, followers_count, following_count, posts_count,
        engagement_rate, avg_likes, avg_comments, avg_shares, avg_views, avg_by_type,
        last_synced_at, last_posted_at, engagement_snapshot`

func scanProfile(row rowScanner) (*model.TrackedProfile, error) {
	var (
		p        model.TrackedProfile
		byType   []byte
		snapshot []byte
	)
	err := row.Scan(
		&p.ID,
		&p.ActorID,
		&p.Platform,
		&p.Handle,
		&p.Active,
		&p.FollowersCount,
		&p.FollowingCount,
		&p.PostsCount,
		&p.EngagementRate,
		&p.AvgLikes,
		&p.AvgComments,
		&p.AvgShares,
		&p.AvgViews,
		&byType,
		&p.LastSyncedAt,
		&p.LastPostedAt,
		&snapshot,
	)
	if err != nil {
		return nil, err
	}
	if len(byType) > 0 {
		if err := json.Unmarshal(byType, &p.AvgByType); err != nil {
			return nil, fmt.Errorf("decode avg_by_type for profile %d: %w", p.ID, err)
		}
	}
	if len(snapshot) > 0 {
		p.EngagementSnapshot = &model.EngagementSnapshot{}
		if err := json.Unmarshal(snapshot, p.EngagementSnapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot for profile %d: %w", p.ID, err)
		}
	}
	return &p, nil
}

func (r *ProfileRepository) GetByID(ctx context.Context, id int64) (*model.TrackedProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM tracked_profiles WHERE id=$1`
	p, err := scanProfile(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("profile %d: %w", id, appErrors.ErrNotFound)
		}
		return nil, err
	}
	return p, nil
}

// ListActive returns every active profile, oldest sync first.
func (r *ProfileRepository) ListActive(ctx context.Context) ([]*model.TrackedProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM tracked_profiles
        WHERE active ORDER BY last_synced_at ASC NULLS FIRST, id ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := []*model.TrackedProfile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// FindByHandle resolves a profile case-insensitively on handle.
func (r *ProfileRepository) FindByHandle(ctx context.Context, platform, handle string) (*model.TrackedProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM tracked_profiles
        WHERE platform=$1 AND lower(handle)=lower($2)`
	p, err := scanProfile(r.DB.QueryRowContext(ctx, query, platform, handle))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewProfileNotFound(platform, handle)
		}
		return nil, err
	}
	return p, nil
}

// Persist writes a sync result atomically: profile metrics, post upserts,
// removal of posts missing from the result, and the owning actor's
// engagement roll-up.
func (r *ProfileRepository) Persist(ctx context.Context, s *model.ProfileSync) error {
	p := s.Profile
	avgByType := p.AvgByType
	if avgByType == nil {
		avgByType = map[string]model.ContentAverages{}
	}
	byType, err := json.Marshal(avgByType)
	if err != nil {
		return fmt.Errorf("encode avg_by_type: %w", err)
	}
	var snapshot []byte
	if p.EngagementSnapshot != nil {
		if snapshot, err = json.Marshal(p.EngagementSnapshot); err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
	}

	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            UPDATE tracked_profiles
            SET followers_count=$1, following_count=$2, posts_count=$3, engagement_rate=$4,
                avg_likes=$5, avg_comments=$6, avg_shares=$7, avg_views=$8, avg_by_type=$9,
                last_synced_at=$10, last_posted_at=$11, engagement_snapshot=$12
            WHERE id=$13
        `,
			p.FollowersCount, p.FollowingCount, p.PostsCount, p.EngagementRate,
			p.AvgLikes, p.AvgComments, p.AvgShares, p.AvgViews, byType,
			p.LastSyncedAt, p.LastPostedAt, snapshot,
			p.ID,
		)
		if err != nil {
			return fmt.Errorf("update profile %d: %w", p.ID, err)
		}

		existing, err := existingPostIDs(ctx, tx, p.ID)
		if err != nil {
			return err
		}

		for _, post := range s.Posts {
			if err := upsertPost(ctx, tx, p.ID, post); err != nil {
				return err
			}
		}

		if stale := StalePostIDs(existing, s.Posts); len(stale) > 0 {
			_, err := tx.ExecContext(ctx,
				`DELETE FROM tracked_posts WHERE profile_id=$1 AND platform_post_id = ANY($2)`,
				p.ID, pq.Array(stale))
			if err != nil {
				return fmt.Errorf("prune posts for profile %d: %w", p.ID, err)
			}
		}

		_, err = tx.ExecContext(ctx, `
            UPDATE actors
            SET engagement_rate = COALESCE((
                    SELECT ROUND(AVG(engagement_rate), 2) FROM tracked_profiles
                    WHERE actor_id=$1 AND active
                ), 0),
                updated_at = $2
            WHERE id=$1
        `, p.ActorID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("roll up actor %d: %w", p.ActorID, err)
		}
		return nil
	})
}

func existingPostIDs(ctx context.Context, tx *sql.Tx, profileID int64) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT platform_post_id FROM tracked_posts WHERE profile_id=$1`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list posts for profile %d: %w", profileID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func upsertPost(ctx context.Context, tx *sql.Tx, profileID int64, post model.TrackedPost) error {
	_, err := tx.ExecContext(ctx, `
        INSERT INTO tracked_posts
        (profile_id, platform_post_id, post_type, content, hashtags, mentions, likes, comments, views, shares, posted_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (profile_id, platform_post_id) DO UPDATE
        SET post_type=EXCLUDED.post_type, content=EXCLUDED.content, hashtags=EXCLUDED.hashtags,
            mentions=EXCLUDED.mentions, likes=EXCLUDED.likes, comments=EXCLUDED.comments,
            views=EXCLUDED.views, shares=EXCLUDED.shares, posted_at=EXCLUDED.posted_at
    `,
		profileID, post.PlatformPostID, post.PostType, post.Content,
		pq.Array(nonNil(post.Hashtags)), pq.Array(nonNil(post.Mentions)),
		post.Likes, post.Comments, post.Views, post.Shares, post.PostedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert post %s: %w", post.PlatformPostID, err)
	}
	return nil
}

// StalePostIDs returns the stored ids that are absent from the latest result.
func StalePostIDs(existing []string, latest []model.TrackedPost) []string {
	keep := make(map[string]struct{}, len(latest))
	for _, p := range latest {
		keep[p.PlatformPostID] = struct{}{}
	}
	var stale []string
	for _, id := range existing {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	return stale
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ ProfileRepositoryInterface = (*ProfileRepository)(nil)
