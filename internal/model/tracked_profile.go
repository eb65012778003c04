// internal/model/tracked_profile.go
package model

import "time"

type TrackedProfile struct {
	ID                 int64                      `db:"id" json:"id"`
	ActorID            int64                      `db:"actor_id" json:"actor_id"`
	Platform           string                     `db:"platform" json:"platform"`
	Handle             string                     `db:"handle" json:"handle"`
	Active             bool                       `db:"active" json:"active"`
	FollowersCount     int64                      `db:"followers_count" json:"followers_count"`
	FollowingCount     int64                      `db:"following_count" json:"following_count"`
	PostsCount         int64                      `db:"posts_count" json:"posts_count"`
	EngagementRate     float64                    `db:"engagement_rate" json:"engagement_rate"`
	AvgLikes           float64                    `db:"avg_likes" json:"avg_likes"`
	AvgComments        float64                    `db:"avg_comments" json:"avg_comments"`
	AvgShares          float64                    `db:"avg_shares" json:"avg_shares"`
	AvgViews           float64                    `db:"avg_views" json:"avg_views"`
	AvgByType          map[string]ContentAverages `db:"avg_by_type" json:"avg_by_type,omitempty"`
	LastSyncedAt       *time.Time                 `db:"last_synced_at" json:"last_synced_at,omitempty"`
	LastPostedAt       *time.Time                 `db:"last_posted_at" json:"last_posted_at,omitempty"`
	EngagementSnapshot *EngagementSnapshot        `db:"engagement_snapshot" json:"engagement_snapshot,omitempty"`
}

// NeedsRefresh reports whether the cached profile is older than threshold.
// A profile that has never been synced always needs a refresh.
func (p *TrackedProfile) NeedsRefresh(now time.Time, threshold time.Duration) bool {
	if p.LastSyncedAt == nil {
		return true
	}
	return now.Sub(*p.LastSyncedAt) >= threshold
}

// ContentAverages holds per content shape (reel, image, video...) averages.
type ContentAverages struct {
	Count       int     `json:"count"`
	AvgLikes    float64 `json:"avg_likes"`
	AvgComments float64 `json:"avg_comments"`
	AvgShares   float64 `json:"avg_shares"`
	AvgViews    float64 `json:"avg_views"`
}

type EngagementSnapshot struct {
	PostsAnalyzed  int                        `json:"posts_analyzed"`
	AvgLikes       float64                    `json:"avg_likes"`
	AvgComments    float64                    `json:"avg_comments"`
	AvgShares      float64                    `json:"avg_shares"`
	AvgViews       float64                    `json:"avg_views"`
	EngagementRate float64                    `json:"engagement_rate"`
	ByType         map[string]ContentAverages `json:"by_type,omitempty"`
	TopHashtags    []string                   `json:"top_hashtags,omitempty"`
	PostsPerWeek   float64                    `json:"posts_per_week"`
	ComputedAt     time.Time                  `json:"computed_at"`
}

// ProfileSync is everything written in one sync transaction for a profile.
type ProfileSync struct {
	Profile *TrackedProfile
	Posts   []TrackedPost
}
