// internal/model/tracked_post.go
package model

import "time"

type TrackedPost struct {
	ID             int64      `db:"id" json:"id"`
	ProfileID      int64      `db:"profile_id" json:"profile_id"`
	PlatformPostID string     `db:"platform_post_id" json:"platform_post_id"`
	PostType       string     `db:"post_type" json:"post_type"`
	Content        string     `db:"content" json:"content"`
	Hashtags       []string   `db:"hashtags" json:"hashtags"`
	Mentions       []string   `db:"mentions" json:"mentions"`
	Likes          int64      `db:"likes" json:"likes"`
	Comments       int64      `db:"comments" json:"comments"`
	Views          int64      `db:"views" json:"views"`
	Shares         int64      `db:"shares" json:"shares"`
	PostedAt       *time.Time `db:"posted_at" json:"posted_at,omitempty"`
}
