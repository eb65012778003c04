package collector

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

type analyticsEnvelope struct {
	OK    bool       `json:"ok"`
	Error string     `json:"error,omitempty"`
	Data  *Analytics `json:"data"`
}

// Analytics is a collector scrape result for one account.
type Analytics struct {
	User  User   `json:"user"`
	Posts []Post `json:"posts"`
}

type User struct {
	Username       string         `json:"username"`
	Metrics        UserMetrics    `json:"metrics"`
	EngagementData EngagementData `json:"engagement_data"`
}

type UserMetrics struct {
	FollowersCount int64 `json:"followers_count"`
	FollowingCount int64 `json:"following_count"`
	MediaCount     int64 `json:"media_count"`
}

type EngagementData struct {
	AverageLikes    float64 `json:"average_likes"`
	AverageComments float64 `json:"average_comments"`
	AverageShares   float64 `json:"average_shares"`
	AverageViews    float64 `json:"average_views"`
}

type Post struct {
	PostID    string      `json:"post_id"`
	PostType  string      `json:"post_type"`
	Content   string      `json:"content"`
	Hashtags  []string    `json:"hashtags"`
	Mentions  []string    `json:"mentions"`
	PostedAt  *Timestamp  `json:"posted_at,omitempty"`
	CreatedAt *Timestamp  `json:"created_at,omitempty"`
	Metrics   PostMetrics `json:"metrics"`
}

// Time returns posted_at, or created_at when the collector only sent that.
func (p Post) Time() *time.Time {
	for _, ts := range []*Timestamp{p.PostedAt, p.CreatedAt} {
		if ts != nil && !ts.IsZero() {
			t := ts.Time
			return &t
		}
	}
	return nil
}

type PostMetrics struct {
	LikesCount    int64 `json:"likes_count"`
	CommentsCount int64 `json:"comments_count"`
	ViewsCount    int64 `json:"views_count"`
	SharesCount   int64 `json:"shares_count"`
}

// Timestamp accepts RFC 3339 strings or unix seconds.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			t.Time = time.Unix(n, 0).UTC()
			return nil
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
		t.Time = parsed.UTC()
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	t.Time = time.Unix(int64(f), 0).UTC()
	return nil
}
