package service

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/unclebandit/creatorsync/internal/model"
)

const topHashtagLimit = 10

// EngagementRate is (likes + comments + shares) per follower as a
// percentage, rounded to two decimals.
func EngagementRate(avgLikes, avgComments, avgShares float64, followers int64) float64 {
	if followers <= 0 {
		return 0
	}
	return round2((avgLikes + avgComments + avgShares) / float64(followers) * 100)
}

// ComputeSnapshot summarizes the full post set of a profile.
func ComputeSnapshot(posts []model.TrackedPost, followers int64, now time.Time) *model.EngagementSnapshot {
	snap := &model.EngagementSnapshot{
		PostsAnalyzed: len(posts),
		ByType:        map[string]model.ContentAverages{},
		ComputedAt:    now,
	}
	if len(posts) == 0 {
		return snap
	}

	type totals struct{ n, likes, comments, shares, views int64 }
	var all totals
	byType := map[string]*totals{}
	tags := map[string]int{}
	var oldest, newest time.Time
	dated := 0

	for _, p := range posts {
		all.n++
		all.likes += p.Likes
		all.comments += p.Comments
		all.shares += p.Shares
		all.views += p.Views

		kind := strings.ToLower(p.PostType)
		if kind == "" {
			kind = "unknown"
		}
		t := byType[kind]
		if t == nil {
			t = &totals{}
			byType[kind] = t
		}
		t.n++
		t.likes += p.Likes
		t.comments += p.Comments
		t.shares += p.Shares
		t.views += p.Views

		for _, h := range p.Hashtags {
			if h = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "#")); h != "" {
				tags[h]++
			}
		}

		if p.PostedAt != nil {
			dated++
			if oldest.IsZero() || p.PostedAt.Before(oldest) {
				oldest = *p.PostedAt
			}
			if p.PostedAt.After(newest) {
				newest = *p.PostedAt
			}
		}
	}

	avg := func(sum, n int64) float64 { return round2(float64(sum) / float64(n)) }
	snap.AvgLikes = avg(all.likes, all.n)
	snap.AvgComments = avg(all.comments, all.n)
	snap.AvgShares = avg(all.shares, all.n)
	snap.AvgViews = avg(all.views, all.n)
	snap.EngagementRate = EngagementRate(snap.AvgLikes, snap.AvgComments, snap.AvgShares, followers)

	for kind, t := range byType {
		snap.ByType[kind] = model.ContentAverages{
			Count:       int(t.n),
			AvgLikes:    avg(t.likes, t.n),
			AvgComments: avg(t.comments, t.n),
			AvgShares:   avg(t.shares, t.n),
			AvgViews:    avg(t.views, t.n),
		}
	}

	snap.TopHashtags = topHashtags(tags, topHashtagLimit)

	if dated > 0 {
		weeks := newest.Sub(oldest).Hours() / (24 * 7)
		if weeks < 1 {
			weeks = 1
		}
		snap.PostsPerWeek = round2(float64(dated) / weeks)
	}
	return snap
}

func topHashtags(counts map[string]int, limit int) []string {
	tags := make([]string, 0, len(counts))
	for t := range counts {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	if len(tags) > limit {
		tags = tags[:limit]
	}
	return tags
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
