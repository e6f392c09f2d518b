package neynar

import "time"

// APIUser is the wire format of a Farcaster user as returned by the Neynar
// user/bulk endpoint. Only the fields the market needs are decoded.
type APIUser struct {
	FID            int64  `json:"fid"`
	Username       string `json:"username"`
	DisplayName    string `json:"display_name"`
	PfpURL         string `json:"pfp_url"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
}

// usersResponse wraps the user/bulk response body.
type usersResponse struct {
	Users []APIUser `json:"users"`
}

// APICast is a single cast from the user casts feed, with the reaction
// counters the metric aggregation needs.
type APICast struct {
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
	Reactions struct {
		LikesCount   int64 `json:"likes_count"`
		RecastsCount int64 `json:"recasts_count"`
	} `json:"reactions"`
	Replies struct {
		Count int64 `json:"count"`
	} `json:"replies"`
}

// castsResponse wraps the feed response body with its pagination cursor.
type castsResponse struct {
	Casts []APICast `json:"casts"`
	Next  struct {
		Cursor string `json:"cursor"`
	} `json:"next"`
}

// UserStats is the aggregated 24-hour activity snapshot for a subject.
type UserStats struct {
	FID            int64     `json:"fid"`
	Username       string    `json:"username"`
	DisplayName    string    `json:"display_name"`
	FollowerCount  int64     `json:"follower_count"`
	FollowingCount int64     `json:"following_count"`
	CastsCount     int64     `json:"casts_count_24h"`
	TotalLikes     int64     `json:"total_likes_24h"`
	TotalReplies   int64     `json:"total_replies_24h"`
	WindowEnd      time.Time `json:"window_end"`
}
