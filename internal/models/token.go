package models

import "time"

// RefreshToken is the durable record backing a signed refresh token. A refresh
// token is only honored while its record exists and expires_at has not passed.
type RefreshToken struct {
	ID        int32     `json:"id"`
	Token     string    `json:"token"`
	UserID    int32     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type UserTokenCount struct {
	UserID     int32 `json:"user_id"`
	TokenCount int64 `json:"token_count"`
}

type TokenStats struct {
	Total   int64            `json:"total"`
	Active  int64            `json:"active"`
	Expired int64            `json:"expired"`
	ByUser  []UserTokenCount `json:"by_user"`
}
