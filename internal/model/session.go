package model

import "time"

// SessionRecord is the durable proof of an admin login. Credentials are never
// stored; only the validity window is.
type SessionRecord struct {
	Authenticated bool      `json:"authenticated"`
	LoginTime     time.Time `json:"login_time"`
	LastActivity  time.Time `json:"last_activity"`
	ExpireTime    time.Time `json:"expire_time"`
}

// ValidAt reports whether the record grants access at now.
func (r SessionRecord) ValidAt(now time.Time) bool {
	return r.Authenticated && now.Before(r.ExpireTime)
}
