package domain

import "time"

// Session describes an issued session token.
type Session struct {
	UserID    string
	Role      Role
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ExternalIdentity is the profile an identity provider vouches for.
type ExternalIdentity struct {
	Subject    string
	Email      string
	FullName   string
	ProfilePic string
}
