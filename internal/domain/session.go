package domain

import "time"

// RefreshRecord is the server-side state of one refresh token. The raw token
// is never stored; TokenHash is the hex SHA-256 of it.
// PK: session_id. GSI: user_id-index.
type RefreshRecord struct {
	SessionID string     `json:"id" dynamodbav:"session_id"`
	UserID    string     `json:"user_id" dynamodbav:"user_id"`
	TokenHash string     `json:"-" dynamodbav:"token_hash"`
	IP        string     `json:"ip,omitempty" dynamodbav:"ip,omitempty"`
	IssuedAt  time.Time  `json:"issued_at" dynamodbav:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at" dynamodbav:"expires_at"`
	Revoked   bool       `json:"revoked" dynamodbav:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" dynamodbav:"revoked_at,omitempty"`
	// ExpiresAtUnix mirrors ExpiresAt for the DynamoDB TTL attribute.
	ExpiresAtUnix int64 `json:"-" dynamodbav:"expires_at_unix"`
}

// Active reports whether the record can still be exchanged at now.
func (r *RefreshRecord) Active(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

// TokenPair is returned to clients after login, registration or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}
