package dynamo

// DynamoDB attribute names used in key conditions and update expressions.
const (
	fieldUserID        = "user_id"
	fieldIdentifier    = "identifier"
	fieldSessionID     = "session_id"
	fieldRevoked       = "revoked"
	fieldRevokedAt     = "revoked_at"
	fieldPasswordHash  = "password_hash"
	fieldEmailVerified = "email_verified"
	fieldPhoneVerified = "phone_verified"
	fieldLastLoginAt   = "last_login_at"
	fieldUpdatedAt     = "updated_at"
	fieldExpiresAtUnix = "expires_at_unix"
)

const indexUserID = "user_id-index"
