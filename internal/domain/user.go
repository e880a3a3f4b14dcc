package domain

import "time"

// Account statuses.
const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// Identity providers.
const (
	ProviderLocal  = "LOCAL"
	ProviderGoogle = "GOOGLE"
)

// User is the internal account record. It carries the password hash and must
// never be serialised to clients; use ToIdentity or ToProfile for anything
// leaving the service.
type User struct {
	UserID          string     `json:"id" dynamodbav:"user_id"`
	Identifier      string     `json:"identifier" dynamodbav:"identifier"`
	Email           string     `json:"email,omitempty" dynamodbav:"email,omitempty"`
	Phone           string     `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
	PasswordHash    string     `json:"-" dynamodbav:"password_hash,omitempty"`
	Roles           []string   `json:"roles" dynamodbav:"roles"`
	Provider        string     `json:"provider" dynamodbav:"provider"`
	ProviderSubject string     `json:"-" dynamodbav:"provider_subject,omitempty"`
	EmailVerified   bool       `json:"email_verified" dynamodbav:"email_verified"`
	PhoneVerified   bool       `json:"phone_verified" dynamodbav:"phone_verified"`
	Status          string     `json:"status" dynamodbav:"status"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty" dynamodbav:"last_login_at,omitempty"`
	CreatedAt       time.Time  `json:"created" dynamodbav:"created_at"`
	UpdatedAt       time.Time  `json:"updated" dynamodbav:"updated_at"`
}

// Verified reports whether at least one contact channel has been confirmed.
func (u *User) Verified() bool {
	return u.EmailVerified || u.PhoneVerified
}

func (u *User) Active() bool {
	return u.Status == "" || u.Status == UserStatusActive
}

// Identity is the externally visible view of an authenticated principal.
type Identity struct {
	UserID     string    `json:"user_id"`
	Identifier string    `json:"identifier"`
	Roles      []string  `json:"roles"`
	Provider   string    `json:"provider"`
	Verified   bool      `json:"verified"`
	SessionID  string    `json:"session_id,omitempty"`
	TokenID    string    `json:"-"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// HasRole reports whether the identity carries any of the given roles.
func (i *Identity) HasRole(roles ...string) bool {
	for _, have := range i.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// ToIdentity projects a User into an Identity. This is the only conversion
// between the two types and it never carries the password hash.
func ToIdentity(u *User) *Identity {
	if u == nil {
		return nil
	}
	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)
	return &Identity{
		UserID:     u.UserID,
		Identifier: u.Identifier,
		Roles:      roles,
		Provider:   u.Provider,
		Verified:   u.Verified(),
	}
}

// Profile is the account view returned to its owner.
type Profile struct {
	UserID        string     `json:"id"`
	Identifier    string     `json:"identifier"`
	Email         string     `json:"email,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	Roles         []string   `json:"roles"`
	Provider      string     `json:"provider"`
	EmailVerified bool       `json:"email_verified"`
	PhoneVerified bool       `json:"phone_verified"`
	Status        string     `json:"status"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created"`
}

// ToProfile copies the client-visible fields of u. Credentials and provider
// subjects are never part of the result.
func ToProfile(u *User) *Profile {
	if u == nil {
		return nil
	}
	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)
	return &Profile{
		UserID:        u.UserID,
		Identifier:    u.Identifier,
		Email:         u.Email,
		Phone:         u.Phone,
		Roles:         roles,
		Provider:      u.Provider,
		EmailVerified: u.EmailVerified,
		PhoneVerified: u.PhoneVerified,
		Status:        u.Status,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
	}
}
