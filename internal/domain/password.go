package domain

import "fmt"

const (
	MinPasswordLen = 8
	// bcrypt ignores everything past 72 bytes.
	MaxPasswordLen = 72
)

// CheckPassword enforces the password length bounds shared by registration,
// reset and change.
func CheckPassword(pw string) error {
	if len(pw) < MinPasswordLen || len(pw) > MaxPasswordLen {
		return fmt.Errorf("password must be %d to %d bytes: %w", MinPasswordLen, MaxPasswordLen, ErrValidation)
	}
	return nil
}
