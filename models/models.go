// Package models declares the gorm models of the account service.
package models

// All lists every model in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&Profile{},
		&EmailAddress{},
		&EmailConfirmation{},
		&RefreshToken{},
		&PasswordResetToken{},
		&Session{},
		&Message{},
	}
}
