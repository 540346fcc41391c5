package app

import "errors"

var (
	// ErrInvalidCredentials is returned when the supplied credentials do not
	// match. The message is shown to end users and deliberately does not say
	// whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("Invalid email or password")

	ErrSignupFieldsRequired     = errors.New("Name, email, and password are required")
	ErrEmailAndPasswordRequired = errors.New("Email and password are required")
	ErrEmailAlreadyExists       = errors.New("User with this email already exists")

	// ErrConversationNotFound covers both a missing conversation and one
	// owned by a different user, so existence cannot be probed.
	ErrConversationNotFound = errors.New("Conversation not found")

	ErrTitleRequired          = errors.New("Title is required")
	ErrRoleAndContentRequired = errors.New("Role and content are required")
	ErrInvalidRole            = errors.New("Role must be user, ai, or system")
	ErrMessagesRequired       = errors.New("Messages array is required")
)
