package domain

import "errors"

var (
	// ErrMenuNotFound is returned for an unknown token or a menu owned
	// by another tenant.
	ErrMenuNotFound = errors.New("menu not found")
	// ErrMenuGone is returned for archived/burned menus, revoked tokens
	// and active menus past their deactivation window.
	ErrMenuGone = errors.New("menu gone")
	// ErrAccessCodeRequired is returned when the access code is missing
	// or incorrect. The two cases are deliberately indistinguishable.
	ErrAccessCodeRequired = errors.New("access code required")
	// ErrRateLimited is returned when the velocity window for a
	// (token, ip) pair is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotWhitelisted is returned when the menu is scoped to a
	// whitelist the caller is not on. Surfaced as not found so the
	// menu's existence is not leaked.
	ErrNotWhitelisted = errors.New("customer not whitelisted")
	// ErrUnavailable hides internal failures (storage, decryption) from
	// the customer. The real cause is logged with a correlation id.
	ErrUnavailable = errors.New("menu temporarily unavailable")
	// ErrSchedulerConflict is returned when a lifecycle transition is
	// attempted against a menu no longer eligible for it.
	ErrSchedulerConflict = errors.New("menu not eligible for transition")
	// ErrInvalidTransition is returned for lifecycle transitions the
	// state machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
)
