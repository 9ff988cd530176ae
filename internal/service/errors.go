package service

import "errors"

var (
	ErrAlreadyRegistered   = errors.New("user already registered")
	ErrNotRegistered       = errors.New("user not registered")
	ErrInvalidKey          = errors.New("key invalid or already used")
	ErrUnauthorized        = errors.New("admin only")
	ErrMalformedInput      = errors.New("malformed input")
	ErrPersistence         = errors.New("persistence failure")
	ErrBanned              = errors.New("user banned")
	ErrInsufficientBalance = errors.New("insufficient balance")
)
