package service

import "errors"

var (
	ErrTabletNotFound      = errors.New("tablet not found")
	ErrTabletNotRegistered = errors.New("tablet has no room assignment")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionClosed       = errors.New("session is closed")
	ErrSessionConflict     = errors.New("tablet already has an active session")
	ErrInvalidToken        = errors.New("attendance token is invalid or stale")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidLaunchToken  = errors.New("launch token is invalid")
	ErrTeacherExists       = errors.New("teacher username already taken")
)
