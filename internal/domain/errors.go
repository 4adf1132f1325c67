package domain

import "errors"

var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrAccountNotFound    = errors.New("account not found")
	ErrSessionUnavailable = errors.New("session unavailable")
	ErrMediaUnresolved    = errors.New("no media resolved for task")
	ErrNoAttachments      = errors.New("no external attachments on task")
)
