package client

import "errors"

var (
	ErrAlreadyRunning = errors.New("client already running")
	ErrEmptyFile      = errors.New("file has no content")
	ErrFileTooLarge   = errors.New("file exceeds the frame size limit")
)
