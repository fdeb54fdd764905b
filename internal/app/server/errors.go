package server

import "errors"

var (
	ErrConnectionGone = errors.New("connection gone")
	ErrUnauthorized   = errors.New("unauthorized")
)
