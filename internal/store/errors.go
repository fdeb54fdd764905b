// Package store holds the errors shared by every match store implementation.
package store

import "errors"

var (
	ErrMatchNotFound   = errors.New("match not found")
	ErrMatchExists     = errors.New("match already exists")
	ErrConditionFailed = errors.New("conditional update failed")
	ErrUnavailable     = errors.New("store unavailable")
)
