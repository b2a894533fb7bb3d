package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrNotConnected  = errors.New("not connected")
	ErrFeedClosed    = errors.New("feed closed")
	ErrUnknownSymbol = errors.New("unknown symbol")
)
