package service

import "errors"

var (
	ErrOrderNumberExhausted = errors.New("could not allocate a unique order number")
	ErrUnknownOrderProvider = errors.New("order references an unknown payment provider")
)
