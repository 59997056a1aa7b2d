package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrAccountDisabled     = errors.New("account disabled")
	ErrInstrumentInactive  = errors.New("instrument inactive")
	ErrDepositExpired      = errors.New("deposit payment window expired")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientHolding = errors.New("insufficient holding quantity")
	ErrSupplyExhausted     = errors.New("instrument supply exhausted")
	ErrPositionLimit       = errors.New("position limit exceeded")
	ErrQuantityTooSmall    = errors.New("quantity below instrument minimum")
	ErrQuantityTooLarge    = errors.New("quantity above instrument maximum")
	ErrPriceLimited        = errors.New("price at daily limit")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrConflict            = errors.New("write conflict, retry")
	ErrLockHeld            = errors.New("lock already held")
)
