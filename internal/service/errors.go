// Package service provides business logic implementations.
package service

import "errors"

// Common errors for game operations.
var (
	// ErrInvalidAmount is returned when a stake amount is not a positive integer.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrRoundClosed is returned when staking into a finished round.
	ErrRoundClosed = errors.New("round is already finished")
	// ErrInsufficientBalance is returned when the user cannot cover the stake.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrAlreadySettled signals that a round was settled by an earlier call;
	// the accompanying summary describes the existing settlement.
	ErrAlreadySettled = errors.New("round already settled")
	// ErrNoOpenRound is returned when no round currently accepts stakes.
	ErrNoOpenRound = errors.New("no open round")
)
