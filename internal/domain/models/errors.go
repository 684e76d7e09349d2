package models

import "errors"

var (
	// ErrDataUnavailable means no source produced usable prices for the request.
	ErrDataUnavailable = errors.New("price data unavailable for symbols")
	// ErrNotEnoughSymbols is a request validation failure.
	ErrNotEnoughSymbols = errors.New("not enough valid symbols")
	// ErrInsufficientHistory means the aligned return history is too short.
	ErrInsufficientHistory = errors.New("insufficient overlapping price history")
	ErrModelNotTrained     = errors.New("sentiment model not trained")
	// ErrInsufficientTrainingData means no symbol produced enough labeled rows.
	ErrInsufficientTrainingData = errors.New("insufficient training data")
	// ErrSolverFailed is internal to the optimizer and is turned into a fallback result.
	ErrSolverFailed = errors.New("optimization failed")
	// ErrTrainingInProgress means another replica holds the training lock.
	ErrTrainingInProgress = errors.New("sentiment training already in progress")
	ErrQueueUnavailable   = errors.New("job queue not configured")
)
