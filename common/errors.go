// Package common - shared detection types and error kinds.
package common

import "github.com/pkg/errors"

// Error kinds surfaced by the decode pipeline. Call sites wrap these with context, so
// callers must compare with errors.Is rather than ==.
var (
	// ErrShapeMismatch is returned when a raw buffer length is inconsistent with
	// proposalLength x cellCount.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrConfigurationInvalid is returned for empty label tables, zero class counts and
	// out-of-range thresholds or strides.
	ErrConfigurationInvalid = errors.New("configuration invalid")
	// ErrReadbackFailed is returned when the external pixel transfer reported an error.
	// It is recoverable at the frame level.
	ErrReadbackFailed = errors.New("readback failed")
	// ErrUnsupportedTransferPath is returned by an async source that cannot serve the
	// request. The pipeline falls back to the synchronous path when it sees it.
	ErrUnsupportedTransferPath = errors.New("unsupported transfer path")
)
