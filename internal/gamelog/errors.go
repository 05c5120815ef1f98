package gamelog

import "errors"

var (
	// ErrDecodeExhausted means the byte-substitution budget ran out before a
	// clean text decode was reached. The payload is unrecoverable.
	ErrDecodeExhausted = errors.New("decode attempt limit exceeded")

	// ErrMalformedPayload means the decoded text is not a parsable document
	// even after the historical backslash repair.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnsupportedVersion means the payload predates the minimum supported
	// schema. Expected client-input condition, not a fault.
	ErrUnsupportedVersion = errors.New("unsupported log version")
)
