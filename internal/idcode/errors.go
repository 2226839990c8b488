package idcode

import "errors"

var (
	// Compact codec failures.
	ErrMalformedPayload  = errors.New("malformed_payload")
	ErrUnknownPersonType = errors.New("unknown_person_type")
	ErrInvalidIdentifier = errors.New("invalid_identifier")
	ErrUnverifiedPayload = errors.New("unverified_payload")

	// Envelope codec failures.
	ErrMalformedEnvelope  = errors.New("malformed_envelope")
	ErrIncompleteEnvelope = errors.New("incomplete_envelope")

	// Resolver failures.
	ErrUnrecognizedPayload = errors.New("unrecognized_payload")
	ErrSchoolMismatch      = errors.New("school_mismatch")
	ErrPersonNotFound      = errors.New("person_not_found")
)
