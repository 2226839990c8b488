package idcode

import (
	"fmt"
	"strconv"
	"strings"
)

// Compact payload layout: type:id:schoolId:marker. Field order is fixed; the
// delimiter is exactly one ASCII colon and none of the fields may contain one.

const compactSegments = 4

// EncodeCompact renders ref as the dense payload embedded in scannable images.
func EncodeCompact(ref PersonRef) (string, error) {
	if _, err := ParsePersonType(string(ref.Type)); err != nil {
		return "", err
	}
	if ref.ID <= 0 || ref.SchoolID <= 0 {
		return "", ErrInvalidIdentifier
	}
	return fmt.Sprintf("%s:%d:%d:%s", ref.Type, ref.ID, ref.SchoolID, VerificationMarker), nil
}

// DecodeCompact parses a scanned payload back into a PersonRef. A payload
// whose marker does not match never decodes: it is either hand-typed, forged,
// or a foreign format, and silently proceeding would defeat the point of the
// marker.
func DecodeCompact(payload string) (PersonRef, error) {
	segments := strings.Split(payload, ":")
	if len(segments) != compactSegments {
		return PersonRef{}, ErrMalformedPayload
	}
	personType, err := ParsePersonType(segments[0])
	if err != nil {
		return PersonRef{}, err
	}
	id, err := parseIdentifier(segments[1])
	if err != nil {
		return PersonRef{}, err
	}
	schoolID, err := parseIdentifier(segments[2])
	if err != nil {
		return PersonRef{}, err
	}
	if segments[3] != VerificationMarker {
		return PersonRef{}, ErrUnverifiedPayload
	}
	return PersonRef{ID: id, Type: personType, SchoolID: schoolID}, nil
}

// parseIdentifier accepts clean base-10 digits only: no sign, no whitespace.
// ParseUint already rejects sign prefixes and surrounding spaces.
func parseIdentifier(segment string) (int64, error) {
	value, err := strconv.ParseUint(segment, 10, 63)
	if err != nil {
		return 0, ErrInvalidIdentifier
	}
	return int64(value), nil
}
