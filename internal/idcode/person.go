// Package idcode implements the identity-code scheme that binds a student or
// child record to a school: the compact colon-delimited payload embedded in
// scannable QR images, the rich JSON envelope persisted at issuance time, and
// the resolver that turns a scanned payload plus a school context into a
// school-scoped person lookup.
package idcode

// PersonType tags which backing table a numeric id refers to. Ids are only
// unique within (type, schoolId), never globally.
type PersonType string

const (
	PersonTypeStudent PersonType = "student"
	PersonTypeChild   PersonType = "child"
)

// VerificationMarker is the trailing literal of every compact payload. It is a
// format-compatibility tag asserting the code came from a trusted issuer, not
// a cryptographic proof.
const VerificationMarker = "verified"

func ParsePersonType(value string) (PersonType, error) {
	switch value {
	case "student":
		return PersonTypeStudent, nil
	case "child":
		return PersonTypeChild, nil
	default:
		return "", ErrUnknownPersonType
	}
}

// PersonRef is the only unit of person identity this package accepts or
// returns. A bare id is meaningless without its type and school; keeping the
// three together makes confused-identifier bugs a type error instead of a
// cross-tenant data incident.
type PersonRef struct {
	ID       int64
	Type     PersonType
	SchoolID int64
}
