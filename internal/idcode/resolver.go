package idcode

import (
	"context"
	"errors"
)

// PersonRecord is what the person store returns for a match: current database
// state, never envelope fields.
type PersonRecord struct {
	Ref      PersonRef
	Name     string
	Verified bool
}

// PersonStore is the external lookup collaborator. Implementations must apply
// the ref's school filter inside the query predicate itself.
type PersonStore interface {
	FindPerson(ctx context.Context, ref PersonRef) (PersonRecord, bool, error)
}

// ResolvedPerson is the outcome of a successful scan: identity plus the
// current name and verified flag read fresh from the store.
type ResolvedPerson struct {
	Ref      PersonRef
	Name     string
	Verified bool
}

// Resolver turns a scanned payload plus the scanning session's school into a
// school-scoped person lookup. It performs no writes; a cancelled scan leaves
// nothing to roll back.
type Resolver struct {
	store PersonStore
}

func NewResolver(store PersonStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve runs classify → school check → lookup, in that order. The school
// check happens before any store access so a cross-school scan leaks nothing,
// and the lookup re-asserts the session school in its own predicate: the
// payload's schoolId is a claim, not a fact, and a forged payload may claim a
// school its record does not belong to.
func (r *Resolver) Resolve(ctx context.Context, payload string, schoolID int64) (ResolvedPerson, error) {
	ref, err := classify(payload)
	if err != nil {
		return ResolvedPerson{}, err
	}
	if ref.SchoolID != schoolID {
		return ResolvedPerson{}, ErrSchoolMismatch
	}
	lookup := PersonRef{ID: ref.ID, Type: ref.Type, SchoolID: schoolID}
	record, found, err := r.store.FindPerson(ctx, lookup)
	if err != nil {
		return ResolvedPerson{}, err
	}
	if !found {
		return ResolvedPerson{}, ErrPersonNotFound
	}
	return ResolvedPerson{Ref: record.Ref, Name: record.Name, Verified: record.Verified}, nil
}

// classify tries the compact codec first since physical cards are the common
// case. Only a wrong segment count falls through to the envelope codec; a
// compact payload with a bad type, id, or marker fails as itself so the
// failure cause stays reportable.
func classify(payload string) (PersonRef, error) {
	ref, err := DecodeCompact(payload)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, ErrMalformedPayload) {
		return PersonRef{}, err
	}
	ref, envErr := DecodeEnvelope([]byte(payload))
	if envErr != nil {
		return PersonRef{}, ErrUnrecognizedPayload
	}
	return ref, nil
}
