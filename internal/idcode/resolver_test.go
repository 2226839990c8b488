package idcode

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type fakePersonStore struct {
	records map[PersonRef]PersonRecord
	calls   int
	err     error
}

func (s *fakePersonStore) FindPerson(_ context.Context, ref PersonRef) (PersonRecord, bool, error) {
	s.calls++
	if s.err != nil {
		return PersonRecord{}, false, s.err
	}
	record, ok := s.records[ref]
	return record, ok, nil
}

func storeWith(records ...PersonRecord) *fakePersonStore {
	store := &fakePersonStore{records: make(map[PersonRef]PersonRecord)}
	for _, record := range records {
		store.records[record.Ref] = record
	}
	return store
}

func TestResolveEndToEnd(t *testing.T) {
	store := storeWith(PersonRecord{
		Ref:      PersonRef{ID: 15, Type: PersonTypeStudent, SchoolID: 8},
		Name:     "Jane Doe",
		Verified: true,
	})
	resolver := NewResolver(store)

	resolved, err := resolver.Resolve(context.Background(), "student:15:8:verified", 8)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if resolved.Ref != (PersonRef{ID: 15, Type: PersonTypeStudent, SchoolID: 8}) {
		t.Fatalf("unexpected ref %+v", resolved.Ref)
	}
	if resolved.Name != "Jane Doe" || !resolved.Verified {
		t.Fatalf("unexpected record %+v", resolved)
	}
}

func TestResolveSchoolMismatchSkipsLookup(t *testing.T) {
	store := storeWith(PersonRecord{
		Ref:  PersonRef{ID: 42, Type: PersonTypeStudent, SchoolID: 8},
		Name: "Jane Doe",
	})
	resolver := NewResolver(store)

	_, err := resolver.Resolve(context.Background(), "student:42:8:verified", 9)
	if !errors.Is(err, ErrSchoolMismatch) {
		t.Fatalf("expected school mismatch, got %v", err)
	}
	if store.calls != 0 {
		t.Fatalf("expected no lookup on school mismatch, got %d calls", store.calls)
	}
}

func TestResolveReassertsSchoolInLookup(t *testing.T) {
	// The stored record belongs to school 9 but the payload claims school 8,
	// simulating a forged or corrupted payload. The re-asserted school filter
	// must find nothing rather than match the foreign record.
	store := storeWith(PersonRecord{
		Ref:  PersonRef{ID: 42, Type: PersonTypeStudent, SchoolID: 9},
		Name: "Other School Student",
	})
	resolver := NewResolver(store)

	_, err := resolver.Resolve(context.Background(), "student:42:8:verified", 8)
	if !errors.Is(err, ErrPersonNotFound) {
		t.Fatalf("expected person not found, got %v", err)
	}
	if store.calls != 1 {
		t.Fatalf("expected exactly one lookup, got %d", store.calls)
	}
}

func TestResolveEnvelopeFallback(t *testing.T) {
	ref := PersonRef{ID: 7, Type: PersonTypeChild, SchoolID: 3}
	store := storeWith(PersonRecord{Ref: ref, Name: "Sam Doe", Verified: true})
	resolver := NewResolver(store)

	issued, err := NewIssuer(nil).Issue(ref, "Sam Doe")
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	data, err := json.Marshal(issued.Envelope)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	resolved, err := resolver.Resolve(context.Background(), string(data), 3)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if resolved.Ref != ref {
		t.Fatalf("unexpected ref %+v", resolved.Ref)
	}
}

func TestResolveFailureKindsStayDistinct(t *testing.T) {
	store := storeWith()
	resolver := NewResolver(store)

	cases := []struct {
		payload string
		want    error
	}{
		{"student:42:8:unverified", ErrUnverifiedPayload},
		{"ghost:42:8:verified", ErrUnknownPersonType},
		{"student:abc:8:verified", ErrInvalidIdentifier},
		{"complete garbage", ErrUnrecognizedPayload},
		{"a:b", ErrUnrecognizedPayload},
		{"{}", ErrUnrecognizedPayload},
	}
	for _, tc := range cases {
		_, err := resolver.Resolve(context.Background(), tc.payload, 8)
		if !errors.Is(err, tc.want) {
			t.Fatalf("resolve %q: expected %v, got %v", tc.payload, tc.want, err)
		}
	}
	if store.calls != 0 {
		t.Fatalf("expected no lookups for undecodable payloads, got %d", store.calls)
	}
}

func TestResolveStoreErrorIsNotNotFound(t *testing.T) {
	storeErr := errors.New("connection reset")
	store := &fakePersonStore{err: storeErr}
	resolver := NewResolver(store)

	_, err := resolver.Resolve(context.Background(), "student:42:8:verified", 8)
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected store error to propagate, got %v", err)
	}
}

func TestResolveNameReadFreshFromStore(t *testing.T) {
	ref := PersonRef{ID: 15, Type: PersonTypeStudent, SchoolID: 8}
	store := storeWith(PersonRecord{Ref: ref, Name: "Jane Married-Name", Verified: true})
	resolver := NewResolver(store)

	// Envelope carries the name snapshot from issuance time; the resolver
	// must surface the store's current name instead.
	issued, err := NewIssuer(nil).Issue(ref, "Jane Doe")
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	resolved, err := resolver.Resolve(context.Background(), issued.CompactPayload, 8)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if resolved.Name != "Jane Married-Name" {
		t.Fatalf("expected current store name, got %q", resolved.Name)
	}
}

func TestResolveSurvivesRegeneration(t *testing.T) {
	ref := PersonRef{ID: 15, Type: PersonTypeStudent, SchoolID: 8}
	store := storeWith(PersonRecord{Ref: ref, Name: "Jane Doe", Verified: true})
	resolver := NewResolver(store)
	issuer := NewIssuer(nil)

	original, err := issuer.Issue(ref, "Jane Doe")
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	if _, err := issuer.Regenerate(ref, "Jane Doe"); err != nil {
		t.Fatalf("regenerate error: %v", err)
	}

	// Expected behavior, not a bug: regeneration supersedes the token for
	// bookkeeping but does not revoke previously printed cards.
	resolved, err := resolver.Resolve(context.Background(), original.CompactPayload, 8)
	if err != nil {
		t.Fatalf("old card stopped resolving after regeneration: %v", err)
	}
	if resolved.Ref != ref {
		t.Fatalf("unexpected ref %+v", resolved.Ref)
	}
}
