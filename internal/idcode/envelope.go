package idcode

import (
	"encoding/json"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// Envelope is the rich JSON document persisted alongside a person record when
// a code is issued. It is never itself scanned: the image carries only the
// compact payload, because QR scan reliability degrades with payload size.
// Name is a display snapshot taken at issuance and goes stale; nothing may
// authorize against it.
type Envelope struct {
	ID        int64      `json:"id"`
	Type      PersonType `json:"type"`
	SchoolID  int64      `json:"schoolId"`
	Name      string     `json:"name"`
	Code      string     `json:"code"`
	Timestamp int64      `json:"timestamp"`
}

// IssuedCode bundles the three artifacts of one issuance: the envelope to
// persist, the compact payload, and the PNG that encodes that payload.
type IssuedCode struct {
	Envelope       Envelope
	CompactPayload string
	ImagePNG       []byte
}

const qrImageSize = 256

// Issuer builds issued codes. The now hook exists for tests.
type Issuer struct {
	tokens *TokenGenerator
	now    func() time.Time
}

func NewIssuer(tokens *TokenGenerator) *Issuer {
	if tokens == nil {
		tokens = NewTokenGenerator(nil)
	}
	return &Issuer{tokens: tokens, now: time.Now}
}

func (i *Issuer) Issue(ref PersonRef, name string) (IssuedCode, error) {
	token, err := i.tokens.Generate()
	if err != nil {
		return IssuedCode{}, err
	}
	payload, err := EncodeCompact(ref)
	if err != nil {
		return IssuedCode{}, err
	}
	image, err := qrcode.Encode(payload, qrcode.Medium, qrImageSize)
	if err != nil {
		return IssuedCode{}, err
	}
	return IssuedCode{
		Envelope: Envelope{
			ID:        ref.ID,
			Type:      ref.Type,
			SchoolID:  ref.SchoolID,
			Name:      name,
			Code:      token,
			Timestamp: i.now().UTC().UnixMilli(),
		},
		CompactPayload: payload,
		ImagePNG:       image,
	}, nil
}

// Regenerate issues a fresh envelope with a new token. The previous token
// merely stops being the latest issued one; old physical cards keep decoding
// and keep resolving, since resolution is keyed on (id, type, schoolId) and
// never on the token. Regeneration is not revocation.
func (i *Issuer) Regenerate(ref PersonRef, name string) (IssuedCode, error) {
	return i.Issue(ref, name)
}

// DecodeEnvelope recovers the identity triple from persisted envelope JSON.
// The descriptive fields (name, code) are validated for presence but never
// returned: decoded identity is a PersonRef and nothing more.
func DecodeEnvelope(data []byte) (PersonRef, error) {
	if !json.Valid(data) {
		return PersonRef{}, ErrMalformedEnvelope
	}
	var raw struct {
		ID        *int64  `json:"id"`
		Type      *string `json:"type"`
		SchoolID  *int64  `json:"schoolId"`
		Name      *string `json:"name"`
		Code      *string `json:"code"`
		Timestamp *int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		// Valid JSON with mistyped fields, timestamp included.
		return PersonRef{}, ErrIncompleteEnvelope
	}
	if raw.ID == nil || raw.Type == nil || raw.SchoolID == nil || raw.Name == nil || raw.Code == nil {
		return PersonRef{}, ErrIncompleteEnvelope
	}
	personType, err := ParsePersonType(*raw.Type)
	if err != nil {
		return PersonRef{}, err
	}
	return PersonRef{ID: *raw.ID, Type: personType, SchoolID: *raw.SchoolID}, nil
}
