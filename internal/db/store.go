package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taalimflow-tech/qrlink/internal/idcode"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// FindPerson looks up the record behind a PersonRef. The school filter sits in
// the query predicate itself; callers already checked the claimed school, but
// the stored record's school is the one that counts.
func (s *Store) FindPerson(ctx context.Context, ref idcode.PersonRef) (idcode.PersonRecord, bool, error) {
	table, err := tableFor(ref.Type)
	if err != nil {
		return idcode.PersonRecord{}, false, err
	}
	var record idcode.PersonRecord
	record.Ref = ref
	row := s.pool.QueryRow(ctx, `
		SELECT first_name || ' ' || last_name, verified
		FROM `+table+`
		WHERE id = $1 AND school_id = $2
	`, ref.ID, ref.SchoolID)
	if err := row.Scan(&record.Name, &record.Verified); err != nil {
		if err == pgx.ErrNoRows {
			return idcode.PersonRecord{}, false, nil
		}
		return idcode.PersonRecord{}, false, err
	}
	return record, true, nil
}

func tableFor(personType idcode.PersonType) (string, error) {
	switch personType {
	case idcode.PersonTypeStudent:
		return "students", nil
	case idcode.PersonTypeChild:
		return "children", nil
	default:
		return "", idcode.ErrUnknownPersonType
	}
}

// EnvelopeRow is one issuance of an identity code. Superseded rows stay
// around for audit until the prune job removes them.
type EnvelopeRow struct {
	ID         string
	PersonID   int64
	PersonType idcode.PersonType
	SchoolID   int64
	Name       string
	Code       string
	Payload    string
	Image      []byte
	IssuedAt   time.Time
}

// SaveEnvelope records a fresh issuance and marks any previous active
// issuance for the same person as superseded, in one transaction so there is
// always exactly one latest envelope.
func (s *Store) SaveEnvelope(ctx context.Context, row EnvelopeRow) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE qr_envelopes
			SET superseded_at = $1
			WHERE person_id = $2 AND person_type = $3 AND school_id = $4 AND superseded_at IS NULL
		`, row.IssuedAt, row.PersonID, row.PersonType, row.SchoolID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO qr_envelopes (id, person_id, person_type, school_id, name, code, payload, image, issued_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, row.ID, row.PersonID, row.PersonType, row.SchoolID, row.Name, row.Code, row.Payload, row.Image, row.IssuedAt)
		return err
	})
}

func (s *Store) LatestEnvelope(ctx context.Context, ref idcode.PersonRef) (EnvelopeRow, bool, error) {
	var row EnvelopeRow
	err := s.pool.QueryRow(ctx, `
		SELECT id, person_id, person_type, school_id, name, code, payload, image, issued_at
		FROM qr_envelopes
		WHERE person_id = $1 AND person_type = $2 AND school_id = $3 AND superseded_at IS NULL
		ORDER BY issued_at DESC
		LIMIT 1
	`, ref.ID, ref.Type, ref.SchoolID).Scan(
		&row.ID,
		&row.PersonID,
		&row.PersonType,
		&row.SchoolID,
		&row.Name,
		&row.Code,
		&row.Payload,
		&row.Image,
		&row.IssuedAt,
	)
	if err == pgx.ErrNoRows {
		return EnvelopeRow{}, false, nil
	}
	if err != nil {
		return EnvelopeRow{}, false, err
	}
	return row, true, nil
}

// PruneSupersededEnvelopes deletes superseded issuances older than the
// cutoff. The active envelope for each person is never touched.
func (s *Store) PruneSupersededEnvelopes(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM qr_envelopes
		WHERE superseded_at IS NOT NULL AND superseded_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
