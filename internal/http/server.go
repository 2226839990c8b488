package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/taalimflow-tech/qrlink/internal/auth"
	"github.com/taalimflow-tech/qrlink/internal/config"
	"github.com/taalimflow-tech/qrlink/internal/db"
	"github.com/taalimflow-tech/qrlink/internal/idcode"
)

// Directory is the storage surface the server needs: person lookup for the
// resolver plus envelope persistence for issuance.
type Directory interface {
	idcode.PersonStore
	SaveEnvelope(ctx context.Context, row db.EnvelopeRow) error
	LatestEnvelope(ctx context.Context, ref idcode.PersonRef) (db.EnvelopeRow, bool, error)
}

var scanResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "qrlink_scan_resolutions_total",
	Help: "Scan resolution attempts by outcome.",
}, []string{"outcome"})

type Server struct {
	cfg      config.Config
	store    Directory
	resolver *idcode.Resolver
	issuer   *idcode.Issuer
	redis    *redis.Client
	cacheTTL time.Duration
}

func NewServer(cfg config.Config, store Directory, issuer *idcode.Issuer, redisClient *redis.Client) *Server {
	if issuer == nil {
		issuer = idcode.NewIssuer(nil)
	}
	return &Server{
		cfg:      cfg,
		store:    store,
		resolver: idcode.NewResolver(store),
		issuer:   issuer,
		redis:    redisClient,
		cacheTTL: cfg.EnvelopeCacheTTL,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.With(s.authMiddleware, s.staffMiddleware).Post("/scan", s.handleScan)
	r.With(s.authMiddleware, s.staffMiddleware).Post("/persons/{personType}/{personId}/code", s.handleIssueCode)
	r.With(s.authMiddleware, s.staffMiddleware).Get("/persons/{personType}/{personId}/code", s.handleGetCode)
	r.With(s.authMiddleware, s.staffMiddleware).Get("/persons/{personType}/{personId}/code/image", s.handleGetCodeImage)

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// staffMiddleware restricts the code surface to teacher and admin sessions.
// Every session must be bound to a school; the school claim is the scanning
// context and nothing downstream works without it.
func (s *Server) staffMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		if claims.UserType != "teacher" && claims.UserType != "admin" {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		if claims.SchoolID <= 0 {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Models

type scanRequest struct {
	Payload string `json:"payload"`
}

type resolvedPersonResponse struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	SchoolID int64  `json:"schoolId"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

type issueCodeResponse struct {
	Envelope idcode.Envelope `json:"envelope"`
	Payload  string          `json:"payload"`
	Image    string          `json:"image"`
}

// Handlers

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	payload := strings.TrimSpace(req.Payload)
	if payload == "" {
		writeError(w, http.StatusBadRequest, "missing_payload")
		return
	}

	resolved, err := s.resolver.Resolve(r.Context(), payload, claims.SchoolID)
	if err != nil {
		s.writeScanError(w, claims, err)
		return
	}
	scanResolutions.WithLabelValues("resolved").Inc()
	writeJSON(w, http.StatusOK, resolvedPersonResponse{
		ID:       resolved.Ref.ID,
		Type:     string(resolved.Ref.Type),
		SchoolID: resolved.Ref.SchoolID,
		Name:     resolved.Name,
		Verified: resolved.Verified,
	})
}

// writeScanError keeps every resolution failure distinct on the wire, in the
// outcome counter, and in the log. A school mismatch is a potential
// cross-tenant probing signal and is logged as such, never folded into a
// generic bad-code error.
func (s *Server) writeScanError(w http.ResponseWriter, claims *auth.Claims, err error) {
	switch {
	case errors.Is(err, idcode.ErrSchoolMismatch):
		scanResolutions.WithLabelValues(err.Error()).Inc()
		log.Printf("scan school mismatch: session school %d, user %s", claims.SchoolID, claims.UserID)
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, idcode.ErrPersonNotFound):
		scanResolutions.WithLabelValues(err.Error()).Inc()
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, idcode.ErrUnverifiedPayload):
		scanResolutions.WithLabelValues(err.Error()).Inc()
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, idcode.ErrUnrecognizedPayload):
		scanResolutions.WithLabelValues(err.Error()).Inc()
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, idcode.ErrMalformedPayload),
		errors.Is(err, idcode.ErrUnknownPersonType),
		errors.Is(err, idcode.ErrInvalidIdentifier):
		scanResolutions.WithLabelValues(err.Error()).Inc()
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		scanResolutions.WithLabelValues("server_error").Inc()
		log.Printf("scan resolution error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

func (s *Server) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	ref, ok := refFromRequest(w, r, claims)
	if !ok {
		return
	}

	record, found, err := s.store.FindPerson(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "person_not_found")
		return
	}

	issued, err := s.issuer.Issue(ref, record.Name)
	if err != nil {
		log.Printf("code issuance error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	row := db.EnvelopeRow{
		ID:         uuid.NewString(),
		PersonID:   ref.ID,
		PersonType: ref.Type,
		SchoolID:   ref.SchoolID,
		Name:       record.Name,
		Code:       issued.Envelope.Code,
		Payload:    issued.CompactPayload,
		Image:      issued.ImagePNG,
		IssuedAt:   time.UnixMilli(issued.Envelope.Timestamp).UTC(),
	}
	if err := s.store.SaveEnvelope(r.Context(), row); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := s.cacheEnvelope(r.Context(), ref, issued.Envelope); err != nil {
		log.Printf("envelope cache error: %v", err)
	}

	writeJSON(w, http.StatusOK, issueCodeResponse{
		Envelope: issued.Envelope,
		Payload:  issued.CompactPayload,
		Image:    base64.StdEncoding.EncodeToString(issued.ImagePNG),
	})
}

func (s *Server) handleGetCode(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	ref, ok := refFromRequest(w, r, claims)
	if !ok {
		return
	}

	if envelope, hit := s.loadCachedEnvelope(r.Context(), ref); hit {
		writeJSON(w, http.StatusOK, envelope)
		return
	}

	row, found, err := s.store.LatestEnvelope(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "code_not_found")
		return
	}
	envelope := envelopeFromRow(row)
	if err := s.cacheEnvelope(r.Context(), ref, envelope); err != nil {
		log.Printf("envelope cache error: %v", err)
	}
	writeJSON(w, http.StatusOK, envelope)
}

func (s *Server) handleGetCodeImage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	ref, ok := refFromRequest(w, r, claims)
	if !ok {
		return
	}

	row, found, err := s.store.LatestEnvelope(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "code_not_found")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(row.Image)
}

// refFromRequest builds the PersonRef for the person routes. The school
// always comes from the session claims, so a staff member cannot address a
// person outside their own school no matter what the URL says.
func refFromRequest(w http.ResponseWriter, r *http.Request, claims *auth.Claims) (idcode.PersonRef, bool) {
	personType, err := idcode.ParsePersonType(chi.URLParam(r, "personType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_person_type")
		return idcode.PersonRef{}, false
	}
	personID, err := strconv.ParseInt(chi.URLParam(r, "personId"), 10, 64)
	if err != nil || personID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_identifier")
		return idcode.PersonRef{}, false
	}
	return idcode.PersonRef{ID: personID, Type: personType, SchoolID: claims.SchoolID}, true
}

// Envelope cache

func envelopeFromRow(row db.EnvelopeRow) idcode.Envelope {
	return idcode.Envelope{
		ID:        row.PersonID,
		Type:      row.PersonType,
		SchoolID:  row.SchoolID,
		Name:      row.Name,
		Code:      row.Code,
		Timestamp: row.IssuedAt.UnixMilli(),
	}
}

func (s *Server) cacheEnvelope(ctx context.Context, ref idcode.PersonRef, envelope idcode.Envelope) error {
	if s.redis == nil {
		return nil
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, envelopeCacheKey(ref), data, s.cacheTTL).Err()
}

func (s *Server) loadCachedEnvelope(ctx context.Context, ref idcode.PersonRef) (idcode.Envelope, bool) {
	if s.redis == nil {
		return idcode.Envelope{}, false
	}
	value, err := s.redis.Get(ctx, envelopeCacheKey(ref)).Result()
	if err == redis.Nil {
		return idcode.Envelope{}, false
	}
	if err != nil {
		log.Printf("envelope cache read error: %v", err)
		return idcode.Envelope{}, false
	}
	var envelope idcode.Envelope
	if err := json.Unmarshal([]byte(value), &envelope); err != nil {
		return idcode.Envelope{}, false
	}
	return envelope, true
}

func envelopeCacheKey(ref idcode.PersonRef) string {
	return fmt.Sprintf("qr_envelope:%d:%s:%d", ref.SchoolID, ref.Type, ref.ID)
}

// Utilities

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
