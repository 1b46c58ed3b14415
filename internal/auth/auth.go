// Package auth owns the institution API-key registry. Keys are created by
// an administrative registration call, never self-service, and are immutable
// afterwards except for expiry.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lydianiq/civicgrid/aggregator"
	"github.com/lydianiq/civicgrid/checks"
	"github.com/lydianiq/civicgrid/internal/platform/logger"
)

// Errors of the validation path.
var (
	ErrInvalidKey       = errors.New("unknown institution key")
	ErrKeyExpired       = errors.New("institution key expired")
	ErrMetricNotAllowed = errors.New("metric not allowed for this institution")
)

// InstitutionType classifies the holder of a key.
type InstitutionType string

// Institution types eligible for registration.
const (
	TypeGovernment InstitutionType = "government"
	TypeResearch   InstitutionType = "research"
	TypeNGO        InstitutionType = "ngo"
)

// ToInstitutionType parses an institution type name.
func ToInstitutionType(s string) (InstitutionType, bool) {
	switch InstitutionType(s) {
	case TypeGovernment, TypeResearch, TypeNGO:
		return InstitutionType(s), true
	}
	return "", false
}

// AllMetrics in AllowedMetrics grants access to every metric.
const AllMetrics = "*"

// InstitutionKey is an issued credential with its quotas.
type InstitutionKey struct {
	KeyID               uuid.UUID       `json:"key_id"`
	InstitutionName     string          `json:"institution_name"`
	InstitutionType     InstitutionType `json:"institution_type"`
	AllowedMetrics      []string        `json:"allowed_metrics"`
	RateLimitPerDay     int             `json:"rate_limit_per_day"`
	EpsilonBudgetPerDay float64         `json:"epsilon_budget_per_day"`
	CreatedAt           time.Time       `json:"created_at"`
	ExpiresAt           *time.Time      `json:"expires_at,omitempty"`
}

// RegistrationParams are the inputs of the administrative registration call.
type RegistrationParams struct {
	InstitutionName     string
	InstitutionType     InstitutionType
	AllowedMetrics      []string
	RateLimitPerDay     int
	EpsilonBudgetPerDay float64
	ExpiresAt           *time.Time
}

// Service validates institution keys against the registry.
type Service struct {
	log *logger.Logger
	now func() time.Time

	mu   sync.RWMutex
	keys map[uuid.UUID]InstitutionKey
}

// NewService returns an empty registry.
func NewService(log *logger.Logger) *Service {
	return &Service{
		log:  log.With("service", "InstitutionAuth"),
		now:  time.Now,
		keys: make(map[uuid.UUID]InstitutionKey),
	}
}

// Register issues a new institution key. Trusted administrative callers
// only; the generated key_id is distributed to the institution out-of-band.
func (s *Service) Register(p RegistrationParams) (InstitutionKey, error) {
	if p.InstitutionName == "" {
		return InstitutionKey{}, fmt.Errorf("institution name is required")
	}
	if _, ok := ToInstitutionType(string(p.InstitutionType)); !ok {
		return InstitutionKey{}, fmt.Errorf("unknown institution type %q", p.InstitutionType)
	}
	if len(p.AllowedMetrics) == 0 {
		return InstitutionKey{}, fmt.Errorf("allowed metrics are required")
	}
	for _, m := range p.AllowedMetrics {
		if m == AllMetrics {
			continue
		}
		// A misspelled grant would issue a key that can never query.
		if _, ok := aggregator.ToMetric(m); !ok {
			return InstitutionKey{}, fmt.Errorf("unknown metric %q in allowed metrics", m)
		}
	}
	if err := checks.CheckRateLimit(p.RateLimitPerDay); err != nil {
		return InstitutionKey{}, err
	}
	if err := checks.CheckEpsilonBudget(p.EpsilonBudgetPerDay); err != nil {
		return InstitutionKey{}, err
	}

	key := InstitutionKey{
		KeyID:               uuid.New(),
		InstitutionName:     p.InstitutionName,
		InstitutionType:     p.InstitutionType,
		AllowedMetrics:      append([]string(nil), p.AllowedMetrics...),
		RateLimitPerDay:     p.RateLimitPerDay,
		EpsilonBudgetPerDay: p.EpsilonBudgetPerDay,
		CreatedAt:           s.now().UTC(),
		ExpiresAt:           p.ExpiresAt,
	}

	s.mu.Lock()
	s.keys[key.KeyID] = key
	s.mu.Unlock()

	s.log.Info("institution registered",
		"institution", key.InstitutionName,
		"type", key.InstitutionType,
		"rate_limit_per_day", key.RateLimitPerDay,
		"epsilon_budget_per_day", key.EpsilonBudgetPerDay)
	return key, nil
}

// Revoke expires a key immediately.
func (s *Service) Revoke(keyID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[keyID]
	if !ok {
		return ErrInvalidKey
	}
	now := s.now().UTC()
	key.ExpiresAt = &now
	s.keys[keyID] = key
	return nil
}

// Lookup checks that the key exists and has not expired.
func (s *Service) Lookup(keyID uuid.UUID) (InstitutionKey, error) {
	s.mu.RLock()
	key, ok := s.keys[keyID]
	s.mu.RUnlock()
	if !ok {
		return InstitutionKey{}, ErrInvalidKey
	}
	if key.ExpiresAt != nil && !s.now().Before(*key.ExpiresAt) {
		return InstitutionKey{}, ErrKeyExpired
	}
	return key, nil
}

// Validate checks that the key exists, has not expired and may query the
// given metric.
func (s *Service) Validate(keyID uuid.UUID, metric string) (InstitutionKey, error) {
	key, err := s.Lookup(keyID)
	if err != nil {
		return InstitutionKey{}, err
	}
	for _, m := range key.AllowedMetrics {
		if m == AllMetrics || m == metric {
			return key, nil
		}
	}
	return InstitutionKey{}, fmt.Errorf("%w: %q", ErrMetricNotAllowed, metric)
}
