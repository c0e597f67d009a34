package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/edugrade-api/internal/dto"
	"github.com/noah-isme/edugrade-api/internal/models"
	"github.com/noah-isme/edugrade-api/internal/repository"
)

var (
	// ErrProfileNotFound indicates the principal has no profile and is treated as unauthenticated.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrInvalidToken indicates the session token could not be verified.
	ErrInvalidToken = errors.New("invalid session token")
)

const (
	IdentityModeSession = "session"
	IdentityModeDemo    = "demo"
)

// Principal holds the credentials presented with a request.
type Principal struct {
	Token    string
	DemoRole string
}

// IdentityProvider maps a principal to a stored or synthetic profile.
type IdentityProvider interface {
	Lookup(ctx context.Context, principal Principal) (models.UserProfile, error)
}

// IdentityResolver resolves the current profile. A nil result means unauthenticated.
type IdentityResolver interface {
	Resolve(ctx context.Context, principal Principal) *models.UserProfile
}

type identityResolver struct {
	provider IdentityProvider
	logger   zerolog.Logger
}

// NewIdentityResolver wraps a provider so that every failure degrades to "no profile".
func NewIdentityResolver(provider IdentityProvider, logger zerolog.Logger) IdentityResolver {
	return &identityResolver{
		provider: provider,
		logger:   logger.With().Str("component", "identity_resolver").Logger(),
	}
}

func (r *identityResolver) Resolve(ctx context.Context, principal Principal) *models.UserProfile {
	if principal.Token == "" && principal.DemoRole == "" {
		return nil
	}

	profile, err := r.provider.Lookup(ctx, principal)
	if err != nil {
		event := r.logger.Warn()
		if errors.Is(err, ErrProfileNotFound) || errors.Is(err, ErrInvalidToken) {
			event = r.logger.Debug()
		}
		event.Err(err).Msg("identity not resolved")
		return nil
	}

	return &profile
}

type sessionIdentityProvider struct {
	secret   []byte
	profiles repository.ProfileRepository
}

// NewSessionIdentityProvider verifies HS256 session tokens and loads the subject's profile.
func NewSessionIdentityProvider(secret string, profiles repository.ProfileRepository) IdentityProvider {
	return &sessionIdentityProvider{secret: []byte(secret), profiles: profiles}
}

func (p *sessionIdentityProvider) Lookup(ctx context.Context, principal Principal) (models.UserProfile, error) {
	if principal.Token == "" {
		return models.UserProfile{}, fmt.Errorf("%w: token missing", ErrInvalidToken)
	}

	token, err := jwt.Parse(principal.Token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return models.UserProfile{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.UserProfile{}, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}

	subject := subjectFromClaims(claims)
	if subject == "" {
		return models.UserProfile{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}

	profile, err := p.profiles.GetByID(ctx, subject)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.UserProfile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, subject)
		}
		return models.UserProfile{}, fmt.Errorf("load profile %s: %w", subject, err)
	}

	return profile, nil
}

func subjectFromClaims(claims jwt.MapClaims) string {
	for _, key := range []string{"sub", "user_id", "id"} {
		switch value := claims[key].(type) {
		case string:
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		case float64:
			return fmt.Sprintf("%.0f", value)
		}
	}
	return ""
}

var demoProfiles = map[string]models.UserProfile{
	models.RoleStudent: {ID: "student-1", Email: "student@demo.com", Role: models.RoleStudent, FullName: "Demo Student"},
	models.RoleTeacher: {ID: "teacher-1", Email: "teacher@demo.com", Role: models.RoleTeacher, FullName: "Demo Teacher"},
}

type demoIdentityProvider struct{}

// NewDemoIdentityProvider returns fixed profiles keyed by role, read from the demo header or the token itself.
func NewDemoIdentityProvider() IdentityProvider {
	return demoIdentityProvider{}
}

func (demoIdentityProvider) Lookup(_ context.Context, principal Principal) (models.UserProfile, error) {
	role := principal.DemoRole
	if role == "" {
		role = principal.Token
	}
	role = strings.ToLower(strings.TrimSpace(role))

	profile, ok := demoProfiles[role]
	if !ok {
		return models.UserProfile{}, fmt.Errorf("%w: demo role %q", ErrProfileNotFound, role)
	}
	return profile, nil
}

// ProfileService manages stored user profiles.
type ProfileService interface {
	Upsert(ctx context.Context, payload dto.ProfileUpsertRequest) (dto.ProfileResponse, error)
	CreateInitialProfile(ctx context.Context, id, email, role, fullName string) (dto.ProfileResponse, error)
}

type profileService struct {
	repo      repository.ProfileRepository
	validator *validator.Validate
	logger    zerolog.Logger
	now       func() time.Time
}

// NewProfileService constructs the profile service.
func NewProfileService(repo repository.ProfileRepository, validate *validator.Validate, logger zerolog.Logger) ProfileService {
	return &profileService{
		repo:      repo,
		validator: validate,
		logger:    logger.With().Str("component", "profile_service").Logger(),
		now:       time.Now,
	}
}

func (s *profileService) Upsert(ctx context.Context, payload dto.ProfileUpsertRequest) (dto.ProfileResponse, error) {
	payload.ID = strings.TrimSpace(payload.ID)
	payload.Email = strings.ToLower(strings.TrimSpace(payload.Email))
	payload.Role = strings.ToLower(strings.TrimSpace(payload.Role))
	payload.FullName = strings.TrimSpace(payload.FullName)

	if err := s.validator.Struct(payload); err != nil {
		return dto.ProfileResponse{}, err
	}

	if payload.FullName == "" {
		payload.FullName = strings.SplitN(payload.Email, "@", 2)[0]
	}

	now := s.now().UTC()
	profile := models.UserProfile{
		ID:        payload.ID,
		Email:     payload.Email,
		Role:      payload.Role,
		FullName:  payload.FullName,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Upsert(ctx, &profile); err != nil {
		s.logger.Error().Err(err).Str("profile_id", profile.ID).Msg("failed to upsert profile")
		return dto.ProfileResponse{}, err
	}

	stored, err := s.repo.GetByID(ctx, profile.ID)
	if err != nil {
		return dto.ProfileResponse{}, err
	}

	return dto.NewProfileResponse(stored), nil
}

func (s *profileService) CreateInitialProfile(ctx context.Context, id, email, role, fullName string) (dto.ProfileResponse, error) {
	return s.Upsert(ctx, dto.ProfileUpsertRequest{ID: id, Email: email, Role: role, FullName: fullName})
}
