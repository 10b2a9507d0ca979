package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/ids"
	"github.com/wardenhq/warden/internal/obs"
	"github.com/wardenhq/warden/internal/ratelimit"
	"github.com/wardenhq/warden/internal/rbac"
	"github.com/wardenhq/warden/internal/rotation"
)

const (
	defaultIssuer     = "warden"
	defaultAdminUser  = "admin"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	minSecretLen      = 32

	// loginRateRule is the builtin limiter rule keyed by source IP.
	loginRateRule = "auth_attempts"
)

// Service issues and validates credentials: admin login, JWT pairs, API
// keys, token revocation and signing-secret rotation. Every security
// relevant outcome lands on the audit ledger.
type Service struct {
	storage  Storage
	chain    *audit.Chain
	rbac     *rbac.Engine
	limiter  *ratelimit.Limiter
	rotation *rotation.Manager
	logger   *zap.Logger
	now      func() time.Time

	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	keyPrefix  string

	adminUserID       string
	adminPasswordHash string

	// secretMu guards the signing secrets. The previous secret stays
	// accepted for verification during a rotation grace period and is
	// never used for signing.
	secretMu       sync.RWMutex
	tokenSecret    []byte
	previousSecret []byte
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithAdminCredential sets the operator account and its password hash. The
// hash is supplied by deployment configuration; the service never stores
// plaintext.
func WithAdminCredential(userID, passwordHash string) ServiceOption {
	return func(s *Service) {
		if v := strings.TrimSpace(userID); v != "" {
			s.adminUserID = v
		}
		s.adminPasswordHash = strings.TrimSpace(passwordHash)
	}
}

// WithKeyPrefix overrides the API key prefix.
func WithKeyPrefix(prefix string) ServiceOption {
	return func(s *Service) {
		if v := strings.TrimSpace(prefix); v != "" {
			s.keyPrefix = v
		}
	}
}

// WithRotation attaches the rotation manager, so secret rotations are
// tracked and the outgoing secret survives restarts for its grace window.
func WithRotation(m *rotation.Manager) ServiceOption {
	return func(s *Service) {
		s.rotation = m
	}
}

// WithPreviousSecret opens a rotation grace window at construction: tokens
// signed with the given outgoing secret keep verifying. Typically loaded
// from rotation storage when the process restarts mid-grace.
func WithPreviousSecret(secret string) ServiceOption {
	return func(s *Service) {
		if secret != "" {
			s.previousSecret = []byte(secret)
		}
	}
}

// NewService wires the service to its collaborators. tokenSecret signs JWTs
// and must be at least 32 characters.
func NewService(store Storage, chain *audit.Chain, roles *rbac.Engine, limiter *ratelimit.Limiter, tokenSecret string, opts ...ServiceOption) (*Service, error) {
	if len(tokenSecret) < minSecretLen {
		return nil, ErrSecretTooShort
	}
	svc := &Service{
		storage:     store,
		chain:       chain,
		rbac:        roles,
		limiter:     limiter,
		logger:      zap.NewNop(),
		now:         time.Now,
		issuer:      defaultIssuer,
		accessTTL:   defaultAccessTTL,
		refreshTTL:  defaultRefreshTTL,
		keyPrefix:   defaultKeyPrefix,
		adminUserID: defaultAdminUser,
		tokenSecret: []byte(tokenSecret),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.logger = svc.logger.Named("authn")
	return svc, nil
}

// Login authenticates the admin password and mints a token pair. Attempts
// are rate limited per source IP before the password is ever checked.
func (s *Service) Login(ctx context.Context, password, ip string) (TokenPair, error) {
	if s.limiter != nil {
		res := s.limiter.Check(loginRateRule, ip)
		if !res.Allowed {
			obs.AuthAttempt("password", "throttled")
			s.recordAudit(ctx, audit.RecordParams{
				Event:    "auth.login.throttled",
				Level:    audit.LevelSecurity,
				Message:  "login attempts rate limited",
				Metadata: map[string]any{"ip": ip, "retry_after": res.RetryAfter},
			})
			return TokenPair{}, &ThrottledError{RetryAfter: res.RetryAfter}
		}
	}
	if err := VerifyPassword(s.adminPasswordHash, password); err != nil {
		obs.AuthAttempt("password", "failure")
		s.recordAudit(ctx, audit.RecordParams{
			Event:    "auth.login.failed",
			Level:    audit.LevelWarn,
			Message:  "admin password rejected",
			Metadata: map[string]any{"ip": ip},
		})
		return TokenPair{}, ErrUnauthorized
	}

	role, err := s.adminRole(ctx)
	if err != nil {
		return TokenPair{}, err
	}
	perms, err := s.permissionsForRole(role)
	if err != nil {
		return TokenPair{}, err
	}
	pair, err := s.mintPair(s.adminUserID, role, perms)
	if err != nil {
		return TokenPair{}, err
	}
	obs.AuthAttempt("password", "success")
	s.recordAudit(ctx, audit.RecordParams{
		Event:    "auth.login.succeeded",
		Level:    audit.LevelInfo,
		Message:  "admin login",
		UserID:   s.adminUserID,
		Metadata: map[string]any{"ip": ip, "role": role},
	})
	return pair, nil
}

// adminRole resolves the operator's role: an active assignment wins,
// otherwise the builtin admin role applies.
func (s *Service) adminRole(ctx context.Context) (string, error) {
	role, err := s.rbac.ActiveRole(ctx, s.adminUserID)
	if errors.Is(err, rbac.ErrNotFound) {
		return rbac.RoleAdmin, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve admin role: %w", err)
	}
	return role, nil
}

// ValidateToken checks signature, expiry, token type and the revocation
// blacklist, and returns the identity embedded in the token. The permission
// snapshot inside the token is trusted as-is; it refreshes on reissue.
func (s *Service) ValidateToken(ctx context.Context, token string) (AuthUser, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		obs.AuthAttempt("jwt", "failure")
		return AuthUser{}, err
	}
	if claims.TokenType != TokenTypeAccess {
		obs.AuthAttempt("jwt", "failure")
		return AuthUser{}, ErrInvalidTokenType
	}
	revoked, err := s.storage.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return AuthUser{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		obs.AuthAttempt("jwt", "revoked")
		s.recordAudit(ctx, audit.RecordParams{
			Event:    "auth.token.revoked_use",
			Level:    audit.LevelSecurity,
			Message:  "revoked token presented",
			UserID:   claims.Subject,
			Metadata: map[string]any{"jti": claims.ID},
		})
		return AuthUser{}, ErrTokenRevoked
	}
	obs.AuthAttempt("jwt", "success")
	return AuthUser{
		UserID:      claims.Subject,
		Role:        claims.Role,
		Permissions: claims.Permissions,
		AuthMethod:  MethodJWT,
		JTI:         claims.ID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// Refresh rotates a refresh token: the presented token is retired first,
// then a fresh pair is minted with the user's current role and permissions.
// Replaying a retired token is a security event.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.parseToken(refreshToken)
	if err != nil {
		obs.AuthAttempt("refresh", "failure")
		return TokenPair{}, err
	}
	if claims.TokenType != TokenTypeRefresh {
		obs.AuthAttempt("refresh", "failure")
		return TokenPair{}, ErrInvalidTokenType
	}
	revoked, err := s.storage.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		obs.AuthAttempt("refresh", "revoked")
		s.recordAudit(ctx, audit.RecordParams{
			Event:    "auth.refresh.replayed",
			Level:    audit.LevelSecurity,
			Message:  "refresh token reused after rotation",
			UserID:   claims.Subject,
			Metadata: map[string]any{"jti": claims.ID},
		})
		return TokenPair{}, ErrTokenRevoked
	}

	// Single use: retire the presented token before minting its successor.
	err = s.storage.RevokeToken(ctx, RevokedToken{
		JTI:       claims.ID,
		UserID:    claims.Subject,
		RevokedAt: s.now().UTC(),
		ExpiresAt: claims.ExpiresAt.Time,
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("retire refresh token: %w", err)
	}

	role := claims.Role
	if active, err := s.rbac.ActiveRole(ctx, claims.Subject); err == nil {
		role = active
	} else if !errors.Is(err, rbac.ErrNotFound) {
		return TokenPair{}, fmt.Errorf("resolve role: %w", err)
	}
	perms, err := s.permissionsForRole(role)
	if err != nil {
		return TokenPair{}, err
	}
	pair, err := s.mintPair(claims.Subject, role, perms)
	if err != nil {
		return TokenPair{}, err
	}
	obs.AuthAttempt("refresh", "success")
	s.recordAudit(ctx, audit.RecordParams{
		Event:   "auth.token.refreshed",
		Level:   audit.LevelInfo,
		Message: "token pair rotated",
		UserID:  claims.Subject,
	})
	return pair, nil
}

// Logout revokes the presented token until its natural expiry. Both access
// and refresh tokens are accepted.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.parseToken(token)
	if err != nil {
		return err
	}
	err = s.storage.RevokeToken(ctx, RevokedToken{
		JTI:       claims.ID,
		UserID:    claims.Subject,
		RevokedAt: s.now().UTC(),
		ExpiresAt: claims.ExpiresAt.Time,
	})
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.recordAudit(ctx, audit.RecordParams{
		Event:    "auth.logout",
		Level:    audit.LevelInfo,
		Message:  "token revoked on logout",
		UserID:   claims.Subject,
		Metadata: map[string]any{"jti": claims.ID, "type": claims.TokenType},
	})
	return nil
}

// CreateAPIKeyParams describes a key to mint.
type CreateAPIKeyParams struct {
	Name   string
	Role   string
	UserID string
	// ExpiresInDays of zero means the key never expires. A negative value
	// creates a key that is already expired, useful for honeypot keys.
	ExpiresInDays int
}

// CreateAPIKey mints a key and returns the stored record together with the
// raw key. The raw value is shown exactly once; only its hash persists.
func (s *Service) CreateAPIKey(ctx context.Context, p CreateAPIKeyParams) (APIKeyRecord, string, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" || strings.TrimSpace(p.Role) == "" {
		return APIKeyRecord{}, "", fmt.Errorf("%w: name and role are required", ErrInvalidInput)
	}
	if _, ok := s.rbac.Role(p.Role); !ok {
		return APIKeyRecord{}, "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, p.Role)
	}
	raw, prefix, hash, err := generateAPIKey(s.keyPrefix)
	if err != nil {
		return APIKeyRecord{}, "", fmt.Errorf("generate api key: %w", err)
	}
	now := s.now().UTC()
	rec := APIKeyRecord{
		ID:        ids.NewWithTime(now),
		Name:      name,
		KeyHash:   hash,
		KeyPrefix: prefix,
		Role:      p.Role,
		UserID:    p.UserID,
		CreatedAt: now,
	}
	if p.ExpiresInDays != 0 {
		exp := now.AddDate(0, 0, p.ExpiresInDays)
		rec.ExpiresAt = &exp
	}
	if err := s.storage.CreateAPIKey(ctx, rec); err != nil {
		return APIKeyRecord{}, "", fmt.Errorf("store api key: %w", err)
	}
	s.recordAudit(ctx, audit.RecordParams{
		Event:    "auth.apikey.created",
		Level:    audit.LevelInfo,
		Message:  "api key created",
		UserID:   p.UserID,
		Metadata: map[string]any{"key_id": rec.ID, "name": rec.Name, "role": rec.Role},
	})
	return rec, raw, nil
}

// ValidateAPIKey authenticates a raw key. Permissions come fresh from the
// key's role on every call, so role edits apply immediately.
func (s *Service) ValidateAPIKey(ctx context.Context, raw string) (AuthUser, error) {
	if !wellFormedAPIKey(raw, s.keyPrefix) {
		obs.AuthAttempt("api_key", "failure")
		return AuthUser{}, ErrUnauthorized
	}
	rec, err := s.storage.APIKeyByHash(ctx, hashAPIKey(raw))
	if errors.Is(err, ErrNotFound) {
		obs.AuthAttempt("api_key", "failure")
		s.recordAudit(ctx, audit.RecordParams{
			Event:    "auth.apikey.unknown",
			Level:    audit.LevelWarn,
			Message:  "unknown api key presented",
			Metadata: map[string]any{"key_prefix": keyDisplayPrefix(raw)},
		})
		return AuthUser{}, ErrUnauthorized
	}
	if err != nil {
		return AuthUser{}, fmt.Errorf("lookup api key: %w", err)
	}
	now := s.now().UTC()
	if rec.RevokedAt != nil {
		obs.AuthAttempt("api_key", "revoked")
		s.recordAudit(ctx, audit.RecordParams{
			Event:    "auth.apikey.revoked_use",
			Level:    audit.LevelSecurity,
			Message:  "revoked api key presented",
			UserID:   rec.UserID,
			Metadata: map[string]any{"key_id": rec.ID},
		})
		return AuthUser{}, ErrUnauthorized
	}
	if rec.ExpiresAt != nil && now.After(*rec.ExpiresAt) {
		obs.AuthAttempt("api_key", "expired")
		s.recordAudit(ctx, audit.RecordParams{
			Event:    "auth.apikey.expired",
			Level:    audit.LevelWarn,
			Message:  "expired api key presented",
			UserID:   rec.UserID,
			Metadata: map[string]any{"key_id": rec.ID},
		})
		return AuthUser{}, ErrUnauthorized
	}
	perms, err := s.permissionsForRole(rec.Role)
	if err != nil {
		return AuthUser{}, err
	}
	if err := s.storage.TouchAPIKey(ctx, rec.ID, now); err != nil {
		// Best effort; a failed touch must not block authentication.
		s.logger.Warn("touch api key", zap.String("key_id", rec.ID), zap.Error(err))
	}
	obs.AuthAttempt("api_key", "success")
	user := AuthUser{
		UserID:      rec.UserID,
		Role:        rec.Role,
		Permissions: perms,
		AuthMethod:  MethodAPIKey,
		APIKeyID:    rec.ID,
	}
	if rec.ExpiresAt != nil {
		user.ExpiresAt = *rec.ExpiresAt
	}
	return user, nil
}

// RevokeAPIKey disables a key permanently. Revoking twice is a no-op.
func (s *Service) RevokeAPIKey(ctx context.Context, id, revokedBy string) error {
	if err := s.storage.RevokeAPIKey(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	s.recordAudit(ctx, audit.RecordParams{
		Event:    "auth.apikey.revoked",
		Level:    audit.LevelInfo,
		Message:  "api key revoked",
		UserID:   revokedBy,
		Metadata: map[string]any{"key_id": id},
	})
	return nil
}

// ListAPIKeys returns key summaries for one user, or all keys when userID is
// empty. Hashes never leave storage.
func (s *Service) ListAPIKeys(ctx context.Context, userID string) ([]APIKeySummary, error) {
	recs, err := s.storage.ListAPIKeys(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]APIKeySummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, APIKeySummary{
			ID:         rec.ID,
			Name:       rec.Name,
			KeyPrefix:  rec.KeyPrefix,
			Role:       rec.Role,
			UserID:     rec.UserID,
			CreatedAt:  rec.CreatedAt,
			ExpiresAt:  rec.ExpiresAt,
			RevokedAt:  rec.RevokedAt,
			LastUsedAt: rec.LastUsedAt,
		})
	}
	return out, nil
}

// UpdateTokenSecret rotates the signing secret. The outgoing secret keeps
// verifying existing tokens until ClearPreviousSecret ends the grace period.
func (s *Service) UpdateTokenSecret(ctx context.Context, newSecret string) error {
	if len(newSecret) < minSecretLen {
		return ErrSecretTooShort
	}
	s.secretMu.Lock()
	outgoing := string(s.tokenSecret)
	s.previousSecret = s.tokenSecret
	s.tokenSecret = []byte(newSecret)
	s.secretMu.Unlock()
	if s.rotation != nil {
		if err := s.rotation.Rotated(ctx, rotation.SecretTokenSigning, outgoing); err != nil {
			s.logger.Warn("record rotation", zap.Error(err))
		}
	}
	s.logger.Info("token secret rotated")
	s.recordAudit(ctx, audit.RecordParams{
		Event:   "auth.secret.rotated",
		Level:   audit.LevelSecurity,
		Message: "token signing secret rotated, previous secret kept for grace period",
	})
	return nil
}

// ClearPreviousSecret ends the rotation grace period. Tokens signed with the
// old secret stop validating immediately.
func (s *Service) ClearPreviousSecret(ctx context.Context) error {
	s.secretMu.Lock()
	cleared := s.previousSecret != nil
	s.previousSecret = nil
	s.secretMu.Unlock()
	if s.rotation != nil {
		if err := s.rotation.ClearPrevious(ctx, rotation.SecretTokenSigning); err != nil {
			s.logger.Warn("clear stored previous secret", zap.Error(err))
		}
	}
	if !cleared {
		return nil
	}
	s.recordAudit(ctx, audit.RecordParams{
		Event:   "auth.secret.previous_cleared",
		Level:   audit.LevelInfo,
		Message: "previous token secret cleared",
	})
	return nil
}

// CleanupExpiredTokens prunes blacklist rows for tokens that would have
// expired on their own. Returns the number of rows removed.
func (s *Service) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	removed, err := s.storage.DeleteExpiredTokens(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	if removed > 0 {
		s.logger.Debug("expired blacklist rows removed", zap.Int64("removed", removed))
	}
	return removed, nil
}

// StartCleanup prunes the revocation blacklist in the background until the
// returned stop function is called.
func (s *Service) StartCleanup(interval time.Duration) func() {
	if interval <= 0 {
		interval = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.CleanupExpiredTokens(ctx); err != nil {
					s.logger.Warn("token cleanup", zap.Error(err))
				}
			}
		}
	}()
	return cancel
}

func (s *Service) permissionsForRole(role string) ([]string, error) {
	perms, err := s.rbac.PermissionStrings(role)
	if errors.Is(err, rbac.ErrNotFound) {
		// The role vanished between assignment and issuance. Fail closed.
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("resolve permissions: %w", err)
	}
	return perms, nil
}

func (s *Service) mintPair(userID, role string, perms []string) (TokenPair, error) {
	now := s.now().UTC()
	accessExp := now.Add(s.accessTTL)
	refreshExp := now.Add(s.refreshTTL)

	s.secretMu.RLock()
	secret := s.tokenSecret
	s.secretMu.RUnlock()

	access, err := signToken(Claims{
		Role:        role,
		Permissions: perms,
		TokenType:   TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
			ID:        uuid.NewString(),
		},
	}, secret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	// Refresh tokens carry the role but no permission snapshot; permissions
	// are recomputed when the pair is rotated.
	refresh, err := signToken(Claims{
		Role:      role,
		TokenType: TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
			ID:        uuid.NewString(),
		},
	}, secret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func signToken(claims Claims, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// parseToken verifies the signature against the current secret, then the
// previous one if a rotation grace period is open. All failures collapse to
// ErrInvalidToken so callers leak nothing.
func (s *Service) parseToken(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	s.secretMu.RLock()
	secrets := [][]byte{s.tokenSecret}
	if len(s.previousSecret) > 0 {
		secrets = append(secrets, s.previousSecret)
	}
	s.secretMu.RUnlock()

	for _, secret := range secrets {
		claims, err := parseWithSecret(token, secret, s.now)
		if err != nil {
			continue
		}
		if err := s.validateClaims(claims); err != nil {
			return nil, ErrInvalidToken
		}
		return claims, nil
	}
	return nil, ErrInvalidToken
}

func parseWithSecret(token string, secret []byte, now func() time.Time) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithTimeFunc(now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) validateClaims(claims *Claims) error {
	if claims.Issuer != s.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if strings.TrimSpace(claims.ID) == "" {
		return errors.New("token id missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := s.now().UTC()
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	switch claims.TokenType {
	case TokenTypeAccess, TokenTypeRefresh:
	default:
		return fmt.Errorf("unknown token type: %q", claims.TokenType)
	}
	return nil
}

// recordAudit writes to the ledger without letting a ledger failure abort
// the caller's request.
func (s *Service) recordAudit(ctx context.Context, p audit.RecordParams) {
	if s.chain == nil {
		return
	}
	if _, err := s.chain.Record(ctx, p); err != nil {
		s.logger.Warn("audit record failed", zap.String("event", p.Event), zap.Error(err))
	}
}
