package verify

import (
	"errors"
	"log/slog"
	"time"

	"github.com/permamesh/permamesh-go/internal/core/domain"
	"github.com/permamesh/permamesh-go/pkg/captoken"
	"github.com/permamesh/permamesh-go/pkg/cmap"
)

// Default configuration values.
const (
	// DefaultCacheTTL bounds how long verified payloads stay cached.
	DefaultCacheTTL = 10 * time.Minute

	// DefaultCleanupInterval is the sweep period for expired cache and
	// replay entries.
	DefaultCleanupInterval = time.Minute

	// replayGrace extends replay retention past token expiry so a clock
	// running slightly behind cannot readmit a just-expired token.
	replayGrace = domain.MaxClockSkew
)

// Config configures a Verifier.
type Config struct {
	// Keyring resolves signing key ids. Required.
	Keyring *captoken.Keyring

	// Issuer is the expected iss claim. Required.
	Issuer string

	// Audience is the expected aud claim. Required.
	Audience string

	// CacheTTL overrides DefaultCacheTTL when positive.
	CacheTTL time.Duration

	// CleanupInterval overrides DefaultCleanupInterval when positive.
	CleanupInterval time.Duration

	// Now supplies the clock; defaults to time.Now. Tests inject a
	// deterministic clock here.
	Now func() time.Time

	// Logger is the structured logger.
	Logger *slog.Logger
}

// Verifier validates capability tokens and enforces single use.
//
// The replay set and the verified-token cache are sharded concurrent
// maps: many tokens verify in parallel without lost updates.
type Verifier struct {
	keyring  *captoken.Keyring
	issuer   string
	audience string
	cacheTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger

	// replaySet holds consumed jtis until token expiry plus grace.
	replaySet *cmap.Map[string, int64]

	// cache holds verified payloads keyed by jti.
	cache *cmap.Map[string, *domain.VerifiedToken]

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Verifier and starts its background cleanup loop.
// Call Close to stop it.
func New(cfg Config) *Verifier {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	v := &Verifier{
		keyring:   cfg.Keyring,
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		cacheTTL:  cfg.CacheTTL,
		now:       cfg.Now,
		logger:    cfg.Logger,
		replaySet: cmap.New[string, int64](),
		cache:     cmap.New[string, *domain.VerifiedToken](),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	go v.cleanupLoop(cfg.CleanupInterval)

	return v
}

// VerifyToken validates a raw token and consumes its jti.
//
// Checks run cheapest-first: structure, key lookup, signature, claims,
// then the replay set. Only a fully valid token reaches the replay
// check, so a rejected token never burns its jti.
func (v *Verifier) VerifyToken(token string) (*domain.TokenPayload, error) {
	payload, now, err := v.parseAndValidate(token)
	if err != nil {
		return nil, err
	}

	// Single use: retention is an explicit TTL derived from the token's
	// own expiry, never inferred from the identifier.
	ttl := time.Unix(payload.ExpiresAt, 0).Sub(now) + replayGrace
	if !v.replaySet.SetIfAbsent(payload.JTI, now.Unix(), ttl) {
		return nil, domain.ErrTokenReplay.WithDetails(payload.JTI)
	}

	v.cache.SetWithTTL(payload.JTI, &domain.VerifiedToken{
		Payload:    payload,
		VerifiedAt: now,
	}, v.cacheTTL)

	return payload, nil
}

// CheckToken validates a token without consuming its jti. Used by
// consensus backups re-verifying the token a primary embedded in a
// PRE_PREPARE: both primary and backups must accept the same token,
// but only the node that admitted the request burns the identifier.
func (v *Verifier) CheckToken(token string) (*domain.TokenPayload, error) {
	payload, _, err := v.parseAndValidate(token)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// parseAndValidate runs every check except replay, in a fixed order so
// callers see the most specific rejection first.
func (v *Verifier) parseAndValidate(token string) (*domain.TokenPayload, time.Time, error) {
	payload := &domain.TokenPayload{}
	if err := captoken.Parse(v.keyring, token, payload); err != nil {
		return nil, time.Time{}, v.mapParseError(err)
	}

	if !payload.HasRequiredFields() {
		return nil, time.Time{}, domain.ErrTokenMissingFields
	}

	now := v.now()

	if payload.Issuer != v.issuer {
		return nil, now, domain.ErrTokenIssuerMismatch.WithDetails(payload.Issuer)
	}
	if payload.Audience != v.audience {
		return nil, now, domain.ErrTokenAudienceMismatch.WithDetails(payload.Audience)
	}
	if time.Unix(payload.IssuedAt, 0).After(now.Add(domain.MaxClockSkew)) {
		return nil, now, domain.ErrTokenClockSkew
	}
	// Window check precedes the expiry check: an over-long window is a
	// policy violation even while the token is still temporally live.
	if payload.ValidityWindow() > domain.MaxValidityWindow {
		return nil, now, domain.ErrTokenWindowExceeded
	}
	if payload.ExpiredAt(now) {
		return nil, now, domain.ErrTokenExpired
	}
	if payload.ValidationResults.Score < domain.MinValidationScore {
		return nil, now, domain.ErrTokenLowScore
	}
	if payload.Permissions == 0 {
		return nil, now, domain.ErrTokenNoPermissions
	}

	return payload, now, nil
}

// HasPermission is a pure bitwise check.
func (v *Verifier) HasPermission(payload *domain.TokenPayload, bit uint32) bool {
	return payload.HasPermission(bit)
}

// Cached returns the cached verification entry for a jti, if present.
func (v *Verifier) Cached(jti string) (*domain.VerifiedToken, bool) {
	return v.cache.Get(jti)
}

// ReplaySeen reports whether a jti has been consumed.
func (v *Verifier) ReplaySeen(jti string) bool {
	return v.replaySet.Has(jti)
}

// mapParseError translates codec errors into the domain taxonomy.
func (v *Verifier) mapParseError(err error) *domain.DomainError {
	switch {
	case errors.Is(err, captoken.ErrUnknownKeyID):
		return domain.ErrTokenUnknownKey.WithCause(err)
	case errors.Is(err, captoken.ErrBadSignature):
		return domain.ErrTokenBadSignature.WithCause(err)
	default:
		return domain.ErrTokenMalformed.WithCause(err)
	}
}

// cleanupLoop evicts expired cache and replay entries.
//
// This bounds memory; it is not correctness-critical beyond keeping
// replay protection alive for each token's own validity window, which
// the per-entry TTLs already guarantee.
func (v *Verifier) cleanupLoop(interval time.Duration) {
	defer close(v.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			replayEvicted := v.replaySet.Sweep()
			cacheEvicted := v.cache.Sweep()
			if replayEvicted > 0 || cacheEvicted > 0 {
				v.logger.Debug("verifier cleanup",
					"replay_evicted", replayEvicted,
					"cache_evicted", cacheEvicted)
			}
		case <-v.stopCh:
			return
		}
	}
}

// Close stops the background cleanup loop.
func (v *Verifier) Close() {
	close(v.stopCh)
	<-v.doneCh
}
