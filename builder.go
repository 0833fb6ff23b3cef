package authcore

import (
	"errors"

	"github.com/glowme/authcore/internal/rate"
	"github.com/glowme/authcore/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Construction is allocation-only; the one
// store round-trip happens at [Builder.Build] when the Redis backend is
// selected. The built engine is the single, dependency-injected instance
// request handlers share — there are no package-level singletons.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store        session.Store
	userProvider UserProvider
	auditSink    AuditSink

	built bool
}

// New creates a [Builder] seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis supplies the client for the distributed session backend.
// Required when Config.Session.Backend is [session.BackendRedis].
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore injects a pre-built session store, bypassing the backend
// factory. Intended for tests.
func (b *Builder) WithStore(store session.Store) *Builder {
	b.store = store
	return b
}

// WithUserProvider supplies the account-standing lookup. Optional: without
// it the engine issues sessions for any user id the caller vouches for.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithAuditSink supplies the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration, selects the session backend once, and
// returns the engine. A Builder can be used at most once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	cfg := b.config
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	store := b.store
	if store == nil {
		var err error
		store, err = session.New(cfg.Session, b.redis)
		if err != nil {
			return nil, err
		}
	}

	return &Engine{
		config:  cfg,
		store:   store,
		limiter: rate.New(rate.Config(cfg.RateLimit)),
		guard:   newCSRFGuard(cfg.CSRF),
		cookies: NewCookiePolicy(cfg.Cookie),
		audit:   newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),

		userProvider: b.userProvider,
	}, nil
}
