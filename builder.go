package goBridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goBridge/internal/lock"
	"github.com/MrEthical07/goBridge/migrate"
	"github.com/MrEthical07/goBridge/mode"
	"github.com/MrEthical07/goBridge/session"
	"github.com/MrEthical07/goBridge/snapshot"
	"github.com/MrEthical07/goBridge/token"
)

// Builder assembles a [Bridge]. Single use: configure, then call Build once.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	directory UserDirectory
	auditSink AuditSink
	built     bool
}

// New starts a builder with defaults.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the whole configuration. The config is copied; later
// mutation of cfg has no effect.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the backing store client. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDirectory sets the host application's account lookup. Required.
func (b *Builder) WithDirectory(directory UserDirectory) *Builder {
	b.directory = directory
	return b
}

// WithAuditSink enables auditing into the given sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithTokenKeys sets the signing key material without replacing the rest of
// the config.
func (b *Builder) WithTokenKeys(privateKey, publicKey []byte) *Builder {
	b.config.Token.PrivateKey = append([]byte(nil), privateKey...)
	b.config.Token.PublicKey = append([]byte(nil), publicKey...)
	return b
}

// WithMetrics toggles the counter set.
func (b *Builder) WithMetrics(cfg MetricsConfig) *Builder {
	b.config.Metrics = cfg
	return b
}

// Build validates the configuration, wires every subsystem, and loads the
// persisted auth mode. The returned bridge is ready to serve.
func (b *Builder) Build(ctx context.Context) (*Bridge, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.directory == nil {
		return nil, errors.New("user directory is required")
	}
	if err := validateConfig(&b.config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	b.built = true

	cfg := b.config

	manager, err := token.NewManager(token.ManagerConfig{
		TTL:           cfg.Token.TTL,
		SigningMethod: token.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cfg.Token.PrivateKey,
		PublicKey:     cfg.Token.PublicKey,
		Issuer:        cfg.Token.Issuer,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	registry := mode.NewRegistry(b.redis, cfg.Mode.Key, cfg.Mode.Default)
	sessions := session.NewStore(b.redis, cfg.Session.RedisPrefix)
	tokens := token.NewStore(b.redis, manager, cfg.Token.RedisPrefix)
	records := migrate.NewRecordStore(b.redis, cfg.Session.RedisPrefix)
	jobs := migrate.NewJobStore(b.redis, cfg.Session.RedisPrefix, cfg.Migration.JobRetention)

	bridge := &Bridge{
		config:     cfg,
		redis:      b.redis,
		registry:   registry,
		sessions:   sessions,
		tokens:     tokens,
		records:    records,
		directory:  b.directory,
		transition: lock.New(b.redis, cfg.Transition.LockKey, cfg.Transition.LockTTL),
		audit:      newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:    NewMetrics(cfg.Metrics),
	}

	bridge.migrator = migrate.NewEngine(
		records, jobs, tokens, sessions, b.directory,
		migrate.Config{
			BatchSize:   cfg.Migration.BatchSize,
			Concurrency: cfg.Migration.Concurrency,
		},
		migrate.Hooks{
			JobUpdated: func(job migrate.Job) {
				bridge.auditEmit(context.Background(), AuditEvent{
					EventType: AuditJobProgress,
					JobID:     job.JobID,
					Success:   job.State != migrate.JobHalted,
					Error:     job.LastError,
					Metadata: map[string]string{
						"state":    string(job.State),
						"migrated": fmt.Sprintf("%d", job.Migrated),
						"failed":   fmt.Sprintf("%d", job.Failed),
						"total":    fmt.Sprintf("%d", job.Total),
					},
				})
			},
			UserFailed: func(userID, reason string) {
				bridge.auditEmit(context.Background(), AuditEvent{
					EventType: AuditUserFailed,
					UserID:    userID,
					Error:     reason,
				})
			},
		},
	)

	bridge.snapshots = snapshot.NewManager(
		b.redis, cfg.Snapshot.RedisPrefix, cfg.Snapshot.Retention,
		registry, records, tokens,
	)

	if _, err := registry.Load(ctx); err != nil {
		bridge.Close()
		return nil, bridge.storeFault(err)
	}

	return bridge, nil
}
