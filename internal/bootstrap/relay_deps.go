// Package bootstrap wires configuration, storage, services and
// transport into a runnable application.
package bootstrap

import (
	"context"
	"time"

	"relay_server/adapter/in/worker"
	"relay_server/adapter/out/imapmail"
	"relay_server/adapter/out/persistence"
	"relay_server/adapter/out/rulecache"
	"relay_server/adapter/out/smtpmail"
	"relay_server/config"
	"relay_server/core/port/out"
	"relay_server/core/service/auth"
	"relay_server/core/service/command"
	"relay_server/core/service/detect"
	"relay_server/core/service/learning"
	"relay_server/core/service/workflow"
	"relay_server/infra/database"
	"relay_server/pkg/cache"
	"relay_server/pkg/crypto"
	"relay_server/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

type Dependencies struct {
	Config *config.Config
	DB     *pgxpool.Pool
	SQLDB  *sqlx.DB
	Redis  *redis.Client

	// Repositories
	EmailRepo     *persistence.EmailAdapter
	RuleRepo      *persistence.RuleAdapter
	CategoryRepo  *persistence.CategoryAdapter
	PrefRepo      *persistence.PreferenceAdapter
	CandidateRepo *persistence.CandidateAdapter
	RunRepo       *persistence.RunAdapter

	// Adapters
	RuleSource *rulecache.CachedRuleSource
	MailSource *imapmail.Source
	MailSink   *smtpmail.Sink
	Cipher     *crypto.Encryptor
	Signer     *crypto.ActionSigner

	// Services
	OAuthService   *auth.OAuthService
	Detector       *detect.Detector
	Categorizer    *detect.Categorizer
	CommandService *command.Service
	Learner        *learning.Service
	Workflow       *workflow.Service

	// Processing
	Processor *worker.Processor
	Scheduler *worker.Scheduler
}

// NewDependencies builds the full dependency graph. The returned cleanup
// closes every connection it opened, in reverse order.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Database (pgxpool)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := database.EnsureSchema(ctx, db); err != nil {
		cleanup()
		return nil, nil, err
	}

	// Database (sqlx for the row adapters)
	sqlDB, err := database.NewSQLX(cfg.DatabaseURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { _ = sqlDB.Close() })

	// Redis is optional: without it rule reads go straight to Postgres.
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, rule caching disabled")
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { _ = redisClient.Close() })
		}
	}

	// Repositories
	deps.EmailRepo = persistence.NewEmailAdapter(sqlDB)
	deps.RuleRepo = persistence.NewRuleAdapter(sqlDB)
	deps.CategoryRepo = persistence.NewCategoryAdapter(sqlDB)
	deps.PrefRepo = persistence.NewPreferenceAdapter(sqlDB)
	deps.CandidateRepo = persistence.NewCandidateAdapter(sqlDB)
	deps.RunRepo = persistence.NewRunAdapter(sqlDB)

	// Content encryption
	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewEncryptor([]byte(cfg.EncryptionKey))
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.Cipher = enc
	} else {
		logger.Warn("ENCRYPTION_KEY not set, email content will not be stored")
	}

	// Quick action link signing
	if cfg.SecretKey != "" {
		deps.Signer = crypto.NewActionSigner(cfg.SecretKey)
	}

	// Cached rule source
	var redisCache *cache.RedisCache
	if deps.Redis != nil {
		redisCache = cache.NewRedisCache(deps.Redis)
	}
	deps.RuleSource = rulecache.NewCachedRuleSource(deps.RuleRepo, deps.PrefRepo, deps.CategoryRepo, redisCache)

	// A nil *Encryptor must stay a nil interface for the services' nil
	// checks to work.
	var cipher out.ContentCipher
	if deps.Cipher != nil {
		cipher = deps.Cipher
	}

	// Mail transport
	deps.OAuthService = auth.NewOAuthService(cfg.GoogleClientID, cfg.GoogleClientSecret, cipher)
	deps.MailSource = imapmail.NewSource(deps.OAuthService, cfg.BatchLimit)
	deps.MailSink = smtpmail.NewSink(smtpmail.Config{
		SenderEmail:    cfg.SenderEmail,
		SenderPassword: cfg.SenderPassword,
		Server:         cfg.SMTPServer,
		Port:           cfg.SMTPPort,
		AppURL:         cfg.AppURL,
	}, deps.Signer)

	// Detection
	selfAddresses := make([]string, 0, len(cfg.Accounts)+1)
	for _, account := range cfg.Accounts {
		selfAddresses = append(selfAddresses, account.Email)
	}
	if cfg.SenderEmail != "" {
		selfAddresses = append(selfAddresses, cfg.SenderEmail)
	}
	deps.Detector = detect.NewDetector(deps.RuleSource, selfAddresses)
	deps.Categorizer = detect.NewCategorizer(deps.RuleSource)

	// Command replies and learning
	deps.CommandService = command.NewService(deps.PrefRepo, cfg.TargetEmail)
	if cfg.LearningEnabled {
		deps.Learner = learning.NewService(
			deps.RuleRepo, deps.CandidateRepo, deps.EmailRepo,
			deps.MailSource, deps.Detector, cfg.Accounts)
	}

	// Manual status toggles
	deps.Workflow = workflow.NewService(
		deps.EmailRepo, deps.RuleRepo, deps.MailSource, deps.MailSink,
		cipher, cfg.Accounts, cfg.TargetEmail)

	// Scheduled processing
	deps.Processor = worker.NewProcessor(
		deps.EmailRepo, deps.RunRepo, deps.MailSource, deps.MailSink,
		cipher, deps.Detector, deps.Categorizer, deps.CommandService,
		deps.Learner, worker.ProcessorConfig{
			Accounts:     cfg.Accounts,
			TargetEmail:  cfg.TargetEmail,
			LookbackDays: cfg.LookbackDays,
			PollInterval: cfg.PollInterval,
		})
	deps.Scheduler = worker.NewScheduler(deps.Processor, cfg.PollInterval)

	return deps, cleanup, nil
}
