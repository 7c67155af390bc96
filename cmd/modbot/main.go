package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/modbot/internal/adapters"
	"github.com/iamwavecut/modbot/internal/adapters/llm"
	"github.com/iamwavecut/modbot/internal/adapters/llm/gemini"
	"github.com/iamwavecut/modbot/internal/adapters/llm/openai"
	"github.com/iamwavecut/modbot/internal/config"
	"github.com/iamwavecut/modbot/internal/db/cache"
	"github.com/iamwavecut/modbot/internal/db/redis"
	"github.com/iamwavecut/modbot/internal/db/sqlite"
	"github.com/iamwavecut/modbot/internal/i18n"
	"github.com/iamwavecut/modbot/internal/infra"
	"github.com/iamwavecut/modbot/internal/lifecycle"
	"github.com/iamwavecut/modbot/internal/moderation"
	"github.com/iamwavecut/modbot/internal/observability"
	"github.com/iamwavecut/modbot/internal/transport/natsbridge"
	"github.com/iamwavecut/modbot/internal/transport/telegram"
)

const (
	shutdownTimeout       = 30 * time.Second
	executableCheckPeriod = 5 * time.Second
)

func main() {
	log.SetFormatter(&config.MbFormatter{})
	log.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatalln("cant load config")
	}
	log.SetLevel(log.Level(cfg.LogLevel))
	i18n.SetDefaultLanguage(cfg.DefaultLanguage)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatalln("modbot stopped")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownTracing := observability.SetupTracing()
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.WithError(err).Warn("tracer shutdown")
		}
	}()

	dataDir, err := infra.EnsureDir(cfg.DotPath)
	if err != nil {
		return err
	}
	backend, err := sqlite.NewSQLiteClient(ctx, dataDir, cfg.Storage.File)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = backend.Close() }()
	store := cache.New(backend, cfg.Storage.CacheSize, cfg.Storage.CacheTTL)

	var mirror moderation.BanMirror
	if cfg.Redis.URL != "" {
		m, err := redis.NewBanMirror(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() { _ = m.Close() }()
		mirror = m
	}

	words, err := moderation.LoadWordFilter(cfg.Antispam.BannedWordsFile)
	if err != nil {
		return fmt.Errorf("load banned words: %w", err)
	}

	classifier, closeClassifier, err := newClassifier(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	defer closeClassifier()

	locks := moderation.NewUserLocks()
	clock := moderation.SystemClock()
	capacity := cfg.Storage.HistoryCapacity
	escalation := moderation.EscalationConfig{
		WarningThreshold:      cfg.Escalation.WarningThreshold,
		BanDuration:           cfg.Escalation.BanDuration,
		LinkEscalationEnabled: cfg.Escalation.LinkEscalationEnabled,
	}
	trust := moderation.TrustConfig{
		DaysThreshold:     cfg.Trust.DaysThreshold,
		MessagesThreshold: cfg.Trust.MessagesThreshold,
	}

	bans := moderation.NewBanService(store, capacity, locks, clock, mirror, moderation.BanServiceConfig{
		SweepInterval: cfg.Escalation.SweepInterval,
	})
	moderator := moderation.NewModerator(moderation.ModeratorConfig{
		HistoryCapacity:       capacity,
		Language:              cfg.DefaultLanguage,
		AntispamEnabled:       cfg.Antispam.Enabled,
		Spam:                  spamConfig(cfg.Antispam),
		TrustEnabled:          cfg.Trust.Enabled,
		LinkDetectionEnabled:  cfg.Trust.LinkDetectionEnabled,
		Trust:                 trust,
		Escalation:            escalation,
		AutoDeleteBannedWords: cfg.Escalation.AutoDeleteBannedWords,
		AutoBanOnBannedWords:  cfg.Escalation.AutoBanOnBannedWords,
		ClassifierTimeout:     cfg.LLM.Timeout,
		ConfidenceThreshold:   cfg.LLM.ConfidenceThreshold,
	}, moderation.ModeratorDeps{
		Store:      store,
		Locks:      locks,
		Clock:      clock,
		Bans:       bans,
		Links:      moderation.NewLinkDetector(cfg.Trust.TrustedDomains),
		Words:      words,
		Classifier: classifier,
	})
	appeals := moderation.NewAppealService(store, store, capacity, bans, locks, clock)
	maintenance := moderation.NewMaintenance(store, locks, clock, moderation.MaintenanceConfig{
		HistoryCapacity:  capacity,
		InactivityPeriod: cfg.Storage.InactivityPeriod,
		CleanupInterval:  cfg.Storage.CleanupInterval,
		Trust:            trust,
	})

	runtime := lifecycle.NewRuntime(
		lifecycle.Named("metrics", observability.NewMetricsServer(cfg.Observability.MetricsAddr)),
		lifecycle.Named("ban_sweeper", bans),
		lifecycle.Named("maintenance", maintenance),
	)
	if cfg.NATS.URL != "" {
		runtime.Register(lifecycle.Named("nats", natsbridge.New(natsbridge.Config{
			URL:             cfg.NATS.URL,
			CheckSubject:    cfg.NATS.CheckSubject,
			DecisionSubject: cfg.NATS.DecisionSubject,
		}, moderator)))
	}
	if cfg.TelegramAPIToken != "" {
		botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
		if err != nil {
			return fmt.Errorf("init bot api: %w", err)
		}
		botAPI.Debug = log.Level(cfg.LogLevel) == log.TraceLevel
		runtime.Register(lifecycle.Named("telegram", telegram.NewTransport(botAPI, moderator, appeals, jobs{bans, maintenance}, telegram.Config{
			ChatID:           cfg.ChatID,
			AdminChatID:      cfg.AdminChatID,
			AdminIDs:         cfg.AdminIDs,
			Language:         cfg.DefaultLanguage,
			WarningThreshold: cfg.Escalation.WarningThreshold,
		})))
	}

	if err := runtime.Start(ctx); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"data_dir":   dataDir,
		"classifier": classifier != nil,
		"words":      words.Len(),
	}).Info("modbot started")

	var restart <-chan struct{}
	if cfg.RestartOnUpdate {
		restart = infra.WatchExecutable(ctx, executableCheckPeriod)
	}
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case <-restart:
		log.Warn("executable was replaced, shutting down for restart")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return runtime.Stop(stopCtx)
}

// jobs joins the admin jobs of the ban service and maintenance.
type jobs struct {
	*moderation.BanService
	*moderation.Maintenance
}

func spamConfig(c config.Antispam) moderation.SpamConfig {
	spam := moderation.DefaultSpamConfig()
	spam.FloodLimit = c.FloodLimit
	spam.FloodWindow = c.FloodWindow
	spam.DupWindow = c.DupWindow
	spam.SimilarityThreshold = c.SimilarityThreshold
	spam.ShortLen = c.ShortLen
	spam.ShortLimit = c.ShortLimit
	spam.ShortWindow = c.ShortWindow
	if len(c.Phrases) > 0 {
		spam.Phrases = c.Phrases
	}
	return spam
}

// newClassifier returns a nil classifier when the LLM is disabled or has no
// key, so the pipeline skips the stage.
func newClassifier(ctx context.Context, c config.LLM) (moderation.Classifier, func(), error) {
	noop := func() {}
	if !c.Enabled || c.APIKey == "" {
		return nil, noop, nil
	}

	var (
		model   adapters.LLM
		closeFn = noop
	)
	switch c.Type {
	case "gemini":
		g, err := gemini.NewGemini(ctx, c.APIKey, c.Model, log.WithField("object", "gemini"))
		if err != nil {
			return nil, noop, fmt.Errorf("init gemini: %w", err)
		}
		model = g.WithParameters(llm.ClassificationParameters())
		closeFn = func() { _ = g.Close() }
	case "openai", "":
		model = openai.NewOpenAI(c.APIKey, c.Model, c.BaseURL, log.WithField("object", "openai")).
			WithParameters(llm.ClassificationParameters())
	default:
		return nil, noop, fmt.Errorf("unknown llm type %q", c.Type)
	}
	return moderation.NewLLMClassifier(model, c.Rules), closeFn, nil
}
