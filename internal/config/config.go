package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		TelegramAPIToken string  `env:"TOKEN"`
		ChatID           int64   `env:"CHAT_ID"`
		AdminChatID      int64   `env:"ADMIN_CHAT_ID"`
		AdminIDs         []int64 `env:"ADMIN_IDS"`
		DefaultLanguage  string  `env:"LANG,default=en"`
		LogLevel         int     `env:"LOG_LEVEL,default=4"`
		DotPath          string  `env:"DOT_PATH,default=~/.modbot"`
		RestartOnUpdate  bool    `env:"RESTART_ON_UPDATE,default=false"`

		Storage       Storage
		Redis         Redis
		NATS          NATS
		LLM           LLM
		Antispam      Antispam
		Trust         Trust
		Escalation    Escalation
		Observability Observability
	}

	Storage struct {
		File             string        `env:"DB_FILE,default=moderation.db"`
		CacheSize        int           `env:"CACHE_SIZE,default=4096"`
		CacheTTL         time.Duration `env:"CACHE_TTL,default=30m"`
		HistoryCapacity  int           `env:"HISTORY_CAPACITY,default=20"`
		InactivityPeriod time.Duration `env:"INACTIVITY_PERIOD,default=24h"`
		CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL,default=1h"`
	}

	Redis struct {
		URL       string `env:"REDIS_URL"`
		KeyPrefix string `env:"REDIS_KEY_PREFIX,default=modbot:ban:"`
	}

	NATS struct {
		URL             string `env:"NATS_URL"`
		CheckSubject    string `env:"NATS_CHECK_SUBJECT,default=moderation.check"`
		DecisionSubject string `env:"NATS_DECISION_SUBJECT,default=moderation.decision"`
	}

	LLM struct {
		Enabled             bool          `env:"LLM_ENABLED,default=true"`
		APIKey              string        `env:"LLM_API_KEY"`
		Model               string        `env:"LLM_API_MODEL,default=gpt-4o-mini"`
		BaseURL             string        `env:"LLM_API_URL,default=https://api.openai.com/v1"`
		Type                string        `env:"LLM_API_TYPE,default=openai"`
		ConfidenceThreshold float64       `env:"LLM_CONFIDENCE_THRESHOLD,default=0.7"`
		Timeout             time.Duration `env:"LLM_TIMEOUT,default=10s"`
		Rules               string        `env:"LLM_RULES"`
	}

	Antispam struct {
		Enabled             bool          `env:"ANTISPAM_ENABLED,default=true"`
		FloodLimit          int           `env:"ANTISPAM_FLOOD_LIMIT,default=5"`
		FloodWindow         time.Duration `env:"ANTISPAM_FLOOD_WINDOW,default=60s"`
		DupWindow           time.Duration `env:"ANTISPAM_DUPLICATE_WINDOW,default=300s"`
		SimilarityThreshold float64       `env:"ANTISPAM_SIMILARITY_THRESHOLD,default=0.8"`
		ShortLen            int           `env:"ANTISPAM_SHORT_LENGTH,default=10"`
		ShortLimit          int           `env:"ANTISPAM_SHORT_LIMIT,default=3"`
		ShortWindow         time.Duration `env:"ANTISPAM_SHORT_WINDOW,default=120s"`
		Phrases             []string      `env:"ANTISPAM_PHRASES"`
		BannedWordsFile     string        `env:"BANNED_WORDS_FILE"`
	}

	Trust struct {
		Enabled              bool     `env:"TRUST_SYSTEM_ENABLED,default=true"`
		DaysThreshold        int      `env:"TRUST_DAYS_THRESHOLD,default=3"`
		MessagesThreshold    int      `env:"TRUST_MESSAGES_THRESHOLD,default=10"`
		LinkDetectionEnabled bool     `env:"LINK_DETECTION_ENABLED,default=true"`
		TrustedDomains       []string `env:"TRUSTED_DOMAINS,default=t.me,youtube.com,youtu.be"`
	}

	Escalation struct {
		WarningThreshold      int           `env:"WARNING_THRESHOLD,default=3"`
		BanDuration           time.Duration `env:"BAN_DURATION,default=60m"`
		LinkEscalationEnabled bool          `env:"BAN_ON_REPEATED_LINK_VIOLATION,default=true"`
		AutoDeleteBannedWords bool          `env:"AUTO_DELETE_BANNED_WORDS,default=true"`
		AutoBanOnBannedWords  bool          `env:"AUTO_BAN_ON_BANNED_WORDS,default=true"`
		SweepInterval         time.Duration `env:"BAN_SWEEP_INTERVAL,default=5m"`
	}

	Observability struct {
		MetricsAddr string `env:"METRICS_ADDR,default=:2112"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg, err := Process(context.Background(), envconfig.OsLookuper())
		if err != nil {
			globalErr = err
			return
		}
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

// Process reads the configuration from an arbitrary lookuper, so tests can
// feed a map instead of the process environment.
func Process(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	envcfg := envconfig.Config{
		Lookuper: envconfig.PrefixLookuper("MB_", lookuper),
		Target:   cfg,
	}
	if err := envconfig.ProcessWith(ctx, &envcfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	dotPath, err := homedir.Expand(cfg.DotPath)
	if err != nil {
		return nil, fmt.Errorf("expand dot path: %w", err)
	}
	cfg.DotPath = dotPath
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Antispam.SimilarityThreshold < 0 || c.Antispam.SimilarityThreshold > 1:
		return fmt.Errorf("similarity threshold out of range: %v", c.Antispam.SimilarityThreshold)
	case c.LLM.ConfidenceThreshold < 0 || c.LLM.ConfidenceThreshold > 1:
		return fmt.Errorf("confidence threshold out of range: %v", c.LLM.ConfidenceThreshold)
	case c.Escalation.WarningThreshold < 1:
		return fmt.Errorf("warning threshold must be positive: %d", c.Escalation.WarningThreshold)
	case c.Storage.HistoryCapacity < 1:
		return fmt.Errorf("history capacity must be positive: %d", c.Storage.HistoryCapacity)
	}
	return nil
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}
