package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		TelegramAPIToken string  `env:"TOKEN,required"`
		AdminIDs         []int64 `env:"ADMIN_IDS,required"`
		LogLevel         int     `env:"LOG_LEVEL,default=4"`
		DotPath          string  `env:"DOT_PATH,default=~/.joinbot"`
		MetricsAddr      string  `env:"METRICS_ADDR,default=:2112"`

		Channel  Channel
		Settings Settings
	}

	Channel struct {
		ID              int64  `env:"CHANNEL_ID,required"`
		Title           string `env:"CHANNEL_TITLE,required"`
		AdapterChannel  string `env:"ADAPTER_CHANNEL"`
		AgeRequirement  int    `env:"AGE_REQUIREMENT,default=18"`
		ContentWarnings string `env:"CONTENT_WARNINGS"`
	}

	Settings struct {
		AutoApprove     bool          `env:"AUTO_APPROVE,default=true"`
		NotifyAdmins    bool          `env:"NOTIFY_ADMINS,default=true"`
		BanOnDecline    bool          `env:"BAN_ON_DECLINE,default=false"`
		RetentionDays   int           `env:"RETENTION_DAYS,default=30"`
		ConfirmTimeout  time.Duration `env:"CONFIRM_TIMEOUT,default=24h"`
		CleanupSchedule string        `env:"CLEANUP_SCHEDULE,default=@daily"`
		TemplatesPath   string        `env:"TEMPLATES_PATH"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg := &Config{}
		envcfg := envconfig.Config{
			Lookuper: envconfig.PrefixLookuper("JB_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		home, err := os.UserHomeDir()
		if err != nil {
			globalErr = fmt.Errorf("get user home directory: %w", err)
			return
		}
		cfg.DotPath = strings.Replace(cfg.DotPath, "~", home, 1)
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}

// IsAdmin reports whether the given user id is in the configured admin list.
func (c Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}
