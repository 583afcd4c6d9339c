package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// QueueTunables controls the job queue and worker pool.
type QueueTunables struct {
	Concurrency        int           `mapstructure:"concurrency"`
	PollInterval       time.Duration `mapstructure:"pollInterval"`
	LeaseDuration      time.Duration `mapstructure:"leaseDuration"`
	SweepInterval      time.Duration `mapstructure:"sweepInterval"`
	MaxAttempts        int           `mapstructure:"maxAttempts"`
	BackoffBase        time.Duration `mapstructure:"backoffBase"`
	BackoffCap         time.Duration `mapstructure:"backoffCap"`
	JobTimeout         time.Duration `mapstructure:"jobTimeout"`
	CompletedRetention int           `mapstructure:"completedRetention"`
	FailedRetention    int           `mapstructure:"failedRetention"`
}

// BreakerTunables configures one circuit breaker instance.
type BreakerTunables struct {
	FailureThreshold int           `mapstructure:"failureThreshold"`
	ResetTimeout     time.Duration `mapstructure:"resetTimeout"`
}

// ShutdownTunables bounds the drain sequence.
type ShutdownTunables struct {
	CallbackTimeout time.Duration `mapstructure:"callbackTimeout"`
	GlobalTimeout   time.Duration `mapstructure:"globalTimeout"`
}

// Tunables are operational knobs loaded from an optional hookrelay.yml,
// falling back to defaults. Secrets never live here.
type Tunables struct {
	Queue    QueueTunables `mapstructure:"queue"`
	Breakers struct {
		Gateway  BreakerTunables `mapstructure:"gateway"`
		Database BreakerTunables `mapstructure:"database"`
		Redis    BreakerTunables `mapstructure:"redis"`
	} `mapstructure:"breakers"`
	Shutdown ShutdownTunables `mapstructure:"shutdown"`
}

func DefaultTunables() Tunables {
	t := Tunables{
		Queue: QueueTunables{
			Concurrency:        5,
			PollInterval:       250 * time.Millisecond,
			LeaseDuration:      60 * time.Second,
			SweepInterval:      30 * time.Second,
			MaxAttempts:        3,
			BackoffBase:        2 * time.Second,
			BackoffCap:         5 * time.Minute,
			JobTimeout:         30 * time.Second,
			CompletedRetention: 100,
			FailedRetention:    500,
		},
		Shutdown: ShutdownTunables{
			CallbackTimeout: 10 * time.Second,
			GlobalTimeout:   45 * time.Second,
		},
	}
	// The gateway is the least critical dependency for the hot path, so it
	// trips earliest; the database breaker tolerates the most before opening.
	t.Breakers.Gateway = BreakerTunables{FailureThreshold: 3, ResetTimeout: 30 * time.Second}
	t.Breakers.Database = BreakerTunables{FailureThreshold: 10, ResetTimeout: 15 * time.Second}
	t.Breakers.Redis = BreakerTunables{FailureThreshold: 5, ResetTimeout: 10 * time.Second}
	return t
}

// LoadTunables reads hookrelay.yml from the usual config paths, merging file
// values over defaults.
func LoadTunables() (Tunables, error) {
	v := viper.New()

	v.SetConfigName("hookrelay")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/hookrelay/config")
	v.AddConfigPath("/etc/hookrelay")
	v.AddConfigPath(".")

	v.SetEnvPrefix("HOOKRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	out := DefaultTunables()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Tunables{}, err
		}
		return out, nil
	}
	if err := v.Unmarshal(&out); err != nil {
		return Tunables{}, err
	}
	return out.normalized(), nil
}

func (t Tunables) normalized() Tunables {
	d := DefaultTunables()
	if t.Queue.Concurrency <= 0 {
		t.Queue.Concurrency = d.Queue.Concurrency
	}
	if t.Queue.MaxAttempts <= 0 {
		t.Queue.MaxAttempts = d.Queue.MaxAttempts
	}
	if t.Queue.PollInterval <= 0 {
		t.Queue.PollInterval = d.Queue.PollInterval
	}
	if t.Queue.LeaseDuration <= 0 {
		t.Queue.LeaseDuration = d.Queue.LeaseDuration
	}
	if t.Queue.SweepInterval <= 0 {
		t.Queue.SweepInterval = d.Queue.SweepInterval
	}
	if t.Queue.BackoffBase <= 0 {
		t.Queue.BackoffBase = d.Queue.BackoffBase
	}
	if t.Queue.BackoffCap <= 0 {
		t.Queue.BackoffCap = d.Queue.BackoffCap
	}
	if t.Queue.JobTimeout <= 0 {
		t.Queue.JobTimeout = d.Queue.JobTimeout
	}
	if t.Queue.CompletedRetention <= 0 {
		t.Queue.CompletedRetention = d.Queue.CompletedRetention
	}
	if t.Queue.FailedRetention <= 0 {
		t.Queue.FailedRetention = d.Queue.FailedRetention
	}
	if t.Breakers.Gateway.FailureThreshold <= 0 {
		t.Breakers.Gateway = d.Breakers.Gateway
	}
	if t.Breakers.Database.FailureThreshold <= 0 {
		t.Breakers.Database = d.Breakers.Database
	}
	if t.Breakers.Redis.FailureThreshold <= 0 {
		t.Breakers.Redis = d.Breakers.Redis
	}
	if t.Shutdown.CallbackTimeout <= 0 {
		t.Shutdown.CallbackTimeout = d.Shutdown.CallbackTimeout
	}
	if t.Shutdown.GlobalTimeout <= 0 {
		t.Shutdown.GlobalTimeout = d.Shutdown.GlobalTimeout
	}
	return t
}
