package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defPort             = 3000
	defDatabaseDriver   = "sqlite"
	defDatabaseDSN      = "data.db"
	defPointsUnit       = 1000
	defReferralReward   = 5
	defGrantTTLMonths   = 12
	defInactivityMonths = 12
	defLockTimeout      = 5 * time.Second
	defLockBackend      = "memory"
	defLockTTL          = 10 * time.Second
	defSweepHour        = 3
	defTimezone         = "UTC"
	defExpirationPolicy = PolicyGrant
	defConflictRetries  = 3
	defLogLevel         = "info"
)

// Expiration policies understood by the sweeper.
const (
	PolicyGrant      = "grant"
	PolicyInactivity = "inactivity"
	PolicyBoth       = "both"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Loyalty    LoyaltyConfig
	Lock       LockConfig
	Expiration ExpirationConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port            int
	ConflictRetries int // retries of a loyalty call that hit lock contention
}

type DatabaseConfig struct {
	Driver string // sqlite | postgres
	DSN    string
}

type LoyaltyConfig struct {
	PointsUnit       int64 // currency units per point
	ReferralReward   int64
	GrantTTLMonths   int
	InactivityMonths int
}

type LockConfig struct {
	Backend   string // memory | redis
	Timeout   time.Duration
	TTL       time.Duration
	RedisAddr string
	RedisDB   int
}

type ExpirationConfig struct {
	Policy    string
	SweepHour int
	Timezone  string
}

type LogConfig struct {
	Level       string
	Development bool
}

// Load reads .env, config.yaml and LOYALTY_* environment variables, in increasing precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("loyalty")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	return fromViper(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", defPort)
	v.SetDefault("server.conflict_retries", defConflictRetries)
	v.SetDefault("database.driver", defDatabaseDriver)
	v.SetDefault("database.dsn", defDatabaseDSN)
	v.SetDefault("loyalty.points_unit", defPointsUnit)
	v.SetDefault("loyalty.referral_reward", defReferralReward)
	v.SetDefault("loyalty.grant_ttl_months", defGrantTTLMonths)
	v.SetDefault("loyalty.inactivity_months", defInactivityMonths)
	v.SetDefault("lock.backend", defLockBackend)
	v.SetDefault("lock.timeout", defLockTimeout)
	v.SetDefault("lock.ttl", defLockTTL)
	v.SetDefault("lock.redis_addr", "localhost:6379")
	v.SetDefault("lock.redis_db", 0)
	v.SetDefault("expiration.policy", defExpirationPolicy)
	v.SetDefault("expiration.sweep_hour", defSweepHour)
	v.SetDefault("expiration.timezone", defTimezone)
	v.SetDefault("log.level", defLogLevel)
	v.SetDefault("log.development", false)
}

func fromViper(v *viper.Viper) *Config {
	c := &Config{
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			ConflictRetries: v.GetInt("server.conflict_retries"),
		},
		Database: DatabaseConfig{
			Driver: v.GetString("database.driver"),
			DSN:    v.GetString("database.dsn"),
		},
		Loyalty: LoyaltyConfig{
			PointsUnit:       v.GetInt64("loyalty.points_unit"),
			ReferralReward:   v.GetInt64("loyalty.referral_reward"),
			GrantTTLMonths:   v.GetInt("loyalty.grant_ttl_months"),
			InactivityMonths: v.GetInt("loyalty.inactivity_months"),
		},
		Lock: LockConfig{
			Backend:   v.GetString("lock.backend"),
			Timeout:   v.GetDuration("lock.timeout"),
			TTL:       v.GetDuration("lock.ttl"),
			RedisAddr: v.GetString("lock.redis_addr"),
			RedisDB:   v.GetInt("lock.redis_db"),
		},
		Expiration: ExpirationConfig{
			Policy:    strings.ToLower(v.GetString("expiration.policy")),
			SweepHour: v.GetInt("expiration.sweep_hour"),
			Timezone:  v.GetString("expiration.timezone"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
	}
	c.Check()
	return c
}

// Check replaces out-of-range values with defaults.
func (c *Config) Check() {
	if c.Server.Port < 1 {
		c.Server.Port = defPort
	}
	if c.Server.ConflictRetries < 0 {
		c.Server.ConflictRetries = defConflictRetries
	}
	if c.Database.Driver == "" {
		c.Database.Driver = defDatabaseDriver
	}
	if c.Database.DSN == "" {
		c.Database.DSN = defDatabaseDSN
	}
	if c.Loyalty.PointsUnit < 1 {
		c.Loyalty.PointsUnit = defPointsUnit
	}
	if c.Loyalty.ReferralReward < 1 {
		c.Loyalty.ReferralReward = defReferralReward
	}
	if c.Loyalty.GrantTTLMonths < 1 {
		c.Loyalty.GrantTTLMonths = defGrantTTLMonths
	}
	if c.Loyalty.InactivityMonths < 1 {
		c.Loyalty.InactivityMonths = defInactivityMonths
	}
	if c.Lock.Backend == "" {
		c.Lock.Backend = defLockBackend
	}
	if c.Lock.Timeout <= 0 {
		c.Lock.Timeout = defLockTimeout
	}
	if c.Lock.TTL <= 0 {
		c.Lock.TTL = defLockTTL
	}
	switch c.Expiration.Policy {
	case PolicyGrant, PolicyInactivity, PolicyBoth:
	default:
		c.Expiration.Policy = defExpirationPolicy
	}
	if c.Expiration.SweepHour < 0 || c.Expiration.SweepHour > 23 {
		c.Expiration.SweepHour = defSweepHour
	}
	if c.Expiration.Timezone == "" {
		c.Expiration.Timezone = defTimezone
	}
	if c.Log.Level == "" {
		c.Log.Level = defLogLevel
	}
}
