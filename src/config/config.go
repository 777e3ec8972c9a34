package config

import (
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

var Config = CompanionConfig{
	Env:      Dev,
	Addr:     "localhost:9001",
	BaseUrl:  "http://localhost:9001",
	LogLevel: zerolog.TraceLevel,
	Postgres: PostgresConfig{
		User:     "companion",
		Password: "password",
		Hostname: "localhost",
		Port:     5432,
		DbName:   "companion",
		LogLevel: tracelog.LogLevelWarn,
		MinConn:  2,
		MaxConn:  16,
	},
	S3: S3Config{
		AccessKey: "dummy",
		Secret:    "dummy",
		Region:    "dummy",
		Bucket:    "companion-assets",
		Endpoint:  "http://localhost:9003",
		LocalDir:  "./tmp/s3",
	},
	Cards: CardsConfig{
		MaxUploadSize:           10 * 1024 * 1024,
		VerifyChecksums:         false,
		AvatarMaxDim:            1024,
		BackfillIntervalSeconds: 60,
	},
}

func init() {
	applyEnv(&Config, os.LookupEnv)
}

type lookupFunc func(key string) (string, bool)

// Overrides the defaults above with COMPANION_* environment variables.
func applyEnv(cfg *CompanionConfig, lookup lookupFunc) {
	str := func(key string, dest *string) {
		if v, ok := lookup("COMPANION_" + key); ok {
			*dest = v
		}
	}
	integer := func(key string, set func(n int64)) {
		if v, ok := lookup("COMPANION_" + key); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				set(n)
			}
		}
	}

	var env string
	str("ENV", &env)
	if env != "" {
		cfg.Env = Environment(env)
	}
	str("ADDR", &cfg.Addr)
	str("BASE_URL", &cfg.BaseUrl)
	if v, ok := lookup("COMPANION_LOG_LEVEL"); ok {
		if level, err := zerolog.ParseLevel(v); err == nil {
			cfg.LogLevel = level
		}
	}

	str("DB_USER", &cfg.Postgres.User)
	str("DB_PASSWORD", &cfg.Postgres.Password)
	str("DB_HOST", &cfg.Postgres.Hostname)
	integer("DB_PORT", func(n int64) { cfg.Postgres.Port = int(n) })
	str("DB_NAME", &cfg.Postgres.DbName)
	if v, ok := lookup("COMPANION_DB_LOG_LEVEL"); ok {
		if level, err := tracelog.LogLevelFromString(v); err == nil {
			cfg.Postgres.LogLevel = level
		}
	}

	str("S3_ACCESS_KEY", &cfg.S3.AccessKey)
	str("S3_SECRET", &cfg.S3.Secret)
	str("S3_REGION", &cfg.S3.Region)
	str("S3_BUCKET", &cfg.S3.Bucket)
	str("S3_ENDPOINT", &cfg.S3.Endpoint)
	str("S3_PUBLIC_URL", &cfg.S3.PublicUrl)
	str("S3_LOCAL_DIR", &cfg.S3.LocalDir)

	integer("CARD_MAX_UPLOAD", func(n int64) { cfg.Cards.MaxUploadSize = n })
	integer("AVATAR_MAX_DIM", func(n int64) { cfg.Cards.AvatarMaxDim = int(n) })
	integer("CARD_BACKFILL_INTERVAL", func(n int64) { cfg.Cards.BackfillIntervalSeconds = int(n) })
	if v, ok := lookup("COMPANION_CARD_VERIFY_CHECKSUMS"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Cards.VerifyChecksums = b
		}
	}
}
