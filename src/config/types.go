package config

import (
	"fmt"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

type Environment string

const (
	Live Environment = "live"
	Beta             = "beta"
	Dev              = "dev"
)

type CompanionConfig struct {
	Env      Environment
	Addr     string
	BaseUrl  string
	LogLevel zerolog.Level
	Postgres PostgresConfig
	S3       S3Config
	Cards    CardsConfig
}

type PostgresConfig struct {
	User     string
	Password string
	Hostname string
	Port     int
	DbName   string
	LogLevel tracelog.LogLevel
	MinConn  int32
	MaxConn  int32
}

func (info PostgresConfig) DSN() string {
	return fmt.Sprintf("user=%s password=%s host=%s port=%d dbname=%s", info.User, info.Password, info.Hostname, info.Port, info.DbName)
}

type S3Config struct {
	AccessKey string
	Secret    string
	Region    string
	Bucket    string
	Endpoint  string

	// Base URL that uploaded objects are publicly served from. If empty,
	// Endpoint/Bucket is used.
	PublicUrl string

	// In dev, a local S3 stand-in serves Endpoint from this folder. Empty
	// disables it.
	LocalDir string
}

type CardsConfig struct {
	// Largest character card or avatar upload accepted, in bytes.
	MaxUploadSize int64

	// Reject uploaded cards whose chunk checksums don't match.
	VerifyChecksums bool

	// Avatars are scaled down so neither side exceeds this before being
	// turned into a card.
	AvatarMaxDim int

	// How often the background job looks for characters without a card.
	BackfillIntervalSeconds int
}
