package types

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

type Migration interface {
	Version() MigrationVersion
	Name() string
	Description() string
	Up(ctx context.Context, tx pgx.Tx) error
	Down(ctx context.Context, tx pgx.Tx) error
}

// A migration is identified by the UTC time it was created, to the second.
type MigrationVersion time.Time

// Layout used in migration filenames, e.g. 2026-10-02T181544Z.
const fileStampLayout = "2006-01-02T150405Z"

/*
Accepts either an RFC 3339 time (2026-10-02T18:15:44Z) or the stamp at the
front of a migration's filename (2026-10-02T181544Z), so either can be pasted
into the migrate command.
*/
func ParseVersion(s string) (MigrationVersion, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return MigrationVersion(t.UTC()), nil
	}
	if t, err := time.Parse(fileStampLayout, s); err == nil {
		return MigrationVersion(t), nil
	}
	return MigrationVersion{}, fmt.Errorf("%q is not a migration version (want e.g. 2026-10-02T18:15:44Z)", s)
}

func (v MigrationVersion) String() string {
	return time.Time(v).UTC().Format(time.RFC3339)
}

func (v MigrationVersion) FileStamp() string {
	return time.Time(v).UTC().Format(fileStampLayout)
}

func (v MigrationVersion) Before(other MigrationVersion) bool {
	return time.Time(v).Before(time.Time(other))
}

func (v MigrationVersion) Equal(other MigrationVersion) bool {
	return time.Time(v).Equal(time.Time(other))
}

func (v MigrationVersion) IsZero() bool {
	return time.Time(v).IsZero()
}
