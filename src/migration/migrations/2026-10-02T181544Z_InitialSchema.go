package migrations

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opencompanion/companion/src/migration/types"
)

func init() {
	registerMigration(InitialSchema{})
}

type InitialSchema struct{}

func (m InitialSchema) Version() types.MigrationVersion {
	return types.MigrationVersion(time.Date(2026, 10, 2, 18, 15, 44, 0, time.UTC))
}

func (m InitialSchema) Name() string {
	return "InitialSchema"
}

func (m InitialSchema) Description() string {
	return "Creates the asset and character tables"
}

func (m InitialSchema) Up(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx,
		`
		CREATE TABLE asset (
			id UUID PRIMARY KEY,
			s3_key VARCHAR(2000) NOT NULL UNIQUE,
			filename VARCHAR(1000) NOT NULL,
			size INT NOT NULL,
			mime_type VARCHAR(255) NOT NULL,
			sha1sum VARCHAR(40) NOT NULL,
			width INT NOT NULL DEFAULT 0,
			height INT NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		-- definition is JSON, not JSONB, so that the text we were given is the
		-- text we hand back.
		CREATE TABLE character (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			tagline VARCHAR(1000) NOT NULL DEFAULT '',
			definition JSON NOT NULL,
			source INT NOT NULL,
			avatar_asset_id UUID REFERENCES asset (id) ON DELETE SET NULL,
			card_asset_id UUID REFERENCES asset (id) ON DELETE SET NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);
		`,
	)
	return err
}

func (m InitialSchema) Down(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx,
		`
		DROP TABLE character;
		DROP TABLE asset;
		`,
	)
	return err
}
