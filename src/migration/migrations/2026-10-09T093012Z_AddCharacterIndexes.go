package migrations

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opencompanion/companion/src/migration/types"
)

func init() {
	registerMigration(AddCharacterIndexes{})
}

type AddCharacterIndexes struct{}

func (m AddCharacterIndexes) Version() types.MigrationVersion {
	return types.MigrationVersion(time.Date(2026, 10, 9, 9, 30, 12, 0, time.UTC))
}

func (m AddCharacterIndexes) Name() string {
	return "AddCharacterIndexes"
}

func (m AddCharacterIndexes) Description() string {
	return "Indexes for the character list and the card backfill"
}

func (m AddCharacterIndexes) Up(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx,
		`
		CREATE INDEX character_created_at ON character (created_at DESC, id);
		CREATE INDEX character_missing_card ON character (created_at) WHERE card_asset_id IS NULL;
		`,
	)
	return err
}

func (m AddCharacterIndexes) Down(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx,
		`
		DROP INDEX character_created_at;
		DROP INDEX character_missing_card;
		`,
	)
	return err
}
