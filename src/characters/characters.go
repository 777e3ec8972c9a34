package characters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opencompanion/companion/src/assets"
	"github.com/opencompanion/companion/src/charcard"
	"github.com/opencompanion/companion/src/config"
	"github.com/opencompanion/companion/src/db"
	"github.com/opencompanion/companion/src/imaging"
	"github.com/opencompanion/companion/src/jobs"
	"github.com/opencompanion/companion/src/logging"
	"github.com/opencompanion/companion/src/models"
	"github.com/opencompanion/companion/src/oops"
	"github.com/opencompanion/companion/src/perf"
	"github.com/opencompanion/companion/src/utils"
)

const placeholderSize = 512

type CreateInput struct {
	// Stored exactly as given. Must parse as a V1 or V2 card.
	Definition json.RawMessage
	Source     models.CharacterSource

	AvatarAssetID *uuid.UUID
	CardAssetID   *uuid.UUID
}

func Create(ctx context.Context, dbConn db.ConnOrTx, in CreateInput) (*models.Character, error) {
	char, err := charcard.ParseCharacter(in.Definition)
	if err != nil {
		return nil, err
	}
	if err := char.Validate(); err != nil {
		return nil, err
	}

	perf := perf.ExtractPerf(ctx)
	perf.StartBlock("SQL", "Insert character")
	defer perf.EndBlock()

	created, err := db.QueryOne[models.Character](ctx, dbConn,
		`
		INSERT INTO character (id, name, tagline, definition, source, avatar_asset_id, card_asset_id)
		VALUES                ($1, $2,   $3,      $4,         $5,     $6,              $7)
		RETURNING $columns
		`,
		uuid.New(),
		strings.TrimSpace(char.Name),
		char.Tagline,
		string(in.Definition),
		in.Source,
		in.AvatarAssetID,
		in.CardAssetID,
	)
	if err != nil {
		return nil, oops.New(err, "failed to insert character")
	}
	return created, nil
}

// Returns db.NotFound if there is no such character.
func Get(ctx context.Context, dbConn db.ConnOrTx, id uuid.UUID) (*models.Character, error) {
	char, err := db.QueryOne[models.Character](ctx, dbConn,
		`
		SELECT $columns
		FROM character
		WHERE id = $1
		`,
		id,
	)
	if err != nil {
		if errors.Is(err, db.NotFound) {
			return nil, err
		}
		return nil, oops.New(err, "failed to fetch character")
	}
	return char, nil
}

// Newest first.
func List(ctx context.Context, dbConn db.ConnOrTx, limit, offset int) ([]*models.Character, error) {
	perf := perf.ExtractPerf(ctx)
	perf.StartBlock("SQL", "List characters")
	defer perf.EndBlock()

	chars, err := db.Query[models.Character](ctx, dbConn,
		`
		SELECT $columns
		FROM character
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
		`,
		limit,
		offset,
	)
	if err != nil {
		return nil, oops.New(err, "failed to list characters")
	}
	return chars, nil
}

func SetCardAsset(ctx context.Context, dbConn db.ConnOrTx, id, assetID uuid.UUID) error {
	tag, err := dbConn.Exec(ctx,
		`
		UPDATE character
		SET card_asset_id = $2, updated_at = $3
		WHERE id = $1
		`,
		id,
		assetID,
		time.Now(),
	)
	if err != nil {
		return oops.New(err, "failed to set card asset")
	}
	if tag.RowsAffected() == 0 {
		return db.NotFound
	}
	return nil
}

// Characters that have never had a card PNG built, oldest first.
func ListMissingCards(ctx context.Context, dbConn db.ConnOrTx, limit int) ([]*models.Character, error) {
	chars, err := db.Query[models.Character](ctx, dbConn,
		`
		SELECT $columns
		FROM character
		WHERE card_asset_id IS NULL
		ORDER BY created_at
		LIMIT $1
		`,
		limit,
	)
	if err != nil {
		return nil, oops.New(err, "failed to list characters missing cards")
	}
	return chars, nil
}

/*
Creates a character from an uploaded card. The definition is stored verbatim, and
the uploaded PNG becomes both the avatar and the card, so downloading it again
gives back the same bytes.

Codec errors are returned as they are so callers can tell a bad upload from a
server problem.
*/
func ImportCard(ctx context.Context, dbConn db.ConnOrTx, codec *charcard.Codec, filename string, card []byte) (*models.Character, error) {
	perf := perf.ExtractPerf(ctx)

	perf.StartBlock("CARD", "Decode card")
	raw, err := codec.Decode(card)
	perf.EndBlock()
	if err != nil {
		return nil, err
	}

	char, err := charcard.ParseCharacter(raw)
	if err != nil {
		return nil, err
	}
	if err := char.Validate(); err != nil {
		return nil, err
	}

	width, height, err := imaging.Dimensions(card)
	if err != nil {
		return nil, err
	}

	tx, err := dbConn.Begin(ctx)
	if err != nil {
		return nil, oops.New(err, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	asset, err := assets.Insert(ctx, tx, assets.CreateInput{
		Content:     card,
		Filename:    utils.OrDefault(filename, cardFilename(char.Name)),
		ContentType: "image/png",
		Width:       width,
		Height:      height,
	})
	if err != nil {
		return nil, err
	}

	created, err := Create(ctx, tx, CreateInput{
		Definition:    raw,
		Source:        models.CharacterSourceImport,
		AvatarAssetID: &asset.ID,
		CardAssetID:   &asset.ID,
	})
	if err != nil {
		return nil, err
	}

	// Last, so that a failed insert never leaves an object in the bucket.
	err = perf.Measure("S3", "Upload card", func() error {
		return assets.Put(ctx, asset, card)
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, oops.New(err, "failed to commit imported character")
	}

	logging.ExtractLogger(ctx).Info().
		Str("character", created.ID.String()).
		Str("name", created.Name).
		Msg("Imported character card")

	return created, nil
}

// Builds a card PNG for a stored character from its avatar, or a placeholder if
// it has none.
func ExportCard(ctx context.Context, dbConn db.ConnOrTx, char *models.Character) ([]byte, error) {
	var avatar []byte
	if char.AvatarAssetID != nil {
		asset, err := assets.Get(ctx, dbConn, *char.AvatarAssetID)
		if err != nil {
			return nil, oops.New(err, "failed to look up avatar for character %s", char.ID)
		}

		err = perf.ExtractPerf(ctx).Measure("S3", "Fetch avatar", func() (err error) {
			avatar, err = assets.Fetch(ctx, asset.S3Key)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	return BuildCard(avatar, char.Name, char.Definition, config.Config.Cards.AvatarMaxDim)
}

/*
Attaches a definition to an avatar image. A nil avatar gets a placeholder picked
from the character's name. The avatar is normalized to a PNG no bigger than maxDim
first; PNGs that already fit keep their bytes, so an existing card is simply
re-stamped with the new definition.
*/
func BuildCard(avatar []byte, name string, definition json.RawMessage, maxDim int) ([]byte, error) {
	if avatar == nil {
		avatar = imaging.Placeholder(placeholderSize, imaging.PlaceholderColor(name))
	}

	base, err := imaging.NormalizeAvatar(avatar, maxDim)
	if err != nil {
		return nil, err
	}

	card, err := charcard.Encode(base, definition)
	if err != nil {
		return nil, err
	}
	return card, nil
}

func cardFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "character"
	}
	return fmt.Sprintf("%s.png", name)
}

// Filename offered when a card is downloaded.
func CardFilename(char *models.Character) string {
	return assets.SanitizeFilename(cardFilename(char.Name))
}

const backfillBatchSize = 20

// Periodically builds and uploads cards for characters that don't have one yet,
// such as characters created through the API or seeded demo data.
func BackgroundCardBackfill(conn *pgxpool.Pool) *jobs.Job {
	interval := time.Duration(config.Config.Cards.BackfillIntervalSeconds) * time.Second
	return jobs.Every("card backfill", time.Second, interval, func(ctx context.Context) error {
		n, err := BackfillCards(ctx, conn, backfillBatchSize)
		if n > 0 {
			logging.ExtractLogger(ctx).Info().Int("num cards", n).Msg("Built missing character cards")
		}
		return err
	})
}

// Builds cards for up to limit characters. Returns how many were built. A
// failure on one character is logged and does not stop the rest.
func BackfillCards(ctx context.Context, conn db.ConnOrTx, limit int) (int, error) {
	log := logging.ExtractLogger(ctx)

	chars, err := ListMissingCards(ctx, conn, limit)
	if err != nil {
		return 0, err
	}

	built := 0
	for _, char := range chars {
		if ctx.Err() != nil {
			break
		}

		err := buildStoredCard(ctx, conn, char)
		if err != nil {
			log.Error().Err(err).Str("character", char.ID.String()).Msg("Failed to build card")
			continue
		}
		built++
	}

	return built, nil
}

// Exports a card for one character and records it as the character's card. The
// asset row and the character update share a transaction, and the upload goes
// last.
func buildStoredCard(ctx context.Context, conn db.ConnOrTx, char *models.Character) error {
	card, err := ExportCard(ctx, conn, char)
	if err != nil {
		return err
	}
	width, height, err := imaging.Dimensions(card)
	if err != nil {
		return err
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return oops.New(err, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	asset, err := assets.Insert(ctx, tx, assets.CreateInput{
		Content:     card,
		Filename:    CardFilename(char),
		ContentType: "image/png",
		Width:       width,
		Height:      height,
	})
	if err != nil {
		return err
	}
	if err := SetCardAsset(ctx, tx, char.ID, asset.ID); err != nil {
		return err
	}
	if err := assets.Put(ctx, asset, card); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.New(err, "failed to commit card for character %s", char.ID)
	}
	return nil
}

func Count(ctx context.Context, dbConn db.ConnOrTx) (int, error) {
	n, err := db.QueryOneScalar[int](ctx, dbConn, `SELECT COUNT(*) FROM character`)
	if err != nil {
		return 0, oops.New(err, "failed to count characters")
	}
	return n, nil
}

// The card PNG for a character: the stored card if one has been built, otherwise
// a freshly exported one.
func CardPNG(ctx context.Context, dbConn db.ConnOrTx, char *models.Character) ([]byte, error) {
	if char.CardAssetID == nil {
		return ExportCard(ctx, dbConn, char)
	}

	asset, err := assets.Get(ctx, dbConn, *char.CardAssetID)
	if err != nil {
		return nil, oops.New(err, "failed to look up card for character %s", char.ID)
	}
	return assets.Fetch(ctx, asset.S3Key)
}
