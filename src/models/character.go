package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type CharacterSource int

const (
	CharacterSourceForm   CharacterSource = 1 // Created through the character form or API
	CharacterSourceImport CharacterSource = 2 // Imported from an uploaded card PNG
	CharacterSourceSeed   CharacterSource = 3 // Demo data
)

type Character struct {
	ID uuid.UUID `db:"id"`

	Name    string `db:"name"`
	Tagline string `db:"tagline"`

	// The full definition exactly as we received it, including fields we don't
	// model. This is what goes back into exported cards.
	Definition json.RawMessage `db:"definition"`
	Source     CharacterSource `db:"source"`

	AvatarAssetID *uuid.UUID `db:"avatar_asset_id"`
	CardAssetID   *uuid.UUID `db:"card_asset_id"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
