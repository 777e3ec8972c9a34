package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"

	lorem "github.com/HandmadeNetwork/golorem"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/opencompanion/companion/src/characters"
	"github.com/opencompanion/companion/src/charcard"
	"github.com/opencompanion/companion/src/config"
	"github.com/opencompanion/companion/src/db"
	"github.com/opencompanion/companion/src/models"
)

// Seeds the database with demo characters for local dev. Their cards are built
// later by the card backfill job when the server runs.
func SampleSeed(count int) {
	Migrate(LatestVersion())

	ctx := context.Background()
	conn := db.NewConnWithConfig(config.PostgresConfig{
		LogLevel: tracelog.LogLevelWarn,
	})
	defer conn.Close(ctx)

	tx, err := conn.Begin(ctx)
	if err != nil {
		panic(err)
	}
	defer tx.Rollback(ctx)

	fmt.Printf("Creating %d demo characters...\n", count)
	for i := 0; i < count; i++ {
		seedCharacter(ctx, tx, randomCharacter(i))
	}

	err = tx.Commit(ctx)
	if err != nil {
		panic(err)
	}
}

func seedCharacter(ctx context.Context, conn db.ConnOrTx, char charcard.Character) *models.Character {
	definition, err := json.Marshal(char.CardV2())
	if err != nil {
		panic(err)
	}

	created, err := characters.Create(ctx, conn, characters.CreateInput{
		Definition: definition,
		Source:     models.CharacterSourceSeed,
	})
	if err != nil {
		panic(err)
	}
	return created
}

var firstNames = []string{"Ada", "Basil", "Cora", "Dmitri", "Esme", "Faris", "Greta", "Hiro", "Ines", "Jonah"}
var occupations = []string{"lighthouse keeper", "retired astronaut", "night-shift baker", "cartographer", "stage magician", "beekeeper"}

func randomCharacter(i int) charcard.Character {
	name := fmt.Sprintf("%s %s", firstNames[i%len(firstNames)], strings.Title(lorem.Word(4, 9)))
	occupation := occupations[rand.Intn(len(occupations))]

	return charcard.Character{
		Name:               name,
		Tagline:            fmt.Sprintf("A %s", occupation),
		Description:        fmt.Sprintf("%s is a %s. %s", name, occupation, lorem.Paragraph(1, 3)),
		Personality:        lorem.Sentence(6, 14),
		Scenario:           lorem.Sentence(8, 16),
		FirstMessage:       fmt.Sprintf("*%s looks up.* %s", name, lorem.Sentence(4, 10)),
		MessageExamples:    fmt.Sprintf("<START>\n{{user}}: %s\n{{char}}: %s", lorem.Sentence(3, 8), lorem.Sentence(5, 12)),
		AlternateGreetings: []string{lorem.Sentence(4, 10)},
		Tags:               []string{"demo", occupation},
		Creator:            "companion seed",
		CharacterVersion:   "1",
	}
}
