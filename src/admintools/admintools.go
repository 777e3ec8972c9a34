package admintools

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/opencompanion/companion/src/assets"
	"github.com/opencompanion/companion/src/characters"
	"github.com/opencompanion/companion/src/config"
	"github.com/opencompanion/companion/src/db"
	"github.com/opencompanion/companion/src/logging"
	"github.com/opencompanion/companion/src/utils"
	"github.com/opencompanion/companion/src/website"
	"github.com/spf13/cobra"
)

const maxBackfillLimit = 1000

func init() {
	adminCommand := &cobra.Command{
		Use:   "admin",
		Short: "Miscellaneous admin commands",
	}
	website.WebsiteCommand.AddCommand(adminCommand)

	var limit int
	backfillCommand := &cobra.Command{
		Use:   "backfillcards",
		Short: "Build card PNGs for characters that don't have one, without waiting for the server's background job",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			conn := db.NewConnWithConfig(config.PostgresConfig{
				LogLevel: tracelog.LogLevelWarn,
			})
			defer conn.Close(ctx)

			n, err := characters.BackfillCards(ctx, conn, utils.IntClamp(1, limit, maxBackfillLimit))
			if err != nil {
				panic(err)
			}
			fmt.Printf("Built %d cards\n", n)
		},
	}
	backfillCommand.Flags().IntVar(&limit, "limit", 100, "Maximum number of cards to build")
	adminCommand.AddCommand(backfillCommand)

	var output string
	exportCommand := &cobra.Command{
		Use:   "exportcard <character id>",
		Short: "Write a stored character's card PNG to a file",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 1 {
				fmt.Printf("You must provide a character id.\n\n")
				cmd.Usage()
				os.Exit(1)
			}

			id, err := uuid.Parse(args[0])
			if err != nil {
				fmt.Printf("'%s' is not a valid character id\n", args[0])
				os.Exit(1)
			}

			ctx := context.Background()
			conn := db.NewConn()
			defer conn.Close(ctx)

			char, err := characters.Get(ctx, conn, id)
			if err != nil {
				if errors.Is(err, db.NotFound) {
					fmt.Printf("Character %s not found\n", id)
					os.Exit(1)
				} else {
					panic(err)
				}
			}

			card, err := characters.CardPNG(ctx, conn, char)
			if err != nil {
				panic(err)
			}

			path := output
			if path == "" {
				path = characters.CardFilename(char)
			}
			err = os.WriteFile(path, card, 0644)
			if err != nil {
				panic(err)
			}

			ev := logging.Info().Str("character", char.Name).Str("file", path)
			if char.CardAssetID != nil {
				if asset, err := assets.Get(ctx, conn, *char.CardAssetID); err == nil {
					ev = ev.Str("public url", assets.URL(asset.S3Key))
				}
			}
			ev.Msg("Exported card")
		},
	}
	exportCommand.Flags().StringVarP(&output, "output", "o", "", "Where to write the card (defaults to the character's name)")
	adminCommand.AddCommand(exportCommand)
}
