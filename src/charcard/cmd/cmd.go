package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/opencompanion/companion/src/ansicolor"
	"github.com/opencompanion/companion/src/charcard"
	"github.com/opencompanion/companion/src/config"
	"github.com/opencompanion/companion/src/imaging"
	"github.com/opencompanion/companion/src/logging"
	"github.com/opencompanion/companion/src/website"
	"github.com/spf13/cobra"
)

func init() {
	cardCommand := &cobra.Command{
		Use:   "card",
		Short: "Read and write character card PNGs",
	}
	website.WebsiteCommand.AddCommand(cardCommand)

	var verify bool
	decodeCommand := &cobra.Command{
		Use:   "decode <card.png>",
		Short: "Print the character definition embedded in a card",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data := mustReadFile(args[0])

			codec := charcard.New(charcard.Options{VerifyChecksums: verify})
			raw, err := codec.Decode(data)
			if err != nil {
				logging.Error().Err(err).Str("file", args[0]).Msg("Failed to decode card")
				os.Exit(1)
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, raw, "", "  "); err != nil {
				// Decode only returns valid JSON
				panic(err)
			}
			pretty.WriteByte('\n')
			os.Stdout.Write(pretty.Bytes())
		},
	}
	decodeCommand.Flags().BoolVar(&verify, "verify", false, "Fail if any chunk checksum is wrong")
	cardCommand.AddCommand(decodeCommand)

	var output string
	encodeCommand := &cobra.Command{
		Use:   "encode <image> <character.json>",
		Short: "Embed a character definition in an image",
		Long:  "Embed a character definition in an image. The image may be any format we can read; it is converted to PNG and scaled down if needed.",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			image := mustReadFile(args[0])
			definition := mustReadFile(args[1])

			base, err := imaging.NormalizeAvatar(image, config.Config.Cards.AvatarMaxDim)
			if err != nil {
				logging.Error().Err(err).Str("file", args[0]).Msg("Failed to read image")
				os.Exit(1)
			}

			card, err := charcard.Encode(base, json.RawMessage(definition))
			if err != nil {
				logging.Error().Err(err).Str("file", args[1]).Msg("Failed to encode card")
				os.Exit(1)
			}

			if err := os.WriteFile(output, card, 0644); err != nil {
				logging.Error().Err(err).Str("file", output).Msg("Failed to write card")
				os.Exit(1)
			}
			logging.Info().Str("file", output).Int("bytes", len(card)).Msg("Wrote card")
		},
	}
	encodeCommand.Flags().StringVarP(&output, "output", "o", "", "Where to write the card PNG")
	encodeCommand.MarkFlagRequired("output")
	cardCommand.AddCommand(encodeCommand)

	chunksCommand := &cobra.Command{
		Use:   "chunks <file.png>",
		Short: "List the chunks in a PNG, checking each one's CRC",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			chunks, err := charcard.ReadChunks(mustReadFile(args[0]))
			if err != nil {
				logging.Error().Err(err).Str("file", args[0]).Msg("Failed to read chunks")
				os.Exit(1)
			}
			for _, chunk := range chunks {
				fmt.Println(describeChunk(chunk))
			}
		},
	}
	cardCommand.AddCommand(chunksCommand)
}

func mustReadFile(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		logging.Error().Err(err).Str("file", path).Msg("Failed to read file")
		os.Exit(1)
	}
	return data
}

func describeChunk(chunk charcard.Chunk) string {
	crc := ansicolor.Green + "ok" + ansicolor.Reset
	if chunk.ComputeCRC() != chunk.CRC {
		crc = ansicolor.Red + "BAD" + ansicolor.Reset
	}

	line := fmt.Sprintf("%s%s%s %8d bytes  crc %08x %s", ansicolor.Bold, chunk.Type, ansicolor.Reset, len(chunk.Data), chunk.CRC, crc)
	if chunk.Type == charcard.TypeText {
		if keyword, text, ok := charcard.SplitTextChunk(chunk.Data); ok {
			line += fmt.Sprintf("  %skeyword=%q, %d bytes of text%s", ansicolor.Gray, keyword, len(text), ansicolor.Reset)
		}
	}
	return line
}
