package migration

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opencompanion/companion/src/db"
	"github.com/opencompanion/companion/src/migration/migrations"
	"github.com/opencompanion/companion/src/migration/types"
	"github.com/opencompanion/companion/src/website"
	"github.com/spf13/cobra"
)

var listMigrations bool

func init() {
	migrateCommand := &cobra.Command{
		Use:   "migrate [target migration id]",
		Short: "Run database migrations",
		Run: func(cmd *cobra.Command, args []string) {
			if listMigrations {
				ListMigrations()
				return
			}

			var targetVersion types.MigrationVersion
			if len(args) > 0 {
				var err error
				targetVersion, err = types.ParseVersion(args[0])
				if err != nil {
					fmt.Printf("ERROR: %v\n", err)
					os.Exit(1)
				}
			}
			Migrate(targetVersion)
		},
	}
	migrateCommand.Flags().BoolVar(&listMigrations, "list", false, "List available migrations")

	makeMigrationCommand := &cobra.Command{
		Use:   "makemigration <name> <description>...",
		Short: "Create a new database migration file",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 2 {
				fmt.Printf("You must provide a name and a description.\n\n")
				cmd.Usage()
				os.Exit(1)
			}

			name := args[0]
			description := strings.Join(args[1:], " ")

			MakeMigration(name, description)
		},
	}

	var seedCount int
	seedCommand := &cobra.Command{
		Use:   "seed",
		Short: "Migrates to the latest version and adds demo characters",
		Run: func(cmd *cobra.Command, args []string) {
			SampleSeed(seedCount)
		},
	}
	seedCommand.Flags().IntVarP(&seedCount, "count", "n", 10, "Number of demo characters to create")

	website.WebsiteCommand.AddCommand(migrateCommand)
	website.WebsiteCommand.AddCommand(makeMigrationCommand)
	website.WebsiteCommand.AddCommand(seedCommand)
}

func getSortedMigrationVersions() []types.MigrationVersion {
	var allVersions []types.MigrationVersion
	for migrationTime := range migrations.All {
		allVersions = append(allVersions, migrationTime)
	}
	sort.Slice(allVersions, func(i, j int) bool {
		return allVersions[i].Before(allVersions[j])
	})

	return allVersions
}

func LatestVersion() types.MigrationVersion {
	allVersions := getSortedMigrationVersions()
	return allVersions[len(allVersions)-1]
}

var errUnknownMigration = errors.New("unknown migration version")

/*
Works out which migrations to run to get from current to target. Forward plans
list the migrations to apply, oldest first; backward plans list the migrations to
roll back, newest first. A zero current version means nothing has been applied yet.
*/
func planMigrations(allVersions []types.MigrationVersion, current, target types.MigrationVersion) (steps []types.MigrationVersion, forward bool, err error) {
	currentIndex := -1
	targetIndex := -1
	for i, version := range allVersions {
		if current.Equal(version) {
			currentIndex = i
		}
		if target.Equal(version) {
			targetIndex = i
		}
	}

	if targetIndex < 0 {
		return nil, false, fmt.Errorf("%w: %v", errUnknownMigration, target)
	}
	if currentIndex < 0 && !current.IsZero() {
		return nil, false, fmt.Errorf("%w: database is at %v", errUnknownMigration, current)
	}

	if currentIndex < targetIndex {
		return allVersions[currentIndex+1 : targetIndex+1], true, nil
	}
	for i := currentIndex; i > targetIndex; i-- {
		steps = append(steps, allVersions[i])
	}
	return steps, false, nil
}

func getCurrentVersion(ctx context.Context, conn *pgx.Conn) (types.MigrationVersion, error) {
	var currentVersion time.Time
	row := conn.QueryRow(ctx, "SELECT version FROM companion_migration")
	err := row.Scan(&currentVersion)
	if err != nil {
		return types.MigrationVersion{}, err
	}
	currentVersion = currentVersion.UTC()

	return types.MigrationVersion(currentVersion), nil
}

func tryGetCurrentVersion(ctx context.Context) types.MigrationVersion {
	defer func() {
		recover()
	}()

	conn := db.NewConn()
	defer conn.Close(ctx)

	currentVersion, _ := getCurrentVersion(ctx, conn)

	return currentVersion
}

func ListMigrations() {
	ctx := context.Background()

	currentVersion := tryGetCurrentVersion(ctx)
	for _, version := range getSortedMigrationVersions() {
		migration := migrations.All[version]
		indicator := "  "
		if version.Equal(currentVersion) {
			indicator = "✔ "
		}
		fmt.Printf("%s%v (%s: %s)\n", indicator, version, migration.Name(), migration.Description())
	}
}

func Migrate(targetVersion types.MigrationVersion) {
	ctx := context.Background()

	conn := db.NewConn()
	defer conn.Close(ctx)

	// create migration table
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS companion_migration (
			version		TIMESTAMP WITH TIME ZONE
		)
	`)
	if err != nil {
		panic(fmt.Errorf("failed to create migration table: %w", err))
	}

	// ensure there is a row
	row := conn.QueryRow(ctx, "SELECT COUNT(*) FROM companion_migration")
	var numRows int
	err = row.Scan(&numRows)
	if err != nil {
		panic(err)
	}
	if numRows < 1 {
		_, err := conn.Exec(ctx, "INSERT INTO companion_migration (version) VALUES ($1)", time.Time{})
		if err != nil {
			panic(fmt.Errorf("failed to insert initial migration row: %w", err))
		}
	}

	currentVersion, err := getCurrentVersion(ctx, conn)
	if err != nil {
		panic(fmt.Errorf("failed to get current version: %w", err))
	}
	if currentVersion.IsZero() {
		fmt.Println("This is the first time you have run database migrations.")
	} else {
		fmt.Printf("Current version: %s\n", currentVersion.String())
	}

	allVersions := getSortedMigrationVersions()
	if targetVersion.IsZero() {
		targetVersion = allVersions[len(allVersions)-1]
	}

	steps, forward, err := planMigrations(allVersions, currentVersion, targetVersion)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return
	}
	if len(steps) == 0 {
		fmt.Println("Already migrated; nothing to do.")
		return
	}

	for _, version := range steps {
		migration := migrations.All[version]

		// Rolling back a migration leaves the database at the one before it.
		newVersion := version
		run := migration.Up
		if forward {
			fmt.Printf("Applying migration %v (%v)\n", version, migration.Name())
		} else {
			fmt.Printf("Rolling back migration %v\n", version)
			newVersion = previousVersion(allVersions, version)
			run = migration.Down
		}

		if err := applyMigration(ctx, conn, newVersion, run); err != nil {
			fmt.Printf("MIGRATION FAILED for migration %v.\n", version)
			fmt.Printf("Error: %v\n", err)
			return
		}
	}
}

// Runs one migration step and records the new version in the same transaction.
func applyMigration(ctx context.Context, conn *pgx.Conn, newVersion types.MigrationVersion, run func(context.Context, pgx.Tx) error) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := run(ctx, tx); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, "UPDATE companion_migration SET version = $1", time.Time(newVersion))
	if err != nil {
		return fmt.Errorf("failed to update version in migrations table: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func previousVersion(allVersions []types.MigrationVersion, version types.MigrationVersion) types.MigrationVersion {
	for i, v := range allVersions {
		if v.Equal(version) && i > 0 {
			return allVersions[i-1]
		}
	}
	return types.MigrationVersion{}
}

//go:embed migrationTemplate.txt
var migrationTemplate string

func MakeMigration(name, description string) {
	result := migrationTemplate
	result = strings.ReplaceAll(result, "%NAME%", name)
	result = strings.ReplaceAll(result, "%DESCRIPTION%", fmt.Sprintf("%#v", description))

	now := time.Now().UTC()
	nowConstructor := fmt.Sprintf("time.Date(%d, %d, %d, %d, %d, %d, 0, time.UTC)", now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second())
	result = strings.ReplaceAll(result, "%DATE%", nowConstructor)

	filename := fmt.Sprintf("%v_%v.go", types.MigrationVersion(now).FileStamp(), name)
	path := filepath.Join("src", "migration", "migrations", filename)

	err := os.WriteFile(path, []byte(result), 0644)
	if err != nil {
		panic(fmt.Errorf("failed to write migration file: %w", err))
	}

	fmt.Println("Successfully created migration file:")
	fmt.Println(path)
}
