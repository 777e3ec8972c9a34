package main

import (
	_ "github.com/opencompanion/companion/src/admintools"
	_ "github.com/opencompanion/companion/src/charcard/cmd"
	_ "github.com/opencompanion/companion/src/migration"
	"github.com/opencompanion/companion/src/website"
)

func main() {
	website.WebsiteCommand.Execute()
}
