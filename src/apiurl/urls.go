package apiurl

import (
	"regexp"
	"strconv"

	"github.com/google/uuid"
	"github.com/opencompanion/companion/src/oops"
)

var RegexHealth = regexp.MustCompile(`^/$`)

func BuildHealth() string {
	return Url("/", nil)
}

var RegexCardInspect = regexp.MustCompile(`^/api/cards/inspect$`)

func BuildCardInspect() string {
	return Url("/api/cards/inspect", nil)
}

var RegexCardEmbed = regexp.MustCompile(`^/api/cards/embed$`)

func BuildCardEmbed() string {
	return Url("/api/cards/embed", nil)
}

var RegexCharacters = regexp.MustCompile(`^/api/characters$`)

func BuildCharacters() string {
	return Url("/api/characters", nil)
}

func BuildCharactersWithPage(page int) string {
	if page < 1 {
		panic(oops.New(nil, "Invalid character list page (%d), must be >= 1", page))
	}
	if page == 1 {
		return BuildCharacters()
	}
	return Url("/api/characters", []Q{{"page", strconv.Itoa(page)}})
}

var RegexCharacterImport = regexp.MustCompile(`^/api/characters/import$`)

func BuildCharacterImport() string {
	return Url("/api/characters/import", nil)
}

var RegexCharacter = regexp.MustCompile(`^/api/characters/(?P<id>[0-9a-fA-F-]{36})$`)

func BuildCharacter(id uuid.UUID) string {
	return Url("/api/characters/"+id.String(), nil)
}

var RegexCharacterCard = regexp.MustCompile(`^/api/characters/(?P<id>[0-9a-fA-F-]{36})/card\.png$`)

func BuildCharacterCard(id uuid.UUID) string {
	return Url("/api/characters/"+id.String()+"/card.png", nil)
}

var RegexCatchAll = regexp.MustCompile(`^`)
