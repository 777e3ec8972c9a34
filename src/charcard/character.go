package charcard

import (
	"encoding/json"
	"strings"
)

const (
	SpecV2        = "chara_card_v2"
	SpecV2Version = "2.0"
)

// The fields shared by V1 cards (flat objects) and the data block of V2 cards.
// Tagline is our own addition; other tools ignore it.
type Character struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Personality     string `json:"personality"`
	Scenario        string `json:"scenario"`
	FirstMessage    string `json:"first_mes"`
	MessageExamples string `json:"mes_example"`

	CreatorNotes            string                     `json:"creator_notes,omitempty"`
	SystemPrompt            string                     `json:"system_prompt,omitempty"`
	PostHistoryInstructions string                     `json:"post_history_instructions,omitempty"`
	AlternateGreetings      []string                   `json:"alternate_greetings,omitempty"`
	Tags                    []string                   `json:"tags,omitempty"`
	Creator                 string                     `json:"creator,omitempty"`
	CharacterVersion        string                     `json:"character_version,omitempty"`
	Extensions              map[string]json.RawMessage `json:"extensions,omitempty"`

	Tagline string `json:"tagline,omitempty"`
}

type CardV2 struct {
	Spec        string    `json:"spec"`
	SpecVersion string    `json:"spec_version"`
	Data        Character `json:"data"`
}

/*
Interprets a decoded definition as a character. V2 cards are recognized by their
spec field and unwrapped; anything else is read as a flat V1 object. Fields we don't
know about are ignored here, but callers that store the raw JSON keep them.
*/
func ParseCharacter(raw json.RawMessage) (*Character, error) {
	var header struct {
		Spec string          `json:"spec"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, newError(ErrDecode, -1, err, "character data is not an object")
	}

	body := []byte(raw)
	if header.Spec == SpecV2 {
		if len(header.Data) == 0 {
			return nil, newError(ErrDecode, -1, nil, "%s card has no data", SpecV2)
		}
		body = header.Data
	}

	var char Character
	if err := json.Unmarshal(body, &char); err != nil {
		return nil, newError(ErrDecode, -1, err, "character fields have the wrong shape")
	}
	return &char, nil
}

func (c *Character) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return newError(ErrInvalidCharacter, -1, nil, "character has no name")
	}
	return nil
}

func (c *Character) CardV2() CardV2 {
	return CardV2{
		Spec:        SpecV2,
		SpecVersion: SpecV2Version,
		Data:        *c,
	}
}
