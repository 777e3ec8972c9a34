package website

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/opencompanion/companion/src/apiurl"
	"github.com/opencompanion/companion/src/characters"
	"github.com/opencompanion/companion/src/charcard"
	"github.com/opencompanion/companion/src/config"
	"github.com/opencompanion/companion/src/db"
	"github.com/opencompanion/companion/src/models"
	"github.com/opencompanion/companion/src/oops"
	"github.com/opencompanion/companion/src/remotecard"
)

const charactersPerPage = 20

type characterResponse struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	Tagline    string          `json:"tagline"`
	Definition json.RawMessage `json:"definition"`
	Source     string          `json:"source"`
	CardURL    string          `json:"card_url"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

var sourceNames = map[models.CharacterSource]string{
	models.CharacterSourceForm:   "form",
	models.CharacterSourceImport: "import",
	models.CharacterSourceSeed:   "seed",
}

func characterToResponse(char *models.Character) characterResponse {
	return characterResponse{
		ID:         char.ID,
		Name:       char.Name,
		Tagline:    char.Tagline,
		Definition: char.Definition,
		Source:     sourceNames[char.Source],
		CardURL:    apiurl.BuildCharacterCard(char.ID),
		CreatedAt:  char.CreatedAt,
		UpdatedAt:  char.UpdatedAt,
	}
}

/*
Stores a character from a card PNG. The card is either uploaded (raw body or
multipart "card" field) or, for JSON requests of the form {"url": "..."},
downloaded from the web.
*/
func CharacterImport(c *RequestContext) ResponseData {
	var card upload
	mediaType, _, _ := mime.ParseMediaType(c.Req.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var errRes *ResponseData
		card, errRes = fetchRemoteCard(c)
		if errRes != nil {
			return *errRes
		}
	} else {
		uploads, err := readUploads(c, "card")
		if err != nil {
			return cardErrorResponse(c, err)
		}
		card, err = requireUpload(uploads, "card")
		if err != nil {
			return cardErrorResponse(c, err)
		}
	}

	char, err := characters.ImportCard(c, c.Conn, c.Codec, uploadFilename(card, "card"), card.Content)
	if err != nil {
		return cardErrorResponse(c, err)
	}

	res := ResponseData{StatusCode: http.StatusCreated}
	res.WriteJson(characterToResponse(char), c.Perf)
	return res
}

const remoteCardTimeout = 15 * time.Second

func fetchRemoteCard(c *RequestContext) (upload, *ResponseData) {
	reject := func(status int, msg string) (upload, *ResponseData) {
		res := c.RejectRequest(status, msg)
		return upload{}, &res
	}

	body, err := readRequestBody(c)
	if err != nil {
		res := cardErrorResponse(c, err)
		return upload{}, &res
	}
	var req struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.URL == "" {
		return reject(http.StatusBadRequest, "Expected a JSON object with a url")
	}

	fetcher := remotecard.Fetcher{
		Timeout: remoteCardTimeout,
		MaxSize: int(config.Config.Cards.MaxUploadSize),
	}
	c.Perf.StartBlock("HTTP", "Fetch remote card")
	dl, err := fetcher.Fetch(c, req.URL)
	c.Perf.EndBlock()
	if err != nil {
		switch {
		case errors.Is(err, remotecard.ErrDownloadTooBig):
			return reject(http.StatusRequestEntityTooLarge, "File is too large")
		case errors.Is(err, remotecard.ErrBadURL), errors.Is(err, remotecard.ErrForbiddenHost):
			return reject(http.StatusBadRequest, "That url can't be imported from")
		case errors.Is(err, remotecard.ErrNoCardFound):
			return reject(http.StatusUnprocessableEntity, "No card found at that url")
		default:
			c.Logger.Warn().Err(err).Str("url", req.URL).Msg("Remote card download failed")
			return reject(http.StatusBadGateway, "Could not download the card")
		}
	}

	return upload{Filename: dl.Filename, Content: dl.Data}, nil
}

// Stores a character from a JSON definition (V1 or V2) in the request body.
func CharacterCreate(c *RequestContext) ResponseData {
	body, err := readRequestBody(c)
	if err != nil {
		return cardErrorResponse(c, err)
	}
	if !json.Valid(body) {
		return c.RejectRequest(http.StatusBadRequest, "Request body is not valid JSON")
	}

	char, err := characters.Create(c, c.Conn, characters.CreateInput{
		Definition: body,
		Source:     models.CharacterSourceForm,
	})
	if err != nil {
		if errors.Is(err, charcard.ErrDecode) || errors.Is(err, charcard.ErrInvalidCharacter) {
			return c.RejectRequest(http.StatusUnprocessableEntity, "Character definition is invalid")
		}
		return c.ErrorResponse(http.StatusInternalServerError, err)
	}

	res := ResponseData{StatusCode: http.StatusCreated}
	res.WriteJson(characterToResponse(char), c.Perf)
	return res
}

type characterListResponse struct {
	Characters []characterResponse `json:"characters"`
	Page       int                 `json:"page"`
	TotalPages int                 `json:"total_pages"`
	NextURL    string              `json:"next_url,omitempty"`
	PrevURL    string              `json:"prev_url,omitempty"`
}

func CharacterList(c *RequestContext) ResponseData {
	total, err := characters.Count(c, c.Conn)
	if err != nil {
		return c.ErrorResponse(http.StatusInternalServerError, err)
	}

	pi, ok := getPageInfo(c.URL().Query().Get("page"), total, charactersPerPage)
	if !ok {
		return c.RejectRequest(http.StatusBadRequest, "Invalid page")
	}

	chars, err := characters.List(c, c.Conn, pi.Limit, pi.Offset)
	if err != nil {
		return c.ErrorResponse(http.StatusInternalServerError, err)
	}

	result := characterListResponse{
		Characters: make([]characterResponse, 0, len(chars)),
		Page:       pi.Page,
		TotalPages: pi.TotalPages,
	}
	if pi.Page < pi.TotalPages {
		result.NextURL = apiurl.BuildCharactersWithPage(pi.Page + 1)
	}
	if pi.Page > 1 {
		result.PrevURL = apiurl.BuildCharactersWithPage(pi.Page - 1)
	}
	for _, char := range chars {
		result.Characters = append(result.Characters, characterToResponse(char))
	}

	var res ResponseData
	res.WriteJson(result, c.Perf)
	return res
}

// Loads the character named by the id path param. On failure, the returned
// response should be sent as-is.
func fetchCharacter(c *RequestContext) (*models.Character, *ResponseData) {
	id, err := uuid.Parse(c.PathParams["id"])
	if err != nil {
		res := FourOhFour(c)
		return nil, &res
	}

	char, err := characters.Get(c, c.Conn, id)
	if err != nil {
		var res ResponseData
		if errors.Is(err, db.NotFound) {
			res = FourOhFour(c)
		} else {
			res = c.ErrorResponse(http.StatusInternalServerError, err)
		}
		return nil, &res
	}
	return char, nil
}

func CharacterGet(c *RequestContext) ResponseData {
	char, errRes := fetchCharacter(c)
	if errRes != nil {
		return *errRes
	}

	var res ResponseData
	res.WriteJson(characterToResponse(char), c.Perf)
	return res
}

func CharacterCard(c *RequestContext) ResponseData {
	char, errRes := fetchCharacter(c)
	if errRes != nil {
		return *errRes
	}

	card, err := characters.CardPNG(c, c.Conn, char)
	if err != nil {
		return c.ErrorResponse(http.StatusInternalServerError, oops.New(err, "failed to build card for character %s", char.ID))
	}

	var res ResponseData
	res.WritePNG(card, characters.CardFilename(char))
	return res
}
