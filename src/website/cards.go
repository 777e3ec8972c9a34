package website

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/opencompanion/companion/src/characters"
	"github.com/opencompanion/companion/src/charcard"
	"github.com/opencompanion/companion/src/config"
	"github.com/opencompanion/companion/src/imaging"
	"github.com/opencompanion/companion/src/models"
	"github.com/opencompanion/companion/src/oops"
)

type upload struct {
	Filename string
	Content  []byte
}

// Reads the whole request body, refusing anything over the configured upload
// limit.
func readRequestBody(c *RequestContext) ([]byte, error) {
	limit := config.Config.Cards.MaxUploadSize

	c.Perf.StartBlock("HTTP", "Read request body")
	defer c.Perf.EndBlock()

	body, err := io.ReadAll(io.LimitReader(c.Req.Body, limit+1))
	if err != nil {
		return nil, oops.New(err, "failed to read request body")
	}
	if int64(len(body)) > limit {
		return nil, errUploadTooLarge
	}
	return body, nil
}

/*
Returns the named fields of a multipart/form-data request. Requests with any
other content type are treated as a single upload and returned under fallback,
so clients can POST a raw PNG.
*/
func readUploads(c *RequestContext, fallback string) (map[string]upload, error) {
	body, err := readRequestBody(c)
	if err != nil {
		return nil, err
	}

	mediaType, params, _ := mime.ParseMediaType(c.Req.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return map[string]upload{fallback: {Content: body}}, nil
	}

	uploads := map[string]upload{}
	mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewSafeError(err, "Malformed multipart body")
		}
		content, err := io.ReadAll(part)
		if err != nil {
			return nil, NewSafeError(err, "Malformed multipart body")
		}
		if _, exists := uploads[part.FormName()]; !exists {
			uploads[part.FormName()] = upload{Filename: part.FileName(), Content: content}
		}
	}
	return uploads, nil
}

func requireUpload(uploads map[string]upload, field string) (upload, error) {
	u, ok := uploads[field]
	if !ok || len(u.Content) == 0 {
		return upload{}, NewSafeError(nil, "Missing form field '%s'", field)
	}
	return u, nil
}

type inspectResponse struct {
	Character *charcard.Character `json:"character"`
	Raw       json.RawMessage     `json:"raw"`

	// Whether chunk CRCs were checked while reading the card.
	ChecksumsVerified bool `json:"checksums_verified"`
}

// Decodes an uploaded card without storing anything.
func CardInspect(c *RequestContext) ResponseData {
	uploads, err := readUploads(c, "card")
	if err != nil {
		return cardErrorResponse(c, err)
	}
	card, err := requireUpload(uploads, "card")
	if err != nil {
		return cardErrorResponse(c, err)
	}

	c.Perf.StartBlock("CARD", "Decode card")
	raw, err := c.Codec.Decode(card.Content)
	c.Perf.EndBlock()
	if err != nil {
		return cardErrorResponse(c, err)
	}

	char, err := charcard.ParseCharacter(raw)
	if err != nil {
		return cardErrorResponse(c, err)
	}

	var res ResponseData
	res.WriteJson(inspectResponse{
		Character:         char,
		Raw:               raw,
		ChecksumsVerified: c.Codec.Options().VerifyChecksums,
	}, c.Perf)
	return res
}

// Stamps a character definition onto an uploaded image and sends the card back.
// Nothing is stored.
func CardEmbed(c *RequestContext) ResponseData {
	uploads, err := readUploads(c, "image")
	if err != nil {
		return cardErrorResponse(c, err)
	}
	image, err := requireUpload(uploads, "image")
	if err != nil {
		return cardErrorResponse(c, err)
	}
	definition, err := requireUpload(uploads, "character")
	if err != nil {
		return cardErrorResponse(c, err)
	}

	if !json.Valid(definition.Content) {
		return c.RejectRequest(http.StatusBadRequest, "Character is not valid JSON")
	}
	char, err := charcard.ParseCharacter(definition.Content)
	if err == nil {
		err = char.Validate()
	}
	if err != nil {
		return c.RejectRequest(http.StatusUnprocessableEntity, "Character definition is invalid")
	}

	c.Perf.StartBlock("CARD", "Build card")
	base, err := imaging.NormalizeAvatar(image.Content, config.Config.Cards.AvatarMaxDim)
	if err != nil {
		c.Perf.EndBlock()
		return cardErrorResponse(c, err)
	}
	card, err := c.Codec.Encode(base, json.RawMessage(definition.Content))
	c.Perf.EndBlock()
	if err != nil {
		return cardErrorResponse(c, err)
	}

	var res ResponseData
	res.WritePNG(card, characters.CardFilename(&models.Character{Name: char.Name}))
	return res
}

func uploadFilename(u upload, fallback string) string {
	if u.Filename != "" {
		return u.Filename
	}
	return fmt.Sprintf("%s.png", fallback)
}
