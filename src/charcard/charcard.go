/*
Package charcard reads and writes character cards: PNG images that carry a chat
character's definition in a tEXt chunk with the keyword "chara". The text is the
base64 encoding of the definition's JSON. This is the same layout other
companion-chat tools use, so cards move freely between them.

Everything here works on fully buffered byte slices and keeps no state, so a Codec
can be shared between goroutines.
*/
package charcard

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
)

// The tEXt keyword that marks character data.
const Keyword = "chara"

// Inputs larger than this are rejected unless Options.MaxSize says otherwise.
const DefaultMaxSize = 32 * 1024 * 1024

type Options struct {
	// Check the CRC-32 of every chunk that is read, failing with ErrIntegrity
	// on a mismatch. Off by default since plenty of cards in the wild were
	// written by tools that never bothered to fix up checksums.
	VerifyChecksums bool

	// Largest input accepted, in bytes. Zero means DefaultMaxSize.
	MaxSize int
}

type Codec struct {
	opts Options
}

func New(opts Options) *Codec {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	return &Codec{opts: opts}
}

var defaultCodec = New(Options{})

func Decode(data []byte) (json.RawMessage, error) {
	return defaultCodec.Decode(data)
}

func DecodeInto(data []byte, v interface{}) error {
	return defaultCodec.DecodeInto(data, v)
}

func Encode(base []byte, character interface{}) ([]byte, error) {
	return defaultCodec.Encode(base, character)
}

func ReadChunks(data []byte) ([]Chunk, error) {
	return defaultCodec.ReadChunks(data)
}

func (c *Codec) Options() Options {
	return c.opts
}

/*
Returns the JSON embedded in the first chara tEXt chunk. The first such chunk is
authoritative: if its payload is broken the result is ErrDecode, even if a later
chunk would have parsed. Scanning stops at IEND.

The returned bytes never alias data.
*/
func (c *Codec) Decode(data []byte) (json.RawMessage, error) {
	if err := c.checkContainer(data); err != nil {
		return nil, err
	}

	r := newChunkReader(data, c.opts.VerifyChecksums)
	for r.more() {
		chunk, offset, err := r.next()
		if err != nil {
			return nil, err
		}

		if chunk.Type == TypeText {
			if keyword, text, ok := SplitTextChunk(chunk.Data); ok && keyword == Keyword {
				return decodePayload(text, offset)
			}
		}
		if chunk.Type == TypeIEND {
			break
		}
	}

	return nil, newError(ErrNotFound, -1, nil, "")
}

// Decodes the card and unmarshals the definition into v.
func (c *Codec) DecodeInto(data []byte, v interface{}) error {
	raw, err := c.Decode(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return newError(ErrDecode, -1, err, "character data does not fit %T", v)
	}
	return nil
}

/*
Returns a copy of base with character embedded in a chara tEXt chunk just before
IEND. Every other chunk is copied byte for byte, so the pixels are untouched. Any
chara chunks already present are dropped, which means re-encoding an existing card
replaces its definition instead of shadowing it.

character may be any value encoding/json can marshal. A json.RawMessage or []byte
is taken as already-encoded JSON; it is validated and compacted.
*/
func (c *Codec) Encode(base []byte, character interface{}) ([]byte, error) {
	payload, err := marshalCharacter(character)
	if err != nil {
		return nil, err
	}

	chunks, err := c.ReadChunks(base)
	if err != nil {
		return nil, err
	}

	card := NewChunk(TypeText, TextChunkData(Keyword, base64.StdEncoding.EncodeToString(payload)))

	out := make([]byte, 0, len(base)+card.Len())
	out = append(out, Signature...)
	for _, chunk := range chunks {
		if isCharacterChunk(chunk) {
			continue
		}
		if chunk.Type == TypeIEND {
			out = card.AppendTo(out)
		}
		out = chunk.AppendTo(out)
	}

	return out, nil
}

// Parses the whole container up to and including IEND. Anything after IEND is
// ignored. A container without IEND is an ErrFormat.
func (c *Codec) ReadChunks(data []byte) ([]Chunk, error) {
	if err := c.checkContainer(data); err != nil {
		return nil, err
	}

	var chunks []Chunk
	r := newChunkReader(data, c.opts.VerifyChecksums)
	for r.more() {
		chunk, _, err := r.next()
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
		if chunk.Type == TypeIEND {
			return chunks, nil
		}
	}

	return nil, newError(ErrFormat, -1, nil, "no IEND chunk")
}

func (c *Codec) checkContainer(data []byte) error {
	if len(data) > c.opts.MaxSize {
		return newError(ErrFormat, -1, nil, "input is %d bytes, limit is %d", len(data), c.opts.MaxSize)
	}
	if len(data) < len(Signature) || string(data[:len(Signature)]) != Signature {
		return newError(ErrFormat, 0, nil, "bad signature")
	}
	return nil
}

func isCharacterChunk(chunk Chunk) bool {
	if chunk.Type != TypeText {
		return false
	}
	keyword, _, ok := SplitTextChunk(chunk.Data)
	return ok && keyword == Keyword
}

func decodePayload(text []byte, offset int) (json.RawMessage, error) {
	payload := make([]byte, base64.StdEncoding.DecodedLen(len(text)))
	n, err := base64.StdEncoding.Decode(payload, text)
	if err != nil {
		return nil, newError(ErrDecode, offset, err, "payload is not base64")
	}
	payload = payload[:n]

	if !json.Valid(payload) {
		var parsed interface{}
		err := json.Unmarshal(payload, &parsed)
		return nil, newError(ErrDecode, offset, err, "payload is not JSON")
	}
	return json.RawMessage(payload), nil
}

func marshalCharacter(character interface{}) ([]byte, error) {
	var raw []byte
	switch v := character.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(character); err != nil {
			return nil, newError(ErrInvalidCharacter, -1, err, "could not marshal %T", character)
		}
		return bytes.TrimRight(buf.Bytes(), "\n"), nil
	}

	var compacted bytes.Buffer
	if err := json.Compact(&compacted, raw); err != nil {
		return nil, newError(ErrInvalidCharacter, -1, err, "not valid JSON")
	}
	return compacted.Bytes(), nil
}
