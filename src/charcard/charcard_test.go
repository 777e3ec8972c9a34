package charcard

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.Nil(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// Rebuilds a PNG from the IHDR/IDAT chunks of a real image, inserting extra
// chunks before IEND.
func pngWithChunks(t *testing.T, extra ...Chunk) []byte {
	t.Helper()
	chunks, err := ReadChunks(solidPNG(t, 4, 4, color.White))
	require.Nil(t, err)

	out := []byte(Signature)
	for _, chunk := range chunks {
		if chunk.Type == TypeIEND {
			for _, e := range extra {
				out = e.AppendTo(out)
			}
		}
		out = chunk.AppendTo(out)
	}
	return out
}

func charaChunk(text string) Chunk {
	return NewChunk(TypeText, TextChunkData(Keyword, text))
}

func chunkTypes(chunks []Chunk) []string {
	var types []string
	for _, c := range chunks {
		types = append(types, c.Type)
	}
	return types
}

func TestRoundTripAda(t *testing.T) {
	base := solidPNG(t, 10, 10, color.RGBA{R: 200, G: 40, B: 90, A: 255})
	character := `{"name":"Ada","tagline":"Mathematician"}`

	card, err := Encode(base, json.RawMessage(character))
	require.Nil(t, err)

	decoded, err := Decode(card)
	require.Nil(t, err)
	assert.Equal(t, character, string(decoded))

	expectedGrowth := chunkOverhead + len(Keyword+"\x00") + len(base64.StdEncoding.EncodeToString([]byte(character)))
	assert.Equal(t, len(base)+expectedGrowth, len(card))
}

func TestRoundTripValues(t *testing.T) {
	base := solidPNG(t, 3, 2, color.Black)
	values := []struct {
		name  string
		value interface{}
	}{
		{"object", map[string]interface{}{"name": "Ada", "age": 36.0, "tags": []interface{}{"math", "poetry"}}},
		{"nested", map[string]interface{}{"spec": SpecV2, "data": map[string]interface{}{"name": "Grace", "extensions": map[string]interface{}{}}}},
		{"unicode and html", map[string]interface{}{"name": "Léa 🌙", "first_mes": "<b>hi</b> & welcome"}},
		{"array", []interface{}{1.0, "two", nil, true}},
		{"string", "just a string"},
		{"number", 42.0},
		{"null", nil},
	}

	for _, v := range values {
		t.Run(v.name, func(t *testing.T) {
			card, err := Encode(base, v.value)
			require.Nil(t, err)

			var out interface{}
			require.Nil(t, DecodeInto(card, &out))
			assert.Equal(t, v.value, out)
		})
	}
}

func TestRoundTripStruct(t *testing.T) {
	base := solidPNG(t, 8, 8, color.White)
	in := Character{
		Name:               "Ada",
		Description:        "Countess of Lovelace",
		FirstMessage:       "Shall we compute some Bernoulli numbers?",
		AlternateGreetings: []string{"Hello.", "Good evening."},
		Tagline:            "Mathematician",
	}

	card, err := Encode(base, in.CardV2())
	require.Nil(t, err)

	raw, err := Decode(card)
	require.Nil(t, err)
	out, err := ParseCharacter(raw)
	require.Nil(t, err)
	assert.Equal(t, in, *out)
}

func TestEncodePreservesImage(t *testing.T) {
	base := solidPNG(t, 10, 10, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	card, err := Encode(base, map[string]string{"name": "Ada"})
	require.Nil(t, err)

	before, err := ReadChunks(base)
	require.Nil(t, err)
	after, err := ReadChunks(card)
	require.Nil(t, err)

	require.Equal(t, len(before)+1, len(after))
	assert.Equal(t, TypeText, after[len(after)-2].Type)
	assert.Equal(t, TypeIEND, after[len(after)-1].Type)
	for i, chunk := range before[:len(before)-1] {
		assert.Equal(t, chunk, after[i], "chunk %d (%s) changed", i, chunk.Type)
	}

	// Every chunk but the new one sits at the same place in the output.
	assert.Equal(t, base[:len(base)-chunkOverhead], card[:len(base)-chunkOverhead])

	baseImg, err := png.Decode(bytes.NewReader(base))
	require.Nil(t, err)
	cardImg, err := png.Decode(bytes.NewReader(card))
	require.Nil(t, err)
	assert.Equal(t, baseImg, cardImg)
}

func TestEncodeReplacesExistingCharacter(t *testing.T) {
	base := solidPNG(t, 4, 4, color.White)
	first, err := Encode(base, map[string]string{"name": "Ada"})
	require.Nil(t, err)
	second, err := Encode(first, map[string]string{"name": "Grace"})
	require.Nil(t, err)

	decoded, err := Decode(second)
	require.Nil(t, err)
	assert.JSONEq(t, `{"name":"Grace"}`, string(decoded))

	chunks, err := ReadChunks(second)
	require.Nil(t, err)
	textChunks := 0
	for _, c := range chunks {
		if c.Type == TypeText {
			textChunks++
		}
	}
	assert.Equal(t, 1, textChunks)

	grace := base64.StdEncoding.EncodeToString([]byte(`{"name":"Grace"}`))
	assert.Equal(t, len(base)+chunkOverhead+len(Keyword)+1+len(grace), len(second))
}

func TestEncodeKeepsOtherTextChunks(t *testing.T) {
	comment := NewChunk(TypeText, TextChunkData("Comment", "made with love"))
	base := pngWithChunks(t, comment)

	card, err := Encode(base, json.RawMessage(`{ "name" : "Ada" }`))
	require.Nil(t, err)

	chunks, err := ReadChunks(card)
	require.Nil(t, err)
	assert.Equal(t, []string{"IHDR", "IDAT", "tEXt", "tEXt", "IEND"}, chunkTypes(chunks))
	assert.Equal(t, comment, chunks[2])

	decoded, err := Decode(card)
	require.Nil(t, err)
	assert.Equal(t, `{"name":"Ada"}`, string(decoded), "raw JSON should be compacted")
}

func TestEncodeErrors(t *testing.T) {
	t.Run("not a png", func(t *testing.T) {
		_, err := Encode([]byte("GIF89a and so on"), map[string]string{"name": "Ada"})
		assert.True(t, errors.Is(err, ErrFormat))
	})
	t.Run("no IEND", func(t *testing.T) {
		base := solidPNG(t, 2, 2, color.White)
		_, err := Encode(base[:len(base)-chunkOverhead], map[string]string{"name": "Ada"})
		assert.True(t, errors.Is(err, ErrFormat))
		assert.ErrorContains(t, err, "IEND")
	})
	t.Run("invalid raw json", func(t *testing.T) {
		_, err := Encode(solidPNG(t, 2, 2, color.White), json.RawMessage(`{"name":`))
		assert.True(t, errors.Is(err, ErrInvalidCharacter))
	})
	t.Run("unmarshalable value", func(t *testing.T) {
		_, err := Encode(solidPNG(t, 2, 2, color.White), map[string]interface{}{"f": func() {}})
		assert.True(t, errors.Is(err, ErrInvalidCharacter))
	})
}

func TestDecodeNotFound(t *testing.T) {
	t.Run("plain image", func(t *testing.T) {
		_, err := Decode(solidPNG(t, 10, 10, color.White))
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.False(t, errors.Is(err, ErrFormat))
	})
	t.Run("other keywords", func(t *testing.T) {
		_, err := Decode(pngWithChunks(t,
			NewChunk(TypeText, TextChunkData("Comment", "hello")),
			NewChunk(TypeText, TextChunkData("charactor", "eyJ9")),
			NewChunk(TypeText, []byte("chara-with-no-separator")),
		))
		assert.True(t, errors.Is(err, ErrNotFound))
	})
	t.Run("card data after IEND", func(t *testing.T) {
		data := solidPNG(t, 2, 2, color.White)
		data = charaChunk(base64.StdEncoding.EncodeToString([]byte(`{}`))).AppendTo(data)
		_, err := Decode(data)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestDecodeFormatErrors(t *testing.T) {
	full := solidPNG(t, 4, 4, color.White)

	// Header of the first chunk claims far more data than there is.
	overrun := append([]byte{}, full...)
	overrun[8], overrun[9], overrun[10], overrun[11] = 0x7f, 0xff, 0xff, 0xff

	badType := append([]byte{}, full...)
	copy(badType[12:16], "I\x00DR")

	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte("\x89PNG")},
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}},
		{"truncated header", full[:len(Signature)+5]},
		{"truncated data", full[:len(Signature)+20]},
		{"missing crc", full[:len(Signature)+8+13+2]},
		{"length overrun", overrun},
		{"bad chunk type", badType},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Decode(c.data)
			assert.True(t, errors.Is(err, ErrFormat), "got %v", err)
		})
	}
}

func TestDecodeMaxSize(t *testing.T) {
	data := solidPNG(t, 4, 4, color.White)
	codec := New(Options{MaxSize: len(data) - 1})
	_, err := codec.Decode(data)
	assert.True(t, errors.Is(err, ErrFormat))
	assert.ErrorContains(t, err, "limit")

	_, err = New(Options{MaxSize: len(data)}).Decode(data)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDecodeCorruptPayload(t *testing.T) {
	t.Run("bad base64", func(t *testing.T) {
		_, err := Decode(pngWithChunks(t, charaChunk("not base64 at all!")))
		assert.True(t, errors.Is(err, ErrDecode))
		assert.False(t, errors.Is(err, ErrNotFound))
	})
	t.Run("base64 but not json", func(t *testing.T) {
		_, err := Decode(pngWithChunks(t, charaChunk(base64.StdEncoding.EncodeToString([]byte("{name: Ada")))))
		assert.True(t, errors.Is(err, ErrDecode))
	})
	t.Run("first chunk is authoritative", func(t *testing.T) {
		_, err := Decode(pngWithChunks(t,
			charaChunk("%%%"),
			charaChunk(base64.StdEncoding.EncodeToString([]byte(`{"name":"Ada"}`))),
		))
		assert.True(t, errors.Is(err, ErrDecode))
	})
	t.Run("json of the wrong shape", func(t *testing.T) {
		data := pngWithChunks(t, charaChunk(base64.StdEncoding.EncodeToString([]byte(`["Ada"]`))))
		var c Character
		err := DecodeInto(data, &c)
		assert.True(t, errors.Is(err, ErrDecode))
	})
}

func TestDecodeFirstMatchWins(t *testing.T) {
	data := pngWithChunks(t,
		charaChunk(base64.StdEncoding.EncodeToString([]byte(`{"name":"Ada"}`))),
		charaChunk(base64.StdEncoding.EncodeToString([]byte(`{"name":"Grace"}`))),
	)
	decoded, err := Decode(data)
	require.Nil(t, err)
	assert.Equal(t, `{"name":"Ada"}`, string(decoded))
}

func TestChecksums(t *testing.T) {
	card, err := Encode(solidPNG(t, 4, 4, color.White), map[string]string{"name": "Ada"})
	require.Nil(t, err)

	// Flip a bit in the CRC of the chara chunk (the one right before IEND).
	corrupt := append([]byte{}, card...)
	corrupt[len(corrupt)-chunkOverhead-1] ^= 0x01

	t.Run("not verified by default", func(t *testing.T) {
		decoded, err := Decode(corrupt)
		require.Nil(t, err)
		assert.JSONEq(t, `{"name":"Ada"}`, string(decoded))
	})
	t.Run("verified when asked", func(t *testing.T) {
		strict := New(Options{VerifyChecksums: true})
		_, err := strict.Decode(corrupt)
		assert.True(t, errors.Is(err, ErrIntegrity))

		_, err = strict.Encode(corrupt, map[string]string{"name": "Grace"})
		assert.True(t, errors.Is(err, ErrIntegrity))

		decoded, err := strict.Decode(card)
		require.Nil(t, err)
		assert.JSONEq(t, `{"name":"Ada"}`, string(decoded))
	})
	t.Run("encode keeps existing crcs", func(t *testing.T) {
		base := pngWithChunks(t, Chunk{Type: "tIME", Data: []byte{7, 230, 10, 19, 12, 0, 0}, CRC: 0xdeadbeef})
		out, err := Encode(base, map[string]string{"name": "Ada"})
		require.Nil(t, err)
		assert.True(t, bytes.Contains(out, []byte{0xde, 0xad, 0xbe, 0xef}))
	})
}

func TestDecodeIsPure(t *testing.T) {
	card, err := Encode(solidPNG(t, 4, 4, color.White), map[string]string{"name": "Ada"})
	require.Nil(t, err)
	original := append([]byte{}, card...)

	first, err := Decode(card)
	require.Nil(t, err)
	first[0] = 'X' // must not write through to the input
	second, err := Decode(card)
	require.Nil(t, err)

	assert.Equal(t, original, card)
	assert.JSONEq(t, `{"name":"Ada"}`, string(second))
}

func TestConcurrentUse(t *testing.T) {
	codec := New(Options{VerifyChecksums: true})
	base := solidPNG(t, 16, 16, color.White)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			card, err := codec.Encode(base, map[string]int{"n": i})
			if err != nil {
				errs <- err
				return
			}
			var out map[string]int
			if err := codec.DecodeInto(card, &out); err != nil {
				errs <- err
				return
			}
			if out["n"] != i {
				errs <- errors.New("decoded the wrong character")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.Nil(t, err)
	}
}
