package charcard

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
)

// The first eight bytes of every PNG datastream.
const Signature = "\x89PNG\r\n\x1a\n"

const (
	TypeIHDR = "IHDR"
	TypeIDAT = "IDAT"
	TypeText = "tEXt"
	TypeIEND = "IEND"
)

// length(4) + type(4) + crc(4)
const chunkOverhead = 12

// A single length|type|data|crc unit. Chunks returned by ReadChunks alias the
// buffer they were read from, so Data must not be modified.
type Chunk struct {
	Type string
	Data []byte
	CRC  uint32
}

// Builds a chunk with a freshly computed checksum.
func NewChunk(typ string, data []byte) Chunk {
	c := Chunk{Type: typ, Data: data}
	c.CRC = c.ComputeCRC()
	return c
}

// Size of the chunk on the wire, including header and checksum.
func (c Chunk) Len() int {
	return chunkOverhead + len(c.Data)
}

// CRC-32 (IEEE) over type ++ data.
func (c Chunk) ComputeCRC() uint32 {
	h := crc32.NewIEEE()
	h.Write([]byte(c.Type))
	h.Write(c.Data)
	return h.Sum32()
}

// Appends the wire form of the chunk to b. The stored CRC is written as-is,
// so chunks copied from an existing file stay byte-identical.
func (c Chunk) AppendTo(b []byte) []byte {
	var word [4]byte
	binary.BigEndian.PutUint32(word[:], uint32(len(c.Data)))
	b = append(b, word[:]...)
	b = append(b, c.Type...)
	b = append(b, c.Data...)
	binary.BigEndian.PutUint32(word[:], c.CRC)
	return append(b, word[:]...)
}

// Payload of a tEXt chunk: keyword, a null separator, then the text.
func TextChunkData(keyword, text string) []byte {
	data := make([]byte, 0, len(keyword)+1+len(text))
	data = append(data, keyword...)
	data = append(data, 0)
	return append(data, text...)
}

// Splits tEXt data at the first null byte. ok is false if there is no separator.
func SplitTextChunk(data []byte) (keyword string, text []byte, ok bool) {
	idx := bytes.IndexByte(data, 0)
	if idx < 0 {
		return "", nil, false
	}
	return string(data[:idx]), data[idx+1:], true
}

type chunkReader struct {
	data   []byte
	pos    int
	verify bool
}

func newChunkReader(data []byte, verify bool) *chunkReader {
	return &chunkReader{
		data:   data,
		pos:    len(Signature),
		verify: verify,
	}
}

func (r *chunkReader) more() bool {
	return r.pos < len(r.data)
}

// Reads the chunk at the cursor and advances past it. The returned offset is
// where the chunk started.
func (r *chunkReader) next() (chunk Chunk, offset int, err error) {
	offset = r.pos
	remaining := len(r.data) - r.pos
	if remaining < 8 {
		return Chunk{}, offset, newError(ErrFormat, offset, nil, "truncated chunk header")
	}

	length := binary.BigEndian.Uint32(r.data[r.pos:])
	typ := r.data[r.pos+4 : r.pos+8]
	if !isChunkType(typ) {
		return Chunk{}, offset, newError(ErrFormat, offset, nil, "invalid chunk type %q", typ)
	}
	if uint64(length)+4 > uint64(remaining-8) {
		return Chunk{}, offset, newError(ErrFormat, offset, nil, "chunk %s declares %d bytes but only %d remain", typ, length, remaining-8)
	}

	dataStart := r.pos + 8
	dataEnd := dataStart + int(length)
	chunk = Chunk{
		Type: string(typ),
		Data: r.data[dataStart:dataEnd:dataEnd],
		CRC:  binary.BigEndian.Uint32(r.data[dataEnd:]),
	}
	r.pos = dataEnd + 4

	if r.verify {
		if actual := chunk.ComputeCRC(); actual != chunk.CRC {
			return Chunk{}, offset, newError(ErrIntegrity, offset, nil, "chunk %s has crc %08x, expected %08x", chunk.Type, chunk.CRC, actual)
		}
	}

	return chunk, offset, nil
}

// Chunk types are four ASCII letters.
func isChunkType(typ []byte) bool {
	for _, b := range typ {
		if !(b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z') {
			return false
		}
	}
	return true
}
