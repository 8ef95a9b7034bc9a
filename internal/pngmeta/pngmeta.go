// Package pngmeta reads and writes PNG tEXt chunks. image/png drops textual
// metadata on both encode and decode, so the chunks are spliced into the
// encoded byte stream directly.
package pngmeta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

var signature = []byte("\x89PNG\r\n\x1a\n")

// ErrNotPNG is returned when the input does not start with the PNG signature.
var ErrNotPNG = errors.New("pngmeta: not a PNG stream")

// Entry is one tEXt key/value pair. Keys must be 1-79 Latin-1 bytes.
type Entry struct {
	Key   string
	Value string
}

// WithText returns a copy of png with one tEXt chunk per entry inserted
// directly before IEND. Entry order is preserved.
func WithText(png []byte, entries []Entry) ([]byte, error) {
	iend, err := findChunk(png, "IEND")
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(png) + 64*len(entries))
	buf.Write(png[:iend])
	for _, e := range entries {
		if len(e.Key) == 0 || len(e.Key) > 79 || bytes.IndexByte([]byte(e.Key), 0) >= 0 {
			return nil, fmt.Errorf("pngmeta: invalid key %q", e.Key)
		}
		data := make([]byte, 0, len(e.Key)+1+len(e.Value))
		data = append(data, e.Key...)
		data = append(data, 0)
		data = append(data, e.Value...)
		writeChunk(&buf, "tEXt", data)
	}
	buf.Write(png[iend:])
	return buf.Bytes(), nil
}

// Text returns every tEXt chunk in png as a key/value map. Later chunks win
// on duplicate keys.
func Text(png []byte) (map[string]string, error) {
	if !bytes.HasPrefix(png, signature) {
		return nil, ErrNotPNG
	}
	out := map[string]string{}
	off := len(signature)
	for off+8 <= len(png) {
		typ := string(png[off+4 : off+8])
		n, ok := chunkLen(png, off)
		if !ok {
			return nil, fmt.Errorf("pngmeta: truncated %s chunk at offset %d", typ, off)
		}
		end := off + 8 + n + 4
		if typ == "tEXt" {
			data := png[off+8 : off+8+n]
			if i := bytes.IndexByte(data, 0); i > 0 {
				out[string(data[:i])] = string(data[i+1:])
			}
		}
		if typ == "IEND" {
			break
		}
		off = end
	}
	return out, nil
}

// findChunk returns the byte offset of the first chunk of the given type.
func findChunk(png []byte, want string) (int, error) {
	if !bytes.HasPrefix(png, signature) {
		return 0, ErrNotPNG
	}
	off := len(signature)
	for off+8 <= len(png) {
		if string(png[off+4:off+8]) == want {
			return off, nil
		}
		n, ok := chunkLen(png, off)
		if !ok {
			break
		}
		off += 8 + n + 4
	}
	return 0, fmt.Errorf("pngmeta: %s chunk not found", want)
}

// chunkLen returns the data length of the chunk at off and whether its
// data and CRC fit in png.
func chunkLen(png []byte, off int) (int, bool) {
	n := binary.BigEndian.Uint32(png[off:])
	room := len(png) - off - 12
	if room < 0 || uint64(n) > uint64(room) {
		return 0, false
	}
	return int(n), true
}

func writeChunk(buf *bytes.Buffer, typ string, data []byte) {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(data)))
	copy(hdr[4:], typ)
	buf.Write(hdr[:])
	buf.Write(data)

	crc := crc32.NewIEEE()
	crc.Write(hdr[4:])
	crc.Write(data)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	buf.Write(sum[:])
}
