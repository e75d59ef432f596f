package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// ErrCorrupt is returned when an index file cannot be decoded.
var ErrCorrupt = errors.New("corrupt vector index")

var magic = [4]byte{'M', 'S', 'T', 'V'}

const formatVersion uint32 = 1

// Format: magic (4), version (4), dimension (4), n (4), then n*dimension little-endian float32.
type header struct {
	Magic      [4]byte
	Version    uint32
	Dimensions uint32
	Count      uint32
}

// WriteTo encodes the index to w.
func (f *FlatIndex) WriteTo(w io.Writer) (int64, error) {
	h := header{Magic: magic, Version: formatVersion, Dimensions: uint32(f.dimensions), Count: uint32(f.Size())}
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	n, err := w.Write(float32SliceToBytes(f.data))
	if err != nil {
		return int64(binary.Size(h) + n), fmt.Errorf("write vectors: %w", err)
	}
	return int64(binary.Size(h) + n), nil
}

// headerSize is the encoded length of header.
const headerSize = 16

// ReadIndex decodes an index from r. Truncated input, trailing bytes, or a bad header
// yield an error wrapping ErrCorrupt. Memory grows with the bytes actually read, never
// with the sizes the header claims.
func ReadIndex(r io.Reader) (*FlatIndex, error) {
	return decode(r, -1)
}

// decode reads an index from r. When size is non-negative it is the total encoded
// length, and a header that disagrees with it is rejected before any allocation.
func decode(r io.Reader, size int64) (*FlatIndex, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrCorrupt, err)
	}
	if h.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, h.Magic[:])
	}
	if h.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}
	if h.Dimensions == 0 {
		return nil, fmt.Errorf("%w: zero dimension", ErrCorrupt)
	}
	want, ok := payloadSize(h)
	if !ok {
		return nil, fmt.Errorf("%w: header claims %d vectors of %d dimensions", ErrCorrupt, h.Count, h.Dimensions)
	}
	if size >= 0 && uint64(size) != headerSize+want {
		return nil, fmt.Errorf("%w: header claims %d bytes of vectors, file has %d", ErrCorrupt, want, size-headerSize)
	}

	var buf bytes.Buffer
	if size >= 0 {
		buf.Grow(int(want))
	}
	n, err := io.CopyN(&buf, r, int64(want))
	if err != nil {
		return nil, fmt.Errorf("%w: read vectors: got %d of %d bytes: %v", ErrCorrupt, n, want, err)
	}
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n > 0 {
		return nil, fmt.Errorf("%w: trailing data", ErrCorrupt)
	}
	return &FlatIndex{dimensions: int(h.Dimensions), data: bytesToFloat32Slice(buf.Bytes())}, nil
}

// payloadSize returns dims*count*4, or false when it overflows or cannot be held in memory.
func payloadSize(h header) (uint64, bool) {
	dims, count := uint64(h.Dimensions), uint64(h.Count)
	if count != 0 && dims > math.MaxUint64/4/count {
		return 0, false
	}
	n := dims * count * 4
	if n > uint64(math.MaxInt) {
		return 0, false
	}
	return n, true
}

// Save writes the index to path.
func (f *FlatIndex) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(file)
	if _, err := f.WriteTo(w); err != nil {
		_ = file.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("sync index file: %w", err)
	}
	return file.Close()
}

// Load reads an index from path.
func Load(path string) (*FlatIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat index file: %w", err)
	}
	return decode(bufio.NewReader(file), info.Size())
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
