// Package vecfile reads and writes dense float32 matrices in a small binary
// container. A file is a 64-byte header, a row-major little-endian payload
// and a 32-byte footer carrying a CRC32 of the payload.
package vecfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"math/bits"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
)

// MagicBytes identifies a valid .csvec file ("CSVC").
const (
	MagicBytes    uint32 = 0x43535643
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 32
)

// Header is the 64-byte header written at the start of every vector file.
type Header struct {
	Magic      uint32
	Version    uint32
	Rows       uint64
	Dim        uint32
	CreatedAt  int64
	DataOffset int64
	DataSize   int64
}

// Matrix is a row-major table of Rows vectors of Dim components each.
type Matrix struct {
	Rows int
	Dim  int
	Data []float32
}

// NewMatrix allocates a zeroed rows x dim matrix.
func NewMatrix(rows, dim int) Matrix {
	return Matrix{Rows: rows, Dim: dim, Data: make([]float32, rows*dim)}
}

// Row returns the i-th vector. The slice aliases the matrix storage.
func (m Matrix) Row(i int) []float32 {
	return m.Data[i*m.Dim : (i+1)*m.Dim : (i+1)*m.Dim]
}

// Slice returns rows [start, end) without copying.
func (m Matrix) Slice(start, end int) Matrix {
	return Matrix{Rows: end - start, Dim: m.Dim, Data: m.Data[start*m.Dim : end*m.Dim : end*m.Dim]}
}

func (m Matrix) validate() error {
	if m.Rows < 0 || m.Dim < 0 || len(m.Data) != m.Rows*m.Dim {
		return fmt.Errorf("%w: matrix %dx%d has %d values", apperrors.ErrConfiguration, m.Rows, m.Dim, len(m.Data))
	}
	return nil
}

// Write atomically creates path containing m. It writes to a .tmp file
// first, fsyncs, and renames on success.
func Write(path string, m Matrix) error {
	if err := m.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apperrors.Wrapf(apperrors.ErrStorage, err, "creating vector directory")
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return apperrors.Wrapf(apperrors.ErrStorage, err, "creating temp vector file")
	}
	defer f.Close()

	dataSize := int64(len(m.Data)) * 4
	headerBytes := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(headerBytes[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(headerBytes[4:8], FormatVersion)
	binary.LittleEndian.PutUint64(headerBytes[8:16], uint64(m.Rows))
	binary.LittleEndian.PutUint32(headerBytes[16:20], uint32(m.Dim))
	binary.LittleEndian.PutUint64(headerBytes[24:32], uint64(time.Now().Unix()))
	binary.LittleEndian.PutUint64(headerBytes[32:40], uint64(HeaderSize))
	binary.LittleEndian.PutUint64(headerBytes[40:48], uint64(dataSize))

	w := bufio.NewWriterSize(f, 1<<20)
	if _, err := w.Write(headerBytes); err != nil {
		return apperrors.Wrapf(apperrors.ErrStorage, err, "writing header")
	}
	crc := crc32.NewIEEE()
	payload := io.MultiWriter(w, crc)
	buf := make([]byte, 4)
	for _, v := range m.Data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		if _, err := payload.Write(buf); err != nil {
			return apperrors.Wrapf(apperrors.ErrStorage, err, "writing vectors")
		}
	}

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc.Sum32())
	binary.LittleEndian.PutUint32(footer[4:8], uint32(m.Dim))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(m.Rows))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(dataSize))
	if _, err := w.Write(footer); err != nil {
		return apperrors.Wrapf(apperrors.ErrStorage, err, "writing footer")
	}
	if err := w.Flush(); err != nil {
		return apperrors.Wrapf(apperrors.ErrStorage, err, "flushing vector file")
	}
	if err := f.Sync(); err != nil {
		return apperrors.Wrapf(apperrors.ErrStorage, err, "syncing vector file")
	}
	f.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		return apperrors.Wrapf(apperrors.ErrStorage, err, "renaming vector file")
	}
	return nil
}

// Read loads the whole matrix stored at path. The file is rejected as a
// whole when its magic, version, sizes or checksum do not match.
func Read(path string) (Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return Matrix{}, apperrors.Wrapf(apperrors.ErrStorage, err, "opening vector file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Matrix{}, apperrors.Wrapf(apperrors.ErrStorage, err, "stat vector file")
	}
	if info.Size() < int64(HeaderSize+FooterSize) {
		return Matrix{}, fmt.Errorf("%w: %s: file too short (%d bytes)", apperrors.ErrStorage, path, info.Size())
	}

	header, err := readHeader(f)
	if err != nil {
		return Matrix{}, fmt.Errorf("%w: %s: %v", apperrors.ErrStorage, path, err)
	}
	size, ok := payloadSize(header.Rows, header.Dim)
	if !ok || header.DataSize != size || info.Size()-int64(HeaderSize+FooterSize) != size {
		return Matrix{}, fmt.Errorf("%w: %s: size mismatch (header %dx%d, file %d bytes)",
			apperrors.ErrStorage, path, header.Rows, header.Dim, info.Size())
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.DataOffset+header.DataSize); err != nil {
		return Matrix{}, apperrors.Wrapf(apperrors.ErrStorage, err, "reading footer")
	}
	if binary.LittleEndian.Uint64(footer[8:16]) != header.Rows || binary.LittleEndian.Uint32(footer[4:8]) != header.Dim {
		return Matrix{}, fmt.Errorf("%w: %s: footer disagrees with header", apperrors.ErrStorage, path)
	}

	if _, err := f.Seek(header.DataOffset, io.SeekStart); err != nil {
		return Matrix{}, apperrors.Wrapf(apperrors.ErrStorage, err, "seeking to vectors")
	}
	m := NewMatrix(int(header.Rows), int(header.Dim))
	crc := crc32.NewIEEE()
	r := io.TeeReader(bufio.NewReaderSize(io.LimitReader(f, header.DataSize), 1<<20), crc)
	buf := make([]byte, 4)
	for i := range m.Data {
		if _, err := io.ReadFull(r, buf); err != nil {
			return Matrix{}, apperrors.Wrapf(apperrors.ErrStorage, err, "reading vectors")
		}
		m.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf))
	}
	if got, want := crc.Sum32(), binary.LittleEndian.Uint32(footer[0:4]); got != want {
		return Matrix{}, fmt.Errorf("%w: %s: checksum mismatch (got %08x, want %08x)", apperrors.ErrStorage, path, got, want)
	}
	return m, nil
}

// payloadSize is rows*dim*4, or false when that does not fit in an int64.
func payloadSize(rows uint64, dim uint32) (int64, bool) {
	hi, lo := bits.Mul64(rows, uint64(dim))
	if hi != 0 || lo > math.MaxInt64/4 {
		return 0, false
	}
	return int64(lo * 4), true
}

func readHeader(f *os.File) (Header, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return Header{}, fmt.Errorf("reading header: %w", err)
	}
	header := Header{
		Magic:      binary.LittleEndian.Uint32(headerBytes[0:4]),
		Version:    binary.LittleEndian.Uint32(headerBytes[4:8]),
		Rows:       binary.LittleEndian.Uint64(headerBytes[8:16]),
		Dim:        binary.LittleEndian.Uint32(headerBytes[16:20]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(headerBytes[24:32])),
		DataOffset: int64(binary.LittleEndian.Uint64(headerBytes[32:40])),
		DataSize:   int64(binary.LittleEndian.Uint64(headerBytes[40:48])),
	}
	if header.Magic != MagicBytes {
		return Header{}, fmt.Errorf("invalid vector file: bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return Header{}, fmt.Errorf("unsupported vector file version %d", header.Version)
	}
	if header.DataOffset != int64(HeaderSize) {
		return Header{}, fmt.Errorf("unexpected data offset %d", header.DataOffset)
	}
	return header, nil
}

// Stat returns the header of the file at path without reading the payload.
func Stat(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, apperrors.Wrapf(apperrors.ErrStorage, err, "opening vector file")
	}
	defer f.Close()
	header, err := readHeader(f)
	if err != nil {
		return Header{}, fmt.Errorf("%w: %s: %v", apperrors.ErrStorage, path, err)
	}
	return header, nil
}
