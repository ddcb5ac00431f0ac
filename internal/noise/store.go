package noise

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// On-disk format: a fixed little-endian header (magic, rows, cols) followed
// by rows×cols float64 values, one file per field. File naming only has to
// support index-based selection; nothing else about it is significant.
const (
	fieldMagic = "FNF1"
	fieldExt   = ".fnf"
)

// ErrNotFound is returned by Load when the store directory holds no field
// files or the requested index is out of range.
var ErrNotFound = errors.New("noise field not found")

// Default render parameters for pregenerated fields.
const (
	genOctaves        = 4
	genPersistence    = 0.5
	genRelativeFactor = 0.5
	genSeedLimit      = 20000
)

// Store loads and writes precomputed noise fields under a directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore returns a store rooted at dir. The directory is created lazily by
// GenerateAndSave; Load requires it to exist and be non-empty.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}
}

// Dir returns the store's directory.
func (s *Store) Dir() string { return s.dir }

// GenerateAndSave renders n fields of the given shape, each from a fresh
// random seed with a repetition period equal to length, and persists them
// with sequence-numbered names.
func (s *Store) GenerateAndSave(n, length, width int) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create noise dir: %w", err)
	}
	for i := 0; i < n; i++ {
		seed := rand.Int63n(genSeedLimit)
		gen := NewGenerator(length, width, length, seed, s.logger)

		s.logger.Info("generating noise field", "index", i, "rows", length, "cols", width, "seed", seed)
		field := gen.Render(genOctaves, 0, 0, genPersistence, genRelativeFactor)

		path := filepath.Join(s.dir, fmt.Sprintf("noise_%04d%s", i, fieldExt))
		if err := WriteField(path, field); err != nil {
			return err
		}
		s.logger.Info("noise field written", "file", path)
	}
	return nil
}

// Load deserializes the field at the given index, or a uniformly random one
// when index is negative. The index is relative to the lexicographic order
// of the stored files.
func (s *Store) Load(index int) (*Field, error) {
	files, err := s.list()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no field files in %s", ErrNotFound, s.dir)
	}
	if index < 0 {
		index = rand.Intn(len(files))
	}
	if index >= len(files) {
		return nil, fmt.Errorf("%w: index %d out of range (%d files)", ErrNotFound, index, len(files))
	}
	return ReadField(filepath.Join(s.dir, files[index]))
}

func (s *Store) list() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list noise dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fieldExt) {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// WriteField persists one field to path.
func WriteField(path string, f *Field) error {
	var buf bytes.Buffer
	buf.WriteString(fieldMagic)

	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(f.Rows))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(f.Cols))
	buf.Write(hdr[:])

	var cell [8]byte
	for _, v := range f.Data {
		binary.LittleEndian.PutUint64(cell[:], math.Float64bits(v))
		buf.Write(cell[:])
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write noise field: %w", err)
	}
	return nil
}

// ReadField deserializes one field from path.
func ReadField(path string) (*Field, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read noise field: %w", err)
	}
	if len(raw) < len(fieldMagic)+8 || string(raw[:len(fieldMagic)]) != fieldMagic {
		return nil, fmt.Errorf("read noise field %s: bad header", path)
	}
	rows := int(binary.LittleEndian.Uint32(raw[4:8]))
	cols := int(binary.LittleEndian.Uint32(raw[8:12]))
	body := raw[12:]
	if rows <= 0 || cols <= 0 || len(body) != rows*cols*8 {
		return nil, fmt.Errorf("read noise field %s: truncated body (%d×%d, %d bytes)", path, rows, cols, len(body))
	}
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[i*8:]))
	}
	return &Field{Rows: rows, Cols: cols, Data: data}, nil
}
