package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/trackbuf/trackbuf/agent/internal/record"
)

// formatVersion is the envelope version written by Save. Load discards files
// carrying any other version.
const formatVersion = 1

// Compression selects how Save encodes the envelope on disk.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// zstdMagic is the frame header every zstd stream starts with.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

var errUnsupportedVersion = errors.New("unsupported format version")

// envelope is the on-disk layout of the pending-record list.
type envelope struct {
	Version int             `json:"version"`
	Records []record.Record `json:"records"`
}

// Store persists the full pending-record list to a single file.
// It is not safe for concurrent Save calls; the queue manager serialises them.
type Store struct {
	path        string
	compression Compression
	logger      *slog.Logger

	// The zstd codec is built on first use and reused by every Save and Load.
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error

	// OnCorrupt, if set, is called after a corrupt file has been discarded.
	OnCorrupt func(err error)
}

// New returns a Store writing to path. The parent directory is created on
// the first Save if it does not already exist.
func New(path string, compression Compression, logger *slog.Logger) *Store {
	if compression == "" {
		compression = CompressionNone
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, compression: compression, logger: logger}
}

// Path returns the file the store reads and writes.
func (s *Store) Path() string { return s.path }

// Load returns the previously saved records. A missing or empty file yields
// an empty list. A file that cannot be decoded is logged, deleted and
// recreated empty so later loads do not trip over the same bytes again.
func (s *Store) Load() []record.Record {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("store: read failed, starting empty", "path", s.path, "err", err)
		}
		return []record.Record{}
	}
	if len(data) == 0 {
		return []record.Record{}
	}

	records, err := s.decode(data)
	if err != nil {
		s.logger.Warn("store: discarding unreadable file", "path", s.path, "err", err)
		s.reset()
		if s.OnCorrupt != nil {
			s.OnCorrupt(err)
		}
		return []record.Record{}
	}

	s.logger.Debug("store: loaded pending records", "path", s.path, "count", len(records))
	return records
}

// Save overwrites the file with records. The write goes to a temporary file
// in the same directory which is then renamed over the target, so a crash
// mid-write leaves the previous snapshot intact.
func (s *Store) Save(records []record.Record) error {
	data, err := s.encode(records)
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create dir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: rename into place: %w", err)
	}
	return nil
}

// reset deletes the file and recreates it empty. Failures are logged only.
func (s *Store) reset() {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("store: remove corrupt file failed", "path", s.path, "err", err)
	}
	if err := os.WriteFile(s.path, nil, 0o644); err != nil {
		s.logger.Warn("store: recreate empty file failed", "path", s.path, "err", err)
	}
}

func (s *Store) encode(records []record.Record) ([]byte, error) {
	if records == nil {
		records = []record.Record{}
	}
	raw, err := json.Marshal(envelope{Version: formatVersion, Records: records})
	if err != nil {
		return nil, err
	}
	if s.compression != CompressionZstd {
		return raw, nil
	}

	if err := s.initCodec(); err != nil {
		return nil, err
	}
	return s.encoder.EncodeAll(raw, nil), nil
}

func (s *Store) initCodec() error {
	s.codecOnce.Do(func() {
		s.encoder, s.codecErr = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if s.codecErr != nil {
			return
		}
		s.decoder, s.codecErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	if s.codecErr != nil {
		return fmt.Errorf("zstd: %w", s.codecErr)
	}
	return nil
}

// decode accepts both plain and zstd-framed envelopes regardless of the
// configured compression, so changing the setting never strands data.
func (s *Store) decode(data []byte) ([]record.Record, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		if err := s.initCodec(); err != nil {
			return nil, err
		}
		var err error
		data, err = s.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
	}
	return parseEnvelope(data)
}

func parseEnvelope(data []byte) ([]record.Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	if env.Version != formatVersion {
		return nil, fmt.Errorf("%w %d", errUnsupportedVersion, env.Version)
	}
	if env.Records == nil {
		return []record.Record{}, nil
	}
	for i, r := range env.Records {
		if r.Payload == nil {
			env.Records[i].Payload = map[string]string{}
		}
	}
	return env.Records, nil
}
