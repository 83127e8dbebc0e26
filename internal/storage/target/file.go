package target

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/snapstream/internal/core/domain"
	"github.com/yndnr/snapstream/pkg/crypto/adaptive"
)

const (
	fileExtension = ".snap"
	tempExtension = ".tmp"
)

// FileConfig configures a FileTarget.
type FileConfig struct {
	// Dir is the output directory. Required.
	Dir string

	// ID names the target and the file. Default: a new ULID.
	ID string

	// Header is written at the start of the file. Version, CreatedAt,
	// Nonce and the sealing fields are filled in by OpenFile.
	Header Header

	// Secret enables frame sealing when non-empty.
	Secret []byte

	// Cipher selects the sealing algorithm. Default: chosen by hardware.
	Cipher adaptive.CipherType

	// QueueDepth bounds the number of queued writes.
	QueueDepth int

	Logger *slog.Logger
}

// FileInfo describes a published snapshot file.
type FileInfo struct {
	Path     string `json:"path"`
	Frames   uint64 `json:"frames"`
	Bytes    int64  `json:"bytes"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// FileTarget writes a framed snapshot stream to a local file.
type FileTarget struct {
	id        string
	tempPath  string
	finalPath string
	logger    *slog.Logger

	file  *os.File
	hash  hash.Hash
	fw    *frameWriter
	queue *writeQueue

	info FileInfo
}

var _ domain.Target = (*FileTarget)(nil)

// OpenFile creates the temporary file, writes the header and starts the
// target's I/O goroutine.
func OpenFile(cfg FileConfig) (*FileTarget, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("target: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("target: create dir: %w", err)
	}
	if cfg.ID == "" {
		cfg.ID = ulid.Make().String()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	hdr := cfg.Header
	hdr.Version = headerVersion
	hdr.CreatedAt = time.Now().UnixMilli()
	if hdr.Nonce == "" {
		hdr.Nonce = ulid.Make().String()
	}
	hdr.Sealed = len(cfg.Secret) > 0
	hdr.Cipher = ""
	if hdr.Sealed {
		typ, err := adaptive.ParseCipherType(string(cfg.Cipher))
		if err != nil {
			return nil, err
		}
		hdr.Cipher = string(typ)
	}
	c, err := frameCipher(hdr, cfg.Secret)
	if err != nil {
		return nil, err
	}

	t := &FileTarget{
		id:        cfg.ID,
		tempPath:  filepath.Join(cfg.Dir, cfg.ID+tempExtension),
		finalPath: filepath.Join(cfg.Dir, cfg.ID+fileExtension),
		logger:    cfg.Logger,
		hash:      sha256.New(),
	}

	t.file, err = os.Create(t.tempPath)
	if err != nil {
		return nil, fmt.Errorf("target: create temp file: %w", err)
	}
	t.fw = &frameWriter{w: io.MultiWriter(t.file, t.hash), cipher: c}
	if err := t.fw.writePreamble(hdr); err != nil {
		t.file.Close()
		os.Remove(t.tempPath)
		return nil, err
	}

	t.queue = newWriteQueue(cfg.QueueDepth, t.fw.writeFrame)
	return t, nil
}

// ID implements domain.Target.
func (t *FileTarget) ID() string { return t.id }

// Path returns the path the file is published at on Close.
func (t *FileTarget) Path() string { return t.finalPath }

// Format implements domain.Target. File targets can be closed as soon as
// their table is drained.
func (t *FileTarget) Format() domain.Format {
	return domain.Format{Kind: domain.FormatFile, EarlyCloseAllowed: true}
}

// NeedsFinalClose implements domain.Target.
func (t *FileTarget) NeedsFinalClose() bool { return true }

// Write implements domain.Target.
func (t *FileTarget) Write(tableID int32, payload []byte) *domain.Future {
	return t.queue.submit(tableID, payload)
}

// Close flushes queued writes, writes the terminator and checksum trailer,
// and renames the file into place. If any write failed the temporary file is
// removed and the write error returned.
func (t *FileTarget) Close() error {
	if err := t.queue.shutdown(); err != nil {
		if !errors.Is(err, domain.ErrTargetClosed) {
			t.file.Close()
			os.Remove(t.tempPath)
		}
		return err
	}

	if err := t.finish(); err != nil {
		t.file.Close()
		os.Remove(t.tempPath)
		return err
	}

	t.logger.Debug("snapshot file published",
		"target_id", t.id,
		"path", t.finalPath,
		"frames", t.info.Frames,
		"bytes", t.info.Bytes)
	return nil
}

func (t *FileTarget) finish() error {
	if err := t.fw.writeTerminator(); err != nil {
		return err
	}
	sum := t.hash.Sum(nil)
	if _, err := t.file.Write(sum); err != nil {
		return fmt.Errorf("target: write checksum: %w", err)
	}
	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("target: sync: %w", err)
	}
	stat, err := t.file.Stat()
	if err != nil {
		return err
	}
	if err := t.file.Close(); err != nil {
		return fmt.Errorf("target: close: %w", err)
	}
	if err := os.Rename(t.tempPath, t.finalPath); err != nil {
		return fmt.Errorf("target: rename: %w", err)
	}

	t.info = FileInfo{
		Path:     t.finalPath,
		Frames:   t.fw.frames,
		Bytes:    t.fw.bytes,
		Size:     stat.Size(),
		Checksum: hex.EncodeToString(sum),
	}
	return nil
}

// Info returns the published file description. Valid after a successful Close.
func (t *FileTarget) Info() FileInfo {
	return t.info
}
