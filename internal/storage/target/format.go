package target

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/yndnr/snapstream/pkg/crypto/adaptive"
)

var magicBytes = []byte("SNAPSTRM")

const (
	headerVersion = 1
	checksumSize  = 32
	frameHdrSize  = 8

	// terminatorLen marks the end of the frame sequence.
	terminatorLen = math.MaxUint32

	// maxHeaderSize bounds the JSON header read back by readers.
	maxHeaderSize = 1 << 20

	frameKeyInfo = "snapstream frame"
)

var (
	ErrInvalidMagic     = errors.New("target: invalid magic bytes")
	ErrChecksumMismatch = errors.New("target: checksum mismatch")
	ErrTruncated        = errors.New("target: truncated stream")
	ErrSecretRequired   = errors.New("target: sealed snapshot requires a secret")
	ErrFrameTooLarge    = errors.New("target: frame too large")
)

// Header describes the content of a snapshot stream.
type Header struct {
	Version    int     `json:"version"`
	CreatedAt  int64   `json:"created_at"`
	TxnID      int64   `json:"txn_id"`
	HostID     string  `json:"host_id,omitempty"`
	TableID    int32   `json:"table_id"`
	TableName  string  `json:"table_name,omitempty"`
	Partitions []int32 `json:"partitions,omitempty"`
	Nonce      string  `json:"nonce"`
	Sealed     bool    `json:"sealed"`
	Cipher     string  `json:"cipher,omitempty"`
}

// frameCipher returns the cipher for a header, or nil when unsealed.
func frameCipher(h Header, secret []byte) (adaptive.Cipher, error) {
	if !h.Sealed {
		return nil, nil
	}
	if len(secret) == 0 {
		return nil, ErrSecretRequired
	}
	key, err := adaptive.DeriveKey(secret, []byte(h.Nonce), frameKeyInfo)
	if err != nil {
		return nil, err
	}
	return adaptive.NewWithType(key, adaptive.CipherType(h.Cipher))
}

// frameAAD binds a sealed frame to its position and table.
func frameAAD(index uint64, tableID int32) []byte {
	var aad [12]byte
	binary.BigEndian.PutUint64(aad[:8], index)
	binary.BigEndian.PutUint32(aad[8:], uint32(tableID))
	return aad[:]
}

// frameWriter encodes the framing onto w.
type frameWriter struct {
	w      io.Writer
	cipher adaptive.Cipher
	frames uint64
	bytes  int64
}

func (fw *frameWriter) writePreamble(h Header) error {
	hdrJSON, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("target: marshal header: %w", err)
	}
	var hdrLen [4]byte
	binary.BigEndian.PutUint32(hdrLen[:], uint32(len(hdrJSON)))

	for _, b := range [][]byte{magicBytes, hdrLen[:], hdrJSON} {
		if _, err := fw.w.Write(b); err != nil {
			return fmt.Errorf("target: write header: %w", err)
		}
	}
	return nil
}

func (fw *frameWriter) writeFrame(tableID int32, payload []byte) error {
	if fw.cipher != nil {
		sealed, err := fw.cipher.Seal(payload, frameAAD(fw.frames, tableID))
		if err != nil {
			return fmt.Errorf("target: seal frame: %w", err)
		}
		payload = sealed
	}
	if uint64(len(payload)) >= terminatorLen {
		return ErrFrameTooLarge
	}

	var hdr [frameHdrSize]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(hdr[4:], uint32(tableID))
	if _, err := fw.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("target: write frame header: %w", err)
	}
	if _, err := fw.w.Write(payload); err != nil {
		return fmt.Errorf("target: write frame: %w", err)
	}
	fw.frames++
	fw.bytes += int64(len(payload))
	return nil
}

func (fw *frameWriter) writeTerminator() error {
	var hdr [frameHdrSize]byte
	binary.BigEndian.PutUint32(hdr[:4], terminatorLen)
	if _, err := fw.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("target: write terminator: %w", err)
	}
	return nil
}
