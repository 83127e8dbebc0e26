package target

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// Summary describes a snapshot stream read back by a reader.
type Summary struct {
	Header   Header          `json:"header"`
	Frames   uint64          `json:"frames"`
	Bytes    int64           `json:"bytes"`
	Tables   map[int32]int64 `json:"tables"`
	Size     int64           `json:"size,omitempty"`
	Checksum string          `json:"checksum,omitempty"`
}

// FrameFunc receives each decoded frame payload. The slice is only valid
// during the call.
type FrameFunc func(tableID int32, payload []byte) error

// Verify checks a snapshot file: magic, checksum, header and every frame.
// secret is required for sealed files.
func Verify(path string, secret []byte) (*Summary, error) {
	return VisitFrames(path, secret, nil)
}

// VisitFrames verifies a snapshot file and calls fn for every frame.
func VisitFrames(path string, secret []byte, fn FrameFunc) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() < int64(len(magicBytes))+checksumSize {
		return nil, ErrTruncated
	}

	bodyLen := stat.Size() - checksumSize
	expected := make([]byte, checksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, bodyLen, checksumSize), expected); err != nil {
		return nil, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, 0, bodyLen)); err != nil {
		return nil, err
	}
	if !bytes.Equal(h.Sum(nil), expected) {
		return nil, ErrChecksumMismatch
	}

	body := &countingReader{r: bufio.NewReader(io.NewSectionReader(f, 0, bodyLen))}
	sum, err := ReadStream(body, secret, fn)
	if err != nil {
		return nil, err
	}
	if body.n != bodyLen {
		return nil, fmt.Errorf("target: %d trailing bytes after terminator", bodyLen-body.n)
	}
	sum.Size = stat.Size()
	sum.Checksum = hex.EncodeToString(expected)
	return sum, nil
}

// ReadStream decodes a framed stream up to and including its terminator.
func ReadStream(r io.Reader, secret []byte, fn FrameFunc) (*Summary, error) {
	magic := make([]byte, len(magicBytes))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, truncated(err)
	}
	if !bytes.Equal(magic, magicBytes) {
		return nil, ErrInvalidMagic
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, truncated(err)
	}
	hdrLen := binary.BigEndian.Uint32(lenBuf[:])
	if hdrLen == 0 || hdrLen > maxHeaderSize {
		return nil, fmt.Errorf("target: invalid header length %d", hdrLen)
	}
	hdrJSON := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, hdrJSON); err != nil {
		return nil, truncated(err)
	}

	sum := &Summary{Tables: make(map[int32]int64)}
	if err := json.Unmarshal(hdrJSON, &sum.Header); err != nil {
		return nil, fmt.Errorf("target: unmarshal header: %w", err)
	}
	c, err := frameCipher(sum.Header, secret)
	if err != nil {
		return nil, err
	}

	var fh [frameHdrSize]byte
	var payload []byte
	for {
		if _, err := io.ReadFull(r, fh[:]); err != nil {
			return nil, truncated(err)
		}
		n := binary.BigEndian.Uint32(fh[:4])
		if n == terminatorLen {
			return sum, nil
		}
		tableID := int32(binary.BigEndian.Uint32(fh[4:]))

		if cap(payload) < int(n) {
			payload = make([]byte, n)
		}
		payload = payload[:n]
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, truncated(err)
		}

		plain := payload
		if c != nil {
			plain, err = c.Open(payload, frameAAD(sum.Frames, tableID))
			if err != nil {
				return nil, fmt.Errorf("target: frame %d: %w", sum.Frames, err)
			}
		}
		if fn != nil {
			if err := fn(tableID, plain); err != nil {
				return nil, err
			}
		}
		sum.Frames++
		sum.Bytes += int64(n)
		sum.Tables[tableID]++
	}
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
