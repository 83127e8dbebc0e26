package target

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/yndnr/snapstream/internal/core/domain"
)

// maxBurst caps the limiter burst so a large frame is paced in chunks
// instead of leaving the socket idle and then bursting.
const maxBurst = 1 << 20

// StreamConfig configures a StreamTarget.
type StreamConfig struct {
	// ID names the target. Default: a new ULID.
	ID string

	// Header is sent before the first frame.
	Header Header

	// RateBytesPerSec limits outgoing bandwidth. Zero means unlimited.
	RateBytesPerSec int64

	QueueDepth int
	Logger     *slog.Logger
}

// StreamInfo describes a finished snapshot stream.
type StreamInfo struct {
	ID     string `json:"id"`
	Frames uint64 `json:"frames"`
	Bytes  int64  `json:"bytes"`
}

// StreamTarget writes frames to a connection such as a rejoin socket.
// Streams cannot be closed while other tables are still being sent on the
// same transport, so early close is not allowed.
type StreamTarget struct {
	id      string
	w       io.WriteCloser
	fw      *frameWriter
	limiter *rate.Limiter
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queue  *writeQueue

	info StreamInfo
}

var _ domain.Target = (*StreamTarget)(nil)

// NewStream sends the header on w and returns a target streaming frames to it.
// Stream frames are never sealed; the transport is expected to provide
// confidentiality.
func NewStream(w io.WriteCloser, cfg StreamConfig) (*StreamTarget, error) {
	if cfg.ID == "" {
		cfg.ID = ulid.Make().String()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	hdr := cfg.Header
	hdr.Version = headerVersion
	hdr.CreatedAt = time.Now().UnixMilli()
	hdr.Sealed = false
	hdr.Cipher = ""
	if hdr.Nonce == "" {
		hdr.Nonce = ulid.Make().String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &StreamTarget{
		id:     cfg.ID,
		w:      w,
		fw:     &frameWriter{w: w},
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.RateBytesPerSec > 0 {
		burst := maxBurst
		if cfg.RateBytesPerSec < maxBurst {
			burst = int(cfg.RateBytesPerSec)
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RateBytesPerSec), burst)
	}

	if err := t.fw.writePreamble(hdr); err != nil {
		cancel()
		return nil, err
	}
	t.queue = newWriteQueue(cfg.QueueDepth, t.send)
	return t, nil
}

func (t *StreamTarget) send(tableID int32, payload []byte) error {
	if err := t.pace(frameHdrSize + len(payload)); err != nil {
		return err
	}
	return t.fw.writeFrame(tableID, payload)
}

// pace waits for n bytes of budget, at most one burst at a time.
func (t *StreamTarget) pace(n int) error {
	if t.limiter == nil {
		return nil
	}
	burst := t.limiter.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := t.limiter.WaitN(t.ctx, chunk); err != nil {
			return fmt.Errorf("target: rate limit: %w", err)
		}
		n -= chunk
	}
	return nil
}

// ID implements domain.Target.
func (t *StreamTarget) ID() string { return t.id }

// Format implements domain.Target.
func (t *StreamTarget) Format() domain.Format {
	return domain.Format{Kind: domain.FormatStream, EarlyCloseAllowed: false}
}

// NeedsFinalClose implements domain.Target.
func (t *StreamTarget) NeedsFinalClose() bool { return true }

// Write implements domain.Target.
func (t *StreamTarget) Write(tableID int32, payload []byte) *domain.Future {
	return t.queue.submit(tableID, payload)
}

// Close drains queued frames, sends the terminator and closes the writer.
func (t *StreamTarget) Close() error {
	err := t.queue.shutdown()
	if errors.Is(err, domain.ErrTargetClosed) {
		return err
	}
	t.cancel()
	t.info = StreamInfo{ID: t.id, Frames: t.fw.frames, Bytes: t.fw.bytes}

	if err == nil {
		err = t.fw.writeTerminator()
	}
	if cerr := t.w.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("target: close stream: %w", cerr)
	}

	t.logger.Debug("snapshot stream closed",
		"target_id", t.id,
		"frames", t.fw.frames,
		"bytes", t.fw.bytes,
		"error", err)
	return err
}

// Info returns what was sent. Valid after Close.
func (t *StreamTarget) Info() StreamInfo {
	return t.info
}
