package stream

import (
	"bytes"
	"errors"
	"io"
	"strings"
)

const (
	// DefaultMaxFrameBytes bounds a single buffered frame.
	DefaultMaxFrameBytes = 1 << 20

	readChunkSize = 4 * 1024
)

// ErrFrameTooLarge reports a frame that grew past the configured limit
// without a delimiter.
var ErrFrameTooLarge = errors.New("stream: frame exceeds size limit")

var frameDelimiter = []byte("\n\n")

// Decoder splits a server-sent event byte stream into data payloads, one per
// frame. Frames are yielded only after their blank-line delimiter arrives, so
// a frame split across reads is held until it completes. A Decoder is not
// restartable: once Next returns false it stays false.
type Decoder struct {
	r        io.Reader
	chunk    []byte
	buf      []byte
	maxFrame int
	logger   Logger

	payload string
	err     error
	eof     bool
	done    bool
}

// NewDecoder wraps r. The reader is consumed lazily by Next.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	o := buildOptions(opts)
	return &Decoder{
		r:        r,
		chunk:    make([]byte, readChunkSize),
		maxFrame: o.maxFrameBytes,
		logger:   o.logger,
	}
}

// Next advances to the next data payload. It returns false at end of stream
// or on a read failure; Err distinguishes the two.
func (d *Decoder) Next() bool {
	if d.done {
		return false
	}
	for {
		if frame, ok := d.cutFrame(); ok {
			if payload, ok := dataSegment(frame); ok {
				d.payload = payload
				return true
			}
			continue
		}
		if d.eof || d.err != nil {
			d.finish()
			return false
		}
		if len(d.buf) > d.maxFrame {
			d.err = ErrFrameTooLarge
			d.finish()
			return false
		}
		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.append(d.chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.eof = true
			} else {
				d.err = err
			}
		}
	}
}

// Payload returns the data segment of the frame found by the last Next call.
func (d *Decoder) Payload() string {
	return d.payload
}

// Err returns the first non-EOF read error, or ErrFrameTooLarge.
func (d *Decoder) Err() error {
	return d.err
}

func (d *Decoder) append(p []byte) {
	d.buf = append(d.buf, p...)
	if bytes.IndexByte(d.buf, '\r') >= 0 {
		// A lone trailing \r stays until the next read supplies its \n.
		d.buf = bytes.ReplaceAll(d.buf, []byte("\r\n"), []byte("\n"))
	}
}

func (d *Decoder) cutFrame() ([]byte, bool) {
	idx := bytes.Index(d.buf, frameDelimiter)
	if idx < 0 {
		return nil, false
	}
	frame := d.buf[:idx]
	d.buf = d.buf[idx+len(frameDelimiter):]
	return frame, true
}

func (d *Decoder) finish() {
	d.done = true
	d.payload = ""
	if d.eof && len(bytes.TrimSpace(d.buf)) > 0 {
		d.logger.Debugf("stream: discarding %d byte incomplete frame at end of stream", len(d.buf))
	}
	d.buf = nil
}

// dataSegment joins the data lines of one frame. Other SSE fields and
// comments are ignored.
func dataSegment(frame []byte) (string, bool) {
	var lines []string
	for _, line := range strings.Split(string(frame), "\n") {
		value, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		lines = append(lines, strings.TrimPrefix(value, " "))
	}
	if len(lines) == 0 {
		return "", false
	}
	return strings.Join(lines, "\n"), true
}
