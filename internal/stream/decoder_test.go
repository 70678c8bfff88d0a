package stream

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Debugf(format string, args ...any) {
	l.Printf("debug: "+format, args...)
}

func (l *recordingLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func collect(t *testing.T, dec *Decoder) []string {
	t.Helper()
	var out []string
	for dec.Next() {
		out = append(out, dec.Payload())
	}
	return out
}

func TestDecoderYieldsTokenThenEnd(t *testing.T) {
	input := "data: {\"type\":\"token\",\"data\":\"Hi\"}\n\ndata: {\"type\":\"end\",\"data\":\"\"}\n\n"

	dec := NewDecoder(strings.NewReader(input))
	payloads := collect(t, dec)
	require.NoError(t, dec.Err())
	require.Len(t, payloads, 2)

	first, err := Parse(payloads[0])
	require.NoError(t, err)
	assert.Equal(t, Event{Kind: KindToken, Data: "Hi"}, first)

	second, err := Parse(payloads[1])
	require.NoError(t, err)
	assert.Equal(t, KindEnd, second.Kind)
	assert.Empty(t, second.Data)
}

func TestDecoderHoldsFramesSplitAcrossReads(t *testing.T) {
	input := "data: one\n\ndata: two\n\ndata: three\n\n"

	dec := NewDecoder(iotest.OneByteReader(strings.NewReader(input)))

	assert.Equal(t, []string{"one", "two", "three"}, collect(t, dec))
	assert.NoError(t, dec.Err())
}

func TestDecoderFrameParsing(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "crlf line endings",
			input: "data: a\r\n\r\ndata: b\r\n\r\n",
			want:  []string{"a", "b"},
		},
		{
			name:  "no space after colon",
			input: "data:tight\n\n",
			want:  []string{"tight"},
		},
		{
			name:  "only one leading space stripped",
			input: "data:   indented\n\n",
			want:  []string{"  indented"},
		},
		{
			name:  "multiple data lines joined",
			input: "data: first\ndata: second\n\n",
			want:  []string{"first\nsecond"},
		},
		{
			name:  "other fields ignored",
			input: "event: message\nid: 7\nretry: 100\n: keepalive\ndata: body\n\n",
			want:  []string{"body"},
		},
		{
			name:  "frames without data skipped",
			input: ": ping\n\nevent: noop\n\ndata: kept\n\n",
			want:  []string{"kept"},
		},
		{
			name:  "empty stream",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(strings.NewReader(tt.input))
			assert.Equal(t, tt.want, collect(t, dec))
			assert.NoError(t, dec.Err())
		})
	}
}

func TestDecoderDiscardsTrailingFragment(t *testing.T) {
	logger := &recordingLogger{}
	dec := NewDecoder(strings.NewReader("data: whole\n\ndata: {\"type\":\"tok"), WithLogger(logger))

	assert.Equal(t, []string{"whole"}, collect(t, dec))
	assert.NoError(t, dec.Err())

	lines := logger.Lines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "incomplete frame")
}

func TestDecoderIsNotRestartable(t *testing.T) {
	dec := NewDecoder(strings.NewReader("data: x\n\n"))
	require.True(t, dec.Next())
	require.False(t, dec.Next())
	assert.False(t, dec.Next())
	assert.Empty(t, dec.Payload())
}

func TestDecoderFrameTooLarge(t *testing.T) {
	input := "data: " + strings.Repeat("x", 64)

	dec := NewDecoder(strings.NewReader(input), WithMaxFrameBytes(16))

	assert.False(t, dec.Next())
	assert.ErrorIs(t, dec.Err(), ErrFrameTooLarge)
}

func TestDecoderReportsReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("data: before\n\n"), iotest.ErrReader(boom))

	dec := NewDecoder(r)

	assert.Equal(t, []string{"before"}, collect(t, dec))
	assert.ErrorIs(t, dec.Err(), boom)
}
