package transcoder

import (
	"bytes"
	"io"
	"testing"

	"github.com/nimbusaudio/playcore/internal/mediadb"
)

type memFile struct {
	*bytes.Reader
}

func (m memFile) Close() error { return nil }

func openMem(data []byte) func(string) (io.ReadSeekCloser, error) {
	return func(string) (io.ReadSeekCloser, error) {
		return memFile{bytes.NewReader(data)}, nil
	}
}

func TestPCMTranscodeReadsBytes(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i)
	}
	tc := NewPCM(openMem(data))

	ctx, err := tc.Setup(mediadb.FileMeta{Path: "x.pcm"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer tc.Cleanup(ctx)

	buf := make([]byte, 100)
	n, err := tc.Transcode(ctx, buf)
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if n != 100 {
		t.Fatalf("expected 100 bytes, got %d", n)
	}
}

func TestPCMTranscodeEOF(t *testing.T) {
	tc := NewPCM(openMem([]byte{1, 2, 3}))
	ctx, _ := tc.Setup(mediadb.FileMeta{Path: "x.pcm"})
	defer tc.Cleanup(ctx)

	buf := make([]byte, 3)
	if _, err := tc.Transcode(ctx, buf); err != nil {
		t.Fatalf("Transcode: %v", err)
	}

	n, err := tc.Transcode(ctx, buf)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got n=%d err=%v", n, err)
	}
}

func TestPCMSeekComputesByteOffset(t *testing.T) {
	data := make([]byte, bytesPerMs*100)
	tc := NewPCM(openMem(data))
	ctx, _ := tc.Setup(mediadb.FileMeta{Path: "x.pcm"})
	defer tc.Cleanup(ctx)

	ms, err := tc.Seek(ctx, 50)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if ms != 50 {
		t.Fatalf("expected actual ms 50, got %d", ms)
	}
}
