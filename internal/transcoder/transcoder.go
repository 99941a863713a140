// ABOUTME: Transcoder contract and a PCM pass-through implementation
// ABOUTME: Codec implementation itself is out of scope; this is the seam
package transcoder

import (
	"fmt"
	"io"

	"github.com/nimbusaudio/playcore/internal/mediadb"
)

// Transcoder opens a media item and yields 16-bit stereo 44.1kHz PCM.
type Transcoder interface {
	Setup(meta mediadb.FileMeta) (ctx any, err error)
	// Transcode fills out with up to len(out) bytes. Returns the number of
	// bytes written; n <= 0 signals EOF or error.
	Transcode(ctx any, out []byte) (n int, err error)
	// Seek seeks to the given offset in milliseconds and returns the actual
	// position seeked to, which may differ from the request.
	Seek(ctx any, ms int) (actualMs int, err error)
	Cleanup(ctx any)
}

// bytesPerMs is the byte rate of 16-bit stereo PCM at 44.1kHz, rounded down
// to whole bytes (the exact rate is 176.4 bytes per millisecond).
const bytesPerMs = 44100 * 2 * 2 / 1000

// PCM is a pass-through Transcoder reading already-PCM files directly off
// disk, used by tests and as the engine's safe default when no richer
// decoder is wired. Grounded on the teacher's pkg/audio/decode/pcm.go.
type PCM struct {
	open func(path string) (io.ReadSeekCloser, error)
}

type pcmCtx struct {
	r io.ReadSeekCloser
}

// NewPCM creates a PCM pass-through transcoder. open resolves a file path to
// a seekable reader; tests may supply an in-memory implementation.
func NewPCM(open func(path string) (io.ReadSeekCloser, error)) *PCM {
	return &PCM{open: open}
}

func (p *PCM) Setup(meta mediadb.FileMeta) (any, error) {
	r, err := p.open(meta.Path)
	if err != nil {
		return nil, fmt.Errorf("transcoder: open %q: %w", meta.Path, err)
	}
	return &pcmCtx{r: r}, nil
}

func (p *PCM) Transcode(ctx any, out []byte) (int, error) {
	c := ctx.(*pcmCtx)
	n, err := c.r.Read(out)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("transcoder: read: %w", err)
	}
	if err == io.EOF && n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (p *PCM) Seek(ctx any, ms int) (int, error) {
	c := ctx.(*pcmCtx)
	// Whole 4-byte frames at 44.1kHz, so the offset matches ms to within
	// one frame and stays frame-aligned.
	offset := int64(ms) * 44100 / 1000 * 4
	if _, err := c.r.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("transcoder: seek: %w", err)
	}
	return ms, nil
}

func (p *PCM) Cleanup(ctx any) {
	c := ctx.(*pcmCtx)
	c.r.Close()
}
