package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sync"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"
)

type decodeFunc func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error)

// sampleFormats is the lookup order for a sample name. Anything without a
// native decoder goes through FFmpeg.
var sampleFormats = []struct {
	ext    string
	decode decodeFunc
}{
	{".mp3", mp3.Decode},
	{".wav", func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) { return wav.Decode(rc) }},
	{".ogg", nil},
	{".flac", nil},
}

// LoadSamples decodes each named asset into memory and makes the result
// available to PlayBuffer by position. An asset that fails to load is
// logged and leaves a nil entry, so indices stay stable.
func (c *Context) LoadSamples(ctx context.Context, names []string) []*beep.Buffer {
	bufs := make([]*beep.Buffer, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf, err := c.loadSample(ctx, name)
			if err != nil {
				log.WithError(err).WithField("sample", name).Warn("Sample load failed")
				return
			}
			bufs[i] = buf
		}()
	}
	wg.Wait()

	loaded := 0
	for _, b := range bufs {
		if b != nil {
			loaded++
		}
	}
	log.Infof("Loaded %d/%d voice samples", loaded, len(names))

	c.mu.Lock()
	c.samples = bufs
	c.mu.Unlock()
	return append([]*beep.Buffer(nil), bufs...)
}

func (c *Context) loadSample(ctx context.Context, name string) (*beep.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSampleLoadFailed, name, err)
	}
	if c.assets == nil {
		return nil, fmt.Errorf("%w: %s: no asset directory", ErrSampleLoadFailed, name)
	}

	for _, f := range sampleFormats {
		file, err := c.assets.Open(path.Clean(name + f.ext))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSampleLoadFailed, name, err)
		}

		var (
			s      beep.Streamer
			format beep.Format
		)
		if f.decode != nil {
			ssc, fmtInfo, err := f.decode(file)
			if err != nil {
				file.Close()
				return nil, fmt.Errorf("%w: %s%s: %v", ErrSampleLoadFailed, name, f.ext, err)
			}
			defer ssc.Close()
			s, format = ssc, fmtInfo
		} else {
			pcm, err := DecodePCM(file)
			file.Close()
			if err != nil {
				return nil, fmt.Errorf("%w: %s%s: %v", ErrSampleLoadFailed, name, f.ext, err)
			}
			s = &pcmStreamer{pcm: pcm}
			format = beep.Format{SampleRate: SampleRate, NumChannels: Channels, Precision: 2}
		}
		return c.bufferAt(s, format), nil
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrSampleLoadFailed, name, fs.ErrNotExist)
}

// bufferAt renders s into memory at the context rate.
func (c *Context) bufferAt(s beep.Streamer, format beep.Format) *beep.Buffer {
	if format.SampleRate != c.sampleRate {
		s = beep.Resample(4, format.SampleRate, c.sampleRate, s)
	}
	buf := beep.NewBuffer(beep.Format{SampleRate: c.sampleRate, NumChannels: Channels, Precision: 2})
	buf.Append(s)
	return buf
}
