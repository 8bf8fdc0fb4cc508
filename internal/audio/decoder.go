package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
)

// DecodePCM runs FFmpeg over r and returns interleaved stereo int16
// samples at 48kHz. It handles any format FFmpeg understands.
func DecodePCM(r io.Reader) ([]int16, error) {
	cmd := exec.Command("ffmpeg",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = r
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	// Ensure even byte count for int16 alignment
	if len(out)%2 != 0 {
		out = out[:len(out)-1]
	}

	samples := make([]int16, len(out)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(out[i*2 : i*2+2]))
	}
	return samples, nil
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// pcmStreamer adapts interleaved stereo int16 PCM to a beep.Streamer.
type pcmStreamer struct {
	pcm []int16
	pos int
}

func (p *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	frames := (len(p.pcm) - p.pos) / Channels
	if frames <= 0 {
		return 0, false
	}
	n := len(samples)
	if frames < n {
		n = frames
	}
	for i := 0; i < n; i++ {
		samples[i][0] = float64(p.pcm[p.pos]) / 32768
		samples[i][1] = float64(p.pcm[p.pos+1]) / 32768
		p.pos += Channels
	}
	return n, true
}

func (p *pcmStreamer) Err() error {
	return nil
}
