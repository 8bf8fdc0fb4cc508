package stream

import (
	"context"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/accesstechnology-mike/drumclick/internal/audio"
)

// MP3Handler serves the monitor mix as a chunked MP3 stream. Each
// connection runs its own ffmpeg encoder.
type MP3Handler struct {
	broadcaster *Broadcaster
	bitrate     int
}

// NewMP3Handler creates the HTTP monitor. A non-positive bitrate uses
// 128 kbit/s.
func NewMP3Handler(b *Broadcaster, bitrate int) *MP3Handler {
	if bitrate <= 0 {
		bitrate = 128000
	}
	return &MP3Handler{broadcaster: b, bitrate: bitrate}
}

func ffmpegArgs(bitrate int) []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", strconv.Itoa(bitrate/1000) + "k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

func (h *MP3Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET required", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(h.bitrate)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.WithError(err).Error("MP3 monitor: stdin pipe")
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.WithError(err).Error("MP3 monitor: stdout pipe")
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		log.WithError(err).Error("MP3 monitor: ffmpeg start")
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	defer cmd.Wait()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", "drumclick monitor")

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	log.Infof("MP3 listener connected (total: %d)", h.broadcaster.ListenerCount())
	defer log.Info("MP3 listener disconnected")

	go func() {
		defer stdin.Close()
		var pcm []byte
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Done():
				return
			case frame := <-listener.C:
				pcm = audio.SamplesToBytes(frame)
				if _, err := stdin.Write(pcm); err != nil {
					return
				}
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				cancel()
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				log.WithError(err).Warn("MP3 monitor: ffmpeg read")
			}
			break
		}
	}
}
