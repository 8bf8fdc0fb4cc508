package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/accesstechnology-mike/drumclick/internal/audio"
	"github.com/accesstechnology-mike/drumclick/internal/audio/device"
	"github.com/accesstechnology-mike/drumclick/internal/metronome"
	"github.com/accesstechnology-mike/drumclick/internal/oscout"
	"github.com/accesstechnology-mike/drumclick/internal/rhythm"
	"github.com/accesstechnology-mike/drumclick/internal/stream"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logrus.WithField("component", "main")

// abort stops every goroutine in g and waits for them before returning err.
func abort(cancel context.CancelFunc, g *errgroup.Group, err error) error {
	cancel()
	g.Wait()
	return err
}

// engine is the audio clock plus the scheduler driving it, shared by
// every subcommand.
type engine struct {
	audio    *audio.Context
	pipeline *audio.Pipeline // headless only
	sched    *metronome.Scheduler
}

func newEngine(rc rhythm.Config) *engine {
	e := &engine{}
	var open audio.BackendFactory = device.Open
	if cfg.Headless() {
		e.pipeline = audio.NewPipeline()
		open = e.pipeline.Factory()
	}
	e.audio = audio.NewContext(audio.SampleRate, open, os.DirFS(cfg.AssetDir))
	e.sched = metronome.New(e.audio, rc, cfg.Scheduler())
	return e
}

// run starts the scheduler loop, the optional OSC mirror and the monitor
// fan-out in g. The monitor broadcaster is returned when rendering
// headless.
func (e *engine) run(ctx context.Context, g *errgroup.Group) *stream.Broadcaster {
	g.Go(func() error {
		e.sched.Run(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return e.audio.Close()
	})

	if cfg.OSCTarget != "" {
		conn, err := oscout.Dial(cfg.OSCTarget)
		if err != nil {
			log.WithError(err).Warn("OSC output disabled")
		} else {
			events, cancel := e.sched.Subscribe(64)
			g.Go(func() error {
				defer cancel()
				defer conn.Close()
				log.Infof("Sending OSC beats to %s", cfg.OSCTarget)
				return oscout.Run(ctx, events, conn, e.audio)
			})
		}
	}

	if e.pipeline == nil {
		return nil
	}
	b := stream.NewBroadcaster(stream.DefaultBuffer)
	g.Go(func() error {
		b.Run(ctx, e.pipeline.Frames())
		return nil
	})
	return b
}

// logBeats prints the active beat at info level for terminal use.
func (e *engine) logBeats(ctx context.Context, g *errgroup.Group) {
	events, cancel := e.sched.Subscribe(16)
	g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-events:
				switch ev.Kind {
				case metronome.EventActiveBeat:
					if ev.Beat >= 0 {
						log.Debugf("Beat %d", ev.Beat+1)
					}
				case metronome.EventTempo:
					log.Infof("Tempo %d BPM", ev.BPM)
				case metronome.EventStarted:
					log.Info("Playing")
				case metronome.EventStopped:
					log.Info("Stopped")
				}
			}
		}
	})
}

// serveHTTP runs srv until ctx ends.
func serveHTTP(ctx context.Context, g *errgroup.Group, port int, h http.Handler) {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Infof("Listening on :%d", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
