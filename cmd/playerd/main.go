// ABOUTME: Entry point for the playback engine daemon
// ABOUTME: Parses CLI flags, wires every component, and runs the player loop until signaled
package main

import (
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/nimbusaudio/playcore/internal/clock"
	"github.com/nimbusaudio/playcore/internal/config"
	"github.com/nimbusaudio/playcore/internal/device"
	"github.com/nimbusaudio/playcore/internal/dispatch"
	"github.com/nimbusaudio/playcore/internal/engine"
	"github.com/nimbusaudio/playcore/internal/localsink"
	"github.com/nimbusaudio/playcore/internal/mediadb"
	"github.com/nimbusaudio/playcore/internal/outputcoord"
	"github.com/nimbusaudio/playcore/internal/pump"
	"github.com/nimbusaudio/playcore/internal/queue"
	"github.com/nimbusaudio/playcore/internal/remote"
	"github.com/nimbusaudio/playcore/internal/transcoder"
	"github.com/nimbusaudio/playcore/internal/version"
)

const discoveryInterval = 15 * time.Second

func main() {
	var flags config.Flags
	parser := kong.Must(&flags)

	cfgArgs, err := config.LoadArgs()
	parser.FatalIfErrorf(err)

	if _, err := parser.Parse(append(cfgArgs, os.Args[1:]...)); err != nil {
		parser.FatalIfErrorf(err)
	}

	if flags.SettingsFile == "" {
		flags.SettingsFile, err = config.DefaultSettingsPath()
		if err != nil {
			log.Fatalf("playerd: %v", err)
		}
	}

	log.Printf("Starting %s %s: listen=%s settings=%s", version.Product, version.Version, flags.Listen, flags.SettingsFile)

	settings, err := config.Open(flags.SettingsFile)
	if err != nil {
		log.Fatalf("playerd: open settings store: %v", err)
	}
	defer settings.Close()

	var db mediadb.DB
	if flags.MediaDSN != "" {
		pg, err := mediadb.Open(flags.MediaDSN)
		if err != nil {
			log.Fatalf("playerd: open media database: %v", err)
		}
		defer pg.Close()
		db = pg
	} else {
		log.Printf("playerd: no media DSN given, starting with an empty queue")
	}

	tc := transcoder.NewPCM(func(path string) (io.ReadSeekCloser, error) {
		return os.Open(path)
	})

	registry := device.NewRegistry()
	disc := device.NewDiscovery(registry, discoveryInterval)
	go disc.Run()
	defer disc.Stop()

	wsDriver := remote.NewWSDriver()
	dispatcher := dispatch.New()

	var coord *outputcoord.Coordinator
	sink := localsink.NewMalgo(func(s localsink.State) {
		coord.OnLocalState(s)
	})
	if err := sink.Open(clock.SampleRate, 2); err != nil {
		log.Printf("playerd: local audio unavailable: %v", err)
	}
	defer sink.Close()

	c := clock.New(sink)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	opener := engine.NewMediaOpener(db, tc)
	q := queue.New(opener, rng)

	stopFromOutputs := make(chan struct{}, 1)
	coord = outputcoord.New(registry, sink, wsDriver, c, dispatcher, func() {
		select {
		case stopFromOutputs <- struct{}{}:
		default:
		}
	})

	p := pump.New(q, c, tc, nil)
	p.Local = sink
	p.RemoteOutputs = func() []pump.RemoteOutput {
		var out []pump.RemoteOutput
		for _, d := range registry.All() {
			if !d.Selected || d.Session == nil {
				continue
			}
			if ro, ok := d.Session.(pump.RemoteOutput); ok {
				out = append(out, ro)
			}
		}
		return out
	}

	eng := engine.New(dispatcher, q, c, p, coord, db, settings)
	p.Events = eng

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("playerd: received %v, shutting down", sig)
		case <-stopFromOutputs:
			log.Printf("playerd: all outputs failed, shutting down")
		}
		eng.PlaybackStop()
		close(stop)
	}()

	go logStatusUpdates(eng)

	eng.Run(stop)
	log.Printf("playerd: stopped")
}

func logStatusUpdates(eng *engine.Engine) {
	for status := range eng.Updates() {
		log.Printf("playerd: state=%s id=%d pos=%dms vol=%d shuffle=%v repeat=%v",
			status.State, status.ID, status.PosMs, status.Volume, status.Shuffle, status.Repeat)
	}
}
