package main

/*------------------------------------------------------------------
 *
 * Purpose:	Command-line front end: discover DACs, open a WAV file,
 *		and stream it, in the idiom of the teacher's cmd/direwolf
 *		main -- wire the pieces together, handle the signal, and
 *		get out of the way.
 *
 *------------------------------------------------------------------*/

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"

	"github.com/doismellburning/ildastream/core"
)

const listModeWindow = 2500 * time.Millisecond

func main() {
	cfg, err := core.ParseFlags(os.Args[1:], core.Config{})
	if err != nil {
		os.Exit(2)
	}

	if cfg.Debug {
		core.Logger.SetLevel(log.DebugLevel)
	}

	listener := core.NewListener()

	if cfg.ListOnly {
		snapshots := make(chan core.DacSnapshot, 8)
		listener.Subscribe(func(s core.DacSnapshot) {
			select {
			case snapshots <- s:
			default:
			}
		})
		runListMode(snapshots)
		return
	}

	if cfg.WavPath == "" {
		fmt.Fprintln(os.Stderr, "etherdream-play: --wav is required (or --list to browse DACs)")
		os.Exit(2)
	}

	dac, err := resolveDac(cfg.DacSelector, listener)
	if err != nil {
		core.Logger.Fatalf("selecting DAC: %v", err)
	}

	wav, err := core.OpenWavReader(cfg.WavPath)
	if err != nil {
		core.Logger.Fatalf("opening WAV: %v", err)
	}
	defer wav.Close()

	var sink core.AudioSink = core.NullAudioSink{}
	if !cfg.NoAudio {
		if err := portaudio.Initialize(); err != nil {
			core.Logger.Fatalf("initializing audio: %v", err)
		}
		defer portaudio.Terminate()

		paSink, err := core.NewPortAudioSink(float64(wav.SampleRate()), int(core.FrameSamples), wav.BitsPerSample())
		if err != nil {
			core.Logger.Fatalf("opening audio output: %v", err)
		}
		defer paSink.Close()
		sink = paSink
	}

	var sessionLog *core.SessionLog
	if cfg.SessionLog != "" {
		sessionLog, err = core.OpenSessionLog(cfg.SessionLog)
		if err != nil {
			core.Logger.Fatalf("opening session log: %v", err)
		}
		defer sessionLog.Close()
	}

	supervisor := core.NewSupervisor(dac)
	go supervisor.Run()
	defer supervisor.Shutdown()

	onDisp := func(position float32, frame core.DisplayFrame, isSeek bool) {
		if sessionLog != nil {
			_ = sessionLog.LogFrame(position, supervisor.Status())
		}
	}

	engine := core.NewEngine(wav, sink, onDisp, supervisor.AddFrame)
	go func() {
		if err := engine.Run(); err != nil {
			core.Logger.Errorf("playback engine stopped: %v", err)
		}
	}()
	defer engine.Shutdown()

	engine.RequestPlayback(true)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		core.Logger.Infof("shutting down")
	case <-engine.Done():
		core.Logger.Infof("playback complete")
	}
}

func runListMode(snapshots <-chan core.DacSnapshot) {
	deadline := time.After(listModeWindow)
	var latest core.DacSnapshot

	for {
		select {
		case latest = <-snapshots:
		case <-deadline:
			printSnapshot(latest)
			return
		}
	}
}

func printSnapshot(snap core.DacSnapshot) {
	if len(snap) == 0 {
		fmt.Println("no DACs found")
		return
	}
	for id, dac := range snap {
		fmt.Printf("%s\t%s\thw=%d sw=%d buf=%d\n", id, dac.IPAddr, dac.HardwareRev, dac.SoftwareRev, dac.BufferCapacity)
	}
}

// resolveDac turns --dac into a DiscoveredDac, either by matching a
// discovery id already seen on the LAN or, for a literal host:port, by
// connecting directly without waiting on a broadcast.
func resolveDac(selector string, listener *core.Listener) (core.DiscoveredDac, error) {
	if selector == "" {
		return waitForAnyDac(listener)
	}

	// A literal host[:port] bypasses discovery entirely; the control
	// port itself is always core.ControlPort, so any port given here is
	// accepted but unused.
	if host, _, err := net.SplitHostPort(selector); err == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return core.DiscoveredDac{}, fmt.Errorf("resolving %s: %w", host, lookupErr)
		}
		return core.DiscoveredDac{
			ID:          selector,
			IPAddr:      ips[0],
			SoftwareRev: 2, // assume a modern DAC when bypassing discovery
		}, nil
	}

	deadline := time.After(5 * time.Second)
	snapshots := make(chan core.DacSnapshot, 8)
	listener.Subscribe(func(s core.DacSnapshot) {
		select {
		case snapshots <- s:
		default:
		}
	})

	for {
		select {
		case snap := <-snapshots:
			if dac, ok := snap[strings.ToLower(selector)]; ok {
				return dac, nil
			}
		case <-deadline:
			return core.DiscoveredDac{}, fmt.Errorf("no DAC with id %q seen within timeout", selector)
		}
	}
}

func waitForAnyDac(listener *core.Listener) (core.DiscoveredDac, error) {
	deadline := time.After(5 * time.Second)
	snapshots := make(chan core.DacSnapshot, 8)
	listener.Subscribe(func(s core.DacSnapshot) {
		select {
		case snapshots <- s:
		default:
		}
	})

	for {
		select {
		case snap := <-snapshots:
			for _, dac := range snap {
				return dac, nil
			}
		case <-deadline:
			return core.DiscoveredDac{}, fmt.Errorf("no DAC found within timeout; pass --dac")
		}
	}
}
