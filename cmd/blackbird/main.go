// Command blackbird runs the control-voltage engine: the audio core on
// one goroutine (paced by the sound device, or the wall clock with
// -headless) and the script core on another, joined only by the
// lock-free rings and mailboxes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/blackbird-cv/blackbird/internal/audio"
	"github.com/blackbird-cv/blackbird/internal/detect"
	"github.com/blackbird-cv/blackbird/internal/engine"
	"github.com/blackbird-cv/blackbird/internal/flashstore"
	"github.com/blackbird-cv/blackbird/internal/mailbox"
	"github.com/blackbird-cv/blackbird/internal/ring"
	"github.com/blackbird-cv/blackbird/internal/sched"
	"github.com/blackbird-cv/blackbird/internal/script"
	"github.com/blackbird-cv/blackbird/internal/usbio"
)

func banner() {
	fmt.Println("blackbird - a scriptable control voltage environment")
	fmt.Println(script.Version)
}

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 48000, "audio sample rate in Hz")
		priority   = flag.String("priority", "balanced", "scheduler priority: accuracy, balanced, timing")
		flashDir   = flag.String("flash-dir", "flash", "directory backing the script flash sector")
		headless   = flag.Bool("headless", false, "run without an audio device or raw terminal")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "main: ", 0)

	banner()

	pri, ok := engine.ParsePriority(*priority)
	if !ok {
		logger.Fatalf("unknown priority %q", *priority)
	}

	// Event plane: four rings Core A -> Core B, the command ring back,
	// and the REPL mailboxes.
	doneRing := ring.NewASLDoneRing()
	metroRing := ring.NewMetroRing()
	inputRing := ring.NewInputRing()
	resumeRing := ring.NewClockResumeRing()
	cmds := ring.NewCommandRing()
	cmdMb := mailbox.New()
	respMb := mailbox.New()
	tx := &usbio.TxRing{}

	rate := float64(*sampleRate)
	eng := engine.New(rate, pri, script.Sink{Done: doneRing})
	metros := sched.NewMetroPool(rate, metroRing)
	clock := sched.NewClock(rate, resumeRing)
	dets := [detect.NumChannels]*detect.Detector{
		detect.New(0, rate, inputRing),
		detect.New(1, rate, inputRing),
	}
	core := audio.NewCore(eng, metros, clock, dets, nil, cmds)

	flash, err := flashstore.Open(*flashDir)
	if err != nil {
		logger.Fatalf("flash: %v", err)
	}

	host, err := script.New(script.Config{
		Engine:   eng,
		Clock:    clock,
		Dets:     dets,
		Commands: cmds,
		Metro:    metroRing,
		Input:    inputRing,
		Resume:   resumeRing,
		Done:     doneRing,
		Cmd:      cmdMb,
		Resp:     respMb,
		Tx:       tx,
		Flash:    flash,
	})
	if err != nil {
		logger.Fatalf("script: %v", err)
	}
	defer host.Close()

	host.Boot()

	transport := usbio.NewTransport(cmdMb, respMb, tx, os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if *headless {
		g.Go(func() error { return audio.RunTicker(ctx, core, rate) })
		g.Go(func() error { return usbio.Service(ctx, transport, os.Stdin) })
	} else {
		backend, err := audio.NewOtoBackend(*sampleRate, core)
		if err != nil {
			logger.Fatalf("audio: %v", err)
		}
		backend.Start()
		defer backend.Stop()

		g.Go(func() error { return usbio.RunInteractive(ctx, transport) })
	}

	g.Go(func() error { return host.Loop(ctx) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Fatalf("%v", err)
	}
}
