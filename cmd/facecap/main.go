package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/banshee-data/facecap/internal/config"
	"github.com/banshee-data/facecap/internal/db"
	"github.com/banshee-data/facecap/internal/mocap/animator"
	"github.com/banshee-data/facecap/internal/mocap/monitor"
	"github.com/banshee-data/facecap/internal/mocap/network"
	"github.com/banshee-data/facecap/internal/mocap/recorder"
	"github.com/banshee-data/facecap/internal/mocap/replay"
	"github.com/banshee-data/facecap/internal/mocap/rig"
	"github.com/banshee-data/facecap/internal/mocap/rig/servohead"
	"github.com/banshee-data/facecap/internal/mocap/rig/wsrig"
	"github.com/banshee-data/facecap/internal/monitoring"
	"github.com/banshee-data/facecap/internal/timeutil"
	"github.com/banshee-data/facecap/internal/version"
)

func main() {
	flags := registerFlags(flag.CommandLine)
	flag.Parse()

	if flags.showVersion {
		fmt.Println(version.Get())
		return
	}

	settings, err := flags.settings(flag.CommandLine)
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	if flags.listSessions {
		if err := listSessions(context.Background(), settings.GetDBPath()); err != nil {
			log.Fatalf("Failed to list sessions: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("%s", version.Get())
	if err := run(ctx, flags, flag.CommandLine, settings); err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func listSessions(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("-db is required")
	}
	database, err := db.NewDB(path)
	if err != nil {
		return err
	}
	defer database.Close()
	sessions, err := database.Sessions(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sessions)
}

// run wires the pipeline and blocks until ctx is cancelled or a component
// fails to start.
func run(ctx context.Context, flags *cliFlags, fs *flag.FlagSet, settings *config.Settings) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewPrometheusRecorder(reg)
	stats := monitor.NewPacketStats()
	history := monitor.NewPoseHistory(0, 0)

	hub := wsrig.NewHub()
	defer hub.Close()
	screen := wsrig.New(hub, settings.RigShapes...)
	binding := screen.Binding()

	if path := settings.GetServoPort(); path != "" {
		head, err := servohead.Open(path, settings.ServoConfig())
		if err != nil {
			return fmt.Errorf("open servo head: %w", err)
		}
		defer head.Close()
		binding.Head = rig.Fanout{screen, head}
	}

	var database *db.DB
	if path := settings.GetDBPath(); path != "" {
		var err error
		database, err = db.NewDB(path)
		if err != nil {
			return fmt.Errorf("open session database: %w", err)
		}
		defer database.Close()
	}

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	var taps []network.Tap
	var rec *recorder.Recorder
	if settings.GetRecord() {
		if database == nil {
			return errors.New("-record requires -db")
		}
		rs := settings.ReceiverSettings()
		session, err := database.StartSession(ctx, time.Now(), rs.Port, rs.SenderFilter, flags.note)
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		log.Printf("Recording session %s", session.ID)
		rec = recorder.New(recorder.Config{
			Store:     database,
			SessionID: session.ID,
			Metrics:   metrics,
			Drops:     stats,
		})
		taps = append(taps, rec)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("recorder stopped: %v", err)
			}
		}()
	}

	if addr := settings.GetRelayAddr(); addr != "" {
		fwd, err := network.NewPacketForwarder(addr, settings.GetRelayPort(), stats, metrics, settings.GetLogInterval())
		if err != nil {
			return fmt.Errorf("relay: %w", err)
		}
		defer fwd.Close()
		fwd.Start(ctx)
		taps = append(taps, fwd)
	}

	animCfg := animator.Config{
		Retarget:  settings.RetargetConfig(),
		Observers: []animator.Observer{history, screen},
		Metrics:   metrics,
	}
	if rec != nil {
		animCfg.OnCalibrate = rec.OnCalibrate
	}
	anim := animator.New(animCfg)
	anim.Bind(binding)
	if settings.GetCalibrateNow() {
		anim.RequestCalibration()
	}

	// The HTTP and health servers see the receiver only when one is running.
	var source monitor.ConnectionSource
	var receiver *network.Receiver
	switch {
	case flags.replayPCAP != "" || flags.replaySession != "":
		opts := replay.Options{
			Rate:   flags.replayRate,
			Filter: settings.GetSenderFilter(),
			Taps:   taps,
		}
		if flags.replaySession != "" && database == nil {
			return errors.New("-replay-session requires -db")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			var (
				res replay.Result
				err error
			)
			if flags.replayPCAP != "" {
				res, err = replay.PCAPFile(ctx, flags.replayPCAP, settings.GetPort(), anim.Queue(), opts)
			} else {
				res, err = replay.Session(ctx, database, flags.replaySession, anim.Queue(), opts)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("replay failed: %v", err)
				return
			}
			log.Printf("replay finished: %d delivered, %d skipped", res.Delivered, res.Skipped)
		}()
	default:
		rs := settings.ReceiverSettings()
		receiver = network.NewReceiver(network.ReceiverConfig{
			BindAddress:  rs.BindAddress,
			Port:         rs.Port,
			SenderFilter: rs.SenderFilter,
			RcvBuf:       rs.RcvBuf,
			LogInterval:  rs.LogInterval,
			Sink:         anim.Queue(),
			Taps:         taps,
			Stats:        stats,
			Metrics:      metrics,
		})
		if _, err := receiver.Start(ctx); err != nil {
			var bindErr *network.BindError
			if errors.As(err, &bindErr) {
				return fmt.Errorf("cannot receive on %s (is another instance running?): %w", bindErr.Addr, err)
			}
			return err
		}
		defer receiver.Stop()
		source = receiver
	}

	if addr := settings.GetGRPCListen(); addr != "" && receiver != nil {
		health := monitor.NewHealthReporter(receiver, time.Second)
		if err := health.Start(ctx, addr); err != nil {
			return fmt.Errorf("health server: %w", err)
		}
		defer health.Stop()
	}

	if flags.configPath != "" {
		w := &config.Watcher{
			Path:       flags.configPath,
			Dispatcher: anim.Dispatcher(),
			Apply: func(s *config.Settings) {
				flags.apply(fs, s)
				anim.SetConfig(s.RetargetConfig())
				if s.GetCalibrateNow() {
					anim.RequestCalibration()
				}
			},
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				log.Printf("config watcher stopped: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		interval := settings.GetTickInterval()
		if err := anim.Run(ctx, timeutil.RealClock{}, interval); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("animator stopped: %v", err)
		}
		log.Print("animator routine terminated")
	}()

	server := monitor.NewServer(monitor.ServerConfig{
		Address:  settings.GetListen(),
		Animator: anim,
		Receiver: source,
		Stats:    stats,
		History:  history,
		Gatherer: reg,
		Stream:   hub,
		Attach: func(mux *http.ServeMux) {
			if database == nil {
				return
			}
			if err := database.AttachAdminRoutes(mux); err != nil {
				log.Printf("database admin routes unavailable: %v", err)
			}
		},
	})
	serveErr := server.Start(ctx)

	// Anything that returns from Start early is a failure; stop the rest.
	cancel()
	wg.Wait()
	if serveErr != nil {
		return serveErr
	}
	if rec != nil {
		recorded, dropped, failed := rec.Stats()
		log.Printf("Session %s: %d datagrams recorded, %d dropped, %d failed", rec.SessionID(), recorded, dropped, failed)
	}
	return nil
}
