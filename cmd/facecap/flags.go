package main

import (
	"flag"
	"time"

	"github.com/banshee-data/facecap/internal/config"
)

// cliFlags are the command line options. Flags that are set explicitly
// override the settings file, including after a reload.
type cliFlags struct {
	configPath  string
	listen      string
	grpcListen  string
	port        int
	bind        string
	filter      string
	dbPath      string
	record      bool
	note        string
	relayAddr   string
	relayPort   int
	servoPort   string
	tickHz      float64
	rcvBuf      int
	logInterval time.Duration

	replayPCAP    string
	replaySession string
	replayRate    float64
	listSessions  bool
	showVersion   bool
}

func registerFlags(fs *flag.FlagSet) *cliFlags {
	f := &cliFlags{}
	fs.StringVar(&f.configPath, "config", "", "Settings file (.json, .yaml or .yml); reloaded when it changes")
	fs.StringVar(&f.listen, "listen", ":8082", "HTTP listen address for the status page, API and metrics")
	fs.StringVar(&f.grpcListen, "grpc-listen", "", "gRPC health check listen address (disabled when empty)")
	fs.IntVar(&f.port, "port", 49983, "UDP port to receive capture datagrams on")
	fs.StringVar(&f.bind, "bind", "", "Local address to bind the UDP receiver to (all interfaces when empty)")
	fs.StringVar(&f.filter, "filter", "", "Only accept datagrams from this sender IP")
	fs.StringVar(&f.dbPath, "db", "", "Session database path (disabled when empty)")
	fs.BoolVar(&f.record, "record", false, "Record accepted datagrams into a new session (requires -db)")
	fs.StringVar(&f.note, "note", "", "Note stored with the recorded session")
	fs.StringVar(&f.relayAddr, "relay-addr", "", "Relay accepted datagrams to this host (disabled when empty)")
	fs.IntVar(&f.relayPort, "relay-port", 49983, "Relay destination UDP port")
	fs.StringVar(&f.servoPort, "servo-port", "", "Serial device of a servo pan/tilt head (disabled when empty)")
	fs.Float64Var(&f.tickHz, "tick-hz", 60, "Animator update rate")
	fs.IntVar(&f.rcvBuf, "rcvbuf", 4<<20, "UDP receive buffer size in bytes")
	fs.DurationVar(&f.logInterval, "log-interval", time.Minute, "Interval between receiver statistics log lines")
	fs.StringVar(&f.replayPCAP, "replay-pcap", "", "Replay datagrams from a pcap or pcapng file instead of listening")
	fs.StringVar(&f.replaySession, "replay-session", "", "Replay a recorded session from -db instead of listening")
	fs.Float64Var(&f.replayRate, "replay-rate", 1, "Replay speed multiplier (0 plays as fast as possible)")
	fs.BoolVar(&f.listSessions, "list-sessions", false, "List recorded sessions in -db and exit")
	fs.BoolVar(&f.showVersion, "version", false, "Print version information and exit")
	return f
}

// apply copies every explicitly set flag over s.
func (f *cliFlags) apply(fs *flag.FlagSet, s *config.Settings) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "listen":
			s.Listen = &f.listen
		case "grpc-listen":
			s.GRPCListen = &f.grpcListen
		case "port":
			s.Port = &f.port
		case "bind":
			s.BindAddress = &f.bind
		case "filter":
			s.SenderFilter = &f.filter
		case "db":
			s.DBPath = &f.dbPath
		case "record":
			s.Record = &f.record
		case "relay-addr":
			s.RelayAddr = &f.relayAddr
		case "relay-port":
			s.RelayPort = &f.relayPort
		case "servo-port":
			s.ServoPort = &f.servoPort
		case "tick-hz":
			s.TickRate = &f.tickHz
		case "rcvbuf":
			s.RcvBuf = &f.rcvBuf
		case "log-interval":
			d := f.logInterval.String()
			s.LogInterval = &d
		}
	})
}

// settings loads the settings file, if any, and applies the flags.
func (f *cliFlags) settings(fs *flag.FlagSet) (*config.Settings, error) {
	s := &config.Settings{}
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		s = loaded
	}
	f.apply(fs, s)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
