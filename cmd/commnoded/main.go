package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"commnode/internal/config"
	"commnode/internal/metrics"
	"commnode/internal/node"
	"commnode/internal/pprofutil"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(stdout)
		return 0
	}
	switch args[0] {
	case "run":
		return runNode(args[1:], stdout, stderr)
	case "status":
		return runStatus(args[1:], stdout, stderr)
	case "peers":
		return runPeers(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: commnoded <run|status|peers> [args]")
	fmt.Fprintln(w, "  run    [--config <file>] [--port N] [--interval SECS] [--id UUID] [--status-file <file>]")
	fmt.Fprintln(w, "  status [--config <file>] [--file <status file>]")
	fmt.Fprintln(w, "  peers  [--config <file>] [--file <status file>]")
}

func runNode(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "INI configuration file")
	port := fs.Uint("port", 0, "override listen_port")
	interval := fs.Uint("interval", 0, "override heartbeat_interval (seconds)")
	idStr := fs.String("id", "", "override node_id")
	statusFile := fs.String("status-file", "", "override status_file")
	logLevel := fs.String("log-level", "", "override log_level")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	if *port != 0 {
		if *port > 65535 {
			fmt.Fprintf(stderr, "bad --port %d\n", *port)
			return 1
		}
		cfg.ListenPort = uint16(*port)
	}
	if *interval != 0 {
		cfg.HeartbeatInterval = time.Duration(*interval) * time.Second
	}
	if *idStr != "" {
		id, err := uuid.Parse(*idStr)
		if err != nil {
			fmt.Fprintf(stderr, "bad --id %q: %v\n", *idStr, err)
			return 1
		}
		cfg.NodeID = id
	}
	if *statusFile != "" {
		cfg.StatusFile = *statusFile
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	// The id goes into the log file name, so settle it before logging does.
	if cfg.NodeID == uuid.Nil {
		cfg.NodeID = uuid.New()
	}
	if err := setupLogging(cfg); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	if err := pprofutil.StartFromEnv(); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	nd, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "start node: %v\n", err)
		return 1
	}
	nd.Start()
	fmt.Fprintf(stdout, "READY node_id=%s tcp_port=%d master=%v\n", nd.ID(), nd.TCPPort(), nd.IsListening())

	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	for {
		select {
		case <-ticker.C:
			nd.Update()
		case <-sig:
			nd.Stop()
			return 0
		}
	}
}

// setupLogging configures the process-wide logger. Per-node log files carry
// the node id in their name so co-located siblings never share one.
func setupLogging(cfg config.Config) error {
	lvl, err := logging.LevelFromString(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("bad log_level %q: %w", cfg.LogLevel, err)
	}
	logCfg := logging.Config{
		Format: logging.ColorizedOutput,
		Stderr: true,
		Level:  lvl,
	}
	if cfg.LogFile != "" {
		logCfg.File = fmt.Sprintf("%s%s.log", cfg.LogFile, cfg.NodeID)
		logCfg.Format = logging.PlaintextOutput
	}
	logging.SetupLogging(logCfg)
	return nil
}

func statusPath(configPath, override string, stderr io.Writer) (string, bool) {
	if override != "" {
		return override, true
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return "", false
	}
	if cfg.StatusFile == "" {
		fmt.Fprintln(stderr, "no status_file configured; pass --file")
		return "", false
	}
	return cfg.StatusFile, true
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "INI configuration file")
	file := fs.String("file", "", "status file to read")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	path, ok := statusPath(*configPath, *file, stderr)
	if !ok {
		return 1
	}
	st, err := metrics.ReadStatus(path)
	if err != nil {
		fmt.Fprintf(stderr, "status unavailable: %v\n", err)
		return 1
	}
	connected := 0
	for _, nb := range st.Neighbors {
		if nb.Connected {
			connected++
		}
	}
	fmt.Fprintf(stdout, "node %s (tcp_port=%d master=%v, as of %s)\n",
		st.NodeID, st.TCPPort, st.Master, st.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(stdout, "  neighbors: %d (%d connected)\n", len(st.Neighbors), connected)
	fmt.Fprintf(stdout, "  announcements sent: %d (failed %d)\n", st.Counters.AnnouncesSent, st.Counters.AnnounceFailures)
	fmt.Fprintf(stdout, "  datagrams: %d received, %d malformed, %d forwarded\n",
		st.Counters.DatagramsReceived, st.Counters.DatagramsMalformed, st.Counters.FramesForwarded)
	fmt.Fprintf(stdout, "  sessions: %d opened, %d closed\n", st.Counters.SessionsOpened, st.Counters.SessionsClosed)
	fmt.Fprintf(stdout, "  probes: %d pings queued, %d pongs received\n", st.Counters.PingsQueued, st.Counters.PongsReceived)
	return 0
}

func runPeers(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("peers", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "INI configuration file")
	file := fs.String("file", "", "status file to read")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	path, ok := statusPath(*configPath, *file, stderr)
	if !ok {
		return 1
	}
	st, err := metrics.ReadStatus(path)
	if err != nil {
		fmt.Fprintf(stderr, "peers unavailable: %v\n", err)
		return 1
	}
	for _, nb := range st.Neighbors {
		state := "pending"
		if nb.Connected {
			state = "connected"
		}
		local := ""
		if nb.IsLocal {
			local = " local"
		}
		fmt.Fprintf(stdout, "%s %s:%d %s%s latency_ms=%d bandwidth=%.2f\n",
			nb.ID, nb.IP, nb.TCPPort, state, local, nb.LatencyMS, nb.Bandwidth)
	}
	return 0
}
