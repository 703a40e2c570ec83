// Package pprofutil runs the optional pprof debug server. It stays off
// unless COMMNODE_PPROF=1; binding anything but loopback requires the
// explicit COMMNODE_PPROF_ALLOW_PUBLIC=1 opt-in.
package pprofutil

import (
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("commnode/pprof")

const defaultAddr = "127.0.0.1:6060"

var (
	startOnce sync.Once
	startErr  error
)

// StartFromEnv starts the pprof HTTP server once per process when enabled.
func StartFromEnv() error {
	if strings.TrimSpace(os.Getenv("COMMNODE_PPROF")) != "1" {
		return nil
	}
	startOnce.Do(func() {
		startErr = serve()
	})
	return startErr
}

func serve() error {
	addr := strings.TrimSpace(os.Getenv("COMMNODE_PPROF_ADDR"))
	if addr == "" {
		addr = defaultAddr
	}
	if strings.TrimSpace(os.Getenv("COMMNODE_PPROF_ALLOW_PUBLIC")) != "1" && !loopbackAddr(addr) {
		return fmt.Errorf("COMMNODE_PPROF_ADDR must be loopback unless COMMNODE_PPROF_ALLOW_PUBLIC=1: %s", addr)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("pprof listen: %w", err)
	}
	log.Infof("pprof enabled: http://%s/debug/pprof/", ln.Addr())
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Warnf("pprof server: %v", err)
		}
	}()
	return nil
}

func loopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(host), "localhost") {
		return true
	}
	ip := net.ParseIP(strings.TrimSpace(host))
	return ip != nil && ip.IsLoopback()
}
