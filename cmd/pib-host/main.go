// Command pib-host runs one emulated RDMA device, listening on a UDP
// socket per port and serving verbs traffic until interrupted.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ibemu/pib"
	"github.com/ibemu/pib/internal/logging"
)

func main() {
	params := pib.DefaultDeviceParams()

	var (
		listenAddr = pflag.StringP("listen", "l", params.ListenAddr, "UDP address to bind each port to")
		numPorts   = pflag.IntP("ports", "p", params.NumPorts, "number of ports this device exposes")
		cqDepth    = pflag.Int("cq-depth", params.CQDepth, "default completion queue depth")
		fabricAddr = pflag.String("fabric", "", "switch address to announce port 0 to on startup (host:port)")
		verbose    = pflag.BoolP("verbose", "v", false, "enable debug logging")
	)
	pflag.Parse()

	params.ListenAddr = *listenAddr
	params.NumPorts = *numPorts
	params.CQDepth = *cqDepth
	params.FabricAddr = *fabricAddr
	params.Verbose = *verbose

	logLevel := logging.LevelInfo
	if params.Verbose {
		logLevel = logging.LevelDebug
	}
	logger := logging.NewLogger(&logging.Config{Level: logLevel})
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	device, err := pib.CreateDevice(1, params.ToOptions(ctx))
	if err != nil {
		logger.Error("failed to create device", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing device")
		if err := device.Close(); err != nil {
			logger.Error("error closing device", "error", err)
		}
	}()

	logger.Info("device created", "port0", device.PortAddr(0))
	fmt.Printf("device listening on %s\n", device.PortAddr(0))

	if params.FabricAddr != "" {
		fabricUDPAddr, err := resolveUDPAddr(params.FabricAddr)
		if err != nil {
			logger.Error("invalid fabric address", "error", err)
			os.Exit(1)
		}
		if err := device.AnnounceToFabric(0, fabricUDPAddr); err != nil {
			logger.Error("failed to announce to fabric", "error", err)
		} else {
			logger.Info("announced to fabric", "fabric", params.FabricAddr)
		}
	}

	fmt.Println("Press Ctrl+C to stop...")
	fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			dumpStacks(logger)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	cancel()

	cleanupDone := make(chan struct{})
	go func() {
		if err := device.Close(); err != nil {
			logger.Error("error closing device", "error", err)
		}
		close(cleanupDone)
	}()

	select {
	case <-cleanupDone:
	case <-time.After(1 * time.Second):
		logger.Info("cleanup timeout, forcing exit")
	}
}

func resolveUDPAddr(addr string) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", addr)
}

func dumpStacks(logger *logging.Logger) {
	logger.Info("=== GOROUTINE STACK TRACE DUMP ===")
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	filename := fmt.Sprintf("pib-host-stacks-%d.txt", os.Getpid())
	if f, err := os.Create(filename); err == nil {
		f.Write(buf[:n])
		fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
		pprof.Lookup("goroutine").WriteTo(f, 2)
		f.Close()
		logger.Info("stack trace written to file", "file", filename)
	}
}
