// Command pib-switch runs one emulated switch fabric, relaying UDP
// datagrams between devices that register or are statically routed to it.
package main

import (
	"context"
	"fmt"
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
	params := pib.DefaultSwitchParams()

	var (
		listenAddr = pflag.StringP("listen", "l", params.ListenAddr, "UDP address to bind each port to")
		numPorts   = pflag.IntP("ports", "p", params.NumPorts, "number of switch ports, management port included")
		nodeDesc   = pflag.String("node-description", params.NodeDescription, "NodeDescription reported over SMP")
		verbose    = pflag.BoolP("verbose", "v", false, "enable debug logging")
	)
	pflag.Parse()

	params.ListenAddr = *listenAddr
	params.NumPorts = *numPorts
	params.NodeDescription = *nodeDesc
	params.Verbose = *verbose

	logLevel := logging.LevelInfo
	if params.Verbose {
		logLevel = logging.LevelDebug
	}
	logger := logging.NewLogger(&logging.Config{Level: logLevel})
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fabric, err := pib.CreateFabric(1, params.ToFabricOptions(ctx))
	if err != nil {
		logger.Error("failed to create fabric", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing fabric")
		if err := fabric.Close(); err != nil {
			logger.Error("error closing fabric", "error", err)
		}
	}()

	for i := 0; i < params.NumPorts; i++ {
		fmt.Printf("port %d listening on %s\n", i, fabric.PortAddr(uint8(i)))
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
		if err := fabric.Close(); err != nil {
			logger.Error("error closing fabric", "error", err)
		}
		close(cleanupDone)
	}()

	select {
	case <-cleanupDone:
	case <-time.After(1 * time.Second):
		logger.Info("cleanup timeout, forcing exit")
	}
}

func dumpStacks(logger *logging.Logger) {
	logger.Info("=== GOROUTINE STACK TRACE DUMP ===")
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	filename := fmt.Sprintf("pib-switch-stacks-%d.txt", os.Getpid())
	if f, err := os.Create(filename); err == nil {
		f.Write(buf[:n])
		fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
		pprof.Lookup("goroutine").WriteTo(f, 2)
		f.Close()
		logger.Info("stack trace written to file", "file", filename)
	}
}
