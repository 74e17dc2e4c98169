// Command ptld stands up one Portals4 Network Interface as a standalone
// process: load a job descriptor (internal/config), build the
// configured transport, start the NI, and block until a shutdown
// signal arrives.
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

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	portals4 "github.com/musleh123/portals4"
	"github.com/musleh123/portals4/internal/config"
	"github.com/musleh123/portals4/internal/logging"
	"github.com/musleh123/portals4/internal/transport/shmem"
	"github.com/musleh123/portals4/internal/wire"
)

var (
	flagConfig  string
	flagRank    int
	flagVerbose bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ptld",
		Short: "Run one Portals4 Network Interface",
		Long: `ptld loads a job descriptor, stands up a single NI against the
configured transport, and serves it until interrupted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runNI,
	}

	flags := cmd.Flags()
	flags.StringVar(&flagConfig, "config", "", "path to a job descriptor (YAML)")
	flags.IntVar(&flagRank, "rank", 0, "this process's rank, overrides the job descriptor")
	flags.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	_ = viper.BindPFlag("rank", flags.Lookup("rank"))

	return cmd
}

func runNI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("ptld: %w", err)
	}
	if cmd.Flags().Changed("rank") {
		cfg.Rank = flagRank
	}

	logLevel := cfg.LogLevel
	if flagVerbose {
		logLevel = "debug"
	}
	logger := logging.NewLogger(&logging.Config{Level: hclog.LevelFromString(logLevel), Name: "ptld"})
	logging.SetDefault(logger)

	hub := shmem.NewHub()
	tr := hub.Register(uint64(cfg.Rank), cfg.SRQRepostSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ni, err := portals4.NewNI(ctx, 0, portals4.Config{
		Type:        wire.NITypeMatchingLogical,
		Rank:        cfg.Rank,
		Transport:   tr,
		Logger:      logger,
		CPUAffinity: cfg.CPUAffinity,
	})
	if err != nil {
		return fmt.Errorf("ptld: NewNI: %w", err)
	}

	logger.Info("NI started", "rank", cfg.Rank, "transport", cfg.Transport, "wc_count", cfg.WCCount)
	fmt.Printf("ptld: NI running for rank %d (transport=%s)\n", cfg.Rank, cfg.Transport)
	fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())
	fmt.Printf("Press Ctrl+C to stop...\n")

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	cancel()

	done := make(chan struct{})
	go func() {
		if err := ni.Close(); err != nil {
			logger.Error("error closing NI", "err", err)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		logger.Warn("NI close timed out, exiting anyway")
	}

	return nil
}
