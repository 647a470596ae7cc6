// Command metalfistbot runs the voice pipeline's process entrypoint:
// it loads configuration, brings up logging, and keeps the process
// alive so a guild façade can be driven by whatever front-end attaches
// to it.
//
// Slash-command / interaction dispatch is intentionally not wired up
// here; run below is the attachment point a command front-end would
// call Facade.Join/Leave and the metadata extractor from.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/metalfistbot/metalfist/internal/config"
	"github.com/metalfistbot/metalfist/internal/logging"
	"github.com/metalfistbot/metalfist/internal/metadata"
	"github.com/metalfistbot/metalfist/internal/player"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:    cfg.LogLevel,
		FilePath: cfg.LogFilePath,
		Console:  true,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	extractor := metadata.New(cfg.MetadataBinary)
	_ = extractor // wired by the command front-end that resolves queued URLs

	facade := player.NewFacade(logger, player.PlaybackConfig{
		DecoderBinary:     cfg.DecoderBinary,
		FetchChunkBytes:   cfg.FetchChunkBytes,
		FetchChannelDepth: cfg.FetchChannelDepth,
		FrameChannelDepth: cfg.FrameChannelDepth,
	})
	_ = facade // held by the command front-end; Join/Leave drive it per guild

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infow("metalfistbot started", "log_level", cfg.LogLevel)
	<-ctx.Done()
	logger.Infow("metalfistbot shutting down")
	return nil
}
