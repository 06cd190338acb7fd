package main

import (
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blackjacktable/server/internal/config"
	"github.com/blackjacktable/server/internal/game"
	"github.com/blackjacktable/server/internal/logging"
	"github.com/blackjacktable/server/internal/prompt"
	"github.com/blackjacktable/server/internal/room"
	"github.com/blackjacktable/server/internal/server"
	"github.com/blackjacktable/server/internal/transport"
)

const releaseVersion = "0.1.0"

func main() {
	log.SetFlags(0)
	cfg := &config.Config{}
	cobra.CheckErr(config.NewCommand(cfg, releaseVersion, run).Execute())
}

// run wires the whole dependency graph and blocks until SIGINT/SIGTERM.
// The multiplexer, prompt router, and room manager form a three-way cycle
// (each needs to deliver to the others), so construction happens in two
// phases: build all three with their constructor-time dependencies, then
// attach the multiplexer-facing interfaces the room manager and prompt
// router expose, exactly as the reference transport's own comments call
// for.
func run(cmd *cobra.Command, cfg *config.Config) error {
	logger, err := logging.New(cfg.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	registry := game.NewRegistry()
	if err := registry.Register(game.NewBlackjackFactory(logger)); err != nil {
		return err
	}

	mp := transport.NewMultiplexer(logger)
	mp.SetSessionTimeout(cfg.SessionTimeout)

	prompts := prompt.NewRouter(mp)
	prompts.SetPromptLogging(logger, cfg.PromptLog)

	manager := room.NewManager(mp, prompts, registry, logger)
	defer manager.Stop()

	mp.AttachRoomCommands(manager)
	mp.AttachPromptResponder(prompts)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return server.Serve(ctx, cfg, releaseVersion, mp, logger)
}
