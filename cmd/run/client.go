package run

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Mmx233/QTalk/client"
	"github.com/Mmx233/QTalk/config"
	"github.com/Mmx233/QTalk/media"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Start an interactive chat client",
		Long:  "Connects to the relay, prints events as JSON lines and reads commands from stdin.\n\n" + usage,
		Args:  cobra.NoArgs,
		RunE:  runClient,
	}
)

func runClient(cmd *cobra.Command, args []string) error {
	logger := log.With().Str("com", "client-cmd").Logger()

	logger.Info().Str("config", configFile).Msg("loading configuration")
	cfg, err := config.LoadClientConfig(configFile)
	if err != nil {
		return err
	}

	opts, err := client.NewOptions(cfg, cfg.SyntheticDevices(&media.Recorder{}))
	if err != nil {
		return err
	}
	kind, topts, err := cfg.TransportOptions()
	if err != nil {
		return err
	}
	if topts.TLS != nil {
		// resume TLS sessions across reconnects
		topts.TLS.ClientSessionCache = tls.NewLRUClientSessionCache(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	con := newConsole(cmd.OutOrStdout(), cfg.DownloadDir, logger)
	lines := readLines(cmd.InOrStdin())

	delay := cfg.Reconnect.InitialDelay
	for {
		logger.Info().Str("server", cfg.Server).Str("username", cfg.Username).Msg("connecting to relay")
		c, err := client.Dial(ctx, kind, cfg.Server, topts, opts)
		if err == nil {
			delay = cfg.Reconnect.InitialDelay
			err = con.attach(ctx, c, lines)
			if errors.Is(err, errInputClosed) {
				return nil
			}
		}
		if ctx.Err() != nil {
			logger.Info().Msg("client stopped")
			return nil
		}
		if !cfg.Reconnect.IsEnabled() {
			return err
		}

		logger.Error().Err(err).Dur("retry_in", delay).Msg("connection lost, reconnecting")
		if !sleepCtx(ctx, delay) {
			logger.Info().Msg("client stopped")
			return nil
		}
		// Exponential backoff
		delay = min(delay*2, cfg.Reconnect.MaxDelay)
	}
}

// readLines feeds console input lines into a channel that is closed at EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
