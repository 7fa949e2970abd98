// Package main is the entrypoint for the ipcbus CLI: a listener daemon plus
// one-shot call and publish commands for the shared IPC channel.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chanlink/comms-ipc/internal/config"
	"github.com/chanlink/comms-ipc/internal/server"
	"github.com/chanlink/comms-ipc/pkg/commsbus"
	"github.com/chanlink/comms-ipc/pkg/ipc"
)

var (
	flagURL      string
	flagChannel  string
	flagIdentity string
	flagLogLevel string

	flagTimeout        time.Duration
	flagCallRequire    string
	flagPublishRequire string
	flagNonce          string
	flagEmbedded       bool
	flagEmbeddedPort   int
)

var rootCmd = &cobra.Command{
	Use:   "ipcbus",
	Short: "Request/response and broadcast messaging over a shared pub/sub channel",
	Long: `ipcbus lets independent processes call named operations on each other
over a shared publish/subscribe channel, optionally waiting for a single
correlated reply.

Configuration comes from the environment (COMMS_URL, IPC_CHANNEL,
IPC_IDENTITY, IPC_REQUEST_TIMEOUT, LOG_LEVEL); flags override it.`,
	SilenceUsage: true,
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run the IPC listener until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("embedded") {
			cfg.Embedded = flagEmbedded
		}
		if cmd.Flags().Changed("embedded-port") {
			cfg.EmbeddedPort = flagEmbeddedPort
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return server.Run(cfg)
	},
}

var callCmd = &cobra.Command{
	Use:   "call <op> [json-data]",
	Short: "Call an operation and print the first reply",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		server.SetupLogging(cfg.LogLevel)

		data, err := parseData(args)
		if err != nil {
			return err
		}

		nc, err := commsbus.Connect(cfg.COMMSURL, cfg.COMMSName, cfg.ConnectOpts())
		if err != nil {
			return err
		}
		defer nc.Drain()

		inst := ipc.New(commsbus.NewBus(nc), &ipc.Options{Channel: cfg.Channel, Identity: cfg.Identity})
		defer inst.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- inst.Start(ctx) }()
		select {
		case <-inst.Ready():
		case err := <-errCh:
			return err
		}

		timeout := cfg.RequestTimeout
		if cmd.Flags().Changed("timeout") {
			timeout = flagTimeout
		}
		result, err := inst.Get(ctx, args[0], data, &ipc.GetOpts{
			Timeout:          timeout,
			RequiredIdentity: flagCallRequire,
		})
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <op> [json-data]",
	Short: "Publish a fire-and-forget operation request",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		server.SetupLogging(cfg.LogLevel)

		data, err := parseData(args)
		if err != nil {
			return err
		}

		nc, err := commsbus.Connect(cfg.COMMSURL, cfg.COMMSName, cfg.ConnectOpts())
		if err != nil {
			return err
		}
		defer nc.Drain()

		inst := ipc.New(commsbus.NewBus(nc), &ipc.Options{Channel: cfg.Channel, Identity: cfg.Identity})
		return inst.Publish(cmd.Context(), args[0], data, &ipc.PublishOpts{
			Nonce:            flagNonce,
			RequiredIdentity: flagPublishRequire,
		})
	},
}

// loadConfig reads the environment, applies any changed global flags on top
// of it and validates the result, so every command rejects a broken
// environment instead of limping along on fallbacks.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("url") {
		cfg.COMMSURL = flagURL
	}
	if cmd.Flags().Changed("channel") {
		cfg.Channel = flagChannel
	}
	if cmd.Flags().Changed("identity") {
		cfg.Identity = flagIdentity
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseData decodes the optional JSON payload argument.
func parseData(args []string) (ipc.JSON, error) {
	if len(args) < 2 {
		return nil, nil
	}
	var data ipc.JSON
	if err := json.Unmarshal([]byte(args[1]), &data); err != nil {
		return nil, fmt.Errorf("invalid json data: %w", err)
	}
	return data, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagURL, "url", "", "COMMS broker URL (default from COMMS_URL)")
	rootCmd.PersistentFlags().StringVar(&flagChannel, "channel", "", "IPC channel (default from IPC_CHANNEL)")
	rootCmd.PersistentFlags().StringVar(&flagIdentity, "identity", "", "instance identity (default generated)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")

	listenCmd.Flags().BoolVar(&flagEmbedded, "embedded", false, "run an in-process COMMS server")
	listenCmd.Flags().IntVar(&flagEmbeddedPort, "embedded-port", 4222, "embedded COMMS server port")

	callCmd.Flags().DurationVar(&flagTimeout, "timeout", 5*time.Second, "how long to wait for a reply")
	callCmd.Flags().StringVar(&flagCallRequire, "require", "", "identity of the instance that must answer")

	publishCmd.Flags().StringVar(&flagNonce, "nonce", "", "correlation nonce to attach to the request")
	publishCmd.Flags().StringVar(&flagPublishRequire, "require", "", "identity of the instance that must handle the request")

	rootCmd.AddCommand(listenCmd, callCmd, publishCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
