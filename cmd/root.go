package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Bluehatcoders/jam/internal/config"
	"github.com/Bluehatcoders/jam/internal/ui"
	"github.com/Bluehatcoders/jam/internal/version"
	"github.com/spf13/cobra"
)

// Flags shared by every command that talks to a relay.
var flags config.Options

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jam",
	Short: "Join audio rooms peer-to-peer over WebRTC",
	Long: `jam connects everyone in a room directly to each other over WebRTC.
A small relay only carries the signaling needed to find and reach peers;
audio and shared state flow peer to peer.`,
	Version: version.Version,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.Domain, "domain", "d", "", "jam domain (default "+config.DefaultDomain+")")
	pf.StringVar(&flags.URL, "signal-url", "", "signaling websocket URL (default wss://<domain>/_/signal/ws)")
	pf.StringVar(&flags.STUNServer, "stun", "", "STUN server URL")
	pf.StringVar(&flags.TURNServer, "turn", "", "TURN server host")
	pf.StringVar(&flags.TURNUser, "turn-user", "", "TURN username")
	pf.StringVar(&flags.TURNPass, "turn-pass", "", "TURN password")
	pf.BoolVar(&flags.ForceRelay, "relay", false, "only use TURN relay candidates")
	pf.BoolVar(&flags.Debug, "debug", false, "log every swarm step")

	rootCmd.AddCommand(joinCmd, relayCmd, roomCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
