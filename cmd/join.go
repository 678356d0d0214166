package cmd

import (
	"context"
	"fmt"

	"github.com/Bluehatcoders/jam/internal/peer"
	"github.com/Bluehatcoders/jam/internal/ui"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	flagPlay      string
	flagEphemeral bool
	flagIdentity  string
	flagNoUI      bool
)

var joinCmd = &cobra.Command{
	Use:     "join [room]",
	Aliases: []string{"j"},
	Short:   "Join a room and connect to everyone in it",
	Long: `Join a room and open a direct WebRTC connection to every peer in it.

Examples:
  jam join brave-otter-42
  jam join --play intro.ogg brave-otter-42
  ROOM=lobby jam join --no-ui`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room := ""
		if len(args) == 1 {
			room = args[0]
		}
		return joinRoom(cmd.Context(), room)
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagPlay, "play", "", "stream an Ogg/Opus file to the room")
	joinCmd.Flags().BoolVar(&flagEphemeral, "ephemeral", false, "use a random peer id and skip state signing")
	joinCmd.Flags().StringVar(&flagIdentity, "identity", "", "identity key file (default in the user config dir)")
	joinCmd.Flags().BoolVar(&flagNoUI, "no-ui", false, "log events instead of drawing the room view")
}

func joinRoom(ctx context.Context, room string) error {
	opts := flags
	opts.Room = room
	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}
	if cfg.Room == "" {
		return fmt.Errorf("no room given: pass one as an argument or set ROOM")
	}
	if !cfg.ForceRelay && cfg.ShouldForceRelay() {
		ui.PrintWarning("VPN or CGNAT detected, only TURN relay candidates will be used")
	}

	keyPath := flagIdentity
	if keyPath == "" {
		keyPath = defaultIdentityPath()
	}
	sess, err := newSession(cfg, flagEphemeral, keyPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			ui.PrintWarning(err.Error())
		}
	}()

	spin := ui.NewConnectionSpinner("Joining " + cfg.Room + "...").Start()
	if err := sess.join(ctx, cfg.Room); err != nil {
		spin.Stop()
		return err
	}
	spin.Stop()

	fmt.Println(ui.RoomInfo{
		RoomID:   cfg.Room,
		RoomLink: cfg.GetRoomLink(cfg.Room),
		PeerID:   sess.swarm.PeerID(),
	}.View())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if flagPlay != "" {
		stream, track, err := peer.NewAudioStream(uuid.NewString())
		if err != nil {
			return err
		}
		if _, err := sess.swarm.AddLocalStream(stream, "audio"); err != nil {
			ui.PrintWarning(err.Error())
		}
		go func() {
			if err := playOgg(ctx, flagPlay, track); err != nil {
				ui.PrintWarning(err.Error())
			}
		}()
	}

	if flagNoUI {
		logEvents(ctx, sess)
	} else {
		model := ui.NewRoomModel(sess.snapshot, sess.sub.C, ui.RoomActions{
			ToggleHand: sess.toggleHand,
			React:      sess.wave,
			Reconnect:  sess.reconnect,
		})
		if err := ui.RunRoom(model); err != nil {
			return err
		}
	}

	fmt.Println()
	ui.RenderSessionSummary(sess.summary())
	return nil
}

// logEvents prints swarm events until ctx ends.
func logEvents(ctx context.Context, sess *session) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sess.sub.C:
			if !ok {
				return
			}
			if line := ui.DescribeEvent(e); line != "" {
				fmt.Println(line)
			}
		}
	}
}
