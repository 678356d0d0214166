package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Bluehatcoders/jam/internal/signaling"
	"github.com/Bluehatcoders/jam/internal/ui"
	"github.com/spf13/cobra"
)

const createRoomTimeout = 10 * time.Second

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Manage rooms",
}

var roomCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Ask the relay for a new memorable room id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return createRoom(cmd.Context())
	},
}

func init() {
	roomCmd.AddCommand(roomCreateCmd)
}

func createRoom(ctx context.Context) error {
	cfg, err := LoadConfig(flags)
	if err != nil {
		return err
	}

	spin := ui.NewConnectionSpinner("Creating room...").Start()
	ctx, cancel := context.WithTimeout(ctx, createRoomTimeout)
	defer cancel()

	roomID, err := signaling.CreateRoom(ctx, cfg.URL)
	spin.Stop()
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}

	fmt.Println(ui.RoomInfo{RoomID: roomID, RoomLink: cfg.GetRoomLink(roomID)}.View())
	ui.PrintInfof("Join with: jam join %s", roomID)
	return nil
}
