package signaling

import (
	"context"
	"errors"
)

// CreateRoom asks the relay for a fresh, currently unused room id.
func CreateRoom(ctx context.Context, url string) (string, error) {
	client := NewClient(url)
	defer client.Close()

	if err := client.Send(&Frame{Type: FrameCreateRoom}); err != nil {
		return "", err
	}
	if err := client.Connect(ctx); err != nil {
		return "", err
	}

	for {
		select {
		case f, ok := <-client.Incoming():
			if !ok {
				return "", ErrConnectionLost
			}
			switch f.Type {
			case FrameRoomCreated:
				if f.RoomID == "" {
					return "", errors.New("relay returned an empty room id")
				}
				return f.RoomID, nil
			case FrameError:
				return "", &RemoteError{Op: FrameCreateRoom, Message: f.Error}
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
