// Package main provides the deckctl command-line remote for the tapedeck daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	"github.com/osa030/tapedeck/internal/api/control"
)

var (
	app    = kingpin.New("deckctl", "tapedeck remote control")
	server = app.Flag("server", "Control API address").Default("http://127.0.0.1:7878").Envar("TAPEDECK_CONTROL_ADDR").String()
	token  = app.Flag("token", "Control token").Envar("TAPEDECK_CONTROL_TOKEN").String()

	// transport commands
	playCmd   = app.Command("play", "Play an item, or resume when none is given")
	playItem  = playCmd.Arg("item", "Spotify track ID, URI or URL").String()
	pauseCmd  = app.Command("pause", "Pause playback")
	toggleCmd = app.Command("toggle", "Toggle play/pause")
	stopCmd   = app.Command("stop", "Stop playback")
	nextCmd   = app.Command("next", "Play the next queue item")
	prevCmd   = app.Command("prev", "Play the previous queue item")

	seekCmd    = app.Command("seek", "Seek to a position")
	seekOffset = seekCmd.Arg("position", "Position (e.g. 1m30s)").Required().Duration()

	volumeCmd   = app.Command("volume", "Set the volume")
	volumeLevel = volumeCmd.Arg("level", "Volume level between 0 and 1").Required().Float64()

	// session commands
	logoutCmd = app.Command("logout", "Stop playback and forget the stored credential")
	reauthCmd = app.Command("reauth", "Run a new authorization")

	// queue command
	queueCmd      = app.Command("queue", "Replace the play queue")
	queuePlaylist = queueCmd.Flag("playlist", "Spotify playlist URL").String()
	queueCursor   = queueCmd.Flag("cursor", "Index of the current item (-1 for none)").Default("-1").Int()
	queueItems    = queueCmd.Arg("items", "Spotify track IDs, URIs or URLs").Strings()

	// state commands
	statusCmd = app.Command("status", "Show the current state")
	watchCmd  = app.Command("watch", "Follow state changes")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := control.NewClient(nil, *server, *token)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case playCmd.FullCommand():
		err = client.Submit(ctx, control.CommandRequest{Type: "play", Item: *playItem})
	case pauseCmd.FullCommand():
		err = client.Submit(ctx, control.CommandRequest{Type: "pause"})
	case toggleCmd.FullCommand():
		err = client.Submit(ctx, control.CommandRequest{Type: "play_pause"})
	case stopCmd.FullCommand():
		err = client.Submit(ctx, control.CommandRequest{Type: "stop"})
	case nextCmd.FullCommand():
		err = client.Submit(ctx, control.CommandRequest{Type: "next"})
	case prevCmd.FullCommand():
		err = client.Submit(ctx, control.CommandRequest{Type: "previous"})
	case seekCmd.FullCommand():
		err = client.Submit(ctx, control.CommandRequest{Type: "seek", OffsetMs: seekOffset.Milliseconds()})
	case volumeCmd.FullCommand():
		err = client.Submit(ctx, control.CommandRequest{Type: "set_volume", Volume: volumeLevel})
	case logoutCmd.FullCommand():
		err = client.Submit(ctx, control.CommandRequest{Type: "logout"})
	case reauthCmd.FullCommand():
		err = client.Submit(ctx, control.CommandRequest{Type: "reauthenticate"})
	case queueCmd.FullCommand():
		err = client.SetQueue(ctx, control.QueueRequest{
			Items:       *queueItems,
			PlaylistURL: *queuePlaylist,
			Cursor:      *queueCursor,
		})
	case statusCmd.FullCommand():
		var view control.StateView
		if view, err = client.State(ctx); err == nil {
			printState(view)
		}
	case watchCmd.FullCommand():
		fmt.Println("Following state changes. Press Ctrl+C to exit.")
		err = client.Stream(ctx, func(view control.StateView) error {
			printState(view)
			return nil
		})
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func formatStatus(status string) string {
	switch status {
	case "idle":
		return "⏹  Idle"
	case "connecting":
		return "⏳ Connecting"
	case "playing":
		return "▶️  Playing"
	case "paused":
		return "⏸  Paused"
	case "stalled":
		return "⌛ Stalled (waiting for the device)"
	case "ended":
		return "🔚 Ended"
	case "errored":
		return "❗ Errored"
	default:
		return "❓ Unknown"
	}
}

func printState(v control.StateView) {
	fmt.Printf("\n[Sequence: %d] %s\n", v.Seq, formatStatus(v.Status))
	if v.Reason != "" {
		fmt.Printf("  Reason: %s\n", v.Reason)
	}
	if v.RetryInMs > 0 {
		fmt.Printf("  Reconnecting: attempt %d in %s\n", v.ReconnectAttempt, time.Duration(v.RetryInMs)*time.Millisecond)
	}
	if v.Item != nil {
		fmt.Printf("  Track: %s\n", v.Item.Name)
		fmt.Printf("  Artists: %s\n", strings.Join(v.Item.Artists, ", "))
		fmt.Printf("  Album: %s\n", v.Item.Album)
		fmt.Printf("  Position: %s / %s\n",
			time.Duration(v.PositionMs)*time.Millisecond,
			time.Duration(v.Item.DurationMs)*time.Millisecond)
	}
	fmt.Printf("  Volume: %.0f%%\n", v.Volume*100)
	if v.QueueCursor >= 0 {
		fmt.Printf("  Queue position: %d\n", v.QueueCursor+1)
	}
}
