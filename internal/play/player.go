package play

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// preferredPlayers lists supported players in order of preference.
var preferredPlayers = []string{"vlc", "mpv", "ffplay", "aplay", "afplay"}

type Player struct {
	lookPath func(string) (string, error)
}

func New() *Player {
	return &Player{lookPath: exec.LookPath}
}

// Play plays a payload with the first available external player and
// blocks until playback ends or ctx is cancelled.
func (p *Player) Play(ctx context.Context, audioFile string) error {
	if _, err := os.Stat(audioFile); err != nil {
		return fmt.Errorf("audio file not found: %s", audioFile)
	}

	cmd, player, err := p.command(ctx, audioFile)
	if err != nil {
		return err
	}

	slog.Info("Playing recording", "file", audioFile, "player", player)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	slog.Debug("Playback completed", "file", audioFile)
	return nil
}

func (p *Player) command(ctx context.Context, audioFile string) (*exec.Cmd, string, error) {
	player, err := p.findAudioPlayer()
	if err != nil {
		return nil, "", fmt.Errorf("no suitable audio player found: %w", err)
	}

	var cmd *exec.Cmd
	switch player {
	case "vlc":
		cmd = exec.CommandContext(ctx, "vlc", "--intf", "dummy", "--play-and-exit", audioFile)
	case "mpv":
		cmd = exec.CommandContext(ctx, "mpv", "--no-video", audioFile)
	case "ffplay":
		cmd = exec.CommandContext(ctx, "ffplay", "-nodisp", "-autoexit", "-loglevel", "error", audioFile)
	case "aplay":
		cmd = exec.CommandContext(ctx, "aplay", audioFile)
	case "afplay":
		cmd = exec.CommandContext(ctx, "afplay", audioFile)
	default:
		return nil, "", fmt.Errorf("unsupported player: %s", player)
	}
	return cmd, player, nil
}

func (p *Player) findAudioPlayer() (string, error) {
	for _, player := range preferredPlayers {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(preferredPlayers, ", "))
}
