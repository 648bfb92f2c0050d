package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// FilePlaceholder marks where the audio path goes in a player command.
const FilePlaceholder = "{file}"

// DefaultCommand plays a file through ffplay.
var DefaultCommand = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", FilePlaceholder}

// ErrNoCommand is returned when a CommandPlayer has nothing to run.
var ErrNoCommand = errors.New("audio: player command is empty")

// CommandPlayer plays each file by running an external program and waiting
// for it to exit.
type CommandPlayer struct {
	Args   []string
	Logger *slog.Logger
}

// NewCommandPlayer creates a player for args. A nil args uses DefaultCommand.
// The file path replaces FilePlaceholder, or is appended when absent.
func NewCommandPlayer(args []string, logger *slog.Logger) *CommandPlayer {
	if len(args) == 0 {
		args = DefaultCommand
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandPlayer{Args: args, Logger: logger.With("component", "audio.command")}
}

// Play runs the command for path and blocks until it finishes.
func (p *CommandPlayer) Play(ctx context.Context, path string) error {
	if len(p.Args) == 0 {
		return ErrNoCommand
	}
	args := make([]string, 0, len(p.Args)+1)
	replaced := false
	for _, a := range p.Args {
		if strings.Contains(a, FilePlaceholder) {
			a = strings.ReplaceAll(a, FilePlaceholder, path)
			replaced = true
		}
		args = append(args, a)
	}
	if !replaced {
		args = append(args, path)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("audio: %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	p.Logger.Debug("played", "file", path)
	return nil
}
