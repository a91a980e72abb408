// Package speech is the text-to-speech capability used by playback. Speak
// blocks until the text has been spoken or ctx is cancelled.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Silent finishes immediately. It stands in when no speech engine is
// available so playback degrades to delete-on-schedule.
type Silent struct{}

func (Silent) Speak(ctx context.Context, text string) error {
	return ctx.Err()
}

// Command speaks by running an external program with the text as its last
// argument, e.g. "espeak" or "say -v Alex". Cancelling ctx kills the process.
type Command struct {
	name   string
	args   []string
	logger *zap.Logger
}

func NewCommand(commandLine string, logger *zap.Logger) (*Command, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("speech command is empty")
	}
	if _, err := exec.LookPath(fields[0]); err != nil {
		return nil, fmt.Errorf("find speech command %q: %w", fields[0], err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Command{name: fields[0], args: fields[1:], logger: logger}, nil
}

func (c *Command) Speak(ctx context.Context, text string) error {
	args := append(append([]string{}, c.args...), text)
	cmd := exec.CommandContext(ctx, c.name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("run %s: %w: %s", c.name, err, strings.TrimSpace(out.String()))
	}
	c.logger.Debug("spoke item", zap.Int("chars", len(text)))
	return nil
}

// FromConfig returns a Command for commandLine, or Silent when commandLine is
// empty or the program cannot be found.
func FromConfig(commandLine string, logger *zap.Logger) Speaker {
	if strings.TrimSpace(commandLine) == "" {
		return Silent{}
	}
	cmd, err := NewCommand(commandLine, logger)
	if err != nil {
		if logger != nil {
			logger.Warn("speech unavailable, playback will be silent", zap.Error(err))
		}
		return Silent{}
	}
	return cmd
}
