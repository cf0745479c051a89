// Package wizard asks for the conversion inputs interactively and runs the
// conversion behind a progress screen.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/mrsinham/nii2dcm/internal/config"
	"github.com/mrsinham/nii2dcm/internal/convert"
	"github.com/mrsinham/nii2dcm/internal/logging"
)

// Run starts the wizard. If fromConfig is set, its values pre-fill the form.
func Run(ctx context.Context, fromConfig string) error {
	cfg, err := config.Load(fromConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	state := NewState(cfg)
	if err := NewForm(state).RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return fmt.Errorf("running wizard: %w", err)
	}
	if err := state.Apply(cfg); err != nil {
		return err
	}

	if state.SaveConfig != "" {
		if err := config.Save(cfg, state.SaveConfig); err != nil {
			return err
		}
	}

	// Log lines would tear the progress screen, so they only go to a file.
	logCfg := cfg.Logging
	logCfg.Stderr = io.Discard
	log, closer, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	opts, err := cfg.ConvertOptions(state.Paths())
	if err != nil {
		return err
	}
	opts.Log = log

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := NewProgressModel(opts.OutputDir, cancel)
	p := tea.NewProgram(model, tea.WithContext(ctx))
	opts.ProgressCallback = func(current, total int) {
		p.Send(ProgressMsg{Current: current, Total: total})
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		start := time.Now()
		report, err := convert.Run(ctx, opts)
		p.Send(DoneMsg{Report: report, Err: err, Duration: time.Since(start)})
	}()

	_, runErr := p.Run()
	cancel()
	<-finished

	if model.Cancelled() {
		return nil
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return fmt.Errorf("running progress screen: %w", runErr)
	}
	return model.Err()
}
