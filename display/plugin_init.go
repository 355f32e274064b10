package iqscope

import (
	"errors"
	"fmt"
	"log/slog"

	Qp "github.com/maroda/iqscope/plugin"
	Qs "github.com/maroda/iqscope/server"
)

// Pipeline is a Scope together with the source feeding it and the output recording it
type Pipeline struct {
	Scope  *Qs.Scope
	Push   Qp.PushSource
	Poll   Qp.PollSource
	Output Qp.FrameOutput
}

// InitPipeline opens the configured source and output and builds the Scope around them
func InitPipeline(cfg Qs.Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	push, poll, err := Qp.SourceLookup(cfg.Source, cfg.SourceOptions())
	if err != nil {
		slog.Error("Failed to open source",
			slog.String("source", cfg.Source),
			slog.Any("Error", err))
		return nil, fmt.Errorf("source %s: %w", cfg.Source, err)
	}
	p := &Pipeline{Push: push, Poll: poll}

	var opts []Qs.Option
	if poll != nil {
		opts = append(opts, Qs.WithPollSource(poll))
	}

	if cfg.RecordPath != "" {
		output, err := InitRecordOutput(cfg.RecordPath, cfg.RecordBatch)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.Output = output
		opts = append(opts, Qs.WithOutput(output))
	}

	scope, err := Qs.NewScope(cfg, opts...)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Scope = scope
	return p, nil
}

// InitRecordOutput opens the badger store that keeps every frame
func InitRecordOutput(path string, batch int) (*Qp.BadgerOutput, error) {
	output, err := Qp.NewBadgerOutput(path, batch)
	if err != nil {
		slog.Error("Failed to create adapter",
			slog.String("output", path),
			slog.Any("Error", err))
		return nil, err
	}
	slog.Info("Frame recording enabled", slog.String("output", path), slog.Int("batch", batch))
	return output, nil
}

// Start begins delivery from a push source. Poll sources are read by the consumer.
func (p *Pipeline) Start() error {
	if p.Push == nil {
		return nil
	}
	if err := p.Push.Start(p.Scope.Sink()); err != nil {
		slog.Error("Failed to start source", slog.String("source", p.Push.Type()), slog.Any("Error", err))
		return fmt.Errorf("start %s: %w", p.Push.Type(), err)
	}
	return nil
}

// Close stops the source first so nothing is pushed into a closed output
func (p *Pipeline) Close() error {
	var errs []error
	if p.Push != nil {
		errs = append(errs, p.Push.Close())
	}
	if p.Poll != nil {
		errs = append(errs, p.Poll.Close())
	}
	if p.Output != nil {
		errs = append(errs, p.Output.Close())
	}
	err := errors.Join(errs...)
	if err != nil {
		slog.Error("Pipeline close", slog.Any("Error", err))
	}
	return err
}
