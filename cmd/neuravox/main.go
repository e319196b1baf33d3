// Command neuravox drives the audio-to-transcript pipeline from the
// command line: process a recording, resume unfinished ones, or check a
// recording's status. It is intentionally thin; all behavior lives in
// internal/pipeline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alikebrahim/neuravox/internal/config"
	"github.com/alikebrahim/neuravox/internal/logging"
	"github.com/alikebrahim/neuravox/internal/pipeline"
	"github.com/alikebrahim/neuravox/internal/state"
	"github.com/alikebrahim/neuravox/internal/transcribe"
	"github.com/alikebrahim/neuravox/internal/transcribe/cloudgs"
	"github.com/alikebrahim/neuravox/internal/transcribe/cloudoa"
	"github.com/alikebrahim/neuravox/internal/transcribe/localwhisper"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string
	var backendID string

	root := &cobra.Command{
		Use:   "neuravox",
		Short: "Audio-to-transcript pipeline",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (overrides NEURAVOX_CONFIG)")
	root.PersistentFlags().StringVar(&backendID, "backend", "", "transcription backend id (overrides transcription.default_backend)")

	root.AddCommand(
		processCommand(&configPath, &backendID),
		resumeCommand(&configPath, &backendID),
		statusCommand(&configPath),
	)
	return root
}

func processCommand(configPath, backendID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "process <path>",
		Short: "Process a single audio file through the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withInterrupt()
			defer cancel()

			orch, closeFn, err := newOrchestrator(*configPath)
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := orch.ProcessOne(ctx, args[0], *backendID)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
}

func resumeCommand(configPath, backendID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume every unfinished recording from its last checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withInterrupt()
			defer cancel()

			orch, closeFn, err := newOrchestrator(*configPath)
			if err != nil {
				return err
			}
			defer closeFn()

			results, err := orch.Resume(ctx, *backendID)
			if err != nil {
				return err
			}
			for _, r := range results {
				printResult(r)
			}
			return nil
		},
	}
}

func statusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <file_id>",
		Short: "Show the state-machine status of one recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, closeFn, err := newOrchestrator(*configPath)
			if err != nil {
				return err
			}
			defer closeFn()

			rec, stages, err := orch.Status(args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				fmt.Printf("unknown file_id: %s\n", args[0])
				return nil
			}
			fmt.Printf("file_id: %s\nstatus: %s\noriginal_path: %s\n", rec.FileID, rec.OverallStatus, rec.OriginalPath)
			for _, s := range stages {
				fmt.Printf("  stage=%-10s status=%-10s\n", s.Stage, s.Status)
			}
			return nil
		},
	}
}

func printResult(r *pipeline.PipelineResult) {
	if r == nil {
		return
	}
	if r.Err != nil {
		fmt.Printf("file_id=%s status=failed error=%v\n", r.FileID, r.Err)
		return
	}
	fmt.Printf("file_id=%s status=%s chunks=%d failed=%d transcript=%s\n",
		r.FileID, r.Status, r.ChunksTotal, r.ChunksFailed, r.TranscriptPath)
}

func withInterrupt() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func newOrchestrator(configPath string) (*pipeline.Orchestrator, func(), error) {
	if configPath != "" {
		os.Setenv("NEURAVOX_CONFIG", configPath)
	}

	settings, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logging.Init(settings.Logging)

	store, err := state.Open(settings.Workspace.StateDBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("opening state store: %w", err)
	}

	registry := buildRegistry(settings)
	orch := pipeline.New(store, settings, registry)

	closeFn := func() {
		_ = store.Close()
		_ = logging.Close()
	}
	return orch, closeFn, nil
}

func buildRegistry(settings *config.Settings) *transcribe.Registry {
	backends := []transcribe.Backend{
		localwhisper.New(os.Getenv("NEURAVOX_WHISPER_MODEL"), ""),
	}

	if key, err := config.ResolveCredential("cloud-a"); err == nil && key != "" {
		backends = append(backends, cloudoa.New(key))
	}
	if cred, err := config.ResolveCredential("cloud-b"); err == nil && cred != "" {
		if gs, gsErr := cloudgs.New(context.Background(), cred); gsErr == nil {
			backends = append(backends, gs)
		}
	}

	return transcribe.NewRegistry(backends...)
}
