package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/logging"
	"docqa/internal/service"
	"docqa/internal/tui"
	"docqa/internal/vectorstore/memory"
)

func newRootCmd() *cobra.Command {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:           "docqa",
		Short:         "Ask questions about a document",
		Long:          "docqa splits a document into overlapping segments, embeds them, and answers questions using the most similar segments as context.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config file (default ./docqa.yaml, then ~/.config/docqa/config.yaml)")

	rootCmd.AddCommand(createChatCommand(&cfgPath))
	rootCmd.AddCommand(createAskCommand(&cfgPath))
	rootCmd.AddCommand(createConfigCommand())
	return rootCmd
}

func createChatCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <file>",
		Short: "Load a document and chat about it in the terminal UI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			// The terminal belongs to the UI, so logs always go to a file.
			if cfg.Log.File == "" {
				userPath, err := config.DefaultUserConfigPath()
				if err != nil {
					return err
				}
				cfg.Log.File = filepath.Join(filepath.Dir(userPath), "docqa.log")
			}
			logger, closer, err := logging.New(cfg.Log, io.Discard)
			if err != nil {
				return err
			}
			defer closer.Close()

			session, err := newSession(cfg, logger)
			if err != nil {
				return err
			}
			defer session.Reset()

			m := tui.New(cmd.Context(), session, args[0])
			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		},
	}
}

func createAskCommand(cfgPath *string) *cobra.Command {
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask <file> <question...>",
		Short: "Load a document and answer a single question",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			stderr := cmd.ErrOrStderr()
			if cfg.Log.File == "" {
				cfg.Log.Console = true
			}
			logger, closer, err := logging.New(cfg.Log, stderr)
			if err != nil {
				return err
			}
			defer closer.Close()

			session, err := newSession(cfg, logger)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			loadErr := session.Load(ctx, args[0], func(p domain.Progress) {
				printProgress(stderr, p)
			})
			fmt.Fprintln(stderr)
			if loadErr != nil {
				if !session.Ready() {
					return loadErr
				}
				fmt.Fprintf(stderr, "warning: continuing with %d indexed segments: %s\n", session.Segments(), domain.UserMessage(loadErr))
			}

			question := strings.Join(args[1:], " ")
			stream, err := session.Ask(ctx, question)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := service.Drain(stream, func(frag string) { fmt.Fprint(out, frag) }); err != nil {
				return fmt.Errorf("generate answer: %w", err)
			}
			fmt.Fprintln(out)

			if showSources {
				sources, err := session.Sources(ctx, question)
				if err != nil {
					return err
				}
				for i, s := range sources {
					fmt.Fprintf(out, "\n[%d] segment #%d score=%.3f\n%s\n", i+1, s.Segment.ID, s.Score, s.Segment.Text)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "Print the retrieved segments after the answer")
	return cmd
}

func createConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var path string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				p, err := config.DefaultUserConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return domain.InvalidInputf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&path, "path", "p", "", "Destination (default ~/.config/docqa/config.yaml)")
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	configCmd.AddCommand(initCmd)
	return configCmd
}

func loadConfig(path string) (*config.AppConfig, error) {
	var cfg *config.AppConfig
	var err error
	if path == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newSession(cfg *config.AppConfig, logger zerolog.Logger) (*service.Session, error) {
	provider, err := embedding.New(cfg.Provider, cfg.Retrieval.Separator, logger)
	if err != nil {
		return nil, err
	}
	index := memory.NewIndex(memory.WithDimension(provider.Dimension()), memory.WithLogger(logger))
	return service.NewSession(provider.Embedder, provider.Generator, index, service.Options{
		ChunkSize:    cfg.Chunker.Size,
		ChunkOverlap: cfg.Chunker.Overlap,
		BatchSize:    cfg.Ingest.BatchSize,
		BatchDelay:   cfg.BatchDelay(),
		TopK:         cfg.Retrieval.TopK,
		Separator:    cfg.Retrieval.Separator,
	}, logger)
}

func printProgress(w io.Writer, p domain.Progress) {
	const width = 40
	filled := p.Percentage * width / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	fmt.Fprintf(w, "\r[%s] %3d%% %-40s", bar, p.Percentage, p.Message)
}
