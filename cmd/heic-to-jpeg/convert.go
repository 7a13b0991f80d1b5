package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/spf13/cobra"

	"github.com/book-expert/heic-to-jpeg/internal/codec"
	"github.com/book-expert/heic-to-jpeg/internal/config"
	"github.com/book-expert/heic-to-jpeg/internal/observer"
	"github.com/book-expert/heic-to-jpeg/internal/pipeline"
)

// convertOptions holds the flags of the convert command.
type convertOptions struct {
	configPath string
	outputRoot string
	placement  string
	workers    int
	open       bool
	quiet      bool
}

func newConvertCommand(reveal RevealFunc) *cobra.Command {
	options := &convertOptions{}

	command := &cobra.Command{
		Use:   "convert INPUT_DIR",
		Short: "Convert a directory tree",
		Long: `Convert mirrors INPUT_DIR into an output directory. Without --output the
output directory is created next to INPUT_DIR (placement "parent") or inside
it (placement "inside") under the first free name among
{name}_converted, {name}_JPEG, Converted_{name}, JPEG_{name}, {name}_converted_N.

Exit status is 0 on success, 2 when some files failed and 1 when the run
could not start or was interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, args[0], options, reveal)
		},
	}

	flags := command.Flags()
	flags.StringVarP(&options.outputRoot, "output", "o", "", "output directory (implies --placement explicit)")
	flags.StringVar(&options.placement, "placement", "", "where to create the output directory: parent, inside or explicit")
	flags.IntVarP(&options.workers, "workers", "w", config.DefaultWorkers, "number of files converted in parallel")
	flags.StringVarP(&options.configPath, "config", "c", "", "path to project.toml (default ./project.toml when present)")
	flags.BoolVar(&options.open, "open", false, "open the output directory when the conversion completes")
	flags.BoolVarP(&options.quiet, "quiet", "q", false, "only print failures and the final summary")

	return command
}

func runConvert(cmd *cobra.Command, inputRoot string, options *convertOptions, reveal RevealFunc) error {
	// A temporary logger for the bootstrap process
	log, err := logger.New(os.TempDir(), "heic-to-jpeg-bootstrap.log")
	if err != nil {
		return fatal("failed to create bootstrap logger: %w", err)
	}

	cfg, err := config.Load(options.configPath, log)
	if err != nil {
		return fatal("failed to load configuration: %w", err)
	}

	applyFlagOverrides(cmd, cfg, options)

	err = cfg.Validate()
	if err != nil {
		return fatal("invalid options: %w", err)
	}

	// Initialize the final logger based on the loaded configuration
	log, err = logger.New(cfg.Logging.Dir, config.DefaultLogFilename)
	if err != nil {
		return fatal("failed to create logger: %w", err)
	}

	placement, err := pipeline.ParsePlacement(cfg.Converter.Placement)
	if err != nil {
		return fatal("invalid placement: %w", err)
	}

	treeConverter, err := pipeline.New(codec.NewConverter(log), log, cfg.Converter.Workers)
	if err != nil {
		return fatal("failed to initialize conversion pipeline: %w", err)
	}

	plan, err := treeConverter.Prepare(pipeline.Request{
		InputRoot:  inputRoot,
		OutputRoot: options.outputRoot,
		Placement:  placement,
	})
	if errors.Is(err, pipeline.ErrEmptyInput) {
		cmd.Printf("Nothing to process: %s contains no files.\n", inputRoot)

		return nil
	}

	if err != nil {
		return fatal("%w", err)
	}

	eventSink, closeSink, err := buildObservers(cfg, plan.RunID, cmd.OutOrStdout(), options.quiet, log)
	if err != nil {
		return fatal("%w", err)
	}
	defer closeSink()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := treeConverter.Run(ctx, plan, eventSink)
	if err != nil {
		return fatal("%w", err)
	}

	if options.open && reveal != nil {
		revealErr := reveal(summary.OutputRoot)
		if revealErr != nil {
			log.Warn("Failed to open %s: %v", summary.OutputRoot, revealErr)
		}
	}

	if summary.Failed > 0 {
		return &exitError{
			err:  fmt.Errorf("%d of %d files failed", summary.Failed, summary.TotalFiles),
			code: exitFileFailures,
		}
	}

	return nil
}

// applyFlagOverrides lets explicitly given flags win over project.toml.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config, options *convertOptions) {
	flags := cmd.Flags()

	if flags.Changed("workers") {
		cfg.Converter.Workers = options.workers
	}

	if flags.Changed("placement") {
		cfg.Converter.Placement = options.placement
	}

	if options.outputRoot != "" {
		cfg.Converter.Placement = config.PlacementExplicit
	}
}

// buildObservers assembles the console printer and, when configured, the NATS publisher.
func buildObservers(
	cfg *config.Config,
	runID string,
	writer io.Writer,
	quiet bool,
	log *logger.Logger,
) (observer.Observer, func(), error) {
	console := observer.NewConsole(writer, quiet)
	if !cfg.PublishingEnabled() {
		return console, func() {}, nil
	}

	natsConn, err := observer.Connect(cfg.NATS.URL, log)
	if err != nil {
		return nil, nil, err
	}

	publisher := observer.NewPublisher(natsConn, runID, cfg.NATS.SubjectPrefix, log)

	closeConnection := func() {
		drainErr := natsConn.Drain()
		if drainErr != nil {
			log.Warn("Failed to drain NATS connection: %v", drainErr)
		}

		if failures := publisher.Failures(); failures > 0 {
			log.Warn("%d events could not be published", failures)
		}
	}

	return observer.Multi{console, publisher}, closeConnection, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}
