package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/accel"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/audio"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/config"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/engine"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/moduleinfo"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/stream"
)

// cli holds flag values shared by the subcommands.
type cli struct {
	lookup   func(string) (string, bool)
	modelDir string
	interval time.Duration
	logLevel string
	stub     bool
}

func newRootCmd(lookup func(string) (string, bool)) *cobra.Command {
	c := &cli{lookup: lookup}
	root := &cobra.Command{
		Use:           "voxtral",
		Short:         "Local streaming speech-to-text",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&c.modelDir, "model", "m", "", "model bundle directory (default from VOXTRAL_MODEL_DIR)")
	flags.DurationVar(&c.interval, "interval", 0, "processing interval (default from VOXTRAL_PROCESSING_INTERVAL)")
	flags.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&c.stub, "stub", false, "use the placeholder decoder")

	root.AddCommand(
		c.transcribeCmd(),
		c.streamCmd(),
		c.accelCmd(),
		versionCmd(),
	)
	return root
}

// config resolves the environment and applies flag overrides.
func (c *cli) config() (config.Config, error) {
	cfg, err := config.Loader{Lookup: c.lookup}.Load()
	if err != nil {
		return config.Config{}, err
	}
	if c.modelDir != "" {
		cfg.ModelDir = c.modelDir
	}
	if c.interval != 0 {
		cfg.ProcessingInterval = c.interval
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.stub {
		cfg.UseStubEngine = true
	}
	return cfg, nil
}

func (c *cli) logger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	level := slog.LevelWarn
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// open loads the model and the WAV file at its sample rate.
func (c *cli) open(cmd *cobra.Command, path string) (config.Config, *slog.Logger, *model.Context, []float32, error) {
	cfg, err := c.config()
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}
	logger := c.logger(cmd, cfg)
	if cfg.AccelEnabled() {
		accel.SetLogger(logger)
		if err := accel.Init(); err != nil {
			logger.Debug("accelerator unavailable", "error", err)
		}
	}
	mctx, err := model.Load(cfg.ModelDir, logger)
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}
	samples, err := audio.LoadWAV(path, mctx.SampleRate())
	if err != nil {
		mctx.Close()
		return config.Config{}, nil, nil, nil, err
	}
	return cfg, logger, mctx, samples, nil
}

func (c *cli) transcribeCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "transcribe <file.wav>",
		Short: "Transcribe a WAV file and print the text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, mctx, samples, err := c.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer mctx.Close()

			tokens, err := stream.Transcribe(cmd.Context(), mctx, samples, stream.Config{
				ProcessingInterval: cfg.ProcessingInterval,
				RingCapacity:       cfg.RingCapacity,
				Stub:               cfg.UseStubEngine,
				Logger:             logger,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(tokens)
			}
			_, err = fmt.Fprintln(out, engine.JoinText(engine.Texts(tokens)))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print tokens with frame and score as JSON")
	return cmd
}

func (c *cli) streamCmd() *cobra.Command {
	var (
		chunk    time.Duration
		realtime bool
	)
	cmd := &cobra.Command{
		Use:   "stream <file.wav>",
		Short: "Feed a WAV file in chunks and print tokens as they are committed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, mctx, samples, err := c.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer mctx.Close()

			sess, err := stream.New(mctx, stream.Config{
				ProcessingInterval: cfg.ProcessingInterval,
				RingCapacity:       cfg.RingCapacity,
				Stub:               cfg.UseStubEngine,
				Logger:             logger,
			})
			if err != nil {
				return err
			}
			defer sess.Close()

			step := int(chunk.Seconds() * float64(mctx.SampleRate()))
			if step <= 0 {
				return fmt.Errorf("chunk must be positive, got %s", chunk)
			}
			frame := float64(mctx.Params().Features.HopSize) / float64(mctx.SampleRate())
			return streamFile(cmd.Context(), cmd.OutOrStdout(), sess, samples, step, chunk, realtime, frame)
		},
	}
	cmd.Flags().DurationVar(&chunk, "chunk", 100*time.Millisecond, "audio fed per call")
	cmd.Flags().BoolVar(&realtime, "realtime", true, "pace feeding at the audio's own speed")
	return cmd
}

// streamFile feeds samples step at a time and prints each token with the
// stream time of its first frame.
func streamFile(ctx context.Context, out io.Writer, sess *stream.Session, samples []float32, step int, pace time.Duration, realtime bool, frameSeconds float64) error {
	var all []string
	emit := func() {
		for _, tok := range sess.Tokens(-1) {
			all = append(all, tok.Text)
			fmt.Fprintf(out, "%8.2fs  %s\n", float64(tok.Frame)*frameSeconds, tok.Text)
		}
	}

	var ticker *time.Ticker
	if realtime {
		ticker = time.NewTicker(pace)
		defer ticker.Stop()
	}
	for off := 0; off < len(samples); off += step {
		if err := sess.Feed(samples[off:min(off+step, len(samples))]); err != nil {
			return err
		}
		emit()
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err := sess.Finish(); err != nil {
		return err
	}
	if err := sess.Wait(ctx); err != nil {
		return err
	}
	emit()
	if n := sess.DroppedSamples(); n > 0 {
		fmt.Fprintf(out, "warning: %d samples dropped by ring overruns\n", n)
	}
	_, err := fmt.Fprintf(out, "text: %s\n", engine.JoinText(all))
	return err
}

func (c *cli) accelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accel",
		Short: "Initialise the accelerator and report its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			err := accel.Init()
			fmt.Fprintf(out, "init: %d\n", accel.Code(err))
			if b := accel.Active(); b != nil {
				fmt.Fprintf(out, "backend: %s\n", b.Name())
			}
			fmt.Fprintf(out, "available: %t\n", accel.Available())
			accel.Shutdown()
			fmt.Fprintf(out, "after shutdown: %t\n", accel.Available())
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", moduleinfo.Info.Name, moduleinfo.Version)
		},
	}
}
