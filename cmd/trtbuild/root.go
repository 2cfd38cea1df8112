package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"trtbuild/internal/builder"
	"trtbuild/internal/common/fsutil"
	"trtbuild/internal/config"
	"trtbuild/internal/httpapi"
	"trtbuild/internal/pipelines"
	"trtbuild/internal/serve"
	"trtbuild/pkg/types"
)

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).With().Timestamp().Logger()
	builder.SetLogger(logger)
	httpapi.SetLogger(logger)
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "trtbuild",
		Short:         "Build and serve TensorRT-LLM engines from HuggingFace checkpoints",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	logLevel := root.PersistentFlags().String("log-level",
		envDefault("TRTBUILD_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		setupLogging(*logLevel)
	}

	root.AddCommand(buildBuildCmd())
	root.AddCommand(buildServeCmd())
	root.AddCommand(buildModelsCmd())

	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(os.Stdout, true) }})
	root.AddCommand(completionCmd)

	return root
}

func buildBuildCmd() *cobra.Command {
	var (
		configPath string
		cfg        config.Config
	)
	cmd := &cobra.Command{
		Use:   "build <model-dir>",
		Short: "Build engines from a HuggingFace checkpoint directory",
		Args:  cobra.ExactArgs(1),
		Example: "  trtbuild build ~/models/llama-7b --output ./engines --dtype float16\n" +
			"  trtbuild build ~/models/llama-7b --tp 2 --world-size 2 --parallel\n" +
			"  trtbuild build ~/models/llama-7b --quant-mode fp8 --calib-dataset c4",
	}
	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "Optional config file (.yaml/.json/.toml); flags override")
	f.StringVar(&cfg.OutputDir, "output", "engines", "Output directory for engines and metadata")
	f.StringVar(&cfg.Dtype, "dtype", "", "Target dtype: float32|float16|bfloat16 (default: the checkpoint's torch_dtype)")
	f.IntVar(&cfg.OptimizationLvl, "opt-level", 3, "Builder optimization level")
	f.BoolVar(&cfg.ParallelBuild, "parallel", false, "Build shard ranks concurrently")
	f.IntVar(&cfg.NumParallelJobs, "jobs", 0, "Concurrent build jobs (0 = number of CPUs)")
	f.IntVar(&cfg.MaxBatchSize, "max-batch-size", 1, "Maximum batch size")
	f.IntVar(&cfg.MaxPromptLength, "max-prompt-length", 512, "Maximum prompt length in tokens")
	f.IntVar(&cfg.MaxNewTokens, "max-new-tokens", 512, "Maximum generated tokens")
	f.IntVar(&cfg.MaxBeamWidth, "beam-width", 1, "Beam width for sampling")
	f.IntVar(&cfg.TPDegree, "tp", 1, "Tensor parallelism degree")
	f.IntVar(&cfg.PPDegree, "pp", 1, "Pipeline parallelism degree")
	f.IntVar(&cfg.WorldSize, "world-size", 1, "Total number of ranks")
	f.IntVar(&cfg.NumGPUsPerNode, "gpus-per-node", 1, "GPUs per node")
	f.StringVar(&cfg.QuantMode, "quant-mode", "", "Quantization mode: none|int8|int4|int8-kv|fp8|fp8-kv")
	f.StringVar(&cfg.CalibrationDataset, "calib-dataset", "", "Calibration dataset name")
	f.IntVar(&cfg.CalibrationNSamples, "calib-samples", 512, "Calibration sample count")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			fileCfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			mergeConfig(cmd, &cfg, fileCfg)
		}
		return runBuild(cmd.Context(), args[0], cfg)
	}
	return cmd
}

// mergeConfig fills cfg from the file for every flag the user did not set.
func mergeConfig(cmd *cobra.Command, cfg *config.Config, file config.Config) {
	set := func(name string) bool { return cmd.Flags().Changed(name) }
	if !set("output") && file.OutputDir != "" {
		cfg.OutputDir = file.OutputDir
	}
	if !set("dtype") && file.Dtype != "" {
		cfg.Dtype = file.Dtype
	}
	if !set("opt-level") && file.OptimizationLvl != 0 {
		cfg.OptimizationLvl = file.OptimizationLvl
	}
	if !set("parallel") && file.ParallelBuild {
		cfg.ParallelBuild = true
	}
	if !set("jobs") && file.NumParallelJobs != 0 {
		cfg.NumParallelJobs = file.NumParallelJobs
	}
	if !set("max-batch-size") && file.MaxBatchSize != 0 {
		cfg.MaxBatchSize = file.MaxBatchSize
	}
	if !set("max-prompt-length") && file.MaxPromptLength != 0 {
		cfg.MaxPromptLength = file.MaxPromptLength
	}
	if !set("max-new-tokens") && file.MaxNewTokens != 0 {
		cfg.MaxNewTokens = file.MaxNewTokens
	}
	if !set("beam-width") && file.MaxBeamWidth != 0 {
		cfg.MaxBeamWidth = file.MaxBeamWidth
	}
	if !set("tp") && file.TPDegree != 0 {
		cfg.TPDegree = file.TPDegree
	}
	if !set("pp") && file.PPDegree != 0 {
		cfg.PPDegree = file.PPDegree
	}
	if !set("world-size") && file.WorldSize != 0 {
		cfg.WorldSize = file.WorldSize
	}
	if !set("gpus-per-node") && file.NumGPUsPerNode != 0 {
		cfg.NumGPUsPerNode = file.NumGPUsPerNode
	}
	if !set("quant-mode") && file.QuantMode != "" {
		cfg.QuantMode = file.QuantMode
	}
	if !set("calib-dataset") && file.CalibrationDataset != "" {
		cfg.CalibrationDataset = file.CalibrationDataset
	}
	if !set("calib-samples") && file.CalibrationNSamples != 0 {
		cfg.CalibrationNSamples = file.CalibrationNSamples
	}
}

func runBuild(ctx context.Context, modelDir string, cfg config.Config) error {
	modelDir, err := fsutil.ExpandHome(modelDir)
	if err != nil {
		return err
	}
	mc, err := types.LoadModelConfig(modelDir)
	if err != nil {
		return err
	}
	b := builder.New(modelDir, mc).
		WithGenerationProfile(cfg.MaxBatchSize, cfg.MaxPromptLength, cfg.MaxNewTokens, 0).
		WithSamplingStrategy(cfg.MaxBeamWidth)
	// No --dtype means "build at the checkpoint's own precision".
	if cfg.Dtype != "" {
		dtype, err := builder.ParseDType(cfg.Dtype)
		if err != nil {
			return err
		}
		b = b.To(dtype)
	}
	if cfg.TPDegree > 1 || cfg.PPDegree > 1 || cfg.WorldSize > 1 {
		b = b.Shard(cfg.TPDegree, cfg.PPDegree, cfg.WorldSize, cfg.NumGPUsPerNode)
	}
	if cfg.ParallelBuild {
		b = b.EnableParallelBuild(cfg.NumParallelJobs)
	}
	if cfg.QuantMode != "" {
		qmode, err := builder.ParseQuantMode(cfg.QuantMode)
		if err != nil {
			return err
		}
		var calib *builder.Calibration
		if cfg.CalibrationDataset != "" {
			calib = &builder.Calibration{Dataset: cfg.CalibrationDataset, NumSamples: cfg.CalibrationNSamples}
		}
		b, err = b.WithQuantizationProfile(qmode, calib)
		if err != nil {
			return err
		}
	}

	out, err := b.Build(ctx, cfg.OutputDir, cfg.OptimizationLvl)
	if err != nil {
		return err
	}
	log.Printf("engines written to %s", out)
	return nil
}

func buildServeCmd() *cobra.Command {
	var (
		addr         string
		task         string
		maxBodyBytes int64
		corsOrigins  []string
	)
	cmd := &cobra.Command{
		Use:   "serve <engine-dir>",
		Short: "Serve text generation from a built engine directory",
		Args:  cobra.ExactArgs(1),
		Example: "  trtbuild serve ./engines\n" +
			"  trtbuild serve ./engines --addr :9090",
	}
	cmd.Flags().StringVar(&addr, "addr", envDefault("TRTBUILD_ADDR", ":8080"), "HTTP listen address")
	cmd.Flags().StringVar(&task, "task", string(pipelines.TaskTextGeneration), "Pipeline task")
	cmd.Flags().Int64Var(&maxBodyBytes, "max-body-bytes", 0, "Maximum request body size (0 = default 1MiB)")
	cmd.Flags().StringSliceVar(&corsOrigins, "cors-origin", nil, "Allowed CORS origins (repeatable; empty disables CORS)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		engineDir, err := fsutil.ExpandHome(args[0])
		if err != nil {
			return err
		}
		svc, err := serve.New(pipelines.NewRegistry(), pipelines.Task(task), engineDir)
		if err != nil {
			return err
		}
		defer svc.Close()

		httpapi.SetMaxBodyBytes(maxBodyBytes)
		if len(corsOrigins) > 0 {
			httpapi.SetCORSOptions(true, corsOrigins,
				[]string{"GET", "POST", "OPTIONS"}, []string{"Accept", "Content-Type"})
		}

		baseCtx, cancelBase := context.WithCancel(context.Background())
		defer cancelBase()
		httpapi.SetBaseContext(baseCtx)

		srv := &http.Server{Addr: addr, Handler: httpapi.NewMux(svc)}
		go func() {
			log.Printf("trtbuild serving %s on %s", engineDir, addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("server error: %v", err)
			}
		}()

		// Graceful shutdown (Ctrl+C / SIGTERM)
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		cancelBase()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("graceful shutdown error: %v", err)
		}
		return nil
	}
	return cmd
}

func buildModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models [dir]",
		Short: "List supported model types, or buildable checkpoints under a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := pipelines.NewRegistry()
			if len(args) == 0 {
				for _, arch := range types.SupportedArchitectures() {
					_, err := reg.Resolve(arch, pipelines.TaskTextGeneration)
					status := "build, text-generation"
					if err != nil {
						status = "build only"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", arch, status)
				}
				return nil
			}

			dir, err := fsutil.ExpandHome(args[0])
			if err != nil {
				return err
			}
			entries, err := os.ReadDir(dir)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				cfg, err := types.LoadModelConfig(filepath.Join(dir, e.Name()))
				if err != nil {
					continue
				}
				status := "unsupported"
				if _, err := types.ParseArchitecture(cfg.ModelType); err == nil {
					status = "buildable"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", e.Name(), cfg.ModelType, status)
			}
			return nil
		},
	}
}
