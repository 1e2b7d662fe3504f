package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"

	"github.com/b0tShaman/neuro-mlp/config"
	"github.com/b0tShaman/neuro-mlp/data"
	"github.com/b0tShaman/neuro-mlp/history"
	"github.com/b0tShaman/neuro-mlp/logging"
	"github.com/b0tShaman/neuro-mlp/metrics"
	"github.com/b0tShaman/neuro-mlp/ml"
	"github.com/b0tShaman/neuro-mlp/train"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const numClasses = 10

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// -------- MAIN -------- //
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// usageError marks a command-line problem; it exits with exitUsage.
type usageError struct{ error }

// Execute parses args, runs one training session and returns the process
// exit code. Results go to stdout; usage errors and diagnostics to stderr.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flagCfg := config.Default()
	var cfgPath string
	code := exitOK

	cmd := &cobra.Command{
		Use:           "neuro-mlp <train_csv> <test_csv>",
		Short:         "Train a simple neural network for digit classification",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd.Flags(), cfgPath, flagCfg)
			if err != nil {
				var ue usageError
				if errors.As(err, &ue) {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Error: %v\n", err)
				code = exitError
				return nil
			}
			cfg.TrainPath, cfg.TestPath = args[0], args[1]
			code = run(cmd.Context(), cfg, cmd.OutOrStdout(), stderr)
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&flagCfg.Epochs, "epochs", flagCfg.Epochs, "Number of training epochs")
	f.IntVar(&flagCfg.BatchSize, "batch-size", flagCfg.BatchSize, "Batch size for training")
	f.Float64Var(&flagCfg.LR, "lr", flagCfg.LR, "Learning rate")
	f.IntVar(&flagCfg.Inputs, "inputs", flagCfg.Inputs, "Number of input features")
	f.IntVar(&flagCfg.Hidden, "hidden", flagCfg.Hidden, "Hidden layer size")
	f.StringVar(&cfgPath, "config", "", "YAML file with run settings; explicit flags override it")
	f.Uint64Var(&flagCfg.Seed, "seed", flagCfg.Seed, "Seed for the train/validation split and shuffling")
	f.Float64Var(&flagCfg.ValSplit, "val-split", flagCfg.ValSplit, "Fraction of training rows held out for validation")
	f.StringVar(&flagCfg.Optimizer, "optimizer", flagCfg.Optimizer, "Optimizer: adam, momentum or sgd")
	f.StringVar(&flagCfg.LogLevel, "log-level", flagCfg.LogLevel, "Log level for stderr diagnostics: debug, info, warn or error")
	f.StringVar(&flagCfg.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.StringVar(&flagCfg.History, "history", "", "Record the run in this SQLite database")

	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprint(stderr, cmd.UsageString())
		return exitUsage
	}
	return code
}

// resolveConfig layers defaults, the optional config file and the flags the
// user set explicitly, in that order.
func resolveConfig(flags *pflag.FlagSet, path string, fromFlags config.Config) (config.Config, error) {
	cfg := fromFlags
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, errors.Wrap(err, "loading config")
		}
		flags.Visit(func(f *pflag.Flag) {
			switch f.Name {
			case "epochs":
				cfg.Epochs = fromFlags.Epochs
			case "batch-size":
				cfg.BatchSize = fromFlags.BatchSize
			case "lr":
				cfg.LR = fromFlags.LR
			case "inputs":
				cfg.Inputs = fromFlags.Inputs
			case "hidden":
				cfg.Hidden = fromFlags.Hidden
			case "seed":
				cfg.Seed = fromFlags.Seed
			case "val-split":
				cfg.ValSplit = fromFlags.ValSplit
			case "optimizer":
				cfg.Optimizer = fromFlags.Optimizer
			case "log-level":
				cfg.LogLevel = fromFlags.LogLevel
			case "metrics-addr":
				cfg.MetricsAddr = fromFlags.MetricsAddr
			case "history":
				cfg.History = fromFlags.History
			}
		})
	}
	if err := cfg.Validate(); err != nil {
		return cfg, usageError{err}
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) int {
	logger, err := logging.New(stderr, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stdout, "Error: %v\n", err)
		return exitError
	}
	logger.Debug("cpu",
		"brand", cpuid.CPU.BrandName,
		"cores", cpuid.CPU.PhysicalCores,
		"features", cpuid.CPU.FeatureSet(),
	)

	if cfg.MetricsAddr != "" {
		srv := metrics.StartServer(cfg.MetricsAddr)
		defer srv.Close()
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	// 1. Load Data
	trainTbl, testTbl, err := loadTables(cfg.TrainPath, cfg.TestPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			metrics.IncLoadError("not_found")
			fmt.Fprintf(stdout, "Error: Could not find file - %v\n", err)
		} else {
			metrics.IncLoadError("parse")
			fmt.Fprintf(stdout, "Error loading CSV files: %v\n", err)
		}
		return exitError
	}
	fmt.Fprintf(stdout, "Loaded training data: %s\n", trainTbl.Shape())
	fmt.Fprintf(stdout, "Loaded test data: %s\n", testTbl.Shape())
	logger.Info("loaded data",
		"train_rows", humanize.Comma(int64(trainTbl.Rows())),
		"test_rows", humanize.Comma(int64(testTbl.Rows())),
	)

	dataset, err := data.TrainingSet(trainTbl, numClasses)
	if err != nil {
		metrics.IncLoadError("bad_label")
		fmt.Fprintf(stdout, "Error: %v\n", err)
		return exitError
	}

	// 2. Reconcile test features with the training features
	fmt.Fprintf(stdout, "Expected number of features: %d\n", data.ExpectedFeatures(trainTbl))
	rec, err := data.Reconcile(trainTbl, testTbl)
	if err != nil {
		metrics.IncLoadError("parse")
		fmt.Fprintf(stdout, "Error: %v\n", err)
		return exitError
	}
	if rec.Dropped {
		fmt.Fprintf(stdout, "Test data has %d columns, removing first column (assumed to be index)\n", rec.TestColumns)
	}
	fmt.Fprintf(stdout, "Test data shape after processing: %s\n", rec.Shape)
	if err := rec.Verify(); err != nil {
		metrics.IncLoadError("mismatch")
		fmt.Fprintf(stdout, "Error: %v\n", err)
		return exitError
	}

	if cfg.Inputs != dataset.Cols {
		fmt.Fprintf(stdout, "Error: model expects %d inputs, but training data has %d features\n", cfg.Inputs, dataset.Cols)
		return exitError
	}

	// 3. Split and batch
	split, err := data.TrainTestSplit(dataset.Len(), cfg.ValSplit, cfg.Seed)
	if err != nil {
		fmt.Fprintf(stdout, "Error: %v\n", err)
		return exitError
	}
	trainSet, valSet := split.Apply(dataset)

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1))
	trainLoader, err := newLoader(trainSet, cfg.BatchSize, true, rng)
	if err != nil {
		fmt.Fprintf(stdout, "Error: %v\n", err)
		return exitError
	}
	valLoader, err := newLoader(valSet, cfg.BatchSize, false, nil)
	if err != nil {
		fmt.Fprintf(stdout, "Error: %v\n", err)
		return exitError
	}
	logger.Info("split data",
		"train", humanize.Comma(int64(trainSet.Len())),
		"validation", humanize.Comma(int64(valSet.Len())),
		"batches_per_epoch", trainLoader.NumBatches(),
	)

	// 4. Initialize Network
	nw := ml.NewNetwork(
		ml.Input(cfg.Inputs),
		ml.Dense(cfg.Hidden),
		ml.Dense(numClasses, ml.Activation("linear")),
	)
	opt, err := ml.NewOptimizer(ml.OptimizerType(cfg.Optimizer), nw.Parameters(), cfg.LR)
	if err != nil {
		fmt.Fprintf(stdout, "Error: %v\n", err)
		return exitError
	}

	recorder, err := openHistory(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdout, "Error: %v\n", err)
		return exitError
	}
	defer recorder.close()

	// 5. Train
	fmt.Fprintf(stdout, "Training MLP with %d inputs, %d hidden neurons for %d epochs...\n", cfg.Inputs, cfg.Hidden, cfg.Epochs)
	err = train.Run(ctx, nw, ml.NewCrossEntropyLoss(), opt, trainLoader, valLoader,
		train.Config{Epochs: cfg.Epochs, Logger: logger},
		func(r train.EpochResult) error {
			fmt.Fprintf(stdout, "Epoch %d: %.2f%%\n", r.Epoch, r.Accuracy)
			return recorder.epoch(ctx, r)
		})
	if err != nil {
		recorder.finish(ctx, err)
		if errors.Is(err, context.Canceled) {
			logger.Warn("training interrupted")
		} else {
			fmt.Fprintf(stdout, "Error: %v\n", err)
		}
		return exitError
	}
	recorder.finish(ctx, nil)
	return exitOK
}

// loadTables reads the training file, then the test file.
func loadTables(trainPath, testPath string) (trainTbl, testTbl *data.Table, err error) {
	if trainTbl, err = data.LoadCSV(trainPath); err != nil {
		return nil, nil, err
	}
	if testTbl, err = data.LoadCSV(testPath); err != nil {
		return nil, nil, err
	}
	return trainTbl, testTbl, nil
}

func newLoader(d data.Dataset, batchSize int, shuffle bool, rng *rand.Rand) (*ml.DataLoader, error) {
	x := ml.NewMatrixFromSlice(d.Len(), d.Cols, d.X)
	return ml.NewDataLoader(x, d.Y, batchSize, shuffle, rng)
}

// runRecorder mirrors epoch results into the history database. The zero
// value records nothing.
type runRecorder struct {
	db     *history.DB
	id     string
	logger *slog.Logger
}

func openHistory(ctx context.Context, cfg config.Config, logger *slog.Logger) (*runRecorder, error) {
	if cfg.History == "" {
		return &runRecorder{}, nil
	}
	db, err := history.Open(cfg.History)
	if err != nil {
		return nil, err
	}
	id, err := db.StartRun(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("recording run", "id", id, "path", cfg.History)
	return &runRecorder{db: db, id: id, logger: logger}, nil
}

func (r *runRecorder) epoch(ctx context.Context, res train.EpochResult) error {
	if r.db == nil {
		return nil
	}
	return r.db.PutEpoch(ctx, r.id, history.Epoch{
		Epoch:    res.Epoch,
		Accuracy: res.Accuracy,
		Loss:     res.Loss,
		Duration: res.Duration,
	})
}

func (r *runRecorder) finish(ctx context.Context, runErr error) {
	if r.db == nil {
		return
	}
	status := "done"
	switch {
	case errors.Is(runErr, context.Canceled):
		status = "interrupted"
		// ctx is already cancelled
		ctx = context.WithoutCancel(ctx)
	case runErr != nil:
		status = "failed"
	}
	if err := r.db.FinishRun(ctx, r.id, status); err != nil {
		r.logger.Warn("finishing run record", "error", err)
	}
}

func (r *runRecorder) close() {
	if r.db != nil {
		_ = r.db.Close()
	}
}
