package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/autom8ter/foreach"
	"github.com/autom8ter/foreach/checkpoint/filestore"
	"github.com/autom8ter/foreach/checkpoint/redisstore"
	"github.com/autom8ter/foreach/errors"
	"github.com/autom8ter/foreach/javascript"
	_ "github.com/autom8ter/foreach/store/cosmos"
	_ "github.com/autom8ter/foreach/store/kvstore"
	_ "github.com/autom8ter/foreach/store/mongostore"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "FOREACH"

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "foreach <options> [code]",
		Short: "run javascript code against every document in a container",
		Long: color.CyanString(`foreach runs a javascript program once per document in a container.
The program sees the document as 'document' and declares what to do with it through 'ops':

  ops.delete(partitionKey)   delete the document
  ops.update(newDocument)    replace the document
  ops.log(value)             log a value

The last call wins. A document with no call is left untouched.`),
		Example: `  foreach -a https://acct.documents.azure.com:443/ -k $KEY -d app -c users --partition-key-path /tenant \
    'if (!document.email) { ops.delete(document.tenant) }'`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(v)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runForeach(cmd, v, args)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), color.RedString("Something went wrong: %s", err))
			}
			return err
		},
	}
	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (yaml, json or toml)")
	flags.String("provider", "cosmos", fmt.Sprintf("container provider (%s)", strings.Join(foreach.Providers(), ", ")))
	flags.StringP("account", "a", "", "CosmosDB account endpoint url")
	flags.StringP("key", "k", "", "CosmosDB account key")
	flags.StringP("database", "d", "", "database")
	flags.StringP("container", "c", "", "container (or mongo collection)")
	flags.String("uri", "", "mongo connection uri")
	flags.String("storage-path", "", "badger storage path, empty for in-memory")
	flags.String("partition-key-path", "", "partition key path, e.g. /tenant")
	flags.String("query", "", "CosmosDB query selecting the documents to process")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("checkpoint", "", "checkpoint store: a directory or a redis:// url. Defaults to memory")

	run := cmd.Flags()
	run.StringP("file", "f", "", "javascript file to execute for each document (required if code is missing)")
	run.Int("workers", foreach.DefaultWorkers, "documents processed concurrently")
	run.Int("page-size", foreach.DefaultPageSize, "documents requested per page")
	run.Int("page-buffer", foreach.DefaultPageBuffer, "pages fetched ahead of processing")
	run.Int("max-retries", foreach.DefaultMaxRetries, "retries of a throttled or unavailable mutation")
	run.Duration("transform-timeout", 0, "timeout of a single script run, 0 for none")
	run.Bool("dry-run", false, "log mutations instead of applying them")
	run.Bool("resume", false, "resume the run from its checkpoint (requires --run-id)")
	run.String("run-id", "", "run id keying the checkpoint, generated if empty")
	run.String("schema", "", "json schema file replacement documents must satisfy")
	run.String("metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")

	_ = v.BindPFlags(flags)
	_ = v.BindPFlags(run)
	cmd.AddCommand(checkpointsCmd(v))
	return cmd
}

func loadConfig(v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrap(err, errors.Validation, "failed to read config file")
		}
	}
	return nil
}

// script returns the inline code argument or the contents of --file. Exactly one is required.
func script(v *viper.Viper, args []string, logger foreach.Logger) (*javascript.Script, error) {
	file := v.GetString("file")
	switch {
	case len(args) == 1 && file != "":
		return nil, errors.New(errors.Validation, "pass either code or --file, not both")
	case len(args) == 1:
		return javascript.Compile("code", args[0], javascript.WithLogger(logger))
	case file != "":
		return javascript.CompileFile(file, javascript.WithLogger(logger))
	default:
		return nil, errors.New(errors.Validation, "code or --file is required")
	}
}

// containerParams passes every connection setting through; each provider decodes what it needs
func containerParams(v *viper.Viper) map[string]any {
	return map[string]any{
		"account":            v.GetString("account"),
		"key":                v.GetString("key"),
		"database":           v.GetString("database"),
		"container":          v.GetString("container"),
		"uri":                v.GetString("uri"),
		"storage_path":       v.GetString("storage-path"),
		"partition_key_path": v.GetString("partition-key-path"),
		"query":              v.GetString("query"),
	}
}

func runConfig(v *viper.Viper) foreach.Config {
	cfg := foreach.DefaultConfig()
	if runID := v.GetString("run-id"); runID != "" {
		cfg.RunID = runID
	}
	cfg.Workers = v.GetInt("workers")
	cfg.PageSize = v.GetInt("page-size")
	cfg.PageBuffer = v.GetInt("page-buffer")
	cfg.MaxRetries = v.GetInt("max-retries")
	cfg.TransformTimeout = v.GetDuration("transform-timeout")
	cfg.DryRun = v.GetBool("dry-run")
	cfg.Resume = v.GetBool("resume")
	return cfg
}

// runLister is a checkpoint store that can list its runs
type runLister interface {
	foreach.Checkpointer
	Runs(ctx context.Context) ([]string, error)
}

// checkpointer selects the checkpoint store from its location
func checkpointer(location string) (foreach.Checkpointer, error) {
	switch {
	case location == "":
		return foreach.NewMemoryCheckpointer(), nil
	case strings.HasPrefix(location, "redis://"), strings.HasPrefix(location, "rediss://"):
		return redisstore.New(location)
	default:
		return filestore.New(location), nil
	}
}

func runForeach(cmd *cobra.Command, v *viper.Viper, args []string) error {
	cfg := runConfig(v)
	if cfg.Resume && v.GetString("run-id") == "" {
		return errors.New(errors.Validation, "--resume requires --run-id")
	}
	logger, err := foreach.NewLogger(v.GetString("log-level"), map[string]any{"run_id": cfg.RunID})
	if err != nil {
		return err
	}
	transformation, err := script(v, args, logger)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := foreach.Open(ctx, v.GetString("provider"), containerParams(v))
	if err != nil {
		return err
	}
	defer container.Close(context.Background())

	store, err := checkpointer(v.GetString("checkpoint"))
	if err != nil {
		return err
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}
	opts := []foreach.Option{
		foreach.WithLogger(logger),
		foreach.WithCheckpointer(store),
	}
	if path := v.GetString("schema"); path != "" {
		bits, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(err, errors.Validation, "failed to read schema")
		}
		validator, err := foreach.JSONSchema(bits)
		if err != nil {
			return err
		}
		opts = append(opts, foreach.WithValidator(validator))
	}
	if addr := v.GetString("metrics-addr"); addr != "" {
		reg := prometheus.NewRegistry()
		metrics, err := foreach.NewMetrics(reg)
		if err != nil {
			return err
		}
		opts = append(opts, foreach.WithMetrics(metrics))
		server := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error(ctx, "metrics server failed", err, map[string]any{"addr": addr})
			}
		}()
		defer func() {
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdown)
		}()
	}

	runner, err := foreach.NewRunner(container, cfg, opts...)
	if err != nil {
		return err
	}
	summary, runErr := runner.RunAll(ctx, transformation)
	printSummary(cmd, summary)
	return runErr
}

func printSummary(cmd *cobra.Command, summary *foreach.Summary) {
	bits, err := json.MarshalIndent(summary, "", "  ")
	if err == nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(bits))
	}
	line := fmt.Sprintf("processed %d: %d deleted, %d replaced, %d logged, %d ignored, %d failed",
		summary.Processed, summary.Deleted, summary.Replaced, summary.Logged, summary.NoOps, summary.Failed)
	switch {
	case summary.Aborted:
		fmt.Fprintln(cmd.ErrOrStderr(), color.RedString("aborted, %s (checkpoint %q)", line, summary.Checkpoint))
	case summary.Interrupted:
		fmt.Fprintln(cmd.ErrOrStderr(), color.YellowString("interrupted, %s (checkpoint %q)", line, summary.Checkpoint))
	case summary.Failed > 0:
		fmt.Fprintln(cmd.ErrOrStderr(), color.YellowString("done, %s", line))
	default:
		fmt.Fprintln(cmd.ErrOrStderr(), color.GreenString("done, %s", line))
	}
}
