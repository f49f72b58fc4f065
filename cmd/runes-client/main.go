// runes-client is a template binary: it registers a demo method with the
// hosted service and polls for invocation requests. Copy it as a starting
// point for custom compute functions.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	runes "github.com/signalsandsorcery/runes-client-go"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "runes-client <token>",
		Short: "Connect a local method to the Signals & Sorcery service",
		Long: `Register the demo method under the given master token and poll the
hosted service for invocation requests until interrupted.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], configPath, verbose)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

func run(token, configPath string, verbose bool) error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg := runes.DefaultConfig()
	if configPath != "" {
		loaded, err := runes.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	client := runes.NewClient(cfg)
	if err := client.SetToken(token); err != nil {
		return err
	}
	client.SetName("Rune AI Template")
	client.SetDescription("A starting place to create custom Rune AI functions.")

	method := func(ctx context.Context, args map[string]any) error {
		fmt.Printf("input a: %v\n", args["a"])
		fmt.Printf("input b: %v\n", args["b"])

		out := client.Output()
		if path, ok := args["b"].(string); ok && path != "" {
			if err := out.AddFile(ctx, path); err != nil {
				return err
			}
		}
		out.AddMessage("processed by the template method")
		return nil
	}

	params := []runes.ParamDescriptor{
		{Name: "a", Type: runes.ParamInt},
		{Name: "b", Type: runes.ParamFile},
		{Name: "c", Type: runes.ParamBool, Default: false},
	}
	annotations := runes.UIAnnotations{
		"a": {"ui_component": "slider", "min": 0, "max": 10, "step": 1, "default": 5},
	}

	if err := client.RegisterMethod("method_to_register", method, params, annotations); err != nil {
		return err
	}
	slog.Info("method registered", "connection_token", client.ConnectionToken())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runes.NewPollingController(client).Run(ctx)
}
