package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"QuantEngine/internal/di"
	"QuantEngine/internal/domain/models"
	"QuantEngine/pkg/config"
	"QuantEngine/pkg/server"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "quant-engine",
		Short:         "Portfolio optimization and technical sentiment engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "config file path")

	root.AddCommand(
		&cobra.Command{Use: "serve", Short: "Run the HTTP API", RunE: serve},
		optimizeCmd(),
		trainCmd(),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}

// bootstrap loads .env (if present) and the config, then wires the app.
func bootstrap() (*server.App, func(), error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("dotenv: %v", err)
	}
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config load failed: %w", err)
	}
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("app initialization failed: %w", err)
	}
	return app, cleanup, nil
}

func serve(cmd *cobra.Command, _ []string) error {
	app, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()
	return app.Run(cmd.Context())
}

func optimizeCmd() *cobra.Command {
	var (
		symbols string
		risk    string
		target  float64
	)
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Optimize a portfolio once and print the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := models.ParseRiskTolerance(risk)
			if err != nil {
				return err
			}
			req := models.OptimizationRequest{Symbols: splitSymbols(symbols), RiskTolerance: rt}
			if cmd.Flags().Changed("target") {
				req.TargetReturn = &target
			}
			return oneShot(cmd.Context(), func(ctx context.Context, app *server.App) (any, error) {
				return app.Portfolio.Optimize(ctx, req)
			})
		},
	}
	cmd.Flags().StringVar(&symbols, "symbols", "", "comma separated symbols")
	cmd.Flags().StringVar(&risk, "risk", "moderate", "risk tolerance")
	cmd.Flags().Float64Var(&target, "target", 0, "annual target return")
	_ = cmd.MarkFlagRequired("symbols")
	return cmd
}

func trainCmd() *cobra.Command {
	var symbols string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the sentiment model once and print its metrics as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return oneShot(cmd.Context(), func(ctx context.Context, app *server.App) (any, error) {
				return app.Sentiment.Train(ctx, splitSymbols(symbols))
			})
		},
	}
	cmd.Flags().StringVar(&symbols, "symbols", "", "comma separated symbols")
	_ = cmd.MarkFlagRequired("symbols")
	return cmd
}

func oneShot(parent context.Context, fn func(context.Context, *server.App) (any, error)) error {
	app, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.StartCompute()
	defer app.StopCompute()

	out, err := fn(ctx, app)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func splitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
