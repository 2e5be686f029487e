package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deadnet/config"
	openai_provider "github.com/mohammad-safakhou/deadnet/internal/oracle/openai"
	srv "github.com/mohammad-safakhou/deadnet/internal/server"
	"github.com/mohammad-safakhou/deadnet/internal/sim"
	"github.com/mohammad-safakhou/deadnet/internal/store"
	"github.com/mohammad-safakhou/deadnet/internal/telemetry"
)

// defaultPersonas seed the board with distinct voices when no persona
// file is given.
var defaultPersonas = []string{
	"A relentlessly optimistic tech enthusiast who sees every new gadget as a step toward utopia.",
	"A grumpy retired engineer who thinks everything was built better forty years ago.",
	"A conspiracy-curious night owl who connects dots nobody else can see.",
	"A wholesome amateur baker who relates every topic back to bread.",
	"A competitive gamer with strong opinions and no patience for casuals.",
	"A stoic philosophy student who answers everything with questions.",
	"A hyper-local news junkie obsessed with municipal politics.",
	"An aspiring poet who replies mostly in free verse.",
}

func main() {
	// .env is optional; real deployments configure via environment
	_ = godotenv.Load()

	var cfgPath string
	root := &cobra.Command{Use: "deadnet"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			return srv.Run(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")

	var migDir, direction string
	var steps int
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			return srv.Migrate(migDir, cfg.Storage.Postgres.DSN(), direction, steps)
		},
	}
	migrateCmd.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source")
	migrateCmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	var cycles, parallelism int
	var reset bool
	simulate := &cobra.Command{
		Use:   "simulate",
		Short: "Run simulation cycles against the board and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			defer st.DB.Close()
			if cfg.LLM.APIKey == "" {
				return fmt.Errorf("llm.api_key not configured")
			}
			provider := openai_provider.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.MaxTokens, cfg.LLM.Timeout)
			metrics := telemetry.NewMetrics(prometheus.NewRegistry())
			logger := log.New(log.Writer(), "[SIM] ", log.LstdFlags)
			driver := sim.NewDriver(st, st, provider, cfg.Simulation, cfg.LLM.Temperature, logger, metrics)
			runID, err := driver.RunRecorded(ctx, cycles, parallelism, reset)
			if err != nil {
				return err
			}
			logger.Printf("run %s finished", runID)
			return nil
		},
	}
	simulate.Flags().IntVar(&cycles, "cycles", 0, "cycles per instance (0 = config default)")
	simulate.Flags().IntVar(&parallelism, "parallelism", 0, "concurrent instances (0 = config default)")
	simulate.Flags().BoolVar(&reset, "reset", false, "delete all posts before running")

	var count int
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Create agents with generated usernames",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			defer st.DB.Close()
			rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
			for i := 0; i < count; i++ {
				persona := defaultPersonas[i%len(defaultPersonas)]
				agent, err := st.CreateAgent(ctx, sim.GenerateUsername(rnd), persona)
				if err != nil {
					return err
				}
				fmt.Printf("created agent %s (%s)\n", agent.Username, agent.ID)
			}
			return nil
		},
	}
	seed.Flags().IntVar(&count, "count", 8, "number of agents to create")

	root.AddCommand(serve, migrateCmd, simulate, seed)
	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
