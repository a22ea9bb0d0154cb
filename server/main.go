package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"aibeasts/server/auth"
	"aibeasts/server/engine"
	"aibeasts/server/escrow"
	"aibeasts/server/imagegen"
	"aibeasts/server/llm"
	"aibeasts/server/rating"
	"aibeasts/server/store"
	"aibeasts/server/training"
)

var rootCmd = &cobra.Command{
	Use:           "aibeasts",
	Short:         "AIBeasts battle server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		_ = godotenv.Load()
		loadAPIKeyFromSecret()
		useColor = os.Getenv("NO_COLOR") == "" && strings.TrimSpace(os.Getenv("USE_COLOR")) != "0"
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded schema to DATABASE_URL",
	RunE:  runMigrate,
}

var duelCmd = &cobra.Command{
	Use:   "duel <beast-id> <beast-id>",
	Short: "Run an exhibition battle between two stored beasts",
	Long: `Runs a battle between two beasts from the database and prints the
transcript and the referee's verdict. Nothing is recorded and no wager is
involved. The first beast opens every round and gets the final move.`,
	Args: cobra.ExactArgs(2),
	RunE: runDuel,
}

var retryPayoutsCmd = &cobra.Command{
	Use:   "retry-payouts",
	Short: "Re-send declareWinner for recorded battles whose payout is pending or failed",
	RunE:  runRetryPayouts,
}

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Show the payout signer and the contract's battle counter",
	RunE:  runChain,
}

var duelRounds int

func init() {
	duelCmd.Flags().IntVar(&duelRounds, "rounds", 0, "rounds to play (default BATTLE_ROUNDS)")
	rootCmd.AddCommand(serveCmd, migrateCmd, duelCmd, retryPayoutsCmd, chainCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// Tries: OPENAI_API_KEY_FILE, ./secrets/openai_api_key.txt, ./server/openai_api_key.txt,
// ./openai_api_key.txt and /run/secrets/openai_api_key.
func loadAPIKeyFromSecret() {
	if os.Getenv("OPENAI_API_KEY") != "" || os.Getenv("OPENROUTER_API_KEY") != "" {
		return
	}
	var candidates []string
	if p := os.Getenv("OPENAI_API_KEY_FILE"); strings.TrimSpace(p) != "" {
		candidates = append(candidates, p)
	}
	candidates = append(candidates,
		"./secrets/openai_api_key.txt",
		"./server/openai_api_key.txt",
		"./openai_api_key.txt",
		"/run/secrets/openai_api_key",
	)
	for _, path := range candidates {
		if b, err := os.ReadFile(path); err == nil {
			if key := strings.TrimSpace(string(b)); key != "" {
				os.Setenv("OPENAI_API_KEY", key)
				return
			}
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openDB(ctx context.Context, cfg Config) (*store.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Println("migrated")
	}
	return db, nil
}

// dialChain returns nil when no chain settings are present. A dial failure
// is logged and payouts stay pending until retry-payouts runs.
func dialChain(ctx context.Context, cfg Config) *escrow.Client {
	if !cfg.ChainEnabled() {
		log.Printf("chain payouts disabled (ETH_RPC_URL, PRIVATE_KEY or BATTLE_CONTRACT unset)")
		return nil
	}
	cl, err := escrow.Dial(ctx, cfg.EthRPCURL, cfg.PrivateKey, cfg.BattleContract, cfg.ChainID)
	if err != nil {
		log.Printf("chain payouts disabled: %v", err)
		return nil
	}
	log.Printf("chain payouts signed by %s", cl.Owner().Hex())
	return cl
}

func newRunner(cfg Config, chat engine.Completer) engine.Runner {
	return engine.Runner{
		LLM:          chat,
		FighterModel: cfg.FighterModel,
		RefereeModel: cfg.RefereeModel,
		Rounds:       cfg.BattleRounds,
	}
}

func newSettler(cfg Config, db engine.Store, chat engine.Completer, chain *escrow.Client) engine.Settler {
	s := engine.Settler{
		Store:     db,
		Runner:    newRunner(cfg, countedLLM{inner: chat, purpose: "battle"}),
		Ratings:   rating.NewElo(cfg.EloStart, cfg.EloK),
		OnOutcome: countBattle,
		OnPayout:  countPayout,
	}
	if chain != nil {
		s.Payer = chain
	}
	return s
}

// wire builds the HTTP server's dependencies from cfg.
func wire(cfg Config, db Store, chat engine.Completer, chain *escrow.Client) *Server {
	s := &Server{
		DB:      db,
		Access:  auth.Issuer{Secret: []byte(cfg.JWTSecret), TTL: cfg.TokenTTL},
		Refresh: auth.Issuer{Secret: []byte(cfg.JWTSecret), TTL: cfg.RefreshTokenTTL},
		Settler: newSettler(cfg, db, chat, chain),
		Coach: training.Coach{
			Trainer: training.Trainer{LLM: countedLLM{inner: chat, purpose: "training"}, Model: cfg.TrainerModel},
			Store:   db,
		},
		MonsterLLM:     countedLLM{inner: chat, purpose: "monster"},
		MonsterModel:   cfg.MonsterModel,
		AllowedOrigins: cfg.AllowedOrigins,
		Limit:          newLimiter(cfg.RateLimitPerMin),
		BattleTimeout:  150 * time.Second,
	}
	if cfg.ReplicateToken != "" {
		images := imagegen.New(cfg.ReplicateToken)
		s.Images = images
		s.Visuals = images.WithStyle(imagegen.StylePrompt)
	}
	return s
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	chain := dialChain(ctx, cfg)
	if chain != nil {
		defer chain.Close()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      Router(wire(cfg, db, llm.New(), chain)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Printf("listening on http://localhost:%s (Ctrl+C to stop)", cfg.Port)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down")
	sctx, scancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer scancel()
	return srv.Shutdown(sctx)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	cfg.AutoMigrate = false
	ctx, cancel := signalContext()
	defer cancel()
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.Migrate(ctx, db); err != nil {
		return err
	}
	log.Println("migrated")
	return nil
}

func runDuel(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if duelRounds > 0 {
		cfg.BattleRounds = duelRounds
	}
	ctx, cancel := signalContext()
	defer cancel()
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	a, err := db.BeastByID(ctx, args[0])
	if err != nil {
		return fmt.Errorf("beast %s: %w", args[0], err)
	}
	b, err := db.BeastByID(ctx, args[1])
	if err != nil {
		return fmt.Errorf("beast %s: %w", args[1], err)
	}

	r := newRunner(cfg, countedLLM{inner: llm.New(), purpose: "duel"})
	section(fmt.Sprintf("%s vs %s", a.Name, b.Name))
	r.OnLine = func(line string) { printLine(a.Name, line) }
	res, err := r.Practice(ctx, a, b)
	if err != nil {
		return err
	}
	section("Referee")
	fmt.Println(dim(res.JudgeLog))
	if res.Winner == "" {
		fmt.Println(warn("no winner named"))
		return nil
	}
	fmt.Printf("%s %s\n", bold("Winner:"), good(res.Winner))
	return nil
}

func runRetryPayouts(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	chain := dialChain(ctx, cfg)
	if chain == nil {
		return errors.New("chain is not configured")
	}
	defer chain.Close()

	s := newSettler(cfg, db, llm.New(), chain)
	paid, err := s.RetryPayouts(ctx)
	log.Printf("retry-payouts: %d paid", paid)
	return err
}

func runChain(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	chain := dialChain(ctx, cfg)
	if chain == nil {
		return errors.New("chain is not configured")
	}
	defer chain.Close()

	n, err := chain.BattleCounter(ctx)
	if err != nil {
		return fmt.Errorf("battleCounter: %w", err)
	}
	sub("BattleBet")
	fmt.Printf("  contract  %s\n", cfg.BattleContract)
	fmt.Printf("  signer    %s\n", chain.Owner().Hex())
	fmt.Printf("  battles   %s\n", n.String())
	return nil
}
