// Command covenant answers natural-language contract questions from the
// command line: it plans a retrieval strategy, validates it, executes it
// against the configured backends, and prints the execution trace.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/covenantql/covenant/internal/config"
	"github.com/covenantql/covenant/internal/engine"
	"github.com/covenantql/covenant/internal/llm"
	"github.com/covenantql/covenant/internal/server"
	"github.com/covenantql/covenant/internal/storage"
	"github.com/covenantql/covenant/internal/storage/postgres"
	"github.com/covenantql/covenant/internal/storage/sparql"
	"github.com/covenantql/covenant/internal/storage/sqlite"
	"github.com/covenantql/covenant/pkg/types"
)

func main() {
	mode := flag.String("mode", "", "Execution mode: comparison_only, execution, a_b_test (default: from config)")
	model := flag.String("model", "primary", "Planning model: primary or secondary")
	seedPath := flag.String("seed", "", "Seed contracts from a JSON file before answering")
	jsonOut := flag.Bool("json", false, "Print the result as JSON instead of the ASCII trace")
	serve := flag.Bool("serve", false, "Run the HTTP API server instead of answering one query")
	flag.Parse()

	query := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if query == "" && *seedPath == "" && !*serve {
		fmt.Fprintln(os.Stderr, "usage: covenant [flags] <question>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	backends, cleanup, err := openBackends(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer cleanup()

	if *seedPath != "" {
		if err := seedContracts(ctx, backends, *seedPath); err != nil {
			log.Fatalf("Failed to seed contracts: %v", err)
		}
		if query == "" {
			return
		}
	}

	catalog, err := loadCatalog(ctx, cfg, backends.Entities)
	if err != nil {
		log.Fatalf("Failed to load entity catalog: %v", err)
	}

	primaryGen, secondaryGen, embedder, err := buildGenerators(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize LLM provider: %v", err)
	}
	backends.Embedder = embedder

	engineCfg := engine.Config{
		LLMEnabled:    cfg.LLM.Enabled,
		Mode:          cfg.Planning.Mode,
		LLMTimeout:    cfg.LLM.PlannerTimeout,
		QueryTimeout:  cfg.Planning.QueryTimeout,
		CacheSize:     cfg.Planning.CacheSize,
		CacheTTL:      cfg.Planning.CacheTTL,
		RatePerSecond: cfg.LLM.RequestsPerSecond,
		VectorTopK:    cfg.Planning.VectorTopK,
		MaxResults:    cfg.Planning.MaxResults,
		TraceDir:      cfg.Tracing.TraceDir,
	}
	eng, err := engine.New(engineCfg, catalog, backends, primaryGen, secondaryGen)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	if *serve {
		runServer(ctx, cfg, eng)
		return
	}

	execMode := types.ExecutionMode(*mode)
	if execMode == "" {
		execMode = cfg.Planning.Mode
	}
	input := types.PlanningInput{
		QueryText:       query,
		SchemaVersion:   engine.SchemaVersion,
		OntologyVersion: engine.OntologyVersion,
		Mode:            execMode,
		ModelSelection:  types.ModelSelection(*model),
	}

	answer, err := eng.Answer(ctx, input)
	if err != nil {
		if answer != nil && answer.Trace != nil && !*jsonOut {
			fmt.Fprint(os.Stderr, answer.Trace.RenderASCII())
		}
		log.Fatalf("Query failed: %v", err)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(answer); err != nil {
			log.Fatalf("Failed to encode answer: %v", err)
		}
		return
	}
	fmt.Print(answer.Trace.RenderASCII())
	printResult(answer.Result)
}

// runServer starts the HTTP API and blocks until interrupted.
func runServer(ctx context.Context, cfg *config.Config, eng *engine.Engine) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	addr, _, err := server.Start(ctx, cfg, eng)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("Covenant API running at http://%s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(time.Second)
}

// openBackends opens the configured storage engine and optional graph and
// vector backends.
func openBackends(cfg *config.Config) (engine.ExecutorBackends, func(), error) {
	var backends engine.ExecutorBackends
	cleanup := func() {}

	switch cfg.Storage.StorageEngine {
	case "postgres":
		store, err := postgres.NewStore(cfg.Storage.PostgresDSN)
		if err != nil {
			return backends, cleanup, err
		}
		backends.Entities = store
		backends.Contracts = store
		if index, err := postgres.NewVectorIndex(store); err == nil {
			backends.Vectors = index
		} else {
			log.Printf("covenant: vector index unavailable: %v", err)
		}
		cleanup = func() { _ = store.Close() }
	default:
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return backends, cleanup, err
			}
		}
		store, err := sqlite.NewStore(cfg.Storage.SQLitePath)
		if err != nil {
			return backends, cleanup, err
		}
		backends.Entities = store
		backends.Contracts = store
		cleanup = func() { _ = store.Close() }
	}

	if cfg.Storage.SPARQLEndpoint != "" {
		client, err := sparql.NewClient(sparql.Config{Endpoint: cfg.Storage.SPARQLEndpoint})
		if err != nil {
			return backends, cleanup, err
		}
		backends.Graph = client
	}
	return backends, cleanup, nil
}

// loadCatalog builds the resolver catalog from the configured YAML (or the
// built-in defaults) and folds in the party names already in the store.
func loadCatalog(ctx context.Context, cfg *config.Config, entities storage.EntityStore) (*engine.Catalog, error) {
	catalog, err := engine.LoadCatalog(cfg.Storage.CatalogPath)
	if err != nil {
		return nil, err
	}
	for _, entityType := range []types.EntityType{types.EntityContractorParty, types.EntityContractingParty} {
		keys, err := entities.ListEntityKeys(ctx, string(entityType))
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			catalog.Add(entityType, key)
		}
	}
	return catalog, nil
}

func buildGenerators(cfg *config.Config) (primary, secondary llm.TextGenerator, embedder llm.EmbeddingGenerator, err error) {
	if !cfg.LLM.Enabled {
		return nil, nil, nil, nil
	}
	base := llm.ProviderConfig{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.OpenAIAPIKey,
	}
	if cfg.LLM.Provider == "ollama" {
		base.BaseURL = cfg.LLM.OllamaURL
	}

	primaryCfg := base
	primaryCfg.Model = cfg.LLM.PrimaryModel
	primary, err = llm.NewTextGenerator(primaryCfg)
	if err != nil {
		return nil, nil, nil, err
	}

	if cfg.LLM.SecondaryModel != "" {
		secondaryCfg := base
		secondaryCfg.Model = cfg.LLM.SecondaryModel
		secondary, err = llm.NewTextGenerator(secondaryCfg)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	embedder, err = llm.NewEmbeddingGenerator(base, cfg.LLM.EmbeddingModel)
	if err != nil {
		return nil, nil, nil, err
	}
	return primary, secondary, embedder, nil
}

// seedContracts loads contract documents from a JSON array file into the
// open store, maintaining the derived entity records.
func seedContracts(ctx context.Context, backends engine.ExecutorBackends, path string) error {
	store, ok := backends.Contracts.(*sqlite.Store)
	if !ok {
		return fmt.Errorf("seeding is only supported for the sqlite engine")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var docs []storage.ContractDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for _, doc := range docs {
		if err := store.SeedContract(ctx, doc); err != nil {
			return fmt.Errorf("seed %s: %w", doc.ID, err)
		}
	}
	log.Printf("Seeded %d contracts from %s", len(docs), path)
	return nil
}

func printResult(result *engine.Result) {
	if result == nil {
		return
	}
	if result.AggregateField != "" && result.AggregateField != "contract_count" {
		fmt.Printf("\n%s: %.2f\n", result.AggregateField, result.AggregateValue)
		return
	}
	if len(result.Documents) == 0 {
		fmt.Printf("\n%d matching contracts\n", result.Count)
		return
	}
	fmt.Printf("\n%d matching contracts:\n", result.Count)
	for _, d := range result.Documents {
		fmt.Printf("  %-8s %-32s %-14s %s\n", d.ID, d.Title, d.GoverningLawState, d.ContractType)
	}
}
