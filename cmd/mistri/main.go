// Package main is the Mistri CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/mistri/internal/cli"
	"github.com/hyperjump/mistri/internal/config"
	"github.com/hyperjump/mistri/internal/diagnosis"
	"github.com/hyperjump/mistri/internal/embedding"
	"github.com/hyperjump/mistri/internal/ingest"
	"github.com/hyperjump/mistri/internal/models"
	"github.com/hyperjump/mistri/internal/retrieval"
	"github.com/hyperjump/mistri/internal/router"
	"github.com/hyperjump/mistri/internal/server"
	"github.com/hyperjump/mistri/internal/store"
	"github.com/hyperjump/mistri/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/mistri/config.yaml"

// loadConfig loads .env and the config at path. When path is the default and a
// config.yaml exists in the current directory, that file is used instead.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, "", err
	}
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// mustSetup loads config and builds the logger, exiting on failure.
func mustSetup(configPath string, debugFlag bool) (*config.Config, string, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if debugFlag {
		cfg.Debug = true
	}
	logger, err := utils.NewLogger(cfg.Debug, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, resolved, logger
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "search":
		runSearch()
	case "diagnose":
		runDiagnose()
	case "route":
		runRoute()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("mistri version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolved, logger := mustSetup(*configPath, *debug)
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolved),
		zap.Bool("debug", cfg.Debug),
		zap.String("store", cfg.Store.Path),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	// The server starts even without a published store; /health reports 503 until one appears.
	// A store built for another embedding model cannot answer any query.
	if st, err := components.Stores.Reload(); errors.Is(err, store.ErrIncompatible) {
		logger.Fatal("store does not match the configured embedder", zap.String("path", cfg.Store.Path), zap.Error(err))
	} else if err != nil {
		logger.Warn("store not loaded", zap.String("path", cfg.Store.Path), zap.Error(err))
	} else {
		logger.Info("store loaded", zap.String("build_id", st.Manifest.BuildID), zap.Int("records", st.Size()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := server.NewServer(components.Retriever, components.Stores, cfg, logger)
	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fail("%v", err)
	}
	cfg, _, logger := mustSetup(*configPath, *debug)
	defer logger.Sync()

	path := cfg.Ingest.SourcePath
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if path == "" {
		fail("Usage: mistri ingest [flags] <error-codes.csv|.xlsx> (or set ingest.source_path)")
	}

	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		fail("Failed to initialize embedder: %v", err)
	}
	defer embedder.Close()

	in := ingest.New(embedder, cfg.Store.Path,
		ingest.WithLogger(logger),
		ingest.WithConcurrency(cfg.Ingest.Concurrency),
		ingest.WithRetainedBuilds(cfg.Store.RetainedBuilds),
		ingest.WithModel(cfg.Embedding.Model),
		ingest.WithDimensions(cfg.Embedding.Dimensions),
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	report, err := in.IngestFile(ctx, path)
	if err != nil {
		fail("Ingestion failed: %v", err)
	}
	if err := cli.WriteReport(os.Stdout, report, format); err != nil {
		fail("Output failed: %v", err)
	}
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchConfigPathFromArgs returns the value of -config/--config from args if present, else defaultPath.
func searchConfigPathFromArgs(args []string, defaultPath string) string {
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultPath
}

// topKDefaultFromConfig returns the configured default top_k, or 3 when the
// config cannot be loaded.
func topKDefaultFromConfig(path string) int {
	cfg, _, err := loadConfig(path)
	if err != nil || cfg == nil || cfg.Retrieval.TopK <= 0 {
		return 3
	}
	return cfg.Retrieval.TopK
}

// searchArgsReorder moves any flags that appear after the query to the front so
// that flag.Parse sees them; the flag package stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func printSearchUsage(fs *flag.FlagSet, name string) {
	fmt.Fprintf(fs.Output(), "Usage: mistri %s [flags] <query>\n\n", name)
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
}

// queryFlags are shared by search and diagnose.
type queryFlags struct {
	fs         *flag.FlagSet
	configPath *string
	serverURL  *string
	topK       *int
	category   *string
	image      *string
	output     *string
}

func parseQueryFlags(name string) (*queryFlags, string, cli.OutputFormat) {
	args := searchArgsReorder(os.Args[2:])
	defaultTopK := topKDefaultFromConfig(searchConfigPathFromArgs(args, defaultConfigPath))

	fs := flag.NewFlagSet(name, flag.ExitOnError)
	q := &queryFlags{
		fs:         fs,
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		serverURL:  fs.String("server", "http://localhost:8080", "server URL (empty = load the store directly)"),
		topK:       fs.Int("top-k", defaultTopK, "maximum number of matches"),
		category:   fs.String("category", "", "restrict to ERROR_CODES, SCHEMATICS, or GENERAL (default: routed)"),
		image:      fs.String("image", "", "path to a photo of the appliance"),
		output:     fs.String("output", "text", "output format: text, compact, or json"),
	}
	fs.Usage = func() { printSearchUsage(fs, name) }
	_ = fs.Parse(args)

	text := buildSearchQuery(fs.Args())
	if text == "" {
		printSearchUsage(fs, name)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*q.output)
	if err != nil {
		fail("%v", err)
	}
	return q, text, format
}

func (q *queryFlags) readImage() []byte {
	if *q.image == "" {
		return nil
	}
	b, err := os.ReadFile(*q.image)
	if err != nil {
		fail("Failed to read image: %v", err)
	}
	return b
}

func runSearch() {
	q, text, format := parseQueryFlags("search")
	img := q.readImage()

	var response *models.SearchResponse
	var err error
	if *q.serverURL != "" {
		response, err = searchViaHTTP(*q.serverURL, searchBody{
			Query:    text,
			Category: *q.category,
			TopK:     *q.topK,
			HasImage: img != nil,
		})
	} else {
		response, err = searchDirect(*q.configPath, text, *q.category, *q.topK, img != nil)
	}
	if err != nil {
		fail("Search failed: %v", err)
	}
	if err := cli.WriteSearch(os.Stdout, response, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runDiagnose() {
	q, text, format := parseQueryFlags("diagnose")
	img := q.readImage()

	var response *models.DiagnosisResponse
	var err error
	if *q.serverURL != "" {
		response, err = diagnoseViaHTTP(*q.serverURL, text, *q.image, img)
	} else {
		response, err = diagnoseDirect(*q.configPath, text, *q.topK, img != nil)
	}
	if errors.Is(err, diagnosis.ErrNoMatch) {
		fmt.Println(diagnosis.NoMatchMessage)
		os.Exit(2)
	}
	if err != nil {
		fail("Diagnosis failed: %v", err)
	}
	if err := cli.WriteDiagnosis(os.Stdout, response, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runRoute() {
	fs := flag.NewFlagSet("route", flag.ExitOnError)
	hasImage := fs.Bool("image", false, "treat the query as having an attached image")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fail("%v", err)
	}
	d := router.Detect(buildSearchQuery(fs.Args()), *hasImage)
	if err := cli.WriteDecision(os.Stdout, d, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = read the store directly)")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fail("%v", err)
	}
	var status models.StoreStatus
	if *serverURL != "" {
		if err := getJSON(*serverURL+"/api/v1/status", &status); err != nil {
			fail("Status failed: %v", err)
		}
	} else {
		cfg, _, logger := mustSetup(*configPath, false)
		defer logger.Sync()
		st, err := store.Load(cfg.Store.Path)
		status = store.Describe(cfg.Store.Path, st, err)
		status.TopK = cfg.Retrieval.TopK
		status.Threshold = cfg.Retrieval.SimilarityThreshold
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fail("Output failed: %v", err)
	}
}

// Components holds initialized services.
type Components struct {
	Stores    *store.Live
	Embedder  embedding.Embedder
	Retriever *retrieval.Retriever
}

func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func newEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	e, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Embedding.CacheSize > 0 {
		e = embedding.NewCachedEmbedder(e, cfg.Embedding.CacheSize)
	}
	return e, nil
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	live := store.NewLive(cfg.Store.Path,
		store.WithLogger(logger),
		store.WithDimensions(embedder.Dimensions),
		store.WithModel(cfg.Embedding.Model),
	)
	r, err := retrieval.New(live, embedder, cfg.Retrieval, retrieval.WithLogger(logger))
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize retriever: %w", err)
	}
	return &Components{Stores: live, Embedder: embedder, Retriever: r}, nil
}

// withStore loads config and the current store for a one-shot command.
func withStore(configPath string, fn func(cfg *config.Config, c *Components) error) error {
	cfg, _, logger := mustSetup(configPath, false)
	defer logger.Sync()
	c, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	if _, err := c.Stores.Reload(); err != nil {
		return err
	}
	return fn(cfg, c)
}

func resolveCategory(text, category string, hasImage bool) (models.Category, string, error) {
	if category != "" {
		c, err := models.ParseCategory(category)
		return c, "explicit", err
	}
	d := router.Detect(text, hasImage)
	return d.Category, string(d.Rule), nil
}

func searchDirect(configPath, text, category string, topK int, hasImage bool) (*models.SearchResponse, error) {
	var resp *models.SearchResponse
	err := withStore(configPath, func(cfg *config.Config, c *Components) error {
		cat, rule, err := resolveCategory(text, category, hasImage)
		if err != nil {
			return err
		}
		q := models.SearchQuery{Query: text, Category: cat, TopK: topK, HasImage: hasImage}
		if err := q.Validate(cfg.Retrieval.TopK, cfg.Retrieval.MaxTopK); err != nil {
			return err
		}
		matches, err := c.Retriever.Search(context.Background(), q)
		if err != nil {
			return err
		}
		resp = &models.SearchResponse{Query: q.Query, Category: cat, Rule: rule, Matches: matches, Count: len(matches)}
		return nil
	})
	return resp, err
}

func diagnoseDirect(configPath, text string, topK int, hasImage bool) (*models.DiagnosisResponse, error) {
	var resp *models.DiagnosisResponse
	err := withStore(configPath, func(cfg *config.Config, c *Components) error {
		cat := router.Route(text, hasImage)
		q := models.SearchQuery{Query: text, Category: cat, TopK: topK, HasImage: hasImage}
		if err := q.Validate(cfg.Retrieval.TopK, cfg.Retrieval.MaxTopK); err != nil {
			return err
		}
		matches, err := c.Retriever.Search(context.Background(), q)
		if err != nil {
			return err
		}
		resp, err = diagnosis.Format(matches, cat)
		return err
	})
	return resp, err
}

type searchBody struct {
	Query    string `json:"query"`
	Category string `json:"category,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
	HasImage bool   `json:"has_image,omitempty"`
}

func searchViaHTTP(serverURL string, body searchBody) (*models.SearchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/search", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var out models.SearchResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func diagnoseViaHTTP(serverURL, text, imageName string, img []byte) (*models.DiagnosisResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("text", text); err != nil {
		return nil, err
	}
	if img != nil {
		part, err := mw.CreateFormFile("image", filepath.Base(imageName))
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(img); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/diagnose", mw.FormDataContentType(), &buf)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, diagnosis.ErrNoMatch
	}
	var out models.DiagnosisResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func getJSON(url string, v any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, v)
}

func decodeResponse(resp *http.Response, v any) error {
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printUsage() {
	fmt.Println(`mistri - Appliance fault diagnosis over a local error-code index

Usage:
  mistri server [flags]             Start the HTTP server
  mistri ingest [flags] <file>      Build and publish an index from a CSV/XLSX error-code list
  mistri search [flags] <query>     Retrieve matching error codes
  mistri diagnose [flags] <query>   Retrieve and format a repair diagnosis
  mistri route [--image] <query>    Show which category a query routes to
  mistri status [flags]             Show the published store
  mistri version                    Show version
  mistri help                       Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/mistri/config.yaml, or ./config.yaml)
  --output string    Output format: text, compact, or json (default: text)

Search/Diagnose Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" to load the store directly.
  --top-k int        Maximum number of matches (default from config)
  --category string  ERROR_CODES, SCHEMATICS, or GENERAL (search only; default: routed)
  --image string     Path to a photo of the appliance

Examples:
  mistri ingest data/error_codes.csv
  mistri server
  mistri diagnose "washer shows IE and won't fill"
  mistri search --server "" --top-k 5 drain pump noise
  mistri route --image "what is this part"
  mistri status --output json`)
}
