package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/athapong/docgraph/pkg/extract"
	"github.com/athapong/docgraph/pkg/extract/graph"
	"github.com/athapong/docgraph/pkg/extract/metrics"
	"github.com/athapong/docgraph/pkg/extract/store"
	"github.com/athapong/docgraph/services"
)

var (
	envFile     = flag.String("env", ".env", "Path to environment file")
	inputDir    = flag.String("input", "", "Directory containing parsed content-list JSON files")
	outputDir   = flag.String("output", "", "Output directory (overrides DOCGRAPH_OUTPUT_DIR)")
	markdown    = flag.Bool("markdown", false, "Also render parsed content as Markdown")
	graphHTML   = flag.Bool("graph", false, "Assemble results into a knowledge graph visualization")
	metricsAddr = flag.String("metrics-addr", "", "Expose prometheus metrics on this address (e.g. :9090)")
	logLevel    = flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatalf("Invalid log level: %v", err)
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := godotenv.Load(*envFile); err != nil {
		logger.Warnf("Error loading env file %s: %v", *envFile, err)
	}

	if *inputDir == "" {
		logger.Fatal("Input directory must be specified")
	}

	cfg := extract.ConfigFromEnv()
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	resultStore, err := store.New(cfg.OutputDir)
	if err != nil {
		logger.Fatalf("Failed to create result store: %v", err)
	}

	completer := services.NewOpenAICompleter(services.DefaultOpenAIClient(), cfg.Model)
	pipeline, err := extract.NewPipeline(completer, cfg, resultStore)
	if err != nil {
		logger.Fatalf("Failed to build pipeline: %v", err)
	}

	docs, err := readInputDocuments(*inputDir)
	if err != nil {
		logger.Fatalf("Failed to read input directory: %v", err)
	}
	if len(docs) == 0 {
		logger.Fatal("No input files found")
	}
	logger.Infof("Processing %d parsed documents...", len(docs))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *metricsAddr != "" {
		go serveMetrics(ctx, *metricsAddr, logger)
	}

	results, failed := pipeline.ProcessBatch(ctx, docs)

	var entities, relationships int
	for name, result := range results {
		entities += result.Stats.TotalEntities
		relationships += result.Stats.TotalRelationships

		if *markdown {
			blocks := blocksFor(docs, name)
			if err := resultStore.WriteMarkdown(name, blocks); err != nil {
				logger.Errorf("Failed to write markdown for %s: %v", name, err)
			}
		}
	}

	if *graphHTML {
		kg := graph.New()
		for name, result := range results {
			kg.AddResult(name, result)
		}
		path := filepath.Join(cfg.OutputDir, "knowledge_graph.html")
		if err := graph.NewVisualizer(path).Visualize(kg.Data()); err != nil {
			logger.Errorf("Failed to write knowledge graph visualization: %v", err)
		} else {
			logger.Infof("Knowledge graph visualization written to %s", path)
		}
	}

	logger.Infof("Extraction completed: %d entities, %d relationships across %d documents",
		entities, relationships, len(results))
	if len(failed) > 0 {
		logger.Warnf("Documents with persistence errors: %s", strings.Join(failed, ", "))
	}
}

// readInputDocuments loads every parsed content-list JSON file in the
// directory as one source document named after the file stem.
func readInputDocuments(dir string) ([]extract.SourceDocument, error) {
	var docs []extract.SourceDocument

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var records []json.RawMessage
		if err := json.Unmarshal(data, &records); err != nil {
			// Not a content list; skip quietly so result files living
			// next to inputs do not trip the run.
			return nil
		}

		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		name = strings.TrimSuffix(name, "_parsed")
		docs = append(docs, extract.SourceDocument{Name: name, Records: records})
		return nil
	})

	return docs, err
}

// serveMetrics exposes the prometheus registry for the lifetime of the
// run and keeps the system gauges fresh.
func serveMetrics(ctx context.Context, addr string, logger *logrus.Logger) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.UpdateSystemMetrics()
			case <-ctx.Done():
				return
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		server.Close()
	}()

	logger.Infof("Serving metrics on %s/metrics", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Warn("Metrics server stopped")
	}
}

func blocksFor(docs []extract.SourceDocument, name string) []extract.ContentBlock {
	normalizer := extract.NewNormalizer()
	for _, doc := range docs {
		if doc.Name == name {
			blocks, _ := normalizer.Normalize(doc.Records)
			return blocks
		}
	}
	return nil
}
