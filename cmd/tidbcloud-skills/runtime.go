package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/freedeaths/tidbcloud-skills/internal/catalog"
	"github.com/freedeaths/tidbcloud-skills/internal/execadapter"
	"github.com/freedeaths/tidbcloud-skills/internal/knowledge"
	"github.com/freedeaths/tidbcloud-skills/internal/lifecycle"
	"github.com/freedeaths/tidbcloud-skills/internal/pollengine"
	"github.com/freedeaths/tidbcloud-skills/internal/run"
	"github.com/freedeaths/tidbcloud-skills/internal/skill"
	"github.com/freedeaths/tidbcloud-skills/internal/suggest"
	"github.com/freedeaths/tidbcloud-skills/internal/telemetry"
)

// app holds the wired runtime shared by all commands.
type app struct {
	sut       string
	root      string
	cfg       skill.Config
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	catalog   *catalog.Index
	knowledge knowledge.Store
	sessions  *run.FileStore
	http      *execadapter.HTTPAdapter
	cli       *execadapter.CLIAdapter
	poller    *pollengine.Engine
	driver    *run.Driver
}

// buildApp resolves the skill root, loads the SUT config and OpenAPI
// definition, and wires the driver with its stores and adapters.
func buildApp(ctx context.Context) (*app, error) {
	sut := skill.CanonicalSUTName(sutName)
	root, err := skill.ResolveRoot(skillDir)
	if err != nil {
		return nil, err
	}
	cfg, err := skill.LoadConfig(root, sut)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := telemetry.NewLogger(os.Stderr, level)
	metrics := telemetry.NewMetrics()

	idx, err := catalog.LoadFile(cfg.OpenAPIPath(root, sut))
	if err != nil {
		return nil, fmt.Errorf("load OpenAPI definition: %w", err)
	}

	var kstore knowledge.Store
	if dsn := os.Getenv("TIDBCLOUD_KNOWLEDGE_DSN"); dsn != "" {
		kstore, err = knowledge.NewPGStore(ctx, dsn)
	} else {
		kstore, err = knowledge.NewFileStore(filepath.Join(root, "knowledge"), logger)
	}
	if err != nil {
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}

	sessions, err := run.NewFileStore(filepath.Join(root, "sessions"))
	if err != nil {
		kstore.Close()
		return nil, err
	}

	registry := lifecycle.DefaultRegistry()
	httpAdapter := execadapter.NewHTTPAdapter(sut, cfg, logger)
	cliAdapter := execadapter.NewCLIAdapter(logger)
	poller := pollengine.New(sut, httpAdapter, logger, metrics)

	driver, err := run.NewDriver(run.Deps{
		SUT:       sut,
		Store:     sessions,
		Catalog:   idx,
		Registry:  registry,
		Suggester: suggest.New(sut, idx, registry, kstore, suggest.DefaultConfig(), logger),
		Adapters: map[string]execadapter.Adapter{
			"http": httpAdapter,
			"cli":  cliAdapter,
		},
		Poller:  poller,
		Updater: knowledge.NewUpdater(kstore, logger),
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		kstore.Close()
		return nil, err
	}

	a := &app{
		sut:       sut,
		root:      root,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		catalog:   idx,
		knowledge: kstore,
		sessions:  sessions,
		http:      httpAdapter,
		cli:       cliAdapter,
		poller:    poller,
		driver:    driver,
	}

	if metricsListen != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(metricsListen, mux); err != nil {
				logger.Error("metrics listener stopped", "error", err)
			}
		}()
	}

	return a, nil
}

func (a *app) Close() {
	if a.knowledge != nil {
		a.knowledge.Close()
	}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	return jsonEncoder(os.Stdout).Encode(v)
}

func jsonEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc
}

// parseVars converts repeated key=value flags into a variable map. Values
// that parse as JSON keep their type; everything else stays a string.
func parseVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q, expected key=value", pair)
		}
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			vars[key] = parsed
		} else {
			vars[key] = raw
		}
	}
	return vars, nil
}
