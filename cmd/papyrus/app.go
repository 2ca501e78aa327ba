package main

import (
	"github.com/tlawson/papyrus/internal/config"
	"github.com/tlawson/papyrus/internal/corpus"
	"github.com/tlawson/papyrus/internal/enrich"
	"github.com/tlawson/papyrus/internal/extract"
	"github.com/tlawson/papyrus/internal/fetch"
	"github.com/tlawson/papyrus/internal/pipeline"
	"github.com/tlawson/papyrus/internal/ratelimit"
)

// app bundles everything a command needs: the repository, its
// configuration, the store, and the wired pipeline.
type app struct {
	root  string
	cfg   *config.Config
	store *corpus.Store
	pipe  *pipeline.Pipeline
}

// requireRepo locates the repository, loads its configuration, opens
// the store, and wires the pipeline. Exits on any failure; commands
// call this first.
func requireRepo() *app {
	start, exitCode := getRepoRoot()
	if exitCode != 0 {
		exitWithError(exitCode, "locating repository")
	}
	root, err := config.FindRepository(start)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	store, err := corpus.Open(config.DBPath(root))
	if err != nil {
		exitWithError(ExitError, "opening corpus: %v", err)
	}

	return &app{
		root:  root,
		cfg:   cfg,
		store: store,
		pipe:  buildPipeline(root, cfg, store),
	}
}

// buildRegistry registers a limiter per configured service, plus the
// services the default wiring always needs.
func buildRegistry(cfg *config.Config) *ratelimit.Registry {
	limits := ratelimit.NewRegistry()
	for _, service := range []string{enrich.Service, extract.ParserService, "doi", "oa"} {
		limits.Register(service, cfg.RateInterval(service), 1)
	}
	for service, interval := range cfg.RateIntervals {
		limits.Register(service, interval, 1)
	}
	for name := range cfg.Mirrors {
		service := "mirror:" + name
		limits.Register(service, cfg.RateInterval(service), 1)
	}
	return limits
}

// buildSources assembles the download chain in configured order.
func buildSources(cfg *config.Config, limits *ratelimit.Registry, catalog *enrich.Client) []fetch.Source {
	var sources []fetch.Source
	for _, name := range cfg.SourceChain {
		switch name {
		case "direct-doi":
			sources = append(sources, fetch.NewDirectDOI(limits))
		case "open-access":
			sources = append(sources, fetch.NewOpenAccess(limits))
		case "search-fallback":
			sources = append(sources, fetch.NewSearchFallback(catalog, limits))
		default:
			for mirror, baseURL := range cfg.Mirrors {
				if name == "mirror:"+mirror {
					sources = append(sources, fetch.NewMirror(mirror, baseURL, limits))
				}
			}
		}
	}
	return sources
}

// buildPipeline wires the collaborators per the repository config.
func buildPipeline(root string, cfg *config.Config, store *corpus.Store) *pipeline.Pipeline {
	limits := buildRegistry(cfg)

	var catalogOpts []enrich.ClientOption
	catalogOpts = append(catalogOpts, enrich.WithLimiter(limits))
	if cfg.Mailto != "" {
		catalogOpts = append(catalogOpts, enrich.WithMailto(cfg.Mailto))
	}
	catalog := enrich.NewClient(catalogOpts...)

	parser := extract.NewParser(cfg.ParserURL, extract.WithParserLimiter(limits))
	fetcher := fetch.NewOrchestrator(config.PDFPath(root), buildSources(cfg, limits, catalog))

	return pipeline.New(store, catalog, parser, fetcher,
		pipeline.WithExpansionBounds(cfg.MaxDepth, cfg.MaxFanout))
}
