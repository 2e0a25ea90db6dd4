package docstore

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/soyeahso/querydesk/internal/config"
	"github.com/soyeahso/querydesk/internal/logging"
)

// sampleMovies seeds the memory driver when no seed file is configured.
//
//go:embed sample_movies.json
var sampleMovies []byte

// Open builds the configured backend and a service over it. The caller
// owns the returned backend and must Close it.
func Open(ctx context.Context, cfg config.DocumentsConfig, log *logging.Logger) (*Service, Backend, error) {
	var backend Backend
	switch cfg.Driver {
	case "mongo":
		b, err := NewMongoBackend(ctx, cfg.URI, cfg.Database, log)
		if err != nil {
			return nil, nil, err
		}
		backend = b

	case "memory", "":
		mem := NewMemoryBackend()
		seed := sampleMovies
		if cfg.SeedFile != "" {
			data, err := os.ReadFile(cfg.SeedFile)
			if err != nil {
				return nil, nil, fmt.Errorf("reading seed file: %w", err)
			}
			seed = data
		}
		n, err := mem.LoadExtJSON(cfg.Collection, seed)
		if err != nil {
			return nil, nil, err
		}
		log.Sub("docstore").Info().Int("documents", n).Str("collection", cfg.Collection).Msg("memory document store seeded")
		backend = mem

	default:
		return nil, nil, fmt.Errorf("unsupported document driver %q", cfg.Driver)
	}

	svc := NewService(backend, Options{
		Collection:       cfg.Collection,
		NormalizedFields: cfg.NormalizedFields,
		MaxLimit:         cfg.MaxLimit,
	}, log)
	return svc, backend, nil
}
