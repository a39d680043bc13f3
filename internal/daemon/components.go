package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/leonardotrapani/segscribe/internal/config"
	"github.com/leonardotrapani/segscribe/internal/models/whisper"
	"github.com/leonardotrapani/segscribe/internal/secret"
	"github.com/leonardotrapani/segscribe/internal/storage"
	"github.com/leonardotrapani/segscribe/internal/store"
	"github.com/leonardotrapani/segscribe/internal/transcriber"
)

// Components are the stateful collaborators the daemon drives.
type Components struct {
	Gateway store.Gateway
	Files   storage.FileStorage
	Keys    secret.Store
	Cloud   transcriber.Backend
	Local   transcriber.Backend
}

type watcher interface {
	Watch(ctx context.Context) error
	Stop()
}

// OpenComponents builds the production components from cfg. The returned
// close function releases the database.
func OpenComponents(cfg *config.Config, logger zerolog.Logger) (Components, func() error, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			return Components{}, nil, err
		}
		dbPath = p
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return Components{}, nil, err
	}
	logger.Info().Str("path", dbPath).Msg("database opened")

	files, err := OpenStorage(cfg)
	if err != nil {
		db.Close()
		return Components{}, nil, err
	}

	keyPath, err := secret.DefaultPath()
	if err != nil {
		db.Close()
		return Components{}, nil, err
	}
	keys, err := secret.NewFile(keyPath, logger)
	if err != nil {
		db.Close()
		return Components{}, nil, fmt.Errorf("load api key: %w", err)
	}

	modelDir, err := whisper.DefaultDir()
	if err != nil {
		db.Close()
		return Components{}, nil, err
	}
	source := transcriber.NewWhisperCppSource(cfg.ToWhisperCppConfig(), whisper.NewRegistry(modelDir), logger)

	return Components{
		Gateway: db,
		Files:   files,
		Keys:    keys,
		Cloud:   transcriber.NewOpenAIAdapter(cfg.ToOpenAIConfig(), keys, files, logger),
		Local:   transcriber.NewLocalAdapter(cfg.ToLocalConfig(), source, files, logger),
	}, db.Close, nil
}

// OpenStorage returns the audio storage selected by storage.backend.
func OpenStorage(cfg *config.Config) (storage.FileStorage, error) {
	switch cfg.Storage.Backend {
	case "minio":
		return storage.NewMinIO(cfg.ToMinIOConfig())
	case "local", "":
		dir, err := cfg.AudioDir()
		if err != nil {
			return nil, err
		}
		return storage.NewLocal(dir)
	default:
		return nil, errors.New("unknown storage backend: " + cfg.Storage.Backend)
	}
}
