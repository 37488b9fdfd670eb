package di

import (
	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/config"
)

// Initialize builds the full container: databases, repositories, services
func Initialize(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, err
	}

	InitializeRepositories(container, log)

	if err := InitializeServices(container, log); err != nil {
		container.Close()
		return nil, err
	}

	return container, nil
}
