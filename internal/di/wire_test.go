package di

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/folio/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:       t.TempDir(),
		Port:          0,
		RemoteBaseURL: "http://localhost:9", // never dialed in tests
		RemoteTimeout: time.Second,
		ProbeURL:      "http://localhost:9/health",
		ProbeInterval: time.Hour,
		ProbeTimeout:  time.Second,
	}
}

func TestInitializeBuildsFullContainer(t *testing.T) {
	container, err := Initialize(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.QueueDB)
	assert.NotNil(t, container.MirrorDB)
	assert.NotNil(t, container.CacheDB)
	assert.NotNil(t, container.Queue)
	assert.NotNil(t, container.PortfolioRepo)
	assert.NotNil(t, container.TransactionRepo)
	assert.NotNil(t, container.WatchlistRepo)
	assert.NotNil(t, container.QuoteCache)
	assert.NotNil(t, container.Monitor)
	assert.NotNil(t, container.RemoteClient)
	assert.NotNil(t, container.Coordinator)
	assert.NotNil(t, container.PortfolioService)
	assert.NotNil(t, container.WatchlistService)
	assert.NotNil(t, container.Scheduler)

	// Optional pieces stay unset without configuration
	assert.Nil(t, container.QuoteStream)
	assert.Nil(t, container.BackupService)
}

func TestInitializeWithQuoteStream(t *testing.T) {
	cfg := testConfig(t)
	cfg.QuoteStreamURL = "ws://localhost:9/stream"

	container, err := Initialize(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.QuoteStream)
}

func TestDatabasesAreMigrated(t *testing.T) {
	container, err := Initialize(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	// Schema tables exist and are queryable
	size, err := container.Queue.Size()
	require.NoError(t, err)
	assert.Zero(t, size)

	portfolios, err := container.PortfolioRepo.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, portfolios)
}
