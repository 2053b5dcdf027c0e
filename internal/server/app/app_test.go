package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mangosqueezy/internal/common"
)

func TestNewWiresSqlite(t *testing.T) {
	t.Setenv("MANGO_DB_DRIVER", "sqlite")
	t.Setenv("MANGO_DB_DSN", filepath.Join(t.TempDir(), "app.db"))
	t.Setenv("MANGO_CALLBACK_SECRET", "cb")
	t.Setenv("MANGO_JWT_SECRET", "jwt")
	cfg, err := common.LoadConfig("")
	require.NoError(t, err)

	// asynq connects lazily, so no redis is needed to build the app
	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, a.Engine)
	assert.Equal(t, "localhost:6379", a.RedisOpt().Addr)
	assert.NoError(t, a.Close())
}
