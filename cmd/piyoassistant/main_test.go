package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kukipiyo/PiyoXAssistant/internal/database"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *database.Database {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestResolveCredential_PrefersStoredValue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	logger := logrus.New()

	require.NoError(t, db.SetCredential(ctx, database.CredentialBearerToken, "stored-token"))
	t.Setenv("PIYO_X_BEARER_TOKEN", "env-token")

	got := resolveCredential(ctx, db, database.CredentialBearerToken, "PIYO_X_BEARER_TOKEN", logger)
	assert.Equal(t, "stored-token", got)
}

func TestResolveCredential_FallsBackToEnvAndPersists(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	logger := logrus.New()

	t.Setenv("PIYO_WEATHER_API_KEY", "env-key")

	got := resolveCredential(ctx, db, database.CredentialWeatherAPIKey, "PIYO_WEATHER_API_KEY", logger)
	assert.Equal(t, "env-key", got)

	stored, err := db.GetCredential(ctx, database.CredentialWeatherAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "env-key", stored)
}

func TestResolveCredential_Missing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	logger := logrus.New()

	got := resolveCredential(ctx, db, database.CredentialFinanceAPIKey, "PIYO_FINANCE_API_KEY", logger)
	assert.Empty(t, got)
}
