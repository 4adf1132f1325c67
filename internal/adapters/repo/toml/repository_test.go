package toml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/redpost/internal/domain"
)

func TestRegistryRoundTrip(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "accounts.toml")
	config := viper.New()
	config.Set("accounts.path", accountsPath)

	registry, err := NewRegistry(config)
	require.NoError(t, err)

	farm := domain.Account{
		Key:      "shop-main",
		Name:     "Main shop",
		Backend:  domain.BackendFarm,
		WindowID: "w-1138",
		TableID:  "tbl-abc",
	}
	local := domain.Account{
		Key:       "shop-backup",
		Name:      "Backup shop",
		Backend:   domain.BackendLocal,
		GroupName: "outlet",
	}

	require.NoError(t, registry.Save(context.Background(), farm))
	require.NoError(t, registry.Save(context.Background(), local))

	got, err := registry.GetByKey(context.Background(), farm.Key)
	require.NoError(t, err)
	assert.Equal(t, farm, got)

	accounts, err := registry.List(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.Account{farm, local}, accounts)
}

func TestRegistrySaveReplacesExistingKey(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "accounts.toml")
	config := viper.New()
	config.Set("accounts.path", accountsPath)

	registry, err := NewRegistry(config)
	require.NoError(t, err)

	account := domain.Account{Key: "shop-main", Name: "Main", Backend: domain.BackendLocal}
	require.NoError(t, registry.Save(context.Background(), account))

	account.Name = "Main renamed"
	require.NoError(t, registry.Save(context.Background(), account))

	accounts, err := registry.List(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "Main renamed", accounts[0].Name)
}

func TestRegistrySaveRejectsInvalidAccount(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "accounts.toml")
	config := viper.New()
	config.Set("accounts.path", accountsPath)

	registry, err := NewRegistry(config)
	require.NoError(t, err)

	// Farm accounts must carry a window id.
	err = registry.Save(context.Background(), domain.Account{Key: "shop-main", Backend: domain.BackendFarm})
	require.Error(t, err)
	assert.ErrorContains(t, err, "window id")
}

func TestRegistrySaveCreatesDefaultPathAndEnforcesPermissions(t *testing.T) {
	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)

	registry, err := NewRegistry(viper.New())
	require.NoError(t, err)

	err = registry.Save(context.Background(), domain.Account{
		Key:     "shop-main",
		Name:    "Main",
		Backend: domain.BackendLocal,
	})
	require.NoError(t, err)

	accountsPath := filepath.Join(homeDir, ".redpost", "accounts.toml")
	info, err := os.Stat(accountsPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRegistryMissingFileBehaviors(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "missing", "accounts.toml")
	config := viper.New()
	config.Set("accounts.path", accountsPath)

	registry, err := NewRegistry(config)
	require.NoError(t, err)

	accounts, err := registry.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)

	_, err = registry.GetByKey(context.Background(), "shop-main")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestRegistryListMalformedTOMLReturnsError(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "accounts.toml")
	require.NoError(t, os.WriteFile(accountsPath, []byte("accounts = ["), 0o600))

	config := viper.New()
	config.Set("accounts.path", accountsPath)

	registry, err := NewRegistry(config)
	require.NoError(t, err)

	_, err = registry.List(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "decode accounts file")
}

func TestRegistrySaveCanceledContextReturnsContextError(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "accounts.toml")
	config := viper.New()
	config.Set("accounts.path", accountsPath)

	registry, err := NewRegistry(config)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = registry.Save(ctx, domain.Account{Key: "shop-main", Backend: domain.BackendLocal})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRegistryConcurrentSavesAcrossInstancesPreserveAllAccounts(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "accounts.toml")

	newRegistry := func() *Registry {
		config := viper.New()
		config.Set("accounts.path", accountsPath)
		registry, err := NewRegistry(config)
		require.NoError(t, err)
		return registry
	}

	registryA := newRegistry()
	registryB := newRegistry()

	const perRegistryWrites = 100
	start := make(chan struct{})
	errCh := make(chan error, perRegistryWrites*2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		<-start
		for i := 0; i < perRegistryWrites; i++ {
			errCh <- registryA.Save(context.Background(), domain.Account{
				Key:     domain.AccountKey("shop-a-" + strconv.Itoa(i)),
				Backend: domain.BackendLocal,
			})
		}
	}()

	go func() {
		defer wg.Done()
		<-start
		for i := 0; i < perRegistryWrites; i++ {
			errCh <- registryB.Save(context.Background(), domain.Account{
				Key:     domain.AccountKey("shop-b-" + strconv.Itoa(i)),
				Backend: domain.BackendLocal,
			})
		}
	}()

	close(start)
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	accounts, err := registryA.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, perRegistryWrites*2)
}

func TestRegistrySaveSerializedTOMLIncludesVersion(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "accounts.toml")
	config := viper.New()
	config.Set("accounts.path", accountsPath)

	registry, err := NewRegistry(config)
	require.NoError(t, err)

	require.NoError(t, registry.Save(context.Background(), domain.Account{Key: "shop-main", Backend: domain.BackendLocal}))

	data, err := os.ReadFile(accountsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "version = 1")
}

func TestRegistryFutureSchemaVersionReturnsError(t *testing.T) {
	t.Parallel()

	accountsPath := filepath.Join(t.TempDir(), "accounts.toml")
	require.NoError(t, os.WriteFile(accountsPath, []byte(strings.Join([]string{
		"version = 999",
		"",
		"accounts = []",
		"",
	}, "\n")), 0o600))

	config := viper.New()
	config.Set("accounts.path", accountsPath)
	registry, err := NewRegistry(config)
	require.NoError(t, err)

	_, err = registry.List(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "unsupported accounts schema version")
}
