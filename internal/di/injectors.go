//go:build wireinject
// +build wireinject

package di

import (
	wire "github.com/google/wire"
	"dupguard/internal"
	"dupguard/internal/controllers"
	"dupguard/internal/hashing"
	"dupguard/internal/platform"
	"dupguard/internal/providers"
	"dupguard/internal/services"
	"dupguard/internal/storage"
	"dupguard/internal/structures"
)

var storageSet = wire.NewSet(
	storage.NewFileManager,
	storage.NewZstdCompressor,
	storage.NewFingerprintRepository,
	storage.NewPolicyRepository,
	storage.NewLastSeenRepository,
	storage.NewBackupManager,
	storage.NewScheduler,
)

var serviceSet = wire.NewSet(
	hashing.NewPool,
	hashing.NewCachedHasher,
	wire.Bind(new(hashing.Hasher), new(*hashing.CachedHasher)),
	services.NewMatcher,
	services.NewResponder,
	services.NewDetector,
	services.NewReconciler,
	services.NewAdmin,
	wire.Bind(new(services.AdminServiceInterface), new(*services.Admin)),
	services.NewBot,
)

func InitApp(cfg *structures.CliFlags) (*internal.App, error) {

	wire.Build(
		providers.NewConfigProvider,
		providers.NewLogProvider,
		providers.NewMetricsProvider,
		providers.NewInstrumentedCacheProvider,

		platform.NewSource,
		platform.ClientOf,

		storageSet,
		serviceSet,

		controllers.NewAdminController,
		controllers.NewHealthController,
		internal.InitRoutes,
		internal.NewApp,
	)

	return nil, nil
}
