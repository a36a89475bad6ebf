package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/worldcache/internal/api"
	"github.com/annel0/worldcache/internal/cache"
	"github.com/annel0/worldcache/internal/config"
	"github.com/annel0/worldcache/internal/logging"
	"github.com/annel0/worldcache/internal/observability"
	"github.com/annel0/worldcache/internal/scanner"
	"github.com/annel0/worldcache/internal/vec"
	"github.com/annel0/worldcache/internal/world"
	"github.com/prometheus/client_golang/prometheus"
)

const worldDir = "world"

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию WORLDCACHE_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	if cfg.Logging.File {
		if err := logging.InitDefaultLogger("worldcache"); err != nil {
			log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
		}
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()
	applyLogLevel(cfg.Logging.Level)

	logging.Info("🧱 Запуск worldcache (измерение %s, хранилище %s)", cfg.World.Dimension, cfg.Storage.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === ТРАССИРОВКА ===
	if cfg.Tracing.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, observability.Config{
			ServiceName: "worldcache",
			Endpoint:    cfg.Tracing.Endpoint,
			Insecure:    cfg.Tracing.Insecure,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			logging.Error("❌ Ошибка инициализации OpenTelemetry: %v", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	// === КЕШ ===
	if cfg.Server.MetricsEnabled {
		cache.RegisterMetrics(prometheus.DefaultRegisterer)
	}

	registry := cache.NewRegistry(ctx, cfg.StoreFactory(), cfg.Options(), nil)
	registry.SetDimension(cfg.World.Dimension, cache.Dimension{MinY: cfg.World.MinY, Height: cfg.World.Height})

	if cfg.Invalidation.NATSURL != "" {
		inv, err := cache.NewNATSInvalidator(cfg.InvalidatorConfig(), cfg.Invalidation.NodeID)
		if err != nil {
			logging.Error("❌ NATS недоступен, межузловая инвалидация отключена: %v", err)
		} else {
			defer inv.Close()
			if err := registry.BindInvalidator(ctx, inv); err != nil {
				logging.Error("❌ Ошибка подписки на инвалидацию: %v", err)
			}
		}
	}

	wc, err := registry.Cache(worldDir, cfg.World.Dimension)
	if err != nil {
		log.Fatalf("❌ Ошибка создания кеша: %v", err)
	}

	// === МИР ===
	loaded, err := generateSpawn(cfg)
	if err != nil {
		log.Fatalf("❌ Ошибка генерации мира: %v", err)
	}

	spawn := vec.Vec3{X: 8, Y: cfg.World.MinY + cfg.World.Height/2, Z: 8}
	registry.Viewers().Add(spawn, wc)

	queued := scanner.New(loaded).Repack(wc, spawn, cfg.World.SpawnRadius)
	logging.Info("📦 В очередь упаковки поставлено %d чанков", queued)

	// === API ===
	restServer := api.NewRestServer(api.Config{
		Port:     fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
		Registry: registry,
		Dir:      worldDir,
	})
	if err := restServer.Start(); err != nil {
		log.Fatalf("❌ Ошибка запуска REST API: %v", err)
	}

	<-ctx.Done()
	logging.Info("📡 Получен сигнал завершения, сохранение кеша...")

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := restServer.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	if err := registry.Close(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка сохранения кеша: %v", err)
	}
	logging.Info("👋 worldcache остановлен")
}

// generateSpawn генерирует резидентные чанки вокруг точки появления
func generateSpawn(cfg *config.Config) (*world.LoadedWorld, error) {
	gen := world.NewWorldGenerator(cfg.World.Seed, cfg.World.MinY, cfg.World.Height)
	loaded := world.NewLoadedWorld(cfg.World.MinY, cfg.World.Height)

	r := cfg.World.SpawnRadius
	for cx := -r; cx <= r; cx++ {
		for cz := -r; cz <= r; cz++ {
			c, err := gen.GenerateChunk(cx, cz)
			if err != nil {
				return nil, fmt.Errorf("чанк (%d, %d): %w", cx, cz, err)
			}
			loaded.Put(c)
		}
	}
	logging.Info("🌍 Сгенерировано %d чанков (seed %d)", loaded.Len(), cfg.World.Seed)
	return loaded, nil
}

// applyLogLevel задаёт уровень консоли глобального логгера и логгеров компонентов
func applyLogLevel(level string) {
	lvl := logging.ParseLevel(level)
	logging.SetDefaultLevel(lvl)

	manager := logging.GetLoggerManager()
	for _, component := range []string{"cache", "storage", "scanner", "api"} {
		manager.MustGetLogger(component)
		if err := manager.SetLogLevel(component, lvl, logging.DEBUG); err != nil {
			logging.Warn("Уровень логгера %s не изменён: %v", component, err)
		}
	}
}
