package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/annel0/worldcache/internal/cache"
	"github.com/annel0/worldcache/internal/logging"
	"github.com/annel0/worldcache/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	defaultMaxResults   = 64
	maxResultsLimit     = 4096
	defaultRegionRadius = 2
	maxRegionRadius     = 16
)

// RestServer отдаёт запросы к кешам реестра по HTTP
type RestServer struct {
	router     *gin.Engine
	registry   *cache.Registry
	dir        string
	port       string
	metrics    *ServerMetrics
	httpServer *http.Server
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port       string                // адрес для запуска сервера, например ":8088"
	Registry   *cache.Registry       // реестр кешей
	Dir        string                // директория мира, из которой берутся кеши измерений
	Registerer prometheus.Registerer // регистр HTTP-метрик (nil: дефолтный)
	Gatherer   prometheus.Gatherer   // источник для /metrics (nil: дефолтный)
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8088"
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	// span otelgin должен существовать до логгера запросов
	router.Use(otelgin.Middleware("worldcache"))
	router.Use(middleware.NewRequestLogger().Handler())

	promMw := middleware.NewPrometheusMiddleware("worldcache", config.Registerer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, config.Gatherer)

	server := &RestServer{
		router:   router,
		registry: config.Registry,
		dir:      config.Dir,
		port:     config.Port,
		metrics:  NewServerMetrics(),
	}

	server.setupRoutes()
	return server
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	v1 := rs.router.Group("/api/v1")
	v1.GET("/caches", rs.handleCaches)

	dim := v1.Group("/:dim")
	dim.Use(rs.cacheMiddleware())
	{
		dim.GET("/pathing", rs.handlePathing)
		dim.GET("/cached", rs.handleCached)
		dim.GET("/block", rs.handleBlock)
		dim.GET("/locations", rs.handleLocations)
		dim.GET("/stats", rs.handleStats)
		dim.POST("/save", rs.handleSave)
		dim.POST("/load", rs.handleLoad)
	}
}

// Handler возвращает http.Handler сервера (используется в тестах)
func (rs *RestServer) Handler() http.Handler { return rs.router }

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, GenericResponse{Success: false, Message: msg})
}

// cacheMiddleware находит кеш измерения из пути и кладёт его в контекст запроса
func (rs *RestServer) cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		dim := c.Param("dim")
		wc, ok := rs.registry.Lookup(rs.dir, dim)
		if !ok {
			fail(c, http.StatusNotFound, fmt.Sprintf("Измерение %q не загружено", dim))
			return
		}
		c.Set("cache", wc)
		c.Next()
	}
}

func worldCache(c *gin.Context) *cache.WorldCache {
	return c.MustGet("cache").(*cache.WorldCache)
}

// queryInt читает целый параметр запроса. Пустой параметр даёт def или ошибку, если def == nil.
func queryInt(c *gin.Context, name string, def *int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		if def == nil {
			return 0, fmt.Errorf("параметр %s обязателен", name)
		}
		return *def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("параметр %s: %q не является целым числом", name, raw)
	}
	return v, nil
}

// queryInts читает несколько обязательных целых параметров
func queryInts(c *gin.Context, names ...string) ([]int, bool) {
	vals := make([]int, len(names))
	for i, name := range names {
		v, err := queryInt(c, name, nil)
		if err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return nil, false
		}
		vals[i] = v
	}
	return vals, true
}

func intPtr(v int) *int { return &v }

// handleHealth возвращает статус сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
		"caches": len(rs.registry.Caches()),
	})
}

// handleCaches возвращает сводку всех созданных кешей
func (rs *RestServer) handleCaches(c *gin.Context) {
	caches := rs.registry.Caches()
	stats := make([]cache.Stats, 0, len(caches))
	for _, wc := range caches {
		stats = append(stats, wc.Stats())
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список кешей получен",
		Data: map[string]interface{}{
			"caches": stats,
			"total":  len(stats),
		},
	})
}

// handlePathing возвращает тип вокселя
func (rs *RestServer) handlePathing(c *gin.Context) {
	p, ok := queryInts(c, "x", "y", "z")
	if !ok {
		return
	}
	t, cached := worldCache(c).Get(p[0], p[1], p[2])
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Тип вокселя получен",
		Data: map[string]interface{}{
			"x": p[0], "y": p[1], "z": p[2],
			"type":   t,
			"cached": cached,
		},
	})
}

// handleCached проверяет, кеширован ли чанк с блоком (x, z)
func (rs *RestServer) handleCached(c *gin.Context) {
	p, ok := queryInts(c, "x", "z")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статус чанка получен",
		Data: map[string]interface{}{
			"x": p[0], "z": p[1],
			"cached": worldCache(c).IsCached(p[0], p[1]),
		},
	})
}

// handleBlock возвращает приближённый идентификатор блока
func (rs *RestServer) handleBlock(c *gin.Context) {
	p, ok := queryInts(c, "x", "y", "z")
	if !ok {
		return
	}
	name, cached := worldCache(c).BlockAt(p[0], p[1], p[2])
	if !cached {
		fail(c, http.StatusNotFound, "Чанк не кеширован")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Блок получен",
		Data: map[string]interface{}{
			"x": p[0], "y": p[1], "z": p[2],
			"block": name,
		},
	})
}

// handleLocations ищет позиции отслеживаемого блока кольцами регионов
func (rs *RestServer) handleLocations(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		fail(c, http.StatusBadRequest, "параметр id обязателен")
		return
	}

	maxResults, err := queryInt(c, "max", intPtr(defaultMaxResults))
	if err == nil && (maxResults <= 0 || maxResults > maxResultsLimit) {
		err = fmt.Errorf("параметр max должен быть в диапазоне 1..%d", maxResultsLimit)
	}
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	radius, err := queryInt(c, "radius", intPtr(defaultRegionRadius))
	if err == nil && (radius < 0 || radius > maxRegionRadius) {
		err = fmt.Errorf("параметр radius должен быть в диапазоне 0..%d", maxRegionRadius)
	}
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	x, err := queryInt(c, "x", intPtr(0))
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	z, err := queryInt(c, "z", intPtr(0))
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	found := worldCache(c).GetLocationsOf(c.Request.Context(), id, maxResults, x, z, radius)
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Поиск завершён",
		Data: map[string]interface{}{
			"id":        id,
			"locations": found,
			"total":     len(found),
		},
	})
}

// handleStats возвращает статистику кеша и процесса
func (rs *RestServer) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data: map[string]interface{}{
			"cache":  worldCache(c).Stats(),
			"server": rs.metrics.Snapshot(),
		},
	})
}

// handleSave сохраняет изменённые регионы измерения
func (rs *RestServer) handleSave(c *gin.Context) {
	wc := worldCache(c)
	if err := wc.Save(c.Request.Context()); err != nil {
		logging.GetAPILogger().Error("Сохранение %s: %v", wc.Dimension(), err)
		fail(c, http.StatusInternalServerError, "Ошибка сохранения")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Кеш сохранён",
		Data:    wc.Stats(),
	})
}

// handleLoad загружает регион (rx, rz) из хранилища
func (rs *RestServer) handleLoad(c *gin.Context) {
	p, ok := queryInts(c, "rx", "rz")
	if !ok {
		return
	}
	if !worldCache(c).TryLoadFromDisk(c.Request.Context(), p[0], p[1]) {
		fail(c, http.StatusNotFound, "Регион не найден в хранилище")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Регион загружен",
		Data:    map[string]int{"rx": p[0], "rz": p[1]},
	})
}

// Start запускает HTTP сервер в отдельной горутине
func (rs *RestServer) Start() error {
	rs.httpServer = &http.Server{
		Addr:              rs.port,
		Handler:           rs.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := rs.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.GetAPILogger().Error("❌ Ошибка REST API сервера: %v", err)
		}
	}()

	logging.GetAPILogger().Info("✅ REST API сервер запущен на %s", rs.port)
	return nil
}

// Stop останавливает сервер, дожидаясь завершения активных запросов
func (rs *RestServer) Stop(ctx context.Context) error {
	if rs.httpServer == nil {
		return nil
	}
	logging.GetAPILogger().Info("🛑 Остановка REST API сервера...")
	return rs.httpServer.Shutdown(ctx)
}
