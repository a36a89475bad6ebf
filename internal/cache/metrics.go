package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus-метрики кеша. Общие для всех экземпляров WorldCache,
// различаются меткой dimension.
var (
	chunksPacked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldcache",
		Name:      "chunks_packed_total",
		Help:      "Количество классифицированных и установленных в регион чанков.",
	}, []string{"dimension"})
	chunksDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldcache",
		Name:      "chunks_dropped_total",
		Help:      "Чанков, отброшенных из-за переполнения очереди упаковки.",
	}, []string{"dimension"})
	pendingChunks = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "worldcache",
		Name:      "pending_chunks",
		Help:      "Чанков, ожидающих классификации.",
	}, []string{"dimension"})
	regionsLoaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldcache",
		Name:      "regions_loaded_total",
		Help:      "Регионов, прочитанных из хранилища.",
	}, []string{"dimension"})
	regionsSaved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldcache",
		Name:      "regions_saved_total",
		Help:      "Регионов, записанных в хранилище.",
	}, []string{"dimension"})
	regionsEvicted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldcache",
		Name:      "regions_evicted_total",
		Help:      "Регионов, выгруженных из памяти по расстоянию или инвалидации.",
	}, []string{"dimension"})
	regionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worldcache",
		Name:      "region_io_errors_total",
		Help:      "Ошибок чтения/записи регионов.",
	}, []string{"dimension", "op"})
	regionsResident = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "worldcache",
		Name:      "regions_resident",
		Help:      "Регионов в памяти.",
	}, []string{"dimension"})

	registerOnce sync.Once
)

// RegisterMetrics регистрирует метрики кеша в регистре. Повторные вызовы игнорируются.
func RegisterMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(chunksPacked, chunksDropped, pendingChunks,
			regionsLoaded, regionsSaved, regionsEvicted, regionErrors, regionsResident)
	})
}
