package cache

import (
	"context"

	"github.com/annel0/worldcache/internal/vec"
)

// GetLocationsOf ищет позиции блока id по кольцам регионов вокруг (centerX, centerZ)
// в порядке возрастания квадрата расстояния в регионах. Поиск останавливается после
// кольца, на котором набрано maxResults позиций, или когда радиус превышает maxRegionRadius.
// Затронутые регионы загружаются из хранилища.
func (w *WorldCache) GetLocationsOf(ctx context.Context, id string, maxResults, centerX, centerZ, maxRegionRadius int) []vec.Vec3 {
	var res []vec.Vec3
	if maxResults <= 0 || maxRegionRadius < 0 {
		return res
	}

	centerRegionX := centerX >> 9
	centerRegionZ := centerZ >> 9
	maxDistSq := maxRegionRadius * maxRegionRadius

	for distSq := 0; distSq <= maxDistSq; distSq++ {
		if ctx.Err() != nil {
			break
		}
		for dx := -maxRegionRadius; dx <= maxRegionRadius; dx++ {
			for dz := -maxRegionRadius; dz <= maxRegionRadius; dz++ {
				if dx*dx+dz*dz != distSq {
					continue
				}
				r := w.getOrCreateRegion(ctx, centerRegionX+dx, centerRegionZ+dz)
				if r == nil {
					continue
				}
				res = append(res, r.LocationsOf(id)...)
			}
		}
		if len(res) >= maxResults {
			break
		}
	}
	return res
}
