package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/annel0/worldcache/internal/cache"
	"github.com/annel0/worldcache/internal/config"
	"github.com/annel0/worldcache/internal/vec"
)

const timeFormat = "2006-01-02T15:04:05Z07:00"

func main() {
	var (
		configPath = flag.String("config", "", "YAML конфигурация (по умолчанию WORLDCACHE_CONFIG)")
		worldDir   = flag.String("world", "world", "Директория мира")
		dimension  = flag.String("dim", "", "Измерение (по умолчанию из конфигурации)")
		regionX    = flag.Int("rx", 0, "Координата X региона")
		regionZ    = flag.Int("rz", 0, "Координата Z региона")
		command    = flag.String("cmd", "info", "Команда: info, chunks, find, pathing")
		blockID    = flag.String("id", "", "Идентификатор блока для find")
		posX       = flag.Int("x", 0, "X блока для pathing")
		posY       = flag.Int("y", 0, "Y блока для pathing")
		posZ       = flag.Int("z", 0, "Z блока для pathing")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Ошибка конфигурации: %v", err)
	}
	if *dimension == "" {
		*dimension = cfg.World.Dimension
	}

	store, err := cfg.StoreFactory()(*worldDir)
	if err != nil {
		log.Fatalf("Ошибка открытия хранилища: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	region := cache.NewRegion(*dimension, *regionX, *regionZ, cfg.World.MinY, cfg.World.Height, -1)
	if err := region.Load(ctx, store); err != nil {
		log.Fatalf("Ошибка чтения региона: %v", err)
	}
	if region.ChunkCount() == 0 {
		fmt.Printf("Регион %s (%d, %d) пуст или не сохранён\n", *dimension, *regionX, *regionZ)
		os.Exit(1)
	}

	switch *command {
	case "info":
		printInfo(region)
	case "chunks":
		printChunks(region)
	case "find":
		if *blockID == "" {
			log.Fatal("Для find нужен -id")
		}
		printLocations(*blockID, region.LocationsOf(*blockID))
	case "pathing":
		t, ok := region.Get(*posX, *posY, *posZ)
		if !ok {
			fmt.Printf("(%d, %d, %d): чанк не кеширован\n", *posX, *posY, *posZ)
			return
		}
		name, _ := region.BlockAt(*posX, *posY, *posZ)
		fmt.Printf("(%d, %d, %d): %s (%s)\n", *posX, *posY, *posZ, t, name)
	default:
		log.Fatalf("Неизвестная команда: %s", *command)
	}
}

// forEachChunk обходит кешированные чанки региона в порядке z, затем x
func forEachChunk(r *cache.Region, fn func(c *cache.ClassifiedChunk)) {
	for z := 0; z < cache.RegionSize; z++ {
		for x := 0; x < cache.RegionSize; x++ {
			if c := r.Chunk(x, z); c != nil {
				fn(c)
			}
		}
	}
}

func printInfo(r *cache.Region) {
	counts := make(map[string]int)
	forEachChunk(r, func(c *cache.ClassifiedChunk) {
		for _, id := range c.SpecialBlocks() {
			counts[id] += len(c.LocationsOf(id))
		}
	})

	fmt.Printf("Регион %s\n", r.Key())
	fmt.Printf("  Чанков: %d из %d\n", r.ChunkCount(), cache.RegionSize*cache.RegionSize)
	if latest := r.MostRecentlyModified(); latest != nil {
		fmt.Printf("  Последнее изменение: чанк (%d, %d) в %s\n", latest.X(), latest.Z(), latest.Timestamp().Format(timeFormat))
	}
	if len(counts) == 0 {
		return
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Println("  Особые блоки:")
	for _, id := range ids {
		fmt.Printf("    %-24s %d\n", id, counts[id])
	}
}

func printChunks(r *cache.Region) {
	fmt.Printf("%-12s %-26s %s\n", "ЧАНК", "ВРЕМЯ", "ОСОБЫЕ БЛОКИ")
	forEachChunk(r, func(c *cache.ClassifiedChunk) {
		fmt.Printf("%-12s %-26s %s\n",
			fmt.Sprintf("%d,%d", c.X(), c.Z()),
			c.Timestamp().Format(timeFormat),
			strings.Join(c.SpecialBlocks(), ","))
	})
}

func printLocations(id string, found []vec.Vec3) {
	fmt.Printf("%s: %d позиций\n", id, len(found))
	for _, p := range found {
		fmt.Printf("  %d %d %d\n", p.X, p.Y, p.Z)
	}
}
