// Command stockcheck prints the morning ops summary: the shopping list of
// raw ingredients at or below reorder point, and recent purchase price
// anomalies worth a phone call to the vendor.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"bakeledger/backend/internal/cache"
	"bakeledger/backend/internal/config"
	"bakeledger/backend/internal/domain"
	"bakeledger/backend/internal/notify"
	"bakeledger/backend/internal/service"
	"bakeledger/backend/internal/store"
	"bakeledger/backend/internal/store/memory"
	"bakeledger/backend/internal/store/postgres"
)

func main() {
	anomalyDays := flag.Int("anomaly-days", 7, "how many days of price anomalies to show")
	actorName := flag.String("actor", "stockcheck", "name recorded in the audit trail")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	cfg := config.Load()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ctx = service.WithActor(ctx, domain.Actor{Name: *actorName, Role: "system"})

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL, cfg.LockTimeout)
		if err != nil {
			log.WithError(err).Fatal("postgres connect failed")
		}
		defer pg.Close()
		repo = pg
	} else {
		log.Warn("DATABASE_URL not set, using seeded in-memory store")
		repo = memory.NewSeeded()
	}

	var (
		listCache cache.ShoppingListCache = cache.Noop{}
		publisher notify.Publisher
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable, continuing without cache")
		} else {
			listCache = cache.NewRedis(client)
			publisher = notify.NewRedisPublisher(client, cfg.EventChannel)
		}
	}

	svc := service.New(service.Options{
		Repo:            repo,
		Publisher:       publisher,
		ShoppingCache:   listCache,
		ShoppingListTTL: cfg.ShoppingListTTL,
		Log:             log,
	})

	list, err := svc.ShoppingList(ctx)
	if err != nil {
		log.WithError(err).Fatal("shopping list failed")
	}
	if len(list.Items) == 0 {
		fmt.Println("Nothing to buy, every ingredient is above its reorder point.")
	} else {
		fmt.Println(list.ShareText)
	}

	since := time.Now().UTC().AddDate(0, 0, -*anomalyDays)
	anomalies, err := svc.ListPurchases(ctx, "", true, since, 50)
	if err != nil {
		log.WithError(err).Fatal("anomaly listing failed")
	}
	if len(anomalies) == 0 {
		fmt.Printf("\nNo price anomalies in the last %d days.\n", *anomalyDays)
		return
	}

	fmt.Printf("\nPrice anomalies (last %d days):\n", *anomalyDays)
	for _, p := range anomalies {
		item, err := svc.GetStockItem(ctx, p.ItemID)
		name := p.ItemID
		if err == nil {
			name = item.Name
		}
		fmt.Printf("- %s: unit cost %s on %s (vendor %q)\n",
			name, domain.MoneyString(p.UnitCost), p.CreatedAt.Format("2006-01-02"), p.Vendor)
	}
}
