package app

import (
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/memory"
)

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("test", "app")
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.OutboxPollInterval = 10 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// seedCatalog кладёт в каталог одну рубашку с остатком 5.
func seedCatalog(t *testing.T, store *memory.Store) {
	t.Helper()
	for _, id := range []string{"men", "shirts", "casual"} {
		store.PutCategory(domain.Category{ID: id, Name: id, Listed: true})
	}
	store.PutProduct(domain.Product{ID: "p-1", Name: "Linen Shirt", CategoryID: "men", SubCategoryID: "shirts", ThirdCategoryID: "casual"})
	store.PutVariant(domain.Variant{ID: "v-1", ProductID: "p-1", Size: "M", Price: decimal.NewFromInt(500), OldPrice: decimal.NewFromInt(600), Stock: 5})
}
