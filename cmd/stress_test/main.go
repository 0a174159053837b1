package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/pos-register/internal/adapter/api"
	"github.com/rl1809/pos-register/internal/adapter/storage"
	"github.com/rl1809/pos-register/internal/core/service"
)

const (
	terminalID     = "stress-till"
	productID      = 1
	initialStock   = 100
	rounds         = 20
	submitsPerTill = 25
	backendDelay   = 50 * time.Millisecond
)

// backend is a stand-in for the remote POS API that counts the orders it receives.
type backend struct {
	mu       sync.Mutex
	stock    int
	orders   atomic.Int32
	inFlight atomic.Int32
	maxLive  atomic.Int32
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/product/":
		b.mu.Lock()
		stock := b.stock
		b.mu.Unlock()
		_ = json.NewEncoder(w).Encode([]map[string]any{{
			"product_id": productID, "product_name": "Stress Item", "product_price": "1.00",
			"product_stock": stock, "category_name": "test",
		}})
	case "/api/make-order/":
		b.orders.Add(1)
		live := b.inFlight.Add(1)
		for {
			seen := b.maxLive.Load()
			if live <= seen || b.maxLive.CompareAndSwap(seen, live) {
				break
			}
		}
		time.Sleep(backendDelay)
		b.inFlight.Add(-1)
		b.mu.Lock()
		b.stock--
		stock := b.stock
		b.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"order_id":         fmt.Sprint(b.orders.Load()),
			"updated_products": []map[string]any{{"product": productID, "product_stock": stock, "price": "1.00", "qty": 1}},
		})
	default:
		http.NotFound(w, r)
	}
}

type till struct {
	catalog *service.CatalogService
	cart    *service.CartService
	orders  *service.OrderService
}

func newTill(ctx context.Context, baseURL string, lock *storage.RedisAdapter, logger *zap.Logger) *till {
	client := api.NewClient(api.Config{BaseURL: baseURL, Timeout: 5 * time.Second}, logger)
	catalog := service.NewCatalogService(client, logger)
	if _, err := catalog.Refresh(ctx); err != nil {
		log.Fatalf("failed to load catalog: %v", err)
	}
	cart := service.NewCartService(catalog, nil, logger)

	var opts []service.OrderOption
	if lock != nil {
		opts = append(opts, service.WithSubmitLock(lock))
	}
	orders := service.NewOrderService(client, cart, catalog, nil, service.OrderConfig{
		TerminalID:    terminalID,
		SubmitTimeout: 5 * time.Second,
	}, logger, opts...)
	return &till{catalog: catalog, cart: cart, orders: orders}
}

func main() {
	ctx := context.Background()
	logger := zap.NewNop()

	b := &backend{stock: initialStock}
	srv := httptest.NewServer(b)
	defer srv.Close()

	// With REDIS_ADDR set, two tills share the terminal id and the Redis submit lock.
	tills := 1
	var lock *storage.RedisAdapter
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer rdb.Close()
		lock = storage.NewRedisAdapter(rdb, storage.DefaultCartTTL)
		tills = 2
	}

	registers := make([]*till, tills)
	for i := range registers {
		registers[i] = newTill(ctx, srv.URL, lock, logger)
	}

	var successCount atomic.Int32
	var rejectedCount atomic.Int32
	var failCount atomic.Int32
	start := time.Now()

	for round := 0; round < rounds; round++ {
		for _, t := range registers {
			if err := t.cart.AddItem(ctx, productID); err != nil {
				log.Fatalf("round %d: add item: %v", round, err)
			}
		}

		var wg sync.WaitGroup
		for _, t := range registers {
			for i := 0; i < submitsPerTill; i++ {
				wg.Add(1)
				go func(t *till) {
					defer wg.Done()
					_, err := t.orders.Submit(ctx)
					switch {
					case err == nil:
						successCount.Add(1)
					case isRejectedLocally(err):
						rejectedCount.Add(1)
					default:
						failCount.Add(1)
					}
				}(t)
			}
		}
		wg.Wait()

		for _, t := range registers {
			_ = t.cart.Clear(ctx)
		}
	}
	elapsed := time.Since(start)

	success := successCount.Load()
	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Tills:            %d\n", tills)
	fmt.Printf("Rounds:           %d\n", rounds)
	fmt.Printf("Submits:          %d\n", rounds*tills*submitsPerTill)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Rejected:         %d\n", rejectedCount.Load())
	fmt.Printf("Failed:           %d\n", failCount.Load())
	fmt.Printf("Orders received:  %d\n", b.orders.Load())
	fmt.Printf("Max in flight:    %d\n", b.maxLive.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if b.maxLive.Load() == 1 && b.orders.Load() == success && success >= rounds {
		fmt.Println("PASS: never more than one order in flight for the terminal")
	} else {
		fmt.Printf("FAIL: max in flight %d, %d successes, %d received\n", b.maxLive.Load(), success, b.orders.Load())
	}

	b.mu.Lock()
	finalStock := b.stock
	b.mu.Unlock()
	fmt.Printf("Final backend stock: %d\n", finalStock)
	if finalStock == initialStock-int(success) {
		fmt.Println("PASS: stock matches the accepted orders")
	} else {
		fmt.Printf("FAIL: expected stock %d, got %d\n", initialStock-int(success), finalStock)
	}
}

func isRejectedLocally(err error) bool {
	return errors.Is(err, service.ErrSubmitInProgress) || errors.Is(err, service.ErrEmptyCart)
}
