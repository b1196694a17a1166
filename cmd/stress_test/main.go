package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-fulfillment/internal/adapter/messaging"
	"github.com/rl1809/order-fulfillment/internal/adapter/storage"
	"github.com/rl1809/order-fulfillment/internal/app"
	"github.com/rl1809/order-fulfillment/internal/config"
	"github.com/rl1809/order-fulfillment/internal/core/bus"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/core/service"
	"github.com/rl1809/order-fulfillment/internal/logging"
)

const (
	totalShippers = 50
	totalOrders   = 200
)

// discardWriter lets the stress run without a broker.
type discardWriter struct{}

func (discardWriter) WriteMessages(context.Context, ...kafka.Message) error { return nil }
func (discardWriter) Close() error { return nil }

func main() {
	ctx := context.Background()
	log := logging.New("warn")

	cfg, err := config.Load(log)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.ProjectionMode = config.ProjectionLocal

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(50)
	commands := storage.NewMySQLAdapter(db, log)
	if err := commands.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	application, err := app.New(cfg, app.Dependencies{
		Orders:      commands,
		Shipping:    commands,
		Repayments:  commands,
		Projections: storage.NewRedisProjectionStore(rdb, log),
		Writers:     func(string) messaging.Writer { return discardWriter{} },
		Log:         log,
	})
	if err != nil {
		log.Fatalf("failed to build application: %v", err)
	}
	defer application.Close()

	created := createOrders(ctx, application.Commands)
	if len(created) == 0 {
		log.Fatal("no orders created, nothing to race on")
	}
	shipRace(ctx, application, created[0])
}

// createOrders places totalOrders orders concurrently and reports throughput.
func createOrders(ctx context.Context, commands *bus.CommandBus) []domain.Order {
	var (
		mu     sync.Mutex
		orders []domain.Order
		failed atomic.Int32
		wg     sync.WaitGroup
	)
	start := time.Now()
	for i := 0; i < totalOrders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := commands.Dispatch(ctx, service.CreateOrderCommand{
				CustomerID:  fmt.Sprintf("stress-customer-%d", n%10),
				TotalAmount: domain.NewMoney("USD", 10000),
				Items: []service.ItemInput{{
					ProductID: "stress-product",
					Quantity:  1,
					UnitPrice: domain.NewMoney("USD", 10000),
					Weight:    decimal.NewFromInt(2),
				}},
			})
			if err != nil {
				failed.Add(1)
				return
			}
			mu.Lock()
			orders = append(orders, res.(domain.Order))
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== CREATE ORDERS ==========")
	fmt.Printf("Requested:        %d\n", totalOrders)
	fmt.Printf("Created:          %d\n", len(orders))
	fmt.Printf("Failed:           %d\n", failed.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("===================================")
	return orders
}

// shipRace ships one order from many goroutines. Exactly one must win; the
// rest lose the optimistic lock or find the order already shipped.
func shipRace(ctx context.Context, application *app.App, order domain.Order) {
	var success, conflict, invalid, other atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < totalShippers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := application.Commands.Dispatch(ctx, service.ShipOrderCommand{
				OrderID:        order.ID,
				TrackingNumber: fmt.Sprintf("TRK-STRESS-%d", n),
				DeliveryDate:   time.Now().Add(48 * time.Hour),
			})
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, domain.ErrConflict):
				conflict.Add(1)
			case errors.Is(err, domain.ErrInvalidState):
				invalid.Add(1)
			default:
				other.Add(1)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== SHIP RACE RESULTS ==========")
	fmt.Printf("Order:            %s\n", order.ID)
	fmt.Printf("Total Requests:   %d\n", totalShippers)
	fmt.Printf("Successful:       %d\n", success.Load())
	fmt.Printf("Conflicts:        %d\n", conflict.Load())
	fmt.Printf("Already shipped:  %d\n", invalid.Load())
	fmt.Printf("Other errors:     %d\n", other.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("=======================================")

	if success.Load() == 1 && other.Load() == 0 {
		fmt.Println("PASS: exactly one shipper won")
	} else {
		fmt.Printf("FAIL: expected 1 success and no unexpected errors, got %d/%d\n", success.Load(), other.Load())
	}

	p, err := bus.AskAs[domain.OrderProjection](ctx, application.Queries, service.FindOrderByIDQuery{ID: order.ID})
	if err != nil {
		fmt.Printf("FAIL: projection lookup: %v\n", err)
		return
	}
	if p.Status == domain.OrderStatusShipped && p.Version == 2 {
		fmt.Printf("PASS: projection shipped with tracking %s\n", p.TrackingNumber)
	} else {
		fmt.Printf("FAIL: projection status %s version %d\n", p.Status, p.Version)
	}
}
