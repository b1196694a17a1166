package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

const (
	// ProjectionLocal applies events to the read model from the in-process bus.
	ProjectionLocal = "local"
	// ProjectionBroker applies events consumed back from the broker topic.
	ProjectionBroker = "broker"
)

type Config struct {
	ServiceName  string `envconfig:"SERVICE_NAME" default:"order-fulfillment"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr     string `envconfig:"HTTP_ADDR" default:":8080"`
	GRPCAddr     string `envconfig:"GRPC_ADDR" default:":50051"`
	OTelEndpoint string `envconfig:"OTEL_ENDPOINT"`

	MySQLDSN  string `envconfig:"MYSQL_DSN" default:"root:root@tcp(localhost:3306)/fulfillment"`
	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	KafkaBrokers           []string      `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	OrderEventsTopic       string        `envconfig:"ORDER_EVENTS_TOPIC" default:"order-events"`
	KafkaGroupID           string        `envconfig:"KAFKA_GROUP_ID" default:"order-projection"`
	TransactionalID        string        `envconfig:"PRODUCER_TRANSACTIONAL_ID" default:"order-fulfillment"`
	ProducerMaxRetries     int           `envconfig:"PRODUCER_MAX_RETRIES" default:"3"`
	ProducerInitialBackoff time.Duration `envconfig:"PRODUCER_INITIAL_BACKOFF" default:"100ms"`
	PartitionWorkers       int           `envconfig:"CONSUMER_PARTITION_WORKERS" default:"1"`
	InboxTTL               time.Duration `envconfig:"INBOX_TTL" default:"168h"`

	ProjectionMode           string        `envconfig:"PROJECTION_MODE" default:"local"`
	EventBusWorkers          int           `envconfig:"EVENT_BUS_WORKERS" default:"0"`
	EventHandlerRetries      int           `envconfig:"EVENT_HANDLER_RETRIES" default:"2"`
	EventHandlerRetryBackoff time.Duration `envconfig:"EVENT_HANDLER_RETRY_BACKOFF" default:"50ms"`
	CommandConflictRetries   int           `envconfig:"COMMAND_CONFLICT_RETRIES" default:"3"`

	ShippingBaseFee           int64           `envconfig:"SHIPPING_BASE_FEE" default:"500"`
	ShippingPerKgFee          int64           `envconfig:"SHIPPING_PER_KG_FEE" default:"200"`
	ShippingVolumetricDivisor decimal.Decimal `envconfig:"SHIPPING_VOLUMETRIC_DIVISOR" default:"5000"`
	ShippingExpressPercent    int64           `envconfig:"SHIPPING_EXPRESS_PERCENT" default:"50"`
	ShippingFragileFee        int64           `envconfig:"SHIPPING_FRAGILE_FEE" default:"300"`
	ShippingInsurancePercent  int64           `envconfig:"SHIPPING_INSURANCE_PERCENT" default:"1"`
	ParcelMaxWeightKG         decimal.Decimal `envconfig:"PARCEL_MAX_WEIGHT_KG" default:"30"`
}

// Load reads optional dotenv files (".env" when none are given), then the
// process environment, and validates the result. Variables already set in
// the environment win over dotenv values.
func Load(log *logrus.Logger, files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load dotenv: %w", err)
		}
	} else {
		log.Info("loaded configuration from dotenv")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"projection_mode": cfg.ProjectionMode,
		"topic":           cfg.OrderEventsTopic,
		"http_addr":       cfg.HTTPAddr,
		"grpc_addr":       cfg.GRPCAddr,
		"bus_workers":     cfg.EventBusWorkers,
	}).Info("configuration loaded")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.ProjectionMode {
	case ProjectionLocal, ProjectionBroker:
	default:
		errs = append(errs, fmt.Errorf("PROJECTION_MODE must be %q or %q, got %q", ProjectionLocal, ProjectionBroker, c.ProjectionMode))
	}
	if c.ProducerMaxRetries < 1 {
		errs = append(errs, errors.New("PRODUCER_MAX_RETRIES must be at least 1"))
	}
	if c.ProducerInitialBackoff < 0 {
		errs = append(errs, errors.New("PRODUCER_INITIAL_BACKOFF must not be negative"))
	}
	if c.EventHandlerRetries < 0 {
		errs = append(errs, errors.New("EVENT_HANDLER_RETRIES must not be negative"))
	}
	if c.EventHandlerRetryBackoff < 0 {
		errs = append(errs, errors.New("EVENT_HANDLER_RETRY_BACKOFF must not be negative"))
	}
	if c.CommandConflictRetries < 0 {
		errs = append(errs, errors.New("COMMAND_CONFLICT_RETRIES must not be negative"))
	}
	if c.EventBusWorkers < 0 || c.PartitionWorkers < 0 {
		errs = append(errs, errors.New("worker counts must not be negative"))
	}
	if len(c.KafkaBrokers) == 0 || c.OrderEventsTopic == "" {
		errs = append(errs, errors.New("KAFKA_BROKERS and ORDER_EVENTS_TOPIC are required"))
	}
	if c.ParcelMaxWeightKG.IsNegative() {
		errs = append(errs, errors.New("PARCEL_MAX_WEIGHT_KG must not be negative"))
	}
	if err := c.ShippingPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) ShippingPolicy() domain.ShippingPolicy {
	return domain.ShippingPolicy{
		BaseFee:           c.ShippingBaseFee,
		PerKgFee:          c.ShippingPerKgFee,
		VolumetricDivisor: c.ShippingVolumetricDivisor,
		ExpressPercent:    c.ShippingExpressPercent,
		FragileFee:        c.ShippingFragileFee,
		InsurancePercent:  c.ShippingInsurancePercent,
	}
}

func (c *Config) ParcelPolicy() domain.ParcelPolicy {
	return domain.ParcelPolicy{MaxWeight: c.ParcelMaxWeightKG}
}
