// paddock-worker runs the four domain consumers (breeding, feeding,
// training, racing) against the configured broker and database.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hoofworks/paddock/go/breeding"
	"github.com/hoofworks/paddock/go/bus"
	"github.com/hoofworks/paddock/go/bus/rabbit"
	"github.com/hoofworks/paddock/go/bus/sbus"
	"github.com/hoofworks/paddock/go/consumer"
	"github.com/hoofworks/paddock/go/feeding"
	"github.com/hoofworks/paddock/go/gamerand"
	"github.com/hoofworks/paddock/go/messages"
	"github.com/hoofworks/paddock/go/namegen"
	"github.com/hoofworks/paddock/go/racing"
	"github.com/hoofworks/paddock/go/store/postgres"
	"github.com/hoofworks/paddock/go/training"
)

var config = new(struct {
	Routing     bus.RoutingConfig     `group:"Routing" namespace:"routing" env-namespace:"ROUTING"`
	Connections bus.ConnectionStrings `group:"ConnectionStrings" namespace:"connection" env-namespace:"CONNECTION"`

	Broker struct {
		Exchange string `long:"exchange" env:"EXCHANGE" default:"paddock" description:"RabbitMQ exchange / Service Bus default destination"`
		Topic    string `long:"topic" env:"TOPIC" description:"Service Bus topic the consumer queues subscribe to"`
	} `group:"Broker" namespace:"broker" env-namespace:"BROKER"`

	Queues struct {
		Breeding string `long:"breeding" env:"BREEDING" default:"breeding-requests" description:"Breeding consumer queue"`
		Feeding  string `long:"feeding" env:"FEEDING" default:"feeding-requests" description:"Feeding consumer queue"`
		Training string `long:"training" env:"TRAINING" default:"training-requests" description:"Training consumer queue"`
		Racing   string `long:"racing" env:"RACING" default:"race-requests" description:"Racing consumer queue"`
	} `group:"Queues" namespace:"queue" env-namespace:"QUEUE"`

	Consumer bus.ConsumerConfig `group:"Consumer" namespace:"consumer" env-namespace:"CONSUMER"`

	Database struct {
		URL     string `long:"url" env:"URL" required:"true" description:"PostgreSQL connection string"`
		Migrate bool   `long:"migrate" env:"MIGRATE" description:"Apply schema migrations on startup"`
	} `group:"Database" namespace:"database" env-namespace:"DATABASE"`

	Metrics struct {
		Port uint16 `long:"port" env:"PORT" default:"8080" description:"Port of the /metrics endpoint"`
	} `group:"Metrics" namespace:"metrics" env-namespace:"METRICS"`

	Log struct {
		Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" description:"Logging level"`
		Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" description:"Logging output format"`
	} `group:"Logging" namespace:"log" env-namespace:"LOG"`

	Seed int64 `long:"seed" env:"SEED" description:"Random seed (0 uses the clock)"`
})

const shutdownTimeout = 30 * time.Second

func main() {
	var parser = flags.NewParser(config, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
	initLogging()

	if err := run(); err != nil {
		log.WithField("error", err).Fatal("worker failed")
	}
}

func initLogging() {
	if config.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if lvl, err := log.ParseLevel(config.Log.Level); err == nil {
		log.SetLevel(lvl)
	}
}

func run() error {
	var ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var provider, err = bus.SelectProvider(config.Routing, config.Connections)
	if err != nil {
		return err
	}
	log.WithField("provider", provider).Info("selected message bus provider")

	st, err := postgres.New(ctx, config.Database.URL)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer st.Close()
	if config.Database.Migrate {
		if err = st.Migrate(ctx); err != nil {
			return err
		}
	}

	// One connection for publishing, one per consumer queue.
	var pubBroker = newBroker(provider, "")
	if err = pubBroker.Connect(ctx); err != nil {
		return fmt.Errorf("connecting publisher: %w", err)
	}
	var publisher = bus.NewRoutingPublisher(pubBroker, config.Routing)

	var seed = config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	var rng = gamerand.New(seed)

	var consumers = []interface {
		Start(ctx context.Context) error
		Stop(ctx context.Context)
	}{
		consumer.New(config.Queues.Breeding, newBroker(provider, config.Queues.Breeding),
			consumer.Singleton[messages.BreedingRequested](
				breeding.NewProcessor(st, publisher, namegen.New(rng), rng))),
		consumer.New(config.Queues.Feeding, newBroker(provider, config.Queues.Feeding),
			consumer.Singleton[messages.FeedingRequested](
				feeding.NewProcessor(st, publisher, rng))),
		consumer.New(config.Queues.Training, newBroker(provider, config.Queues.Training),
			consumer.Singleton[messages.TrainingRequested](
				training.NewProcessor(st, publisher, rng))),
		consumer.New(config.Queues.Racing, newBroker(provider, config.Queues.Racing),
			consumer.Singleton[messages.RaceRequested](
				racing.NewProcessor(st, publisher, rng))),
	}
	for _, c := range consumers {
		if err = c.Start(ctx); err != nil {
			return fmt.Errorf("starting consumer: %w", err)
		}
	}
	log.WithField("queues", []string{
		config.Queues.Breeding, config.Queues.Feeding,
		config.Queues.Training, config.Queues.Racing,
	}).Info("consumers running")

	var metricsSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Metrics.Port),
		Handler: promhttp.Handler(),
	}
	var group, groupCtx = errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()

		var drainCtx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, c := range consumers {
			c.Stop(drainCtx)
		}
		if err := pubBroker.Disconnect(drainCtx); err != nil {
			log.WithField("error", err).Warn("publisher disconnect failed")
		}
		return metricsSrv.Shutdown(drainCtx)
	})

	var waitErr = group.Wait()
	log.Info("worker stopped")
	return waitErr
}

// newBroker builds a broker for the selected provider. An empty |queue|
// yields a publish-only connection.
func newBroker(provider bus.Provider, queue string) bus.Broker {
	var consumerCfg = config.Consumer
	consumerCfg.Queue = queue

	if provider == bus.ProviderServiceBus {
		return sbus.New(sbus.Config{
			ConnectionString: config.Connections.ServiceBus,
			Destination:      config.Broker.Exchange,
			Topic:            config.Broker.Topic,
			Consumer:         consumerCfg,
		})
	}
	return rabbit.New(rabbit.Config{
		URI:      config.Connections.Messaging,
		Exchange: config.Broker.Exchange,
		Consumer: consumerCfg,
	})
}
