// paddock-replay is the operator tool for re-publishing stuck request
// rows: a single request by id, one service's non-complete backlog, or
// the backlog of every service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/hoofworks/paddock/go/bus"
	"github.com/hoofworks/paddock/go/bus/rabbit"
	"github.com/hoofworks/paddock/go/bus/sbus"
	"github.com/hoofworks/paddock/go/model"
	"github.com/hoofworks/paddock/go/replay"
	"github.com/hoofworks/paddock/go/store/postgres"
)

var config = new(struct {
	Routing     bus.RoutingConfig     `group:"Routing" namespace:"routing" env-namespace:"ROUTING"`
	Connections bus.ConnectionStrings `group:"ConnectionStrings" namespace:"connection" env-namespace:"CONNECTION"`

	Broker struct {
		Exchange string `long:"exchange" env:"EXCHANGE" default:"paddock" description:"RabbitMQ exchange / Service Bus default destination"`
	} `group:"Broker" namespace:"broker" env-namespace:"BROKER"`

	Database struct {
		URL string `long:"url" env:"URL" required:"true" description:"PostgreSQL connection string"`
	} `group:"Database" namespace:"database" env-namespace:"DATABASE"`

	Service        string        `long:"service" description:"Service to replay (Breeding, Feeding, Training, Racing, or all)" default:"all"`
	RequestID      string        `long:"request" description:"Replay a single request id (requires --service)"`
	MaxParallel    int           `long:"max-parallel" default:"10" description:"Concurrent publishes during bulk replay"`
	StuckThreshold time.Duration `long:"stuck-threshold" description:"Also replay InProgress rows idle longer than this (0 disables)"`
})

var green = color.New(color.FgGreen).SprintFunc()
var yellow = color.New(color.FgYellow).SprintFunc()

func main() {
	var parser = flags.NewParser(config, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
	if err := run(); err != nil {
		log.WithField("error", err).Fatal("replay failed")
	}
}

func run() error {
	var ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var provider, err = bus.SelectProvider(config.Routing, config.Connections)
	if err != nil {
		return err
	}
	st, err := postgres.New(ctx, config.Database.URL)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer st.Close()

	var broker bus.Broker
	if provider == bus.ProviderServiceBus {
		broker = sbus.New(sbus.Config{
			ConnectionString: config.Connections.ServiceBus,
			Destination:      config.Broker.Exchange,
		})
	} else {
		broker = rabbit.New(rabbit.Config{
			URI:      config.Connections.Messaging,
			Exchange: config.Broker.Exchange,
		})
	}
	if err = broker.Connect(ctx); err != nil {
		return fmt.Errorf("connecting broker: %w", err)
	}
	defer broker.Disconnect(context.Background())

	var publisher = bus.NewRoutingPublisher(broker, config.Routing)
	var aggregate = replay.NewAggregate(
		&replay.Replayer{Source: replay.BreedingSource{Requests: st.BreedingRequests()}, Publisher: publisher, StuckThreshold: config.StuckThreshold},
		&replay.Replayer{Source: replay.FeedingSource{Requests: st.FeedingRequests()}, Publisher: publisher, StuckThreshold: config.StuckThreshold},
		&replay.Replayer{Source: replay.TrainingSource{Requests: st.TrainingRequests()}, Publisher: publisher, StuckThreshold: config.StuckThreshold},
		&replay.Replayer{Source: replay.RacingSource{Requests: st.RaceRequests()}, Publisher: publisher, StuckThreshold: config.StuckThreshold},
	)

	if config.RequestID != "" {
		return replayOne(ctx, aggregate)
	}
	return replayBulk(ctx, aggregate)
}

func replayOne(ctx context.Context, aggregate *replay.Aggregate) error {
	var service, err = parseService(config.Service)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(config.RequestID)
	if err != nil {
		return fmt.Errorf("parsing --request: %w", err)
	}

	replayed, err := aggregate.ReplayOne(ctx, service, id)
	if err != nil {
		return err
	}
	if !replayed {
		fmt.Printf("request %s %s\n", id, yellow("not found"))
		return nil
	}
	fmt.Printf("%s request %s\n", green("replayed"), id)
	return nil
}

func replayBulk(ctx context.Context, aggregate *replay.Aggregate) error {
	var services []model.ServiceType
	if strings.EqualFold(config.Service, "all") {
		services = []model.ServiceType{
			model.ServiceBreeding, model.ServiceFeeding,
			model.ServiceTraining, model.ServiceRacing,
		}
	} else {
		var service, err = parseService(config.Service)
		if err != nil {
			return err
		}
		services = []model.ServiceType{service}
	}

	for _, service := range services {
		var count, err = aggregate.ReplayAll(ctx, service, config.MaxParallel)
		if err != nil {
			return fmt.Errorf("replaying %s: %w", service, err)
		}
		fmt.Printf("%s: %s %d requests\n", service, green("replayed"), count)
	}
	return nil
}

func parseService(s string) (model.ServiceType, error) {
	for _, service := range []model.ServiceType{
		model.ServiceBreeding, model.ServiceFeeding,
		model.ServiceTraining, model.ServiceRacing,
	} {
		if strings.EqualFold(s, string(service)) {
			return service, nil
		}
	}
	return "", fmt.Errorf("unknown service %q (expected Breeding, Feeding, Training, or Racing)", s)
}
