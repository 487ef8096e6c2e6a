package app

import (
	"log/slog"

	"github.com/arcsolve/relay/internal/dal/rabbitmq"
	"github.com/arcsolve/relay/internal/dal/redisdb"
	"github.com/arcsolve/relay/internal/pubsub"
	"github.com/spf13/viper"
)

// mustNewBroker builds the shared pub/sub channel from config. Redis is the
// default driver; AMQP routes through a topic exchange instead.
func mustNewBroker() (pubsub.Broker, func() error) {
	driver := viper.GetString("pubsub.driver")
	if driver == "" {
		driver = "redis"
	}

	switch driver {
	case "redis":
		client := redisdb.MustNewClient()
		return pubsub.NewRedisBroker(client.Redis()), client.Close
	case "amqp":
		client := rabbitmq.MustNewClient()
		exchange := viper.GetString("pubsub.amqp.exchange")
		if exchange == "" {
			exchange = "relay.events"
		}
		broker, err := pubsub.NewAMQPBroker(client.Connection(), exchange)
		if err != nil {
			slog.Error("Failed to create AMQP broker", "error", err)
			panic(err)
		}
		return broker, client.Close
	default:
		slog.Error("Unknown pubsub driver", "driver", driver)
		panic("unknown pubsub driver: " + driver)
	}
}
