package main

import (
	"context"
	"flag"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/airbusgeo/geocube-m2m/service/log"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func main() {
	ctx := context.Background()

	projectID := flag.String("project", "geocube-emulator", "emulator project")
	host := flag.String("host", "localhost:8085", "emulator host")
	eventsTopic := flag.String("event-topic", "m2m-events", "topic of the results of the downloader")
	eventsSubscription := flag.String("event-subscription", "m2m-events", "subscription to the topic")
	flag.Parse()

	os.Setenv("PUBSUB_EMULATOR_HOST", *host)

	log.Logger(ctx).Info("New client", zap.String("project", *projectID))
	client, err := pubsub.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatal("pubsub.NewClient", zap.Error(err))
	}
	defer client.Close()

	log.Logger(ctx).Info("Create Topic", zap.String("topic", *eventsTopic))
	if _, err = client.CreateTopic(ctx, *eventsTopic); err != nil && status.Code(err) != codes.AlreadyExists {
		log.Fatal("pubsub.CreateTopic", zap.Error(err))
	}

	log.Logger(ctx).Info("Create Subscription", zap.String("subscription", *eventsSubscription))
	if _, err = client.CreateSubscription(ctx, *eventsSubscription, pubsub.SubscriptionConfig{
		Topic:       client.Topic(*eventsTopic),
		AckDeadline: 10 * time.Second,
	}); err != nil && status.Code(err) != codes.AlreadyExists {
		log.Fatal("pubsub.CreateSubscription", zap.Error(err))
	}

	log.Logger(ctx).Info("Done!")
}
