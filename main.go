package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ameyrk/momentum/cli"
	"github.com/ameyrk/momentum/notifications/email"
	"github.com/ameyrk/momentum/queue"
	"github.com/ameyrk/momentum/scheduler"
	"github.com/ameyrk/momentum/server"
	"github.com/ameyrk/momentum/server/auth"
	cache "github.com/ameyrk/momentum/storage/cache"
	storage "github.com/ameyrk/momentum/storage/persistent"
	"github.com/ameyrk/momentum/streak"
	"github.com/joho/godotenv"
)

func main() {
	// Load the .env file
	if err := godotenv.Load(); err != nil {
		fmt.Println("Error loading .env file")
	}

	// Read the environment variables
	signingKey := os.Getenv("JWT_SIGNING_KEY")
	serverURL := os.Getenv("SERVER_URL")
	authToken := os.Getenv("AUTH_TOKEN")
	authTokenRefresh := os.Getenv("AUTH_TOKEN_REFRESH")

	// Set default values if the environment variables are empty
	if signingKey == "" {
		signingKey = "momentum_dev_signing_key"
	}
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	if authToken == "" {
		authToken = "momentum_auth_token"
	}
	if authTokenRefresh == "" {
		authTokenRefresh = "momentum_auth_token_refresh"
	}

	if os.Getenv("MOMENTUM_MODE") == "cli" {
		cli.RunShell(serverURL, signingKey, authToken, authTokenRefresh)
		return
	}

	runServer(serverURL, signingKey)
}

// runServer wires the storage, cache, queue, streak and scheduler services
// together and runs the REST server until interrupted. Every long-lived
// service is constructed exactly once here and handed to its consumers.
func runServer(serverURL, signingKey string) {
	dbURI := os.Getenv("MONGODB_URI")
	dbName := os.Getenv("DB_NAME")
	smtpEmail := os.Getenv("GOOGLE_EMAIL")
	smtpPassword := os.Getenv("GOOGLE_PASS")
	redisURL := os.Getenv("REDIS_URL")
	rabbitMQURL := os.Getenv("RABBITMQ_URL")
	referenceTZ := os.Getenv("REFERENCE_TIMEZONE")
	numProducers := 1
	numConsumers := 2
	ctx := context.Background()

	if dbName == "" {
		dbName = "momentum"
	}

	// All calendar-day truncation in the system happens in one reference
	// timezone, configured once at startup.
	if referenceTZ != "" {
		loc, err := time.LoadLocation(referenceTZ)
		if err != nil {
			log.Fatalf("invalid REFERENCE_TIMEZONE %q: %v", referenceTZ, err)
		}
		streak.SetLocation(loc)
	}

	store, err := storage.NewStorage(dbName, dbURI)
	if err != nil {
		log.Fatal("error connecting to storage: ", err)
	}
	defer store.Disconnect()

	auth.InitAuth(store, signingKey)

	// The stats cache and the notification queue are optional: without a
	// Redis or RabbitMQ URL the engine runs with those concerns disabled.
	var statsCache cache.CacheInterface
	if redisURL != "" {
		statsCache, err = cache.NewCache(redisURL)
		if err != nil {
			log.Fatal("error connecting to cache: ", err)
		}
		defer statsCache.Disconnect()
	}

	var notifyQueue *queue.Queue
	if rabbitMQURL != "" {
		if redisURL == "" {
			log.Fatal("RABBITMQ_URL is set but REDIS_URL is not; the notification queue needs the cache to deduplicate deliveries")
		}
		if _, err := email.InitEmailService(smtpEmail, smtpPassword); err != nil {
			log.Fatal("error initializing email service: ", err)
		}
		dedupeCache := queue.InitNotificationCache(redisURL)
		notifyQueue = queue.BuildNotificationQueue(rabbitMQURL, numProducers, numConsumers, dedupeCache)
		if _, err := notifyQueue.StartConsumers(ctx); err != nil {
			log.Fatal("error starting queue consumers: ", err)
		}
	}

	streaks := streak.NewStreakService(store, statsCache, notifyQueue)

	sched := scheduler.NewScheduler(streaks, store, scheduler.DefaultConfig())
	if err := sched.Start(); err != nil {
		log.Fatal("error starting scheduler: ", err)
	}
	defer sched.Stop()

	go server.Start(serverURL, server.Dependencies{
		Store:     store,
		Streaks:   streaks,
		Scheduler: sched,
	})

	// Setting up the signal interrupt handler to gracefully shutdown our server
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigs
	fmt.Println()
	fmt.Println(sig)
}
