package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"coastwatch.dev/alert-engine/pkg/common"
	"coastwatch.dev/alert-engine/pkg/db"
	"coastwatch.dev/alert-engine/pkg/engine"
	"coastwatch.dev/alert-engine/pkg/gateway"
	engineHttp "coastwatch.dev/alert-engine/pkg/http"
	"coastwatch.dev/alert-engine/pkg/stream"
)

func main() {
	var err error

	err = godotenv.Load()
	if err != nil {
		log.Fatal("Error loading .env file, copy .env.example to .env first if in development")
	}

	var dbInstance *db.DB
	engineDbType := os.Getenv(common.EnvKeyEngineDBType)
	switch engineDbType {
	case "file":
		dbInstance = db.GetInstance(db.UseSqliteDialector())
	case "memory":
		dbInstance = db.GetInstance(db.UseMemorySqliteDialector())
	default:
		log.Fatal("Unknown ENGINE_DB_TYPE: " + engineDbType)
	}

	httpHostPort := strings.TrimSpace(os.Getenv(common.EnvKeyEngineHttpHostPort))

	var defaultRate float64
	var defaultBurst int64

	if defaultRate, err = strconv.ParseFloat(os.Getenv(common.EnvKeyEngineDefaultRate), 64); err != nil {
		log.Fatal("Invalid ENGINE_DEFAULT_RATE, or not set in .env, should be a float64 value")
	}

	if defaultBurst, err = strconv.ParseInt(os.Getenv(common.EnvKeyEngineDefaultBurst), 10, 64); err != nil {
		log.Fatal("Invalid ENGINE_DEFAULT_BURST, or not set in .env, should be an int value")
	}

	logger := common.GetLogger()

	var roster engine.Roster
	if rosterPath := os.Getenv(common.EnvKeyEngineRosterPath); rosterPath != "" {
		if roster, err = gateway.LoadRoster(rosterPath); err != nil {
			log.Fatalf("Failed to load roster from %s: %v", rosterPath, err)
		}
		logger.Info("Loaded recipient roster from " + rosterPath)
	}

	engineCore := engine.Engine{
		Db:      *dbInstance,
		Roster:  roster,
		Senders: gateway.LogSenders(),
	}
	engineCore.Init(tunablesFromEnv())
	engineCore.WithServices(engine.ServiceOpts{
		Thresholds: engineCore.GetIThresholds(),
		Ingestor:   engineCore.GetIIngestor(),
		Evaluator:  engineCore.GetIEvaluator(),
		Aggregator: engineCore.GetIAggregator(),
		Resolver:   engineCore.GetIResolver(),
		Dispatcher: engineCore.GetIDispatcher(),
		Audit:      engineCore.GetIAudit(),
	})

	kafkaBrokers := strings.TrimSpace(os.Getenv(common.EnvKeyEngineKafkaBrokers))
	if kafkaBrokers != "" {
		topic := os.Getenv(common.EnvKeyEngineKafkaTopic)
		groupID := os.Getenv(common.EnvKeyEngineKafkaGroupID)
		if topic == "" {
			log.Fatal("ENGINE_KAFKA_TOPIC must be set when ENGINE_KAFKA_BROKERS is")
		}
		if groupID == "" {
			groupID = "alert-engine"
		}

		consumer := stream.NewConsumer(strings.Split(kafkaBrokers, ","), topic, groupID, &engineCore)
		logger.Info("Starting Kafka reading consumer",
			zap.String("brokers", kafkaBrokers), zap.String("topic", topic))
		go func() {
			if err := consumer.Run(context.Background()); err != nil {
				log.Fatalf("kafka consumer failed: %v", err)
			}
		}()
	}

	if httpHostPort == "" {
		// fallback to default http port
		httpHostPort = ":2080"
	}

	logger.Info("Starting HTTP server on port " + httpHostPort)
	rs := &engineHttp.RestfulServer{
		Server:           gin.Default(),
		Engine:           &engineCore,
		RateLimiterStore: engine.NewRateLimiterStore(rate.Limit(defaultRate), int(defaultBurst)),
	}
	rs.Setup()

	logger.Info("http server created with:",
		zap.String("default_limiter",
			fmt.Sprintf("{\"default_rate\": %v, \"default_burst\": %v}", defaultRate, defaultBurst)))

	if err := rs.Server.Run(httpHostPort); err != nil {
		log.Fatalf("http server failed to serve: %v", err)
	}
}

func tunablesFromEnv() engine.Tunables {
	t := engine.Tunables{}
	if minutes, err := strconv.Atoi(os.Getenv(common.EnvKeyEngineCooldownMinutes)); err == nil {
		t.Cooldown = time.Duration(minutes) * time.Minute
	}
	if size, err := strconv.Atoi(os.Getenv(common.EnvKeyEngineDispatchBatchSize)); err == nil {
		t.BatchSize = size
	}
	if hours, err := strconv.Atoi(os.Getenv(common.EnvKeyEngineMaxFutureSkewHours)); err == nil {
		t.MaxFutureSkew = time.Duration(hours) * time.Hour
	}
	return t
}
