package common

const (
	EnvKeyGoEnv string = "GO_ENV"

	EnvKeyRunIntegrationTests string = "RUN_INTEGRATION_TESTS"

	EnvKeyEngineDBType string = "ENGINE_DB_TYPE"
	EnvKeyEngineDBPath string = "ENGINE_DB_PATH"

	EnvKeyEngineRosterPath string = "ENGINE_ROSTER_PATH"

	EnvKeyEngineHttpHostPort string = "ENGINE_HTTP_HOST_PORT"

	EnvKeyEngineKafkaBrokers string = "ENGINE_KAFKA_BROKERS"
	EnvKeyEngineKafkaTopic   string = "ENGINE_KAFKA_TOPIC"
	EnvKeyEngineKafkaGroupID string = "ENGINE_KAFKA_GROUP_ID"

	EnvKeyEngineDefaultRate  string = "ENGINE_DEFAULT_RATE"
	EnvKeyEngineDefaultBurst string = "ENGINE_DEFAULT_BURST"

	EnvKeyEngineCooldownMinutes    string = "ENGINE_COOLDOWN_MINUTES"
	EnvKeyEngineDispatchBatchSize  string = "ENGINE_DISPATCH_BATCH_SIZE"
	EnvKeyEngineMaxFutureSkewHours string = "ENGINE_MAX_FUTURE_SKEW_HOURS"

	LoggerNameEngineCore     string = "engine_core"
	LoggerNameRestfulServer  string = "restful_server"
	LoggerNameStreamConsumer string = "stream_consumer"

	LoggerFieldEngineCategory string = "category"

	LoggerCategoryThreshold string = "threshold"
	LoggerCategoryIngest    string = "ingest"
	LoggerCategoryEvaluate  string = "evaluate"
	LoggerCategoryAggregate string = "aggregate"
	LoggerCategoryResolve   string = "resolve"
	LoggerCategoryDispatch  string = "dispatch"
	LoggerCategoryAudit     string = "audit"
)
