// Package config loads the authcheck configuration.
//
// Values come from three layers, later ones winning: built-in defaults, an
// optional YAML file (AUTHCHECK_CONFIG_FILE) and environment variables.
//
// # Environment Variables
//
// Server:
//
//	AUTHCHECK_HEALTH_PORT="9090"
//	AUTHCHECK_SHUTDOWN_TIMEOUT="30s"
//
// Database (DATABASE_URL is honoured as a fallback):
//
//	AUTHCHECK_DATABASE_URL="postgres://localhost/authcheck?sslmode=disable"
//	AUTHCHECK_DATABASE_MAX_CONNS="20"
//	AUTHCHECK_DATABASE_AUTO_MIGRATE="true"
//
// Task queue:
//
//	AUTHCHECK_QUEUE_BACKEND="memory"  # memory, redis
//	AUTHCHECK_QUEUE_WORKERS="8"
//	AUTHCHECK_QUEUE_TASK_TIMEOUT="2m"
//	AUTHCHECK_REDIS_URL="redis://localhost:6379/0"
//	AUTHCHECK_REDIS_KEY="authcheck:tasks"
//
// Verification:
//
//	AUTHCHECK_CHECK_INTERVAL="1h"
//	AUTHCHECK_RUN_ONCE="false"
//	AUTHCHECK_HTTP_TIMEOUT="30s"
//
// Observability:
//
//	AUTHCHECK_LOG_LEVEL="info"  # debug, info, warn, error
//	AUTHCHECK_METRICS_ENABLED="true"
//	AUTHCHECK_OTEL_ENABLED="false"
//	AUTHCHECK_OTEL_ENDPOINT="localhost:4317"
//
// # YAML File
//
// Keys mirror the struct tags of Config:
//
//	database:
//	  url: postgres://db/authcheck
//	queue:
//	  backend: redis
//	  redis_url: redis://cache:6379/0
//	check:
//	  interval: 1h
package config
