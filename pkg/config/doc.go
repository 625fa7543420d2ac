// Package config provides configuration management for strata.
//
// A single Config structure covers every tunable:
//
//   - Index: build parallelism
//   - Planner: when a column scan is preferred over a collection scan
//   - Storage: snapshot compression
//   - Observability: logging, metrics, tracing
//
// # Usage
//
//	cfg, err := config.LoadFile("strata.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Environment Variable Substitution
//
// YAML files may reference environment variables with ${VAR_NAME}:
//
//	storage:
//	  snapshot_path: ${STRATA_HOME}/orders.idx
//
// The CLI additionally layers viper on top, so every key can be overridden
// with a STRATA_ prefixed variable (STRATA_PLANNER_MAX_FIELDS_FILTERED).
package config
