// Package httpserver exposes the consumer's operational surface over
// JSON: a liveness probe and a counter snapshot.
//
//	GET /v1/healthz  -> {"status":"ok"} while the supervisor runs
//	GET /v1/statsz   -> orchestrator.Stats as JSON
package httpserver
