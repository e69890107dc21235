// Package soknadflow moves benefit applications (søknader) through four
// asynchronous stages on top of Watermill. A submission accepted by the front
// door is published to the received topic and flows through
//
//	received -> preprocessed -> archived -> cleanup
//
// where each stage consumes one topic under its own consumer group, calls one
// external system and publishes the successor entry keyed by the submission
// id. Entries carry an immutable metadata block (version, correlation id and
// request id) that every stage copies unchanged, so the correlation id can be
// followed through the logs of all stages.
//
// # Transports
//
// The backing log is chosen by Config.PubSubSystem:
//   - channel: in-memory Go channels for tests and local runs (not durable)
//   - kafka: partitioned by the submission id, per-stage consumer groups
//   - rabbitmq: durable queues, one per stage and topic
//   - nats: JetStream with per-stage durable consumers
//   - aws: SNS topics fanned out to per-stage SQS queues
//
// Import github.com/drblury/soknadflow/transport/transports to register them
// all, or the individual transport packages.
//
// # Failure handling
//
// Every unit of work runs in a retry executor with exponential backoff.
// Untagged errors are transient and retried until they succeed. Errors tagged
// with Recoverable pause the stage, which can be resumed by an operator or
// automatically after Config.AutoResumeAfter. Fatal errors stop the stage and
// turn it unhealthy, except in the cleanup stage, which gives up on the entry
// and moves on.
//
// # Health
//
// HealthHandler serves /internal/isAlive and /internal/isReady from the
// combined stage states, /internal/stages with per-stage status and
// /internal/metrics when metrics are enabled.
package soknadflow
