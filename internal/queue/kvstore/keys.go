// Package kvstore implements the external key-value store queue backend on
// Redis Streams with consumer groups, ported in structure from the rule
// worker's discover/consume/ack loop (XGroupCreateMkStream, XReadGroup,
// XAck) — substituting a durable job stream for that worker's ephemeral
// telemetry stream, plus a scheduled ZSET for delayed adds and per-key
// SETNX markers for deduplication, which Streams alone cannot express.
package kvstore

import "fmt"

const consumerGroup = "logsentry-workers"

func streamKey(queue string) string { return fmt.Sprintf("lq:{%s}:stream", queue) }

func scheduledKey(queue string) string { return fmt.Sprintf("lq:{%s}:scheduled", queue) }

func dedupeKey(queue, key string) string { return fmt.Sprintf("lq:{%s}:dedupe:%s", queue, key) }

func completedKey(queue string) string { return fmt.Sprintf("lq:{%s}:completed", queue) }

func failedKey(queue string) string { return fmt.Sprintf("lq:{%s}:failed", queue) }
