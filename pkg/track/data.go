// Copyright 2026 The Runlens Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package track

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute names for data operations: db.* and messaging.* follow the
// OTel semantic conventions, runlens.* carries the cost-attribution
// extensions.
const (
	attrDBSystem             = "db.system"
	attrDBOperation          = "db.operation"
	attrDBName               = "db.name"
	attrDBCollection         = "db.collection.name"
	attrMessagingSystem      = "messaging.system"
	attrMessagingOperation   = "messaging.operation"
	attrMessagingDestination = "messaging.destination.name"

	attrVendor            = "runlens.vendor"
	attrRowsReturned      = "runlens.data.rows_returned"
	attrRowsAffected      = "runlens.data.rows_affected"
	attrBytesRead         = "runlens.data.bytes_read"
	attrBytesWritten      = "runlens.data.bytes_written"
	attrObjectsCount      = "runlens.data.objects_count"
	attrStorageSystem     = "runlens.storage.system"
	attrStorageOperation  = "runlens.storage.operation"
	attrStorageBucket     = "runlens.storage.bucket"
	attrMessageCount      = "runlens.messaging.message_count"
	attrBytesTransferred  = "runlens.messaging.bytes_transferred"
	attrWarehouseQueryID  = "runlens.warehouse.query_id"
	attrBytesScanned      = "runlens.warehouse.bytes_scanned"
	attrPartitionsScanned = "runlens.warehouse.partitions_scanned"
)

// dbSystems maps common aliases to canonical database system names.
var dbSystems = map[string]string{
	"postgresql":    "postgresql",
	"postgres":      "postgresql",
	"pg":            "postgresql",
	"mysql":         "mysql",
	"mariadb":       "mariadb",
	"mssql":         "mssql",
	"sqlserver":     "mssql",
	"oracle":        "oracle",
	"sqlite":        "sqlite",
	"mongodb":       "mongodb",
	"mongo":         "mongodb",
	"dynamodb":      "dynamodb",
	"cassandra":     "cassandra",
	"redis":         "redis",
	"memcached":     "memcached",
	"elasticsearch": "elasticsearch",
	"opensearch":    "opensearch",
	"snowflake":     "snowflake",
	"bigquery":      "bigquery",
	"redshift":      "redshift",
	"databricks":    "databricks",
	"athena":        "athena",
	"influxdb":      "influxdb",
	"timescaledb":   "timescaledb",
	"neo4j":         "neo4j",
}

// storageSystems maps common aliases to canonical object storage names.
var storageSystems = map[string]string{
	"s3":                   "s3",
	"aws_s3":               "s3",
	"gcs":                  "gcs",
	"google_cloud_storage": "gcs",
	"blob":                 "azure_blob",
	"azure_blob":           "azure_blob",
	"minio":                "minio",
	"ceph":                 "ceph",
	"nfs":                  "nfs",
	"efs":                  "efs",
}

// messagingSystems maps common aliases to canonical messaging system names.
var messagingSystems = map[string]string{
	"sqs":              "sqs",
	"aws_sqs":          "sqs",
	"sns":              "sns",
	"kinesis":          "kinesis",
	"eventbridge":      "eventbridge",
	"pubsub":           "pubsub",
	"google_pubsub":    "pubsub",
	"servicebus":       "servicebus",
	"azure_servicebus": "servicebus",
	"eventhub":         "eventhub",
	"kafka":            "kafka",
	"rabbitmq":         "rabbitmq",
	"nats":             "nats",
	"redis_pubsub":     "redis_pubsub",
}

func normalize(table map[string]string, system string) string {
	lower := strings.ToLower(system)
	if canonical, ok := table[lower]; ok {
		return canonical
	}
	return lower
}

// dataCall is the shared finalization state for the data trackers.
type dataCall struct {
	span  trace.Span
	mu    sync.Mutex
	ended bool
}

// end closes the span once, recording err when non-nil.
func (c *dataCall) end(err error) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.mu.Unlock()

	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
		c.span.SetAttributes(attribute.String(attrErrorType, fmt.Sprintf("%T", err)))
	} else {
		c.span.SetStatus(codes.Ok, "")
	}
	c.span.End()
}

// DBCall tracks one database operation from start to End.
type DBCall struct {
	dataCall
	system    string
	operation string
}

// StartDB opens a client span for a database operation. The span is named
// "db.<system>.<operation>"; system aliases normalize the same way LLM
// provider names do.
//
//	ctx, db := track.StartDB(ctx, "postgres", "SELECT")
//	rows, err := conn.QueryContext(ctx, query)
//	db.SetResult(int64(len(rows)), 0, 0, 0)
//	db.End(err)
func StartDB(ctx context.Context, system, operation string) (context.Context, *DBCall) {
	call := &DBCall{
		system:    normalize(dbSystems, system),
		operation: strings.ToUpper(operation),
	}

	ctx, call.span = otel.Tracer(tracerName).Start(ctx,
		"db."+call.system+"."+strings.ToLower(operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(attrDBSystem, call.system),
			attribute.String(attrDBOperation, call.operation),
			attribute.String(attrVendor, call.system),
		),
	)
	return ctx, call
}

// SetResult records row and byte accounting for the operation. Zero values
// are omitted from the span.
func (c *DBCall) SetResult(rowsReturned, rowsAffected, bytesRead, bytesWritten int64) *DBCall {
	if rowsReturned > 0 {
		c.span.SetAttributes(attribute.Int64(attrRowsReturned, rowsReturned))
	}
	if rowsAffected > 0 {
		c.span.SetAttributes(attribute.Int64(attrRowsAffected, rowsAffected))
	}
	if bytesRead > 0 {
		c.span.SetAttributes(attribute.Int64(attrBytesRead, bytesRead))
	}
	if bytesWritten > 0 {
		c.span.SetAttributes(attribute.Int64(attrBytesWritten, bytesWritten))
	}
	return c
}

// SetDatabase records the database name.
func (c *DBCall) SetDatabase(name string) *DBCall {
	c.span.SetAttributes(attribute.String(attrDBName, name))
	return c
}

// SetTable records the table or collection the operation touched.
func (c *DBCall) SetTable(name string) *DBCall {
	c.span.SetAttributes(attribute.String(attrDBCollection, name))
	return c
}

// SetWarehouseQuery records warehouse query metrics for engines that bill
// by bytes scanned (Snowflake, BigQuery, Athena).
func (c *DBCall) SetWarehouseQuery(queryID string, bytesScanned, partitionsScanned int64) *DBCall {
	c.span.SetAttributes(
		attribute.String(attrWarehouseQueryID, queryID),
		attribute.Int64(attrBytesScanned, bytesScanned),
	)
	if partitionsScanned > 0 {
		c.span.SetAttributes(attribute.Int64(attrPartitionsScanned, partitionsScanned))
	}
	return c
}

// End finalizes the operation span. Safe to call more than once.
func (c *DBCall) End(err error) { c.end(err) }

// StorageCall tracks one object storage operation from start to End.
type StorageCall struct {
	dataCall
	system    string
	operation string
}

// StartStorage opens a client span for an object storage operation. The
// span is named "storage.<system>.<operation>".
func StartStorage(ctx context.Context, system, operation string) (context.Context, *StorageCall) {
	call := &StorageCall{
		system:    normalize(storageSystems, system),
		operation: strings.ToUpper(operation),
	}

	ctx, call.span = otel.Tracer(tracerName).Start(ctx,
		"storage."+call.system+"."+strings.ToLower(operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(attrStorageSystem, call.system),
			attribute.String(attrStorageOperation, call.operation),
			attribute.String(attrVendor, call.system),
		),
	)
	return ctx, call
}

// SetResult records object and byte accounting. Zero values are omitted.
func (c *StorageCall) SetResult(objectsCount, bytesRead, bytesWritten int64) *StorageCall {
	if objectsCount > 0 {
		c.span.SetAttributes(attribute.Int64(attrObjectsCount, objectsCount))
	}
	if bytesRead > 0 {
		c.span.SetAttributes(attribute.Int64(attrBytesRead, bytesRead))
	}
	if bytesWritten > 0 {
		c.span.SetAttributes(attribute.Int64(attrBytesWritten, bytesWritten))
	}
	return c
}

// SetBucket records the bucket or container name.
func (c *StorageCall) SetBucket(bucket string) *StorageCall {
	c.span.SetAttributes(attribute.String(attrStorageBucket, bucket))
	return c
}

// End finalizes the operation span. Safe to call more than once.
func (c *StorageCall) End(err error) { c.end(err) }

// MessagingCall tracks one messaging operation from start to End.
type MessagingCall struct {
	dataCall
	system    string
	operation string
}

// StartMessaging opens a span for a messaging operation against the named
// queue or topic. Publish and send get a producer span, everything else a
// consumer span. The span is named "messaging.<system>.<operation>".
func StartMessaging(ctx context.Context, system, operation, destination string) (context.Context, *MessagingCall) {
	call := &MessagingCall{
		system:    normalize(messagingSystems, system),
		operation: strings.ToLower(operation),
	}

	kind := trace.SpanKindConsumer
	if call.operation == "publish" || call.operation == "send" {
		kind = trace.SpanKindProducer
	}

	ctx, call.span = otel.Tracer(tracerName).Start(ctx,
		"messaging."+call.system+"."+call.operation,
		trace.WithSpanKind(kind),
		trace.WithAttributes(
			attribute.String(attrMessagingSystem, call.system),
			attribute.String(attrMessagingOperation, call.operation),
			attribute.String(attrMessagingDestination, destination),
			attribute.String(attrVendor, call.system),
		),
	)
	return ctx, call
}

// SetResult records message and byte accounting. Zero values are omitted.
func (c *MessagingCall) SetResult(messageCount, bytesTransferred int64) *MessagingCall {
	if messageCount > 0 {
		c.span.SetAttributes(attribute.Int64(attrMessageCount, messageCount))
	}
	if bytesTransferred > 0 {
		c.span.SetAttributes(attribute.Int64(attrBytesTransferred, bytesTransferred))
	}
	return c
}

// End finalizes the operation span. Safe to call more than once.
func (c *MessagingCall) End(err error) { c.end(err) }
