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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func dataSpanAttrs(s tracetest.SpanStub) map[string]any {
	attrs := make(map[string]any)
	for _, kv := range s.Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	return attrs
}

func TestDBCall(t *testing.T) {
	spans, _, _ := setupTracking(t)

	_, call := StartDB(context.Background(), "postgres", "select")
	call.SetDatabase("billing").
		SetTable("invoices").
		SetResult(42, 0, 8192, 0)
	call.End(nil)
	call.End(errors.New("ignored")) // idempotent

	exported := spans.GetSpans()
	require.Len(t, exported, 1)
	span := exported[0]

	assert.Equal(t, "db.postgresql.select", span.Name)
	assert.Equal(t, trace.SpanKindClient, span.SpanKind)
	assert.Equal(t, codes.Ok, span.Status.Code)

	attrs := dataSpanAttrs(span)
	assert.Equal(t, "postgresql", attrs[attrDBSystem])
	assert.Equal(t, "SELECT", attrs[attrDBOperation])
	assert.Equal(t, "postgresql", attrs[attrVendor])
	assert.Equal(t, "billing", attrs[attrDBName])
	assert.Equal(t, "invoices", attrs[attrDBCollection])
	assert.Equal(t, int64(42), attrs[attrRowsReturned])
	assert.Equal(t, int64(8192), attrs[attrBytesRead])
	assert.NotContains(t, attrs, attrRowsAffected, "zero counts are omitted")
}

func TestDBCall_WarehouseQuery(t *testing.T) {
	spans, _, _ := setupTracking(t)

	_, call := StartDB(context.Background(), "snowflake", "SELECT")
	call.SetWarehouseQuery("01b2-44ff", 1<<30, 16)
	call.End(nil)

	exported := spans.GetSpans()
	require.Len(t, exported, 1)

	attrs := dataSpanAttrs(exported[0])
	assert.Equal(t, "01b2-44ff", attrs[attrWarehouseQueryID])
	assert.Equal(t, int64(1<<30), attrs[attrBytesScanned])
	assert.Equal(t, int64(16), attrs[attrPartitionsScanned])
}

func TestDBCall_Error(t *testing.T) {
	spans, _, _ := setupTracking(t)

	_, call := StartDB(context.Background(), "mysql", "INSERT")
	call.End(errors.New("deadlock"))

	exported := spans.GetSpans()
	require.Len(t, exported, 1)
	assert.Equal(t, codes.Error, exported[0].Status.Code)
	require.Len(t, exported[0].Events, 1, "error recorded once")

	attrs := dataSpanAttrs(exported[0])
	assert.Equal(t, "*errors.errorString", attrs[attrErrorType])
}

func TestStorageCall(t *testing.T) {
	spans, _, _ := setupTracking(t)

	_, call := StartStorage(context.Background(), "aws_s3", "put")
	call.SetBucket("runlens-artifacts").
		SetResult(1, 0, 1<<20)
	call.End(nil)

	exported := spans.GetSpans()
	require.Len(t, exported, 1)
	span := exported[0]

	assert.Equal(t, "storage.s3.put", span.Name)
	assert.Equal(t, trace.SpanKindClient, span.SpanKind)

	attrs := dataSpanAttrs(span)
	assert.Equal(t, "s3", attrs[attrStorageSystem])
	assert.Equal(t, "PUT", attrs[attrStorageOperation])
	assert.Equal(t, "runlens-artifacts", attrs[attrStorageBucket])
	assert.Equal(t, int64(1), attrs[attrObjectsCount])
	assert.Equal(t, int64(1<<20), attrs[attrBytesWritten])
}

func TestMessagingCall_SpanKinds(t *testing.T) {
	spans, _, _ := setupTracking(t)

	_, pub := StartMessaging(context.Background(), "aws_sqs", "publish", "runs-queue")
	pub.SetResult(3, 600)
	pub.End(nil)

	_, con := StartMessaging(context.Background(), "kafka", "consume", "runs-topic")
	con.End(nil)

	exported := spans.GetSpans()
	require.Len(t, exported, 2)

	assert.Equal(t, "messaging.sqs.publish", exported[0].Name)
	assert.Equal(t, trace.SpanKindProducer, exported[0].SpanKind)
	attrs := dataSpanAttrs(exported[0])
	assert.Equal(t, "sqs", attrs[attrMessagingSystem])
	assert.Equal(t, "runs-queue", attrs[attrMessagingDestination])
	assert.Equal(t, int64(3), attrs[attrMessageCount])
	assert.Equal(t, int64(600), attrs[attrBytesTransferred])

	assert.Equal(t, "messaging.kafka.consume", exported[1].Name)
	assert.Equal(t, trace.SpanKindConsumer, exported[1].SpanKind)
}
