package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohitkumar/autoflow/capability"
	"github.com/mohitkumar/autoflow/config"
	"github.com/mohitkumar/autoflow/executor"
	"github.com/mohitkumar/autoflow/ingest"
	"github.com/mohitkumar/autoflow/model"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definitions = `
workflows:
  - id: greet
    status: active
    trigger:
      pipelineId: sales
      stageId: new
      eventKind: created
    steps:
      - type: action
        actionType: send_text
        isActive: true
        config:
          recipient: "{{contact.phone}}"
          body: "hello {{contact.name}}"
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	defs := filepath.Join(t.TempDir(), "workflows.yaml")
	require.NoError(t, os.WriteFile(defs, []byte(definitions), 0o644))
	return config.Config{
		StorageType:   config.STORAGE_TYPE_INMEM,
		ClusterConfig: config.ClusterConfig{NodeName: "node-1", PartitionCount: 8},
		EngineConfig:  config.EngineConfig{Timezone: "UTC", ResumePolicy: "reschedule", ImmediateBypass: true},
		ExecutorConfig: executor.Config{
			Capacity:        4,
			TickInterval:    10 * time.Millisecond,
			DispatchTimeout: 2 * time.Second,
		},
		NatsConfig: config.NatsConfig{
			Embedded:       true,
			EmbeddedPort:   -1,
			Prefix:         "crm",
			RequestTimeout: time.Second,
		},
		Definitions: config.DefinitionsConfig{File: defs},
		HttpPort:    0,
	}
}

func TestAgentEndToEnd(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, a.Start())
	defer a.Shutdown()

	conn, err := nats.Connect(a.natsServer.ClientURL())
	require.NoError(t, err)
	defer conn.Close()

	texts := make(chan map[string]any, 1)
	_, err = conn.Subscribe(capability.Subject("crm", "send_text"), func(msg *nats.Msg) {
		payload := make(map[string]any)
		_ = json.Unmarshal(msg.Data, &payload)
		texts <- payload
		data, _ := json.Marshal(capability.Reply{Ok: true, Id: "sms-1"})
		_ = msg.Respond(data)
	})
	require.NoError(t, err)
	require.NoError(t, conn.Flush())

	event, err := json.Marshal(model.TriggerEvent{
		EntityId:   "deal-1",
		PipelineId: "sales",
		StageId:    "new",
		EventKind:  model.EVENT_KIND_CREATED,
		Entity:     map[string]any{"contact": map[string]any{"phone": "+15550100", "name": "Ada"}},
	})
	require.NoError(t, err)
	reply, err := conn.Request(ingest.TriggerSubject("crm"), event, 2*time.Second)
	require.NoError(t, err)
	var ack ingest.Ack
	require.NoError(t, json.Unmarshal(reply.Data, &ack))
	require.Len(t, ack.RunIds, 1)

	select {
	case payload := <-texts:
		assert.Equal(t, "+15550100", payload["recipient"])
		assert.Equal(t, "hello Ada", payload["body"])
	case <-time.After(5 * time.Second):
		t.Fatal("send_text was never dispatched")
	}

	require.Eventually(t, func() bool {
		run, err := a.store.GetRun(context.Background(), ack.RunIds[0])
		return err == nil && run.Status == model.RUN_STATUS_COMPLETED
	}, 5*time.Second, 20*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/workflow/greet/analytics", nil)
	rec := httptest.NewRecorder()
	a.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot model.AnalyticsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, 1, snapshot.SuccessfulExecutions)
}

func TestAgentRejectsInvalidConfig(t *testing.T) {
	conf := testConfig(t)
	conf.StorageType = "dynamo"
	_, err := New(conf)
	assert.ErrorContains(t, err, "unknown storage type")

	conf = testConfig(t)
	require.NoError(t, os.WriteFile(conf.Definitions.File, []byte("workflows:\n  - id: broken\n    status: active\n"), 0o644))
	_, err = New(conf)
	assert.Error(t, err)
}
