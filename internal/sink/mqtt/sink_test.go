package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/pkg/config"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	messages     []published
	err          error
	disconnected bool
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return newDoneToken(f.err)
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func TestDeliverPublishesOnEntityTopic(t *testing.T) {
	client := &fakeClient{}
	sink := newSink(client, "/ops/audit/", 1, nil)

	entry := &domain.AuditLog{ID: "a1", Action: domain.ActionUpdate, EntityType: domain.EntityVariable}
	sink.Deliver(entry, []byte(`{"id":"a1"}`))

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.messages, 1)
	msg := client.messages[0]
	assert.Equal(t, "ops/audit/variable/update", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained)
	assert.JSONEq(t, `{"id":"a1"}`, string(msg.payload))
}

func TestDeliverToleratesPublishErrors(t *testing.T) {
	client := &fakeClient{err: errors.New("broker gone")}
	sink := newSink(client, "", 0, nil)

	entry := &domain.AuditLog{ID: "a2", Action: domain.ActionCreate, EntityType: domain.EntityEnvironment}
	assert.NotPanics(t, func() { sink.Deliver(entry, []byte("{}")) })
	assert.Equal(t, "confvault/audit/environment/create", sink.Topic(entry))
}

func TestClose(t *testing.T) {
	client := &fakeClient{}
	newSink(client, "", 0, nil).Close()
	assert.True(t, client.disconnected)
}

func TestConnectRejectsInvalidQoS(t *testing.T) {
	_, err := Connect(config.MQTTSinkConfig{Broker: "tcp://127.0.0.1:1", QoS: 5}, nil)
	assert.Error(t, err)
}

func TestClientOptions(t *testing.T) {
	opts := clientOptions(config.MQTTSinkConfig{Broker: "tcp://broker:1883", ClientID: "api-1", Username: "svc", Password: "pw"})
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker:1883", opts.Servers[0].Host)
	assert.Equal(t, "api-1", opts.ClientID)
	assert.Equal(t, "svc", opts.Username)
	assert.True(t, opts.AutoReconnect)
}
