package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/acsd/pkg/acs"
	"github.com/markus-lassfolk/acsd/pkg/logx"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	retain  bool
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, retain: retained, payload: payload.([]byte)})
	return newToken(f.err)
}

func connectedClient(t *testing.T) (*Client, *fakePublisher) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.TopicPrefix = "lab"
	cfg.Retain = true
	c := NewClient(cfg, logx.NewLogger("error", "mqtt-test"))
	pub := &fakePublisher{}
	c.pub = pub
	c.setConnected(true)
	return c, pub
}

func TestTopics(t *testing.T) {
	c := NewClient(&Config{TopicPrefix: "acsd"}, nil)
	assert.Equal(t, "acsd/acs/request", c.RequestTopic())
	assert.Equal(t, "acsd/acs/reply", c.ReplyTopic())
	assert.Equal(t, "acsd/events", c.EventTopic())
	assert.Equal(t, "acsd/result/wlan0", c.ResultTopic("wlan0"))
}

func TestNotifyACS(t *testing.T) {
	c, pub := connectedClient(t)

	job := &acs.Job{ID: "job-1", Iface: "wlan0", Candidates: []uint32{5180, 5200}}
	require.NoError(t, c.NotifyACS(context.Background(), job))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "lab/acs/request", pub.msgs[0].topic)
	assert.False(t, pub.msgs[0].retain, "requests are never retained")

	var payload struct {
		ReplyTopic string  `json:"reply_topic"`
		Job        acs.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &payload))
	assert.Equal(t, "lab/acs/reply", payload.ReplyTopic)
	assert.Equal(t, "job-1", payload.Job.ID)
	assert.Equal(t, []uint32{5180, 5200}, payload.Job.Candidates)
	assert.False(t, c.GetLastPublish().IsZero())
}

func TestNotifyACSFailures(t *testing.T) {
	c := NewClient(DefaultConfig(), logx.NewLogger("error", "mqtt-test"))
	assert.Error(t, c.NotifyACS(context.Background(), &acs.Job{ID: "j"}), "not connected")

	c, pub := connectedClient(t)
	pub.err = errors.New("broker refused")
	assert.Error(t, c.NotifyACS(context.Background(), &acs.Job{ID: "j"}))
}

func TestDeliverResult(t *testing.T) {
	c, pub := connectedClient(t)
	c.Deliver(&acs.Result{Iface: "wlan1", Primary: 5500, Path: acs.PathScan})

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "lab/result/wlan1", pub.msgs[0].topic)
	assert.True(t, pub.msgs[0].retain)

	var res acs.Result
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &res))
	assert.Equal(t, uint32(5500), res.Primary)
}

func TestPublishEvent(t *testing.T) {
	c, pub := connectedClient(t)
	require.NoError(t, c.PublishEvent(context.Background(), "radar", "wlan0", map[string]interface{}{"freq": 5500}))

	require.Len(t, pub.msgs, 1)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &payload))
	assert.Equal(t, "radar", payload["event"])
	assert.Equal(t, "wlan0", payload["iface"])
	assert.Equal(t, float64(5500), payload["freq"])
}

func TestHandleReply(t *testing.T) {
	c, _ := connectedClient(t)

	type answer struct {
		job  string
		freq uint32
	}
	var got []answer
	c.SetReplyHandler(func(jobID string, freq uint32) error {
		got = append(got, answer{jobID, freq})
		if jobID == "stale" {
			return acs.ErrUnknownJob
		}
		return nil
	})

	c.handleReply([]byte(`{"job_id":"a","freq":5745}`))
	c.handleReply([]byte(`{"job_id":"b","channel":6}`))
	c.handleReply([]byte(`{"job_id":"stale","freq":5180}`))
	c.handleReply([]byte(`{"freq":5180}`))
	c.handleReply([]byte(`not json`))

	assert.Equal(t, []answer{{"a", 5745}, {"b", 2437}, {"stale", 5180}}, got)
}
