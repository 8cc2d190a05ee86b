package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"github.com/robotalks/stxlink/pkg/l0/comm"
)

// Topics under <prefix><link-id>/.
const (
	TopicRx   = "rx"
	TopicTx   = "tx"
	TopicErr  = "err"
	TopicMeta = "meta"
)

// FrameMessage is the JSON form of a frame.
type FrameMessage struct {
	Addr    byte   `json:"addr"`
	Cmd     byte   `json:"cmd"`
	Payload []byte `json:"payload,omitempty"`
}

// ErrorMessage is published when a candidate frame is skipped.
type ErrorMessage struct {
	Error string `json:"error"`
}

// LinkMeta is the retained metadata of a bridged link.
type LinkMeta struct {
	Link  string `json:"link"`
	Since string `json:"since"`
}

// Publisher publishes messages relative to a topic prefix.
type Publisher interface {
	PubWith(topic string, payload []byte, qos byte, retain bool) paho.Token
}

// Bridge publishes frames received on a link and sends frames published
// to the link.
type Bridge struct {
	ID   string
	Link string
	Pub  Publisher
	FIFO *comm.FIFO
}

// NewBridge creates a Bridge and takes over the handlers of fifo.
func NewBridge(id, link string, pub Publisher, fifo *comm.FIFO) *Bridge {
	b := &Bridge{ID: id, Link: link, Pub: pub, FIFO: fifo}
	fifo.Handler = b
	fifo.Notifier = b
	return b
}

// SetWill makes the broker clear the retained meta when the bridge
// disconnects unexpectedly.
func SetWill(opts *paho.ClientOptions, topicPrefix, id string) {
	opts.SetBinaryWill(topicPrefix+id+"/"+TopicMeta, nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("stxlink:" + id)
	}
}

// Attach subscribes the tx topic and announces on every (re)connect.
func (b *Bridge) Attach(q *Queue) *Subscription {
	q.OnConnect = func(*Queue) { b.Announce() }
	return q.Sub(b.Topic(TopicTx), b.HandleTx)
}

// Topic returns the topic of the link relative to the prefix.
func (b *Bridge) Topic(name string) string {
	return b.ID + "/" + name
}

// HandleFrame implements comm.FrameHandler.
func (b *Bridge) HandleFrame(ctx context.Context, f *comm.Frame) {
	b.publish(TopicRx, &FrameMessage{Addr: f.Addr, Cmd: f.Cmd, Payload: f.Payload}, false)
}

// ParseFailed implements comm.ErrorNotifier.
func (b *Bridge) ParseFailed(ctx context.Context, err error) {
	b.publish(TopicErr, &ErrorMessage{Error: err.Error()}, false)
}

// HandleTx sends the frame in a message published on the tx topic.
func (b *Bridge) HandleTx(topic string, payload []byte) {
	if err := b.Send(payload); err != nil {
		glog.Warningf("%s: %v", topic, err)
		b.publish(TopicErr, &ErrorMessage{Error: err.Error()}, false)
	}
}

// Send decodes a FrameMessage and sends the frame to the link.
func (b *Bridge) Send(payload []byte) error {
	var msg FrameMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("invalid frame message: %w", err)
	}
	return b.FIFO.SendFrame(msg.Addr, msg.Cmd, msg.Payload)
}

// Announce publishes the retained meta.
func (b *Bridge) Announce() {
	b.publish(TopicMeta, &LinkMeta{Link: b.Link, Since: time.Now().UTC().Format(time.RFC3339)}, true)
}

// Run pumps the link until it fails or ctx is done. The retained meta
// is cleared on return.
func (b *Bridge) Run(ctx context.Context) error {
	b.Announce()
	defer b.Pub.PubWith(b.Topic(TopicMeta), nil, 1, true)
	return b.FIFO.Run(ctx)
}

func (b *Bridge) publish(name string, v interface{}, retain bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		glog.Errorf("encode %s: %v", name, err)
		return
	}
	var qos byte
	if retain {
		qos = 1
	}
	b.Pub.PubWith(b.Topic(name), payload, qos, retain)
}
