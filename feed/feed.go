// Package feed listens for change notifications on an MQTT topic. It is
// the second way notifications reach the engine besides the HTTP server,
// for datastores that publish their change stream to a broker instead of
// firing webhooks.
package feed

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Fliegerweb/searchsync/indexer"
	"github.com/Fliegerweb/searchsync/x"
)

var log = x.Log("feed")

// Event is one change notification on the wire. Create and update mean
// the same thing here: re-read the rows and reconcile.
type Event struct {
	Collection string        `json:"collection"`
	Action     string        `json:"action"`
	IDs        []interface{} `json:"ids"`
}

type Feed struct {
	engine *indexer.Indexer
	client mqtt.Client
	topic  string
}

// New prepares an MQTT listener for the given broker and topic. Nothing
// connects until Start.
func New(broker, clientID, topic string, engine *indexer.Indexer) *Feed {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(false)

	return &Feed{
		engine: engine,
		client: mqtt.NewClient(opts),
		topic:  topic,
	}
}

// Start connects to the broker and subscribes. The subscription survives
// reconnects, since the session is not clean.
func (f *Feed) Start() error {
	if token := f.client.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "feed: connecting to broker")
	}
	if token := f.client.Subscribe(f.topic, 1, f.handle); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "feed: subscribing to %s", f.topic)
	}
	log.WithField("topic", f.topic).Info("Listening for change events")
	return nil
}

func (f *Feed) handle(client mqtt.Client, msg mqtt.Message) {
	if err := f.Dispatch(context.Background(), msg.Payload()); err != nil {
		x.LogErr(log, err).WithField("topic", msg.Topic()).
			Error("While handling change event")
	}
}

// Dispatch decodes one event payload and routes it into the engine. It is
// what the subscription calls for every message, split out so tests can
// push events without a broker.
func (f *Feed) Dispatch(ctx context.Context, payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return errors.Wrap(err, "feed: decoding event")
	}
	if ev.Collection == "" || len(ev.IDs) == 0 {
		return errors.Errorf("feed: event missing collection or ids: %s", payload)
	}

	log.WithFields(logrus.Fields{
		"collection": ev.Collection,
		"action":     ev.Action,
		"ids":        len(ev.IDs),
	}).Debug("Got change event")

	switch ev.Action {
	case "create", "update", "":
		return f.engine.UpdateItems(ctx, ev.Collection, ev.IDs)
	case "delete":
		return f.engine.DeleteItems(ctx, ev.Collection, ev.IDs)
	default:
		return errors.Errorf("feed: unknown action %q", ev.Action)
	}
}

// Close drops the subscription and disconnects.
func (f *Feed) Close() {
	f.client.Disconnect(250)
}
