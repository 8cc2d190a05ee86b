package main

import (
	"encoding/json"
	"flag"
	"strings"

	"github.com/golang/glog"

	fx "github.com/robotalks/stxlink/pkg/framework"
	"github.com/robotalks/stxlink/pkg/l0/env"
	"github.com/robotalks/stxlink/pkg/l0/mqtt"
)

func init() {
	env.SetupFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	q, err := mqtt.NewQueueFromURL(env.Default().MQTTBrokerURL)
	if err != nil {
		glog.Exit(err)
	}
	q.Sub("+/+", mqtt.Handler(func(topic string, payload []byte) {
		switch {
		case strings.HasSuffix(topic, "/"+mqtt.TopicRx), strings.HasSuffix(topic, "/"+mqtt.TopicTx):
			var msg mqtt.FrameMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				glog.Warningf("%s: bad message: %v", topic, err)
				return
			}
			glog.Infof("%s: addr=%02x cmd=%02x payload=[% x]", topic, msg.Addr, msg.Cmd, msg.Payload)
		case len(payload) == 0:
			glog.Infof("%s: <cleared>", topic)
		default:
			glog.Infof("%s: %s", topic, string(payload))
		}
	}))
	if token := q.Connect(); token.Wait() && token.Error() != nil {
		glog.Exit(token.Error())
	}
	defer q.Close()

	runner := fx.NewRunner().HandleSignals()
	<-runner.Context.Done()
}
