package main

//go-build: CGO_ENABLED=0

import (
	"flag"

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

	conf := env.NewConfig()
	opts, topicPrefix, err := mqtt.ClientOptionsFromURL(conf.MQTTBrokerURL)
	if err != nil {
		glog.Exitf("invalid MQTT URL: %v", err)
	}
	mqtt.SetWill(opts, topicPrefix, conf.LinkID)
	q := mqtt.NewQueue(opts, topicPrefix)

	link := conf.MustOpenLink()
	defer link.Close()
	bridge := mqtt.NewBridge(conf.LinkID, link.URL, q, link.FIFO)
	bridge.Attach(q)

	if token := q.Connect(); token.Wait() && token.Error() != nil {
		glog.Exitf("connect %s: %v", conf.MQTTBrokerURL, token.Error())
	}
	defer q.Close()
	glog.Infof("bridging %s to %s%s/", link.URL, topicPrefix, conf.LinkID)

	err = fx.NewRunner().HandleSignals().
		Go(fx.NamedRun("bridge", bridge)).
		Wait()
	if err != nil {
		glog.Error(err)
	}
}
