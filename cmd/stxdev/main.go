package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"io"

	"github.com/golang/glog"

	fx "github.com/robotalks/stxlink/pkg/framework"
	"github.com/robotalks/stxlink/pkg/l0/conn"
	"github.com/robotalks/stxlink/pkg/l0/device"
	"github.com/robotalks/stxlink/pkg/l0/env"
)

var onLink bool

func init() {
	env.SetupFlags()
	flag.BoolVar(&onLink, "on-link", onLink, "Serve on the link (e.g. a serial port) instead of listening.")
}

func main() {
	flag.Parse()
	defer glog.Flush()

	conf := env.NewConfig()
	if err := conf.Validate(); err != nil {
		glog.Exit(err)
	}
	dev := device.New(conf.DeviceAddress())
	runner := fx.NewRunner().HandleSignals()
	if onLink {
		link := conf.MustOpenLink()
		defer link.Close()
		glog.Infof("device %02x serving on %s", dev.Address, link.URL)
		link.Handler = dev.NewDispatcher(link.FIFO)
		runner.Go(fx.NamedRun("device", link.FIFO))
	} else {
		runner.Go(fx.NamedRun("listener", fx.RunFunc(func(ctx context.Context) error {
			return conn.ServeURL(ctx, conf.Listen, func(ctx context.Context, rw io.ReadWriteCloser) {
				if err := dev.Serve(ctx, rw); err != nil && err != io.EOF && ctx.Err() == nil {
					glog.Warningf("device: %v", err)
				}
			})
		})))
	}
	if err := runner.Wait(); err != nil {
		glog.Exit(err)
	}
	glog.Infof("device %02x stopped, chases=%d value=%d", dev.Address, dev.Chases(), dev.Value())
}
