package conn

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	fx "github.com/robotalks/stxlink/pkg/framework"
)

// ServeFunc serves a single accepted link until it returns.
type ServeFunc func(ctx context.Context, rw io.ReadWriteCloser)

// Listen listens on tcp://host:port, socket://host:port or plain host:port.
func Listen(addr string) (net.Listener, error) {
	if u, err := url.Parse(addr); err == nil && u.Host != "" {
		switch u.Scheme {
		case "tcp", "socket":
			addr = u.Host
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedLink, addr)
		}
	}
	return net.Listen("tcp", addr)
}

// WebSocketHandler serves each WebSocket connection as a binary link.
func WebSocketHandler(ctx context.Context, fn ServeFunc) http.Handler {
	return websocket.Handler(func(ws *websocket.Conn) {
		ws.PayloadType = websocket.BinaryFrame
		glog.Infof("link %s connected", ws.Request().RemoteAddr)
		fn(ctx, ws)
		glog.Infof("link %s disconnected", ws.Request().RemoteAddr)
	})
}

// Serve accepts links on ln until ctx is done.
func Serve(ctx context.Context, ln net.Listener, fn ServeFunc) error {
	return fx.RunWithContextCloser(ctx, ln, func() error {
		for {
			c, err := ln.Accept()
			if err != nil {
				return err
			}
			go func(c net.Conn) {
				defer c.Close()
				glog.Infof("link %s connected", c.RemoteAddr())
				fn(ctx, c)
				glog.Infof("link %s disconnected", c.RemoteAddr())
			}(c)
		}
	})
}

// ServeURL listens on the URL and serves the accepted links.
// ws://host:port/path serves WebSocket links on the path,
// others are passed to Listen.
func ServeURL(ctx context.Context, listen string, fn ServeFunc) error {
	u, err := url.Parse(listen)
	if err != nil || u.Scheme != "ws" {
		ln, err := Listen(listen)
		if err != nil {
			return err
		}
		glog.Infof("listening on %s", ln.Addr())
		return Serve(ctx, ln, fn)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.Handle(path, WebSocketHandler(ctx, fn))
	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return err
	}
	glog.Infof("listening on ws://%s%s", ln.Addr(), path)
	server := &http.Server{Handler: mux}
	return fx.RunWithContextCloser(ctx, server, func() error {
		return server.Serve(ln)
	})
}
