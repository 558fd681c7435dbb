package studio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const closeGrace = time.Second

// Relay forwards messages between client and upstream in both directions
// until either side closes or ctx is cancelled. Each direction runs as its own
// task; the first to finish forwards the close frame and closes both
// connections, which ends the other task. A normal close on either side
// returns nil.
func Relay(ctx context.Context, client, upstream *websocket.Conn) error {
	r := &relay{a: client, b: upstream}
	stop := context.AfterFunc(ctx, r.teardown)
	defer stop()

	var g errgroup.Group
	g.Go(func() error { return r.pump(client, upstream) })
	g.Go(func() error { return r.pump(upstream, client) })
	err := g.Wait()
	r.teardown()

	if err == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

type relay struct {
	a, b   *websocket.Conn
	once   sync.Once
	closed atomic.Bool
}

func (r *relay) teardown() {
	r.once.Do(func() {
		r.closed.Store(true)
		_ = r.a.Close()
		_ = r.b.Close()
	})
}

// pump copies src to dst. It is the only writer of data frames on dst.
func (r *relay) pump(src, dst *websocket.Conn) error {
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			if r.closed.Load() {
				return nil
			}
			code, text := websocket.CloseNormalClosure, ""
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, text = ce.Code, ce.Text
			}
			fwd := code
			if fwd == websocket.CloseAbnormalClosure {
				fwd = websocket.CloseGoingAway
			}
			_ = dst.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(fwd, text), time.Now().Add(closeGrace))
			r.teardown()
			if ce != nil && (code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway || code == websocket.CloseNoStatusReceived) {
				return nil
			}
			return err
		}
		if err := dst.WriteMessage(mt, data); err != nil {
			if r.closed.Load() {
				return nil
			}
			r.teardown()
			return err
		}
	}
}
