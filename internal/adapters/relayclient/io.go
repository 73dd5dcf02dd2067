package relayclient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Consult/internal/domain"
	"github.com/gorilla/websocket"
)

func (c *Client) writePump(ctx context.Context, l *link) {
	ping := time.NewTicker(c.cfg.PingPeriod)
	defer ping.Stop()
	pingFrame, _ := json.Marshal(domain.Frame{Event: domain.EventPing})

	write := func(data []byte) error {
		if err := l.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			return err
		}
		return l.conn.WriteMessage(websocket.TextMessage, data)
	}

	for {
		select {
		case <-ctx.Done():
			c.drain(l)
			return
		case f := <-l.send:
			err := write(f.data)
			if f.done != nil {
				f.done <- err
			}
			if err != nil {
				c.log.Debug().Err(err).Msg("writePump write error")
				l.close()
				return
			}
		case <-ping.C:
			if err := write(pingFrame); err != nil {
				c.log.Debug().Err(err).Msg("writePump ping error")
				l.close()
				return
			}
		}
	}
}

// drain fails whatever is still queued on a dead link.
func (c *Client) drain(l *link) {
	for {
		select {
		case f := <-l.send:
			if f.done != nil {
				f.done <- domain.ErrNotConnected
			}
		default:
			return
		}
	}
}

func (c *Client) readPump(l *link) {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			c.lost(l, err)
			return
		}
		var f domain.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn().Err(err).Msg("bad frame")
			continue
		}
		c.handleFrame(f)
	}
}
