package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// player is one websocket connection. Writes come from the read loop and
// from notifications for other players' events, so they are serialized.
type player struct {
	ref    string
	userId string
	conn   *websocket.Conn

	writeTimeout time.Duration
	closed       bool
	mu           sync.Mutex
}

func newPlayer(ref, userId string, conn *websocket.Conn, writeTimeout time.Duration) *player {
	return &player{
		ref:          ref,
		userId:       userId,
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (p *player) writeJson(msg interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrConnectionGone
	}
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
		return err
	}
	return p.conn.WriteJSON(msg)
}

func (p *player) writeControl(messageType int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrConnectionGone
	}
	return p.conn.WriteControl(messageType, data, time.Now().Add(p.writeTimeout))
}

func (p *player) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.conn.Close()
}
