package main

import (
	"net/http"
	"time"

	"git.fiblab.net/sim/traffic/simulation"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StateFeed 通过websocket周期推送系统状态
type StateFeed struct {
	sim      *simulation.Simulator
	interval time.Duration
	closing  chan struct{}
}

func NewStateFeed(sim *simulation.Simulator, interval time.Duration) *StateFeed {
	return &StateFeed{sim: sim, interval: interval, closing: make(chan struct{})}
}

// Close 通知所有连接退出
func (f *StateFeed) Close() {
	close(f.closing)
}

func (f *StateFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	log.Debugf("websocket client %s connected", r.RemoteAddr)

	// 只读取以感知客户端断开
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warnf("websocket client %s: %v", r.RemoteAddr, err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(f.interval)
	defer func() {
		ticker.Stop()
		conn.Close()
		log.Debugf("websocket client %s disconnected", r.RemoteAddr)
	}()
	for {
		if err := conn.WriteJSON(f.sim.State()); err != nil {
			log.Warnf("websocket write to %s failed: %v", r.RemoteAddr, err)
			return
		}
		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-f.closing:
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
				time.Now().Add(time.Second),
			)
			return
		}
	}
}
