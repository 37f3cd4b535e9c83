// Package feedbackweb broadcasts capture progress (the guidance ball
// and the recorded/total counters) to WebSocket subscribers. The host
// application's UI reads this feed; headless runs simply never attach
// a client.
package feedbackweb

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stereosphere/panorec/internal/geom"
	"github.com/stereosphere/panorec/internal/monitoring"
)

// Progress is one feed update.
type Progress struct {
	BallPose       [16]float64 `json:"ballPose"`
	ErrorVector    [3]float64  `json:"errorVector"`
	Error          float64     `json:"error"`
	RecordedImages int         `json:"recordedImages"`
	ImagesToRecord int         `json:"imagesToRecord"`
	Finished       bool        `json:"finished"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Publisher fans progress updates out to connected clients. Slow
// clients are dropped rather than allowed to stall capture.
type Publisher struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	last    *Progress
}

// NewPublisher returns an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeHTTP upgrades the request and registers the client. The latest
// update is replayed immediately so a late subscriber sees state.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("feedback publisher: upgrade failed: %v", err)
		return
	}
	p.mu.Lock()
	p.clients[conn] = true
	last := p.last
	p.mu.Unlock()

	if last != nil {
		p.send(conn, *last)
	}
}

// Publish builds an update and broadcasts it.
func (p *Publisher) Publish(ball geom.Mat4, errVec geom.Vec3, totalErr float64, recorded, total int, finished bool) {
	update := Progress{
		BallPose:       ball,
		ErrorVector:    [3]float64{errVec.X, errVec.Y, errVec.Z},
		Error:          totalErr,
		RecordedImages: recorded,
		ImagesToRecord: total,
		Finished:       finished,
		Timestamp:      time.Now(),
	}

	p.mu.Lock()
	p.last = &update
	conns := make([]*websocket.Conn, 0, len(p.clients))
	for c := range p.clients {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		p.send(c, update)
	}
}

func (p *Publisher) send(c *websocket.Conn, update Progress) {
	payload, err := json.Marshal(update)
	if err != nil {
		return
	}
	c.SetWriteDeadline(time.Now().Add(time.Second))
	if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
		p.mu.Lock()
		delete(p.clients, c)
		p.mu.Unlock()
		c.Close()
	}
}

// ClientCount returns the number of attached subscribers.
func (p *Publisher) ClientCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Close disconnects all clients.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for c := range p.clients {
		c.Close()
	}
	p.clients = make(map[*websocket.Conn]bool)
}
