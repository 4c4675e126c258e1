package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/ghantakiran/turtletrading-sub002/internal/metrics"
)

const (
	writeDeadline     = 5 * time.Second
	messageBufferSize = 32
)

// clientWriter serializes all writes to one connection through a single
// goroutine. Sends are non-blocking: a full buffer means the client cannot
// keep up and the enqueue fails, which the manager turns into a disconnect.
type clientWriter struct {
	conn        *websocket.Conn
	clock       clockwork.Clock
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	onWriteErr  func()
}

func newClientWriter(conn *websocket.Conn, clock clockwork.Clock, onWriteErr func()) *clientWriter {
	cw := &clientWriter{
		conn:        conn,
		clock:       clock,
		sendChannel: make(chan []byte, messageBufferSize),
		doneChannel: make(chan struct{}),
		onWriteErr:  onWriteErr,
	}
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	defer cw.wg.Done()

	for {
		select {
		case msg, ok := <-cw.sendChannel:
			if !ok {
				return
			}
			start := cw.clock.Now()
			_ = cw.conn.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				metrics.WebSocketSendFailures.Inc()
				if cw.onWriteErr != nil {
					go cw.onWriteErr()
				}
				return
			}
			metrics.WebSocketMessageSendDuration.Observe(cw.clock.Since(start).Seconds())
		case <-cw.doneChannel:
			return
		}
	}
}

// trySend enqueues a message without blocking. Returns false when the
// client's buffer is full.
func (cw *clientWriter) trySend(msg []byte) bool {
	select {
	case cw.sendChannel <- msg:
		return true
	default:
		return false
	}
}

// stop closes the connection immediately.
func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.conn.Close()
	})
	cw.wg.Wait()
}

// stopGraceful sends a close frame with reason before closing. The write
// happens only after the run goroutine has exited, so no two goroutines
// ever write the socket concurrently.
func (cw *clientWriter) stopGraceful(reason string) {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		cw.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = cw.conn.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
		_ = cw.conn.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.conn.Close()
	})
	cw.wg.Wait()
}
