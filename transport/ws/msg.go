package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

const controlTimeout = 1 * time.Second

func isControl(frameType int) bool {
	return frameType == websocket.CloseMessage || frameType == websocket.PingMessage || frameType == websocket.PongMessage
}

type wsMessage struct {
	mt   int
	data []byte
}
