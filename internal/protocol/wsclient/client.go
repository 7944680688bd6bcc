// Package wsclient implements protocol.Dialer over a JSON-framed WebSocket
// connection.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aetherflow/sessionpool/internal/protocol"
)

const (
	// 写超时
	writeWait = 10 * time.Second

	// 读超时 (等待 pong)
	pongWait = 60 * time.Second

	// 心跳周期，必须小于 pongWait
	pingPeriod = (pongWait * 9) / 10

	// 最大消息大小
	maxMessageSize = 64 * 1024

	eventBuffer = 64
)

// Config 客户端配置
type Config struct {
	// Header 握手时附带的HTTP头
	Header http.Header
	// HandshakeTimeout WebSocket 升级超时，0 表示使用 gorilla 默认值
	HandshakeTimeout time.Duration
	Logger           *zap.Logger
}

// Dialer WebSocket 拨号器
type Dialer struct {
	dialer *websocket.Dialer
	header http.Header
	logger *zap.Logger
}

// NewDialer 创建拨号器
func NewDialer(config Config) *Dialer {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	d := *websocket.DefaultDialer
	if config.HandshakeTimeout > 0 {
		d.HandshakeTimeout = config.HandshakeTimeout
	}

	return &Dialer{
		dialer: &d,
		header: config.Header,
		logger: config.Logger,
	}
}

// Dial 建立连接并发送登录帧。登录结果通过 EventReady 或 EventDisconnected 异步返回。
func (d *Dialer) Dial(ctx context.Context, opts protocol.DialOptions) (protocol.Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, opts.Endpoint, d.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", opts.Endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", opts.Endpoint, err)
	}

	c := newConn(ws, d.logger.With(zap.String("username", opts.Username)))

	auth := &Frame{
		Type:      FrameAuth,
		Username:  opts.Username,
		ProfileID: opts.ProfileID,
		Token:     opts.Secret,
	}
	if err := c.writeFrame(auth); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send auth: %w", err)
	}

	go c.writePump()
	go c.readPump()

	return c, nil
}

// Conn WebSocket 连接封装
type Conn struct {
	ws     *websocket.Conn
	logger *zap.Logger

	events chan protocol.Event

	// 写操作互斥 (gorilla 只允许一个并发写者)
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(ws *websocket.Conn, logger *zap.Logger) *Conn {
	return &Conn{
		ws:     ws,
		logger: logger,
		events: make(chan protocol.Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// Events 实现 protocol.Conn
func (c *Conn) Events() <-chan protocol.Event {
	return c.events
}

// Send 发送一行聊天
func (c *Conn) Send(text string) error {
	select {
	case <-c.done:
		return protocol.ErrClosed
	default:
	}
	return c.writeFrame(&Frame{Type: FrameChat, Text: text})
}

// Close 关闭连接，幂等
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

func (c *Conn) writeFrame(f *Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return protocol.ErrClosed
		}
		return err
	}
	return nil
}

// emit 投递事件；连接被本地关闭后直接丢弃
func (c *Conn) emit(ev protocol.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// readPump 读取循环，唯一的事件写者
func (c *Conn) readPump() {
	defer close(c.events)
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.emit(protocol.Event{Type: protocol.EventDisconnected, Reason: closeReason(err)})
			return
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			c.logger.Warn("Failed to parse frame", zap.Error(err))
			continue
		}

		switch frame.Type {
		case FrameReady:
			if !c.emit(protocol.Event{Type: protocol.EventReady}) {
				return
			}
		case FrameChat:
			if !c.emit(protocol.Event{Type: protocol.EventChat, Text: frame.Text}) {
				return
			}
		case FrameKick:
			reason := frame.Reason
			if reason == "" {
				reason = "kicked"
			}
			c.emit(protocol.Event{Type: protocol.EventDisconnected, Reason: reason})
			return
		default:
			c.logger.Debug("Ignoring frame", zap.String("type", string(frame.Type)))
		}
	}
}

// writePump 心跳循环
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("Ping failed", zap.Error(err))
				return
			}
		case <-c.done:
			return
		}
	}
}

// closeReason 提取断开原因，优先使用关闭帧中的文本
func closeReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Text != "" {
			return ce.Text
		}
		return fmt.Sprintf("connection closed (%d)", ce.Code)
	}
	return err.Error()
}

var _ protocol.Dialer = (*Dialer)(nil)
var _ protocol.Conn = (*Conn)(nil)
