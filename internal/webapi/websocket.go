package webapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/cryguy/jshost/internal/core"
)

const websocketJS = `
(function() {
var sockets = {};

function WebSocket(url, protocols) {
	if (!(this instanceof WebSocket)) throw new TypeError("Constructor WebSocket requires 'new'");
	if (typeof protocols === 'string') protocols = [protocols];
	this.url = String(url);
	this.protocol = '';
	this.readyState = WebSocket.CONNECTING;
	this.binaryType = 'arraybuffer';
	this.onopen = null;
	this.onmessage = null;
	this.onerror = null;
	this.onclose = null;
	this._listeners = {};
	this._id = __wsConnect(this.url, JSON.stringify(protocols || []));
	sockets[this._id] = this;
}
WebSocket.CONNECTING = 0;
WebSocket.OPEN = 1;
WebSocket.CLOSING = 2;
WebSocket.CLOSED = 3;

WebSocket.prototype.addEventListener = function(type, fn) {
	(this._listeners[type] = this._listeners[type] || []).push(fn);
};
WebSocket.prototype.removeEventListener = function(type, fn) {
	var l = this._listeners[type];
	if (!l) return;
	var i = l.indexOf(fn);
	if (i >= 0) l.splice(i, 1);
};
WebSocket.prototype._emit = function(type, ev) {
	ev.type = type;
	ev.target = this;
	var h = this['on' + type];
	if (typeof h === 'function') h.call(this, ev);
	var l = (this._listeners[type] || []).slice();
	for (var i = 0; i < l.length; i++) l[i].call(this, ev);
};
WebSocket.prototype.send = function(data) {
	if (this.readyState !== WebSocket.OPEN) throw new Error('WebSocket is not open');
	if (typeof data === 'string') __wsSend(this._id, __utf8ToHex(data), false);
	else __wsSend(this._id, __bytesToHex(__toBytes(data)), true);
};
WebSocket.prototype.close = function(code, reason) {
	if (this.readyState === WebSocket.CLOSING || this.readyState === WebSocket.CLOSED) return;
	this.readyState = WebSocket.CLOSING;
	__wsClose(this._id, code === undefined ? 1000 : code, reason === undefined ? '' : String(reason));
};

globalThis.__wsEvent = function(id, type, payload) {
	var ws = sockets[id];
	if (!ws) return;
	switch (type) {
	case 'open':
		ws.readyState = WebSocket.OPEN;
		ws.protocol = payload.protocol || '';
		ws._emit('open', {});
		break;
	case 'message':
		var data = payload.binary ? __hexToBytes(payload.data).buffer : payload.data;
		ws._emit('message', { data: data });
		break;
	case 'error':
		ws._emit('error', { message: payload.message });
		break;
	case 'close':
		delete sockets[id];
		ws.readyState = WebSocket.CLOSED;
		ws._emit('close', { code: payload.code, reason: payload.reason, wasClean: payload.wasClean });
		break;
	}
};

globalThis.WebSocket = WebSocket;
})();
`

// wsSendQueue bounds the number of outgoing frames buffered per socket.
const wsSendQueue = 64

type wsFrame struct {
	typ  websocket.MessageType
	data []byte
}

type wsConn struct {
	conn *websocket.Conn
	out  chan wsFrame
}

// Sockets is the WebSocket bridge. A socket id stays in Registry.Sockets
// from connect until its close event has been delivered.
type Sockets struct {
	host      core.Host
	max       int
	readLimit int64

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conns  map[string]*wsConn
	closed bool
	wg     sync.WaitGroup
}

// NewSockets creates the socket subsystem.
func NewSockets(h core.Host) *Sockets {
	cfg := h.Config()
	ctx, cancel := context.WithCancel(context.Background())
	return &Sockets{
		host:      h,
		max:       cfg.MaxSockets,
		readLimit: int64(cfg.MaxResponseBytes),
		ctx:       ctx,
		cancel:    cancel,
		conns:     make(map[string]*wsConn),
	}
}

// Setup registers the socket bridge and the WebSocket global.
func (s *Sockets) Setup(rt core.JSRuntime) error {
	funcs := []struct {
		name string
		fn   any
	}{
		{"__wsConnect", s.connect},
		{"__wsSend", s.send},
		{"__wsClose", s.closeSocket},
	}
	for _, fn := range funcs {
		if err := rt.RegisterFunc(fn.name, fn.fn); err != nil {
			return fmt.Errorf("registering %s: %w", fn.name, err)
		}
	}
	return rt.Eval(websocketJS)
}

func (s *Sockets) connect(url, protocolsJSON string) (string, error) {
	var protocols []string
	if err := json.Unmarshal([]byte(protocolsJSON), &protocols); err != nil {
		return "", fmt.Errorf("WebSocket: invalid protocols")
	}

	reg := s.host.Registry().Sockets
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", errSubsystemClosed
	}
	if s.max > 0 && reg.Count() >= s.max {
		s.mu.Unlock()
		return "", fmt.Errorf("WebSocket: too many open sockets (max %d)", s.max)
	}
	id := ulid.Make().String()
	reg.Add(id)
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(id, url, protocols)
	return id, nil
}

// run owns one connection: dial, deliver open, pump messages until the
// connection ends, then deliver close and release the id.
func (s *Sockets) run(id, url string, protocols []string) {
	defer s.wg.Done()

	closeEvent := map[string]any{"code": int(websocket.StatusAbnormalClosure), "reason": "", "wasClean": false}
	defer func() {
		s.host.DispatchCompletion(func(rt core.JSRuntime) error {
			return rt.Eval(jsCall("__wsEvent", id, "close", closeEvent))
		}, func() {
			s.host.Registry().Sockets.Remove(id)
		})
	}()

	conn, _, err := websocket.Dial(s.ctx, url, &websocket.DialOptions{Subprotocols: protocols})
	if err != nil {
		s.emit(id, "error", map[string]any{"message": err.Error()})
		return
	}
	if s.readLimit > 0 {
		conn.SetReadLimit(s.readLimit)
	}

	c := &wsConn{conn: conn, out: make(chan wsFrame, wsSendQueue)}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.CloseNow()
		return
	}
	s.conns[id] = c
	s.mu.Unlock()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(c)
	}()
	defer func() {
		// send holds s.mu while queueing, so no frame can race the close.
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		close(c.out)
		<-writerDone
	}()

	s.emit(id, "open", map[string]any{"protocol": conn.Subprotocol()})

	for {
		typ, data, err := conn.Read(s.ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				var ce websocket.CloseError
				reason := ""
				if errors.As(err, &ce) {
					reason = ce.Reason
				}
				closeEvent = map[string]any{"code": int(status), "reason": reason, "wasClean": true}
			} else if s.ctx.Err() == nil {
				s.emit(id, "error", map[string]any{"message": err.Error()})
			}
			conn.CloseNow()
			return
		}
		if typ == websocket.MessageBinary {
			s.emit(id, "message", map[string]any{"data": hex.EncodeToString(data), "binary": true})
		} else {
			s.emit(id, "message", map[string]any{"data": string(data), "binary": false})
		}
	}
}

func (s *Sockets) writeLoop(c *wsConn) {
	for f := range c.out {
		if err := c.conn.Write(s.ctx, f.typ, f.data); err != nil {
			// The reader sees the broken connection and reports it.
			c.conn.CloseNow()
			for range c.out {
			}
			return
		}
	}
}

func (s *Sockets) emit(id, typ string, payload map[string]any) {
	s.host.DispatchAsync(func(rt core.JSRuntime) error {
		return rt.Eval(jsCall("__wsEvent", id, typ, payload))
	})
}

func (s *Sockets) send(id, dataHex string, binary bool) (int, error) {
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return 0, fmt.Errorf("WebSocket.send: invalid data")
	}
	typ := websocket.MessageText
	if binary {
		typ = websocket.MessageBinary
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return 0, fmt.Errorf("WebSocket.send: socket %s is not open", id)
	}
	select {
	case c.out <- wsFrame{typ: typ, data: data}:
		return len(data), nil
	default:
		return 0, fmt.Errorf("WebSocket.send: send queue full")
	}
}

func (s *Sockets) closeSocket(id string, code int, reason string) (int, error) {
	s.mu.Lock()
	c, ok := s.conns[id]
	s.mu.Unlock()
	if !ok {
		return 0, nil
	}
	// Close performs the closing handshake, which needs the reader running.
	go func() {
		_ = c.conn.Close(websocket.StatusCode(code), reason)
	}()
	return 1, nil
}

// Close aborts every connection and waits for the socket goroutines to hand
// off their close events. It is idempotent.
func (s *Sockets) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*wsConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.cancel()
	for _, c := range conns {
		c.conn.CloseNow()
	}
	s.wg.Wait()
	return nil
}
