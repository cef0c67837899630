package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"solvbot-go/internal/market"
)

// SolanaWS streams slot notifications from a Solana RPC websocket. Each
// slot boundary is emitted as a BookDelta carrying only the slot number;
// the executor uses it as its re-price trigger while top-of-book prices
// arrive from the depth feed.
type SolanaWS struct {
	url    string
	symbol string
}

// NewSolanaWS targets the given RPC websocket endpoint.
func NewSolanaWS(url, symbol string) *SolanaWS {
	return &SolanaWS{url: url, symbol: symbol}
}

func (s *SolanaWS) Name() string { return "solana_ws" }

// Interval is the nominal slot time, used only to size gap markers.
func (s *SolanaWS) Interval() time.Duration { return 400 * time.Millisecond }

func (s *SolanaWS) Open(ctx context.Context) (Session, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial solana ws: %w", err)
	}

	sub := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "slotSubscribe"}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("slot subscribe: %w", err)
	}

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	sess := &solanaSession{conn: conn, symbol: s.symbol, done: make(chan struct{})}
	go sess.pingLoop()
	return sess, nil
}

type solanaSession struct {
	conn   *websocket.Conn
	symbol string
	done   chan struct{}
}

type slotNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Slot uint64 `json:"slot"`
		} `json:"result"`
	} `json:"params"`
}

func (s *solanaSession) Recv(ctx context.Context) (market.Event, error) {
	for {
		if ctx.Err() != nil {
			return market.Event{}, ctx.Err()
		}
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			return market.Event{}, err
		}
		var note slotNotification
		if err := json.Unmarshal(message, &note); err != nil {
			continue // subscription ack or unrelated frame
		}
		if note.Method != "slotNotification" {
			continue
		}
		slot := note.Params.Result.Slot
		return market.Event{
			Seq:  slot,
			Ts:   time.Now().UTC(),
			Kind: market.KindBookDelta,
			BookDelta: &market.BookDelta{
				Symbol: s.symbol,
				Slot:   slot,
			},
		}, nil
	}
}

func (s *solanaSession) pingLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *solanaSession) Close() error {
	close(s.done)
	return s.conn.Close()
}
