package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/xhad/sheetqa/internal/models"
	"github.com/xhad/sheetqa/internal/types"
	"github.com/xhad/sheetqa/pkg/llm"
	"github.com/xhad/sheetqa/pkg/report"
)

const (
	TypeAsk      = "ask"
	TypeStream   = "stream"
	TypeStep     = "step"
	TypeResponse = "response"
	TypeDone     = "done"
	TypeError    = "error"
	TypeTooBig   = "too_big"

	ModeStream = "stream"
	ModeRefine = "refine"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Request is sent by the client to ask a question about a spreadsheet.
// UploadHTML carries the uploaded document itself; clients cannot name
// files or URLs for the server to read.
type Request struct {
	Type        string `json:"type"`
	Spreadsheet string `json:"spreadsheet"`
	Question    string `json:"question"`
	UploadHTML  string `json:"upload_html,omitempty"`
	Mode        string `json:"mode,omitempty"`
}

type Message struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Content   string      `json:"content"`
	Data      interface{} `json:"data,omitempty"`
}

type Config struct {
	Addr        string
	RateLimit   float64 // admitted requests per second
	Burst       int
	DefaultMode string

	// MaxMessageBytes bounds a single client frame, uploads included.
	MaxMessageBytes int64
}

type WSServer struct {
	config   Config
	answerer types.Answerer
	loader   types.SpreadsheetLoader
	splitter types.Splitter
	headers  types.HeaderExtractor
	limiter  *rate.Limiter
	router   chi.Router
}

func NewWSServer(config Config, answerer types.Answerer, loader types.SpreadsheetLoader, splitter types.Splitter, headers types.HeaderExtractor) *WSServer {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.RateLimit == 0 {
		config.RateLimit = 1
	}
	if config.Burst == 0 {
		config.Burst = 4
	}
	if config.DefaultMode == "" {
		config.DefaultMode = ModeStream
	}
	if config.MaxMessageBytes == 0 {
		config.MaxMessageBytes = 33 << 20
	}

	s := &WSServer{
		config:   config,
		answerer: answerer,
		loader:   loader,
		splitter: splitter,
		headers:  headers,
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
	}
	s.setupRoutes()
	return s
}

func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *WSServer) ListenAndServe() error {
	log.Printf("Starting WebSocket server on %s", s.config.Addr)
	return http.ListenAndServe(s.config.Addr, s)
}

func (s *WSServer) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", s.handleHealth)
	r.Get("/api/spreadsheets", s.handleSpreadsheets)
	r.Get("/ws", s.handleWebSocket)

	s.router = r
}

func (s *WSServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *WSServer) handleSpreadsheets(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{
		"spreadsheets": s.loader.Keys(),
	})
}

// wsConn serializes writes; gorilla connections allow a single writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.config.MaxMessageBytes)

	// Requests in flight are abandoned when the client goes away.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &wsConn{conn: conn}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Error reading message: %v", err)
			}
			cancel()
			break
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			client.send(Message{Type: TypeError, Content: "malformed request"})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleRequest(ctx, client, req)
		}()
	}
}

func (s *WSServer) handleRequest(ctx context.Context, client *wsConn, req Request) {
	requestID := uuid.NewString()

	if req.Type != TypeAsk {
		client.send(Message{Type: TypeError, RequestID: requestID, Content: fmt.Sprintf("unknown message type %q", req.Type)})
		return
	}
	if !s.limiter.Allow() {
		client.send(Message{Type: TypeError, RequestID: requestID, Content: "too many requests, try again shortly"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		client.send(Message{Type: TypeError, RequestID: requestID, Content: "question is required"})
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = s.config.DefaultMode
	}

	log.Printf("request %s: %s question about %q", requestID, mode, req.Spreadsheet)

	sheet, err := s.loader.LoadHTML(ctx, req.Spreadsheet, req.UploadHTML)
	if err != nil {
		client.send(Message{Type: TypeError, RequestID: requestID, Content: err.Error()})
		return
	}

	switch mode {
	case ModeStream:
		err = s.stream(ctx, client, requestID, sheet, req.Question)
	case ModeRefine:
		err = s.refine(ctx, client, requestID, sheet, req.Question)
	default:
		err = fmt.Errorf("unknown mode %q", mode)
	}

	if err != nil {
		if errors.Is(err, llm.ErrBudgetExceeded) {
			client.send(Message{Type: TypeTooBig, RequestID: requestID, Content: err.Error()})
			return
		}
		log.Printf("request %s: %v", requestID, err)
		client.send(Message{Type: TypeError, RequestID: requestID, Content: err.Error()})
	}
}

func (s *WSServer) stream(ctx context.Context, client *wsConn, requestID string, sheet *models.Spreadsheet, question string) error {
	updates, err := s.answerer.ChatStream(ctx, sheet.HTML, question)
	if err != nil {
		return err
	}

	var answer string
	for update := range updates {
		if update.Done {
			if update.Status == models.StreamCompleted {
				s.sendAnswer(client, requestID, answer, nil)
			}
			client.send(Message{
				Type:      TypeDone,
				RequestID: requestID,
				Data:      map[string]string{"status": update.Status.String()},
			})
			continue
		}

		answer = update.Text
		client.send(Message{
			Type:      TypeStream,
			RequestID: requestID,
			Content:   update.Delta,
			Data:      map[string]int{"attempt": update.Attempt},
		})
	}
	return nil
}

func (s *WSServer) refine(ctx context.Context, client *wsConn, requestID string, sheet *models.Spreadsheet, question string) error {
	headers, err := s.headers(sheet.HTML)
	if err != nil {
		return err
	}
	chunks, err := s.splitter.Process(sheet.HTML)
	if err != nil {
		return err
	}

	result, err := s.answerer.Refine(ctx, chunks, headers, question, func(step, total int, answer string) {
		client.send(Message{
			Type:      TypeStep,
			RequestID: requestID,
			Content:   answer,
			Data:      map[string]int{"step": step + 1, "total": total},
		})
	})
	if err != nil {
		return err
	}

	s.sendAnswer(client, requestID, result.Answer, map[string]interface{}{
		"chain": result.Chain,
		"diffs": report.ChainDiff(result.Chain),
	})
	client.send(Message{
		Type:      TypeDone,
		RequestID: requestID,
		Data:      map[string]string{"status": models.StreamCompleted.String()},
	})
	return nil
}

func (s *WSServer) sendAnswer(client *wsConn, requestID, answer string, extra map[string]interface{}) {
	data := map[string]interface{}{}
	for k, v := range extra {
		data[k] = v
	}
	if rendered, err := report.RenderMarkdown(answer); err == nil {
		data["html"] = rendered
	} else {
		log.Printf("request %s: failed to render answer: %v", requestID, err)
	}

	client.send(Message{
		Type:      TypeResponse,
		RequestID: requestID,
		Content:   answer,
		Data:      data,
	})
}
