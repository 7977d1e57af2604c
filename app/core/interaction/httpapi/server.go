package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"taskbot/app/pkg/types"

	"github.com/rs/cors"
)

const defaultResponseTimeout = 30 * time.Second

// Channel exposes the bot over plain HTTP. POST /api/message sends a
// command exactly as a chat message would and waits for the reply, so
// the same conversation flow works from curl or a web frontend.
type Channel struct {
	id              string
	addr            string
	server          *http.Server
	handler         func(types.Message)
	statusProvider  func(context.Context) map[string]interface{}
	responseTimeout time.Duration
	shutdownTimeout time.Duration

	pendingMu   sync.Mutex
	pending     map[string]chan types.Message
	counter     uint64
	startedUnix atomic.Int64
}

func NewChannel(addr string) *Channel {
	return &Channel{
		id:              "http",
		addr:            addr,
		pending:         map[string]chan types.Message{},
		responseTimeout: defaultResponseTimeout,
		shutdownTimeout: 5 * time.Second,
	}
}

func (c *Channel) ID() string {
	return c.id
}

// SetStatusProvider installs a callback whose result is embedded in
// GET /api/status responses.
func (c *Channel) SetStatusProvider(provider func(context.Context) map[string]interface{}) {
	c.statusProvider = provider
}

func (c *Channel) Start(ctx context.Context, handler func(types.Message)) error {
	c.handler = handler
	c.startedUnix.Store(time.Now().Unix())

	mux := http.NewServeMux()
	mux.HandleFunc("/api/message", c.handleMessage)
	mux.HandleFunc("/api/status", c.handleStatus)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	corsWrapper := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	c.server = &http.Server{
		Addr:    c.addr,
		Handler: corsWrapper.Handler(mux),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
		defer cancel()
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] Shutdown error: %v", err)
		}
	}()

	log.Printf("[HTTP] Listening on %s...", c.addr)
	if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Send completes the pending request that produced this reply. Replies
// with no waiting request, such as reminder notifications, have nowhere
// to go over plain HTTP and are logged instead of delivered.
func (c *Channel) Send(ctx context.Context, msg types.Message) error {
	requestID := strings.TrimSpace(msg.ReplyToID)
	if requestID == "" {
		log.Printf("[HTTP] Dropping message without a waiting request: %s", msg.Content)
		return nil
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[requestID]
	c.pendingMu.Unlock()
	if !ok {
		log.Printf("[HTTP] Pending request not found: %s", requestID)
		return nil
	}

	select {
	case ch <- msg:
	default:
	}
	return nil
}

type incomingRequest struct {
	Content   string `json:"content"`
	ChatID    string `json:"chat_id"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

type outgoingResponse struct {
	ChatID   string `json:"chat_id"`
	Response string `json:"response"`
}

type statusResponse struct {
	ChannelID       string                 `json:"channel_id"`
	PendingRequests int                    `json:"pending_requests"`
	StartedAt       string                 `json:"started_at,omitempty"`
	UptimeSec       int64                  `json:"uptime_sec"`
	Runtime         map[string]interface{} `json:"runtime,omitempty"`
}

func (c *Channel) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req incomingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ChatID) == "" {
		http.Error(w, "chat_id is required", http.StatusBadRequest)
		return
	}
	if c.handler == nil {
		http.Error(w, "channel not started", http.StatusServiceUnavailable)
		return
	}

	requestID := c.newRequestID()
	replyCh := make(chan types.Message, 1)
	c.pendingMu.Lock()
	c.pending[requestID] = replyCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
	}()

	c.handler(types.Message{
		ID:        requestID,
		Content:   req.Content,
		Role:      types.MessageRoleUser,
		ChannelID: c.id,
		ChatID:    strings.TrimSpace(req.ChatID),
		FirstName: strings.TrimSpace(req.FirstName),
		Username:  strings.TrimSpace(req.Username),
	})

	select {
	case reply := <-replyCh:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(outgoingResponse{
			ChatID:   reply.ChatID,
			Response: reply.Content,
		})
	case <-time.After(c.responseTimeout):
		http.Error(w, "timed out waiting for reply", http.StatusGatewayTimeout)
	case <-r.Context().Done():
	}
}

func (c *Channel) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c.pendingMu.Lock()
	pendingCount := len(c.pending)
	c.pendingMu.Unlock()

	status := statusResponse{
		ChannelID:       c.id,
		PendingRequests: pendingCount,
	}
	if started := c.startedUnix.Load(); started > 0 {
		startedAt := time.Unix(started, 0).UTC()
		status.StartedAt = startedAt.Format(time.RFC3339)
		status.UptimeSec = int64(time.Since(startedAt).Seconds())
	}
	if c.statusProvider != nil {
		status.Runtime = c.statusProvider(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (c *Channel) newRequestID() string {
	seq := atomic.AddUint64(&c.counter, 1)
	return fmt.Sprintf("http-%d-%d", time.Now().UnixNano(), seq)
}
