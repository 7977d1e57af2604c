package gateway

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"taskbot/app/pkg/types"
)

// DefaultGateway fans inbound messages from every registered channel into
// a single responder and delivers the replies back. All inbound traffic
// flows through one dispatch worker, so the responder and the store
// behind it never see two actions at once.
type DefaultGateway struct {
	responder types.Responder
	channels  map[string]types.Channel
	mu        sync.RWMutex

	inbound chan types.Message

	processedMessages uint64
	failedMessages    uint64
	deliveredNotices  uint64
	lastMessageUnix   atomic.Int64
	startedUnix       atomic.Int64
}

type HealthStatus struct {
	Started            bool
	StartedAt          time.Time
	RegisteredChannels []string
	ProcessedMessages  uint64
	FailedMessages     uint64
	DeliveredNotices   uint64
	PendingMessages    int
	LastMessageAt      time.Time
}

func NewGateway(responder types.Responder) *DefaultGateway {
	return &DefaultGateway{
		responder: responder,
		channels:  make(map[string]types.Channel),
		inbound:   make(chan types.Message, 64),
	}
}

func (g *DefaultGateway) RegisterChannel(c types.Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
	log.Printf("[Gateway] Registered channel: %s", c.ID())
}

// Start launches the dispatch worker and every registered channel, then
// blocks until all of them return, which normally happens when ctx is
// cancelled.
func (g *DefaultGateway) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	g.startedUnix.Store(time.Now().Unix())

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.dispatchLoop(ctx)
	}()

	handler := func(msg types.Message) {
		g.lastMessageUnix.Store(time.Now().Unix())
		log.Printf("[Gateway] Received message from channel=%s chat=%s", msg.ChannelID, msg.ChatID)
		select {
		case g.inbound <- msg:
		case <-ctx.Done():
		}
	}

	g.mu.RLock()
	for _, c := range g.channels {
		wg.Add(1)
		go func(ch types.Channel) {
			defer wg.Done()
			if err := ch.Start(ctx, handler); err != nil && ctx.Err() == nil {
				log.Printf("[Gateway] Channel %s error: %v", ch.ID(), err)
			}
		}(c)
	}
	g.mu.RUnlock()

	log.Println("[Gateway] Started all channels")
	wg.Wait()
	return nil
}

// dispatchLoop is the single writer: every inbound action from every
// channel is processed here, one at a time, in arrival order.
func (g *DefaultGateway) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-g.inbound:
			if err := g.processAndReply(ctx, msg); err != nil {
				atomic.AddUint64(&g.failedMessages, 1)
				log.Printf("[Gateway] Processing failed: %v", err)
				_ = g.sendErrorReply(ctx, msg, "Something went wrong, please try again.")
			}
			atomic.AddUint64(&g.processedMessages, 1)
		}
	}
}

func (g *DefaultGateway) processAndReply(ctx context.Context, msg types.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	response, err := g.responder.Handle(ctx, msg)
	if err != nil {
		return fmt.Errorf("handle message: %w", err)
	}
	if strings.TrimSpace(response.Content) == "" {
		return nil
	}

	channel, exists := g.channelByID(msg.ChannelID)
	if !exists {
		return fmt.Errorf("channel not found for reply: %s", msg.ChannelID)
	}

	normalizeReply(&response, msg)
	if err := channel.Send(ctx, response); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

func (g *DefaultGateway) sendErrorReply(ctx context.Context, msg types.Message, reason string) error {
	channel, exists := g.channelByID(msg.ChannelID)
	if !exists {
		return fmt.Errorf("channel not found for reply: %s", msg.ChannelID)
	}
	response := types.Message{
		ID:        "resp-" + msg.ID,
		Content:   reason,
		Role:      types.MessageRoleBot,
		ChannelID: msg.ChannelID,
		ChatID:    msg.ChatID,
		ReplyToID: msg.ID,
	}
	return channel.Send(ctx, response)
}

// Notify delivers an unsolicited message, such as a due reminder, to a
// chat on a specific channel. Best effort: the caller decides what a
// failure means.
func (g *DefaultGateway) Notify(ctx context.Context, channelID string, chatID string, text string) error {
	channelID = strings.TrimSpace(channelID)
	chatID = strings.TrimSpace(chatID)
	text = strings.TrimSpace(text)
	if channelID == "" {
		return fmt.Errorf("channel id is required")
	}
	if chatID == "" {
		return fmt.Errorf("chat id is required")
	}
	if text == "" {
		return fmt.Errorf("notification text is required")
	}

	channel, exists := g.channelByID(channelID)
	if !exists {
		return fmt.Errorf("channel not found: %s", channelID)
	}

	msg := types.Message{
		ID:        "notice-" + strconv.FormatInt(time.Now().UnixNano(), 10),
		Content:   text,
		Role:      types.MessageRoleBot,
		ChannelID: channelID,
		ChatID:    chatID,
	}
	if err := channel.Send(ctx, msg); err != nil {
		return err
	}
	atomic.AddUint64(&g.deliveredNotices, 1)
	return nil
}

func normalizeReply(response *types.Message, request types.Message) {
	if response.ID == "" {
		response.ID = "resp-" + request.ID
	}
	if response.ChannelID == "" {
		response.ChannelID = request.ChannelID
	}
	if response.Role == "" {
		response.Role = types.MessageRoleBot
	}
	if response.ChatID == "" {
		response.ChatID = request.ChatID
	}
	if response.ReplyToID == "" {
		response.ReplyToID = request.ID
	}
}

func (g *DefaultGateway) channelByID(channelID string) (types.Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	channel, exists := g.channels[channelID]
	return channel, exists
}

func (g *DefaultGateway) HealthStatus() HealthStatus {
	g.mu.RLock()
	channels := make([]string, 0, len(g.channels))
	for id := range g.channels {
		channels = append(channels, id)
	}
	g.mu.RUnlock()
	sort.Strings(channels)

	status := HealthStatus{
		RegisteredChannels: channels,
		ProcessedMessages:  atomic.LoadUint64(&g.processedMessages),
		FailedMessages:     atomic.LoadUint64(&g.failedMessages),
		DeliveredNotices:   atomic.LoadUint64(&g.deliveredNotices),
		PendingMessages:    len(g.inbound),
	}

	if started := g.startedUnix.Load(); started > 0 {
		status.Started = true
		status.StartedAt = time.Unix(started, 0).UTC()
	}
	if last := g.lastMessageUnix.Load(); last > 0 {
		status.LastMessageAt = time.Unix(last, 0).UTC()
	}

	return status
}
