package ws

import (
	"sync"
	"sync/atomic"

	"github.com/mohitgusain8671/WanderSphere-Backend/internal/metrics"
)

// frame 是一次会话频道内的投递：载荷加上可选的排除对象
// （typing 之类的事件不回给发起者自己）。
type frame struct {
	data   []byte
	except *Session
}

// Hub 管理会话级别的事件频道，实现延迟创建与并发安全，
// 另维护全量在线会话集合供全局广播（上下线通知）使用。
type Hub struct {
	mu       sync.RWMutex
	channels map[uint]*ChatChannel
	sessions map[*Session]bool
}

func NewHub() *Hub {
	return &Hub{
		channels: make(map[uint]*ChatChannel),
		sessions: make(map[*Session]bool),
	}
}

// Channel 若频道未初始化则懒加载一个 ChatChannel。
func (h *Hub) Channel(chatID uint) *ChatChannel {
	h.mu.RLock()
	ch := h.channels[chatID]
	h.mu.RUnlock()
	if ch != nil {
		return ch
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ch = h.channels[chatID]
	if ch != nil {
		return ch
	}
	ch = NewChatChannel(chatID)
	h.channels[chatID] = ch
	go ch.run()
	return ch
}

// AddSession 把通过认证的会话纳入全局集合。
func (h *Hub) AddSession(s *Session) {
	h.mu.Lock()
	h.sessions[s] = true
	h.mu.Unlock()
	metrics.WsSessions.Inc()
}

func (h *Hub) RemoveSession(s *Session) {
	h.mu.Lock()
	if h.sessions[s] {
		delete(h.sessions, s)
		metrics.WsSessions.Dec()
	}
	h.mu.Unlock()
}

// BroadcastAll 向所有在线会话推送（可排除一个），用于
// user_status_changed 这类全局事件。
func (h *Hub) BroadcastAll(data []byte, except *Session) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		if s != except {
			s.trySend(data)
		}
	}
}

// Subscribers 返回频道当前订阅数，供指标与测试使用。
func (h *Hub) Subscribers(chatID uint) int {
	h.mu.RLock()
	ch := h.channels[chatID]
	h.mu.RUnlock()
	if ch == nil {
		return 0
	}
	return ch.Subscribers()
}

// ChatChannel 是单个会话的事件频道。所有投递经由 run 中的单个
// goroutine 串行处理，频道内事件因此保持网关处理顺序——这是
// 协议承诺的会话内有序性，跨频道不做任何保证。
type ChatChannel struct {
	chatID      uint
	sessions    map[*Session]bool
	subscribe   chan *Session
	unsubscribe chan *Session
	publish     chan frame
	subscribers int32
}

func NewChatChannel(chatID uint) *ChatChannel {
	return &ChatChannel{
		chatID:      chatID,
		sessions:    make(map[*Session]bool),
		subscribe:   make(chan *Session),
		unsubscribe: make(chan *Session),
		publish:     make(chan frame, 256),
	}
}

func (ch *ChatChannel) run() {
	for {
		select {
		case s := <-ch.subscribe:
			ch.sessions[s] = true
			atomic.StoreInt32(&ch.subscribers, int32(len(ch.sessions)))
		case s := <-ch.unsubscribe:
			if ch.sessions[s] {
				delete(ch.sessions, s)
				atomic.StoreInt32(&ch.subscribers, int32(len(ch.sessions)))
			}
		case f := <-ch.publish:
			for s := range ch.sessions {
				if s != f.except {
					// 慢消费者直接丢帧：实时事件只是尽力而为的
					// 通知层，漏掉的由 REST 历史兜底。
					s.trySend(f.data)
				}
			}
		}
	}
}

// Subscribe 把会话订阅到频道。
func (ch *ChatChannel) Subscribe(s *Session) { ch.subscribe <- s }

// Unsubscribe 把会话移出频道。
func (ch *ChatChannel) Unsubscribe(s *Session) { ch.unsubscribe <- s }

// Publish 向频道投递一帧，except 不为 nil 时跳过该会话。
func (ch *ChatChannel) Publish(data []byte, except *Session) {
	ch.publish <- frame{data: data, except: except}
}

// Subscribers 返回频道当前订阅数。
func (ch *ChatChannel) Subscribers() int { return int(atomic.LoadInt32(&ch.subscribers)) }
