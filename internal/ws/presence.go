package ws

import "sync"

// Presence 是进程内的在线注册表：userID 与活跃会话的双向映射。
// 一个用户可以有多台设备同时在线。只有网关的连接/断开处理改写它，
// 进程重启后从空重建——重启前在线的用户一律视为离线，直到重连。
// 多实例部署时这里是需要换成共享存储 + 发布订阅的接缝。
type Presence struct {
	mu        sync.RWMutex
	byUser    map[uint]map[string]*Session
	bySession map[string]uint
}

func NewPresence() *Presence {
	return &Presence{
		byUser:    make(map[uint]map[string]*Session),
		bySession: make(map[string]uint),
	}
}

// Register 登记一个已认证的会话，返回该用户此前是否离线
// （即这是不是他的第一条连接）。
func (p *Presence) Register(sess *Session) (cameOnline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sessions := p.byUser[sess.userID]
	if sessions == nil {
		sessions = make(map[string]*Session)
		p.byUser[sess.userID] = sessions
		cameOnline = true
	}
	sessions[sess.id] = sess
	p.bySession[sess.id] = sess.userID
	return cameOnline
}

// Unregister 注销会话，返回所属用户以及他是否因此完全离线。
func (p *Presence) Unregister(sessionID string) (userID uint, wentOffline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	userID, ok := p.bySession[sessionID]
	if !ok {
		return 0, false
	}
	delete(p.bySession, sessionID)
	sessions := p.byUser[userID]
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(p.byUser, userID)
		return userID, true
	}
	return userID, false
}

// SessionsFor 返回用户当前的全部活跃会话，离线返回空切片。
func (p *Presence) SessionsFor(userID uint) []*Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sessions := p.byUser[userID]
	out := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s)
	}
	return out
}

func (p *Presence) IsOnline(userID uint) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byUser[userID]) > 0
}

// OnlineCount 当前在线用户数（非连接数）。
func (p *Presence) OnlineCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byUser)
}
