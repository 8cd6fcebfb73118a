package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrSendQueueFull は接続の送信キューが満杯でフレームを積めなかったことを表す。
	ErrSendQueueFull = errors.New("send queue full")
	// ErrMemberClosed は接続が既に閉じていることを表す。
	ErrMemberClosed = errors.New("member closed")
)

// Member はHubに参加してフレームを受け取れる接続。
type Member interface {
	// Deliver はエンコード済みのフレームを送信キューに積む。ブロックしてはならない。
	// 積めなかった場合はErrSendQueueFullかErrMemberClosedを返す。
	Deliver(frame []byte) error
	// Close は接続を閉じる。複数回呼ばれてもよい。
	Close()
}

// GroupName はユーザーIDから接続グループ名を導出する。
func GroupName(userID string) string {
	return fmt.Sprintf("user_%s", userID)
}

// Hub はグループ名ごとの生存接続の集合を管理する。
// 複数のセッションとリクエストハンドラから並行に呼び出される。
type Hub struct {
	// mu はgroupsを保護する。送信はロックの外で行う。
	mu sync.RWMutex
	// groups はグループ名から参加中の接続集合への対応。空になったグループは削除する。
	groups map[string]map[Member]struct{}
	// log はロガー。
	log zerolog.Logger
}

// NewHub は空のHubを生成する。
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		groups: make(map[string]map[Member]struct{}),
		log:    log,
	}
}

// Join は接続をグループに追加する。既に参加済みなら何もしない。
func (h *Hub) Join(group string, m Member) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		members = make(map[Member]struct{})
		h.groups[group] = members
	}
	members[m] = struct{}{}
}

// Leave は接続をグループから外す。参加していなければ何もしない。
func (h *Hub) Leave(group string, m Member) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, m)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// Delivery はSendToGroupの配送結果。
type Delivery struct {
	// Members は送信時点の参加接続数。
	Members int
	// Delivered は送信キューに積めた接続数。
	Delivered int
	// Full は送信キューが満杯で破棄した接続数。
	Full int
	// Closed は送信時点で既に閉じていた接続数。
	Closed int
}

// SendToGroup はイベントを1回だけエンコードし、送信時点でグループに参加している全接続に配る。
// 参加者がいない場合は何もしない。
func (h *Hub) SendToGroup(group string, event any) (Delivery, error) {
	members := h.snapshot(group)
	d := Delivery{Members: len(members)}
	if len(members) == 0 {
		return d, nil
	}

	frame, err := json.Marshal(event)
	if err != nil {
		return d, fmt.Errorf("イベントのシリアライズに失敗: %w", err)
	}

	for _, m := range members {
		err := m.Deliver(frame)
		switch {
		case err == nil:
			d.Delivered++
		case errors.Is(err, ErrMemberClosed):
			// Leaveとの競合。閉じた接続は自身でグループから外れる
			d.Closed++
			h.log.Debug().Str("group", group).Msg("閉じた接続への配送をスキップしました")
		default:
			d.Full++
			h.log.Warn().Err(err).Str("group", group).Msg("送信キューが満杯のためフレームを破棄しました")
		}
	}
	return d, nil
}

// snapshot はグループの参加者をコピーして返す。
func (h *Hub) snapshot(group string) []Member {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.groups[group]
	if len(members) == 0 {
		return nil
	}
	out := make([]Member, 0, len(members))
	for m := range members {
		out = append(out, m)
	}
	return out
}

// Members はグループの参加接続数を返す。
func (h *Hub) Members(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Stats はグループ数と接続数の合計を返す。
func (h *Hub) Stats() (groups, connections int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, members := range h.groups {
		connections += len(members)
	}
	return len(h.groups), connections
}

// CloseAll は全接続を閉じる。シャットダウン時に使う。
// 各接続は自身のクローズ処理でLeaveを呼ぶため、ここではロックを保持したままCloseしない。
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []Member
	for _, members := range h.groups {
		for m := range members {
			all = append(all, m)
		}
	}
	h.mu.RUnlock()

	for _, m := range all {
		m.Close()
	}
}
