// Package event defines the typed message union relayed between an upstream
// live session and its subscriber. Content payloads are opaque to the relay:
// only the kind is interpreted, the payload bytes pass through verbatim.
package event

import (
	"encoding/json"
	"time"
)

// Kind identifies a relayed message category.
type Kind string

// Lifecycle kinds emitted by the relay itself.
const (
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindStreamEnd    Kind = "streamEnd"
	KindStatistic    Kind = "statistic"
)

// Content kinds forwarded verbatim from the upstream session.
const (
	KindChat          Kind = "chat"
	KindGift          Kind = "gift"
	KindLike          Kind = "like"
	KindMember        Kind = "member"
	KindFollow        Kind = "follow"
	KindShare         Kind = "share"
	KindRoomUser      Kind = "roomUser"
	KindEmote         Kind = "emote"
	KindEnvelope      Kind = "envelope"
	KindSubscribe     Kind = "subscribe"
	KindQuestionNew   Kind = "questionNew"
	KindLinkMicBattle Kind = "linkMicBattle"
	KindLinkMicArmies Kind = "linkMicArmies"
	KindLiveIntro     Kind = "liveIntro"
)

// contentKinds is the fixed allowlist of upstream categories the relay forwards.
var contentKinds = map[Kind]struct{}{
	KindChat:          {},
	KindGift:          {},
	KindLike:          {},
	KindMember:        {},
	KindFollow:        {},
	KindShare:         {},
	KindRoomUser:      {},
	KindEmote:         {},
	KindEnvelope:      {},
	KindSubscribe:     {},
	KindQuestionNew:   {},
	KindLinkMicBattle: {},
	KindLinkMicArmies: {},
	KindLiveIntro:     {},
}

// ContentKind reports whether k is a forwardable upstream content category.
func ContentKind(k Kind) bool {
	_, ok := contentKinds[k]
	return ok
}

// Event is one relayed message.
type Event struct {
	Kind       Kind            `json:"event"`
	Room       string          `json:"room,omitempty"`
	Payload    json.RawMessage `json:"data,omitempty"`
	ReceivedAt time.Time       `json:"-"`
}

// ConnectedPayload is the payload of a KindConnected event.
type ConnectedPayload struct {
	RoomID              string `json:"roomId"`
	UpgradedToWebsocket bool   `json:"upgradedToWebsocket"`
}

// DisconnectedPayload is the payload of a KindDisconnected event.
type DisconnectedPayload struct {
	Reason string `json:"reason"`
}

// StatisticPayload is the payload of a KindStatistic event.
type StatisticPayload struct {
	GlobalConnectionCount int64 `json:"globalConnectionCount"`
}

// Connected builds a KindConnected event for a room.
func Connected(room string, upgraded bool) Event {
	payload, _ := json.Marshal(ConnectedPayload{RoomID: room, UpgradedToWebsocket: upgraded})
	return Event{Kind: KindConnected, Room: room, Payload: payload, ReceivedAt: time.Now()}
}

// Disconnected builds a KindDisconnected event carrying a reason string.
func Disconnected(room, reason string) Event {
	payload, _ := json.Marshal(DisconnectedPayload{Reason: reason})
	return Event{Kind: KindDisconnected, Room: room, Payload: payload, ReceivedAt: time.Now()}
}

// StreamEnd builds a KindStreamEnd event.
func StreamEnd(room string) Event {
	return Event{Kind: KindStreamEnd, Room: room, ReceivedAt: time.Now()}
}

// Statistic builds a KindStatistic event carrying the global connection count.
func Statistic(count int64) Event {
	payload, _ := json.Marshal(StatisticPayload{GlobalConnectionCount: count})
	return Event{Kind: KindStatistic, Payload: payload, ReceivedAt: time.Now()}
}
