package telegram

import (
	"fmt"
	"strconv"
	"sync"

	"fmgram/pkg/fmgram"

	"github.com/gotd/td/tg"
)

// PeerCache stores Telegram input peers discovered from inbound updates so
// outbound dispatch can turn neutral conversations back into RPC peers.
//
// A nil *PeerCache ignores writes.
type PeerCache struct {
	mu             sync.RWMutex
	byConversation map[string]tg.InputPeerClass
}

// NewPeerCache creates an empty, concurrency-safe peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{byConversation: make(map[string]tg.InputPeerClass)}
}

// RememberEnvelope ingests the users and chats attached to one update envelope.
func (c *PeerCache) RememberEnvelope(envelope gotdUpdateEnvelope) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for userID, user := range envelope.usersByID {
		if user == nil {
			continue
		}
		if peer := user.AsInputPeer(); peer != nil {
			c.storeLocked(fmgram.ConversationTypePrivate, strconv.FormatInt(userID, 10), peer)
		}
	}
	for id, chat := range envelope.chatsByID {
		if chat.inputPeer != nil {
			c.storeLocked(chat.kind, strconv.FormatInt(id, 10), chat.inputPeer)
		}
	}
}

// RememberConversation stores one explicit conversation-to-peer mapping.
func (c *PeerCache) RememberConversation(chat ChatRef, peer tg.InputPeerClass) {
	if c == nil || peer == nil || chat.ID == "" || chat.ID == gotdUnknownConversationID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(chat.Type, chat.ID, peer)
}

// storeLocked also indexes supergroups under the channel key, since they
// surface as groups in events but use channel peers for RPC.
func (c *PeerCache) storeLocked(kind fmgram.ConversationType, id string, peer tg.InputPeerClass) {
	c.byConversation[conversationKey(kind, id)] = cloneInputPeer(peer)
	if kind != fmgram.ConversationTypeGroup {
		return
	}
	if _, isChannel := peer.(*tg.InputPeerChannel); isChannel {
		c.byConversation[conversationKey(fmgram.ConversationTypeChannel, id)] = cloneInputPeer(peer)
	}
}

// Resolve returns an input peer for an outbound target conversation.
func (c *PeerCache) Resolve(conversation fmgram.Conversation) (tg.InputPeerClass, error) {
	if c == nil {
		return nil, fmt.Errorf("resolve peer: nil cache")
	}
	if conversation.ID == "" || conversation.Type == "" {
		return nil, fmt.Errorf("resolve peer: invalid conversation")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if peer, ok := c.byConversation[conversationKey(conversation.Type, conversation.ID)]; ok {
		return cloneInputPeer(peer), nil
	}

	var alternate fmgram.ConversationType
	switch conversation.Type {
	case fmgram.ConversationTypeGroup:
		alternate = fmgram.ConversationTypeChannel
	case fmgram.ConversationTypeChannel:
		alternate = fmgram.ConversationTypeGroup
	}
	if alternate != "" {
		if peer, ok := c.byConversation[conversationKey(alternate, conversation.ID)]; ok {
			return cloneInputPeer(peer), nil
		}
	}

	return nil, fmt.Errorf("resolve peer: conversation %s/%s not found", conversation.Type, conversation.ID)
}

func conversationKey(conversationType fmgram.ConversationType, id string) string {
	return string(conversationType) + ":" + id
}

func cloneInputPeer(peer tg.InputPeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.InputPeerUser:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChat:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChannel:
		copyPeer := *typed
		return &copyPeer
	default:
		return peer
	}
}
