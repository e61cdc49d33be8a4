package messenger

import (
	"sync"

	"edchat/internal/app/message"
)

// SubscriptionState is the state of a Subscription.
type SubscriptionState int

const (
	Unsubscribed SubscriptionState = iota
	Subscribed
)

func (s SubscriptionState) String() string {
	if s == Subscribed {
		return "subscribed"
	}
	return "unsubscribed"
}

// handlerSlot is where a Subscription installs its push handler. Connection
// implements it with a single slot, so at most one handler is ever active.
type handlerSlot interface {
	SetMessageHandler(h func(message.Message))
}

// Subscription routes pushed messages from the selected partner to a sink
// and drops everything else.
//
// Transitions: Unsubscribed -Subscribe(P)-> Subscribed(P);
// Subscribed(P) -Subscribe(P')-> Subscribed(P'); any -Unsubscribe-> Unsubscribed.
// A switch swaps the handler in one step, so no push falls between two
// partners.
type Subscription struct {
	mu      sync.Mutex
	slot    handlerSlot
	state   SubscriptionState
	partner string

	// sink receives accepted messages, under mu.
	sink func(message.Message)

	// onSwitch runs under mu whenever the partner changes, before any
	// message for the new partner can reach sink.
	onSwitch func(partnerID string)
}

// NewSubscription returns an Unsubscribed Subscription over slot.
func NewSubscription(slot handlerSlot, sink func(message.Message), onSwitch func(partnerID string)) *Subscription {
	return &Subscription{slot: slot, sink: sink, onSwitch: onSwitch}
}

// Subscribe starts routing pushes from partnerID, replacing any previous partner.
func (s *Subscription) Subscribe(partnerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = Subscribed
	s.partner = partnerID
	if s.onSwitch != nil {
		s.onSwitch(partnerID)
	}
	s.slot.SetMessageHandler(s.deliver)
}

// Unsubscribe removes the handler. Safe to call in any state.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = Unsubscribed
	s.partner = ""
	s.slot.SetMessageHandler(nil)
}

// State returns the current state and, when Subscribed, the partner id.
func (s *Subscription) State() (SubscriptionState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.partner
}

func (s *Subscription) deliver(m message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Subscribed || m.SenderID != s.partner {
		return
	}
	s.sink(m)
}
