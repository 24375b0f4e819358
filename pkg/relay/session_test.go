package relay

import (
	"context"
	"testing"
	"time"

	"github.com/HMasataka/relay/internal/eventbus"
	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/pkg/domain"
	"github.com/HMasataka/relay/pkg/domain/domaintest"
	"github.com/HMasataka/relay/pkg/registry"
	"github.com/HMasataka/relay/pkg/transport/protocol"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	reg *registry.Registry
	hub *Hub
	bus *eventbus.InMemoryBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New()
	bus := eventbus.NewInMemoryBus(64)
	bus.Start(context.Background())
	t.Cleanup(bus.Stop)
	return &fixture{reg: reg, hub: newTestHub(t, reg), bus: bus}
}

func (f *fixture) open(t *testing.T) (*Session, *domaintest.Peer) {
	t.Helper()
	peer := domaintest.NewPeer()
	s := NewSession(peer, f.reg, f.hub, SessionOptions{
		Logger:   logging.Discard(),
		EventBus: f.bus,
		Clock:    fixedClock,
	})
	s.Open()
	return s, peer
}

func (f *fixture) capture(eventType eventbus.EventType) <-chan *eventbus.Event {
	ch := make(chan *eventbus.Event, 16)
	f.bus.Subscribe(eventType, func(e *eventbus.Event) { ch <- e })
	return ch
}

func send(t *testing.T, s *Session, raw string) {
	t.Helper()
	require.NoError(t, s.HandleMessage([]byte(raw)))
}

func TestSession_RegisterAnnouncesArrival(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	joined := f.capture(eventbus.EventMemberJoined)

	alice, alicePeer := f.open(t)
	send(t, alice, `{"type":"register","author":"alice"}`)

	events := alicePeer.WaitEvents(2, waitTimeout)
	req.Len(events, 2)
	req.Equal(domain.NewConnected("alice", fixedTime), events[0])
	req.Equal(domain.EventTypeParticipants, events[1].Type)
	req.Equal([]string{"alice"}, events[1].Participants)
	req.Equal(StateRegistered, alice.State())
	req.Equal("alice", alice.Name())

	select {
	case e := <-joined:
		req.Equal(eventbus.EventMemberJoined, e.Type)
	case <-time.After(waitTimeout):
		t.Fatal("member.joined not published")
	}
}

func TestSession_SecondParticipantSeenByBoth(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	alice, alicePeer := f.open(t)
	send(t, alice, `{"type":"register","author":"alice"}`)
	req.Len(alicePeer.WaitEvents(2, waitTimeout), 2)

	bob, bobPeer := f.open(t)
	send(t, bob, `{"type":"register","author":"bob"}`)

	aliceEvents := alicePeer.WaitEvents(4, waitTimeout)
	req.Len(aliceEvents, 4)
	req.Equal(domain.NewConnected("bob", fixedTime), aliceEvents[2])
	req.Equal([]string{"alice", "bob"}, aliceEvents[3].Participants)

	bobEvents := bobPeer.WaitEvents(2, waitTimeout)
	req.Len(bobEvents, 2)
	req.Equal(domain.NewConnected("bob", fixedTime), bobEvents[0])
	req.Equal([]string{"alice", "bob"}, bobEvents[1].Participants)
}

func TestSession_DuplicateNameRejected(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	rejected := f.capture(eventbus.EventMemberRejected)

	alice, alicePeer := f.open(t)
	send(t, alice, `{"type":"register","author":"alice"}`)
	req.Len(alicePeer.WaitEvents(2, waitTimeout), 2)

	impostor, impostorPeer := f.open(t)
	send(t, impostor, `{"type":"register","author":"alice"}`)

	req.Equal([]domaintest.CloseFrame{{Code: 4000, Reason: "Username already in use."}}, impostorPeer.Closes())
	req.Equal(StateClosed, impostor.State())
	req.Equal([]string{"alice"}, f.reg.ListNames())
	req.Equal(1, f.reg.Len())

	select {
	case <-rejected:
	case <-time.After(waitTimeout):
		t.Fatal("member.rejected not published")
	}

	// The next thing alice sees is her own message, nothing about the impostor
	send(t, alice, `{"type":"message","text":"still here"}`)
	events := alicePeer.WaitEvents(3, waitTimeout)
	req.Len(events, 3)
	req.Equal("still here", events[2].Text)
	req.Empty(impostorPeer.Events())

	// Closing the rejected session announces nothing
	req.NoError(impostor.Close(context.Background()))
	send(t, alice, `{"type":"message","text":"again"}`)
	events = alicePeer.WaitEvents(4, waitTimeout)
	req.Len(events, 4)
	req.Equal("again", events[3].Text)
}

func TestSession_MessageUsesRegisteredName(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	alice, alicePeer := f.open(t)
	send(t, alice, `{"type":"register","author":"alice"}`)
	_, lurkerPeer := f.open(t)
	req.Len(alicePeer.WaitEvents(2, waitTimeout), 2)

	send(t, alice, `{"type":"message","author":"mallory","text":"hi"}`)

	want := domain.NewChatMessage("alice", "hi", fixedTime)
	events := alicePeer.WaitEvents(3, waitTimeout)
	req.Len(events, 3)
	req.Equal(want, events[2])

	lurkerEvents := lurkerPeer.WaitEvents(1, waitTimeout)
	req.Contains(lurkerEvents, want)
}

func TestSession_DisconnectAnnouncesDeparture(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	left := f.capture(eventbus.EventMemberLeft)

	alice, alicePeer := f.open(t)
	send(t, alice, `{"type":"register","author":"alice"}`)
	bob, _ := f.open(t)
	send(t, bob, `{"type":"register","author":"bob"}`)
	req.Len(alicePeer.WaitEvents(4, waitTimeout), 4)

	req.NoError(bob.Close(context.Background()))
	req.NoError(bob.Close(context.Background()))

	events := alicePeer.WaitEvents(6, waitTimeout)
	req.Len(events, 6)
	req.Equal(domain.NewDisconnected("bob", fixedTime), events[4])
	req.Equal([]string{"alice"}, events[5].Participants)
	req.Equal([]string{"alice"}, f.reg.ListNames())
	req.Equal(StateClosed, bob.State())

	select {
	case e := <-left:
		req.Equal("bob", e.Data.(map[string]any)["name"])
	case <-time.After(waitTimeout):
		t.Fatal("member.left not published")
	}

	// A second Close leaves no extra events behind
	send(t, alice, `{"type":"message","text":"bye"}`)
	events = alicePeer.WaitEvents(7, waitTimeout)
	req.Len(events, 7)
	req.Equal("bye", events[6].Text)
}

func TestSession_AnonymousCloseIsSilent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	alice, alicePeer := f.open(t)
	send(t, alice, `{"type":"register","author":"alice"}`)
	req.Len(alicePeer.WaitEvents(2, waitTimeout), 2)

	lurker, _ := f.open(t)
	req.NoError(lurker.Close(context.Background()))
	req.Equal(1, f.reg.Len())

	send(t, alice, `{"type":"message","text":"ping"}`)
	events := alicePeer.WaitEvents(3, waitTimeout)
	req.Len(events, 3)
	req.Equal("ping", events[2].Text)
}

func TestSession_MalformedEventsAreDropped(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	malformed := f.capture(eventbus.EventMalformed)

	s, peer := f.open(t)
	for _, raw := range []string{
		`not json`,
		`{"author":"alice"}`,
		`{"type":"register"}`,
		`{"type":"message","text":""}`,
		`{"type":"participants","participants":[]}`,
	} {
		send(t, s, raw)
	}

	req.Equal(StateAnonymous, s.State())
	req.Empty(peer.Closes())

	for i := 0; i < 5; i++ {
		select {
		case <-malformed:
		case <-time.After(waitTimeout):
			t.Fatalf("event.malformed %d not published", i)
		}
	}

	// Still able to register afterwards
	send(t, s, `{"type":"register","author":"alice"}`)
	req.Equal(StateRegistered, s.State())
}

func TestSession_MessageBeforeRegisterDropped(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	anon, anonPeer := f.open(t)
	send(t, anon, `{"type":"message","text":"hello?"}`)

	send(t, anon, `{"type":"register","author":"late"}`)
	events := anonPeer.WaitEvents(2, waitTimeout)
	req.Len(events, 2)
	req.Equal(domain.EventTypeConnected, events[0].Type)
}

func TestSession_RepeatedRegisterIgnored(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	s, peer := f.open(t)
	send(t, s, `{"type":"register","author":"alice"}`)
	send(t, s, `{"type":"register","author":"alicia"}`)

	req.Equal("alice", s.Name())
	req.Equal([]string{"alice"}, f.reg.ListNames())

	send(t, s, `{"type":"message","text":"x"}`)
	events := peer.WaitEvents(3, waitTimeout)
	req.Len(events, 3)
	req.Equal(domain.NewChatMessage("alice", "x", fixedTime), events[2])
}

func TestSession_RecoversFromHandlerPanic(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	s, _ := f.open(t)
	s.router.Register(domain.EventTypeMessage, protocol.HandlerFunc(func(context.Context, domain.Inbound) error {
		panic("kaboom")
	}))

	err := s.HandleMessage([]byte(`{"type":"message","text":"x"}`))
	req.Error(err)
	req.Contains(err.Error(), "HANDLER_PANIC")

	send(t, s, `{"type":"register","author":"alice"}`)
	req.Equal(StateRegistered, s.State())
}
