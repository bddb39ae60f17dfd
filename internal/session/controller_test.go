package session_test

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tyrowin/pingspace/internal/chat"
	"github.com/Tyrowin/pingspace/internal/history"
	"github.com/Tyrowin/pingspace/internal/identity"
	"github.com/Tyrowin/pingspace/internal/mocks"
	"github.com/Tyrowin/pingspace/internal/session"
)

var (
	general = chat.RoomRef{RoomID: "1", RoomName: "general"}
	random  = chat.RoomRef{RoomID: "2", RoomName: "random"}
)

func mintToken(t *testing.T, userID, username string, issuedAt time.Time) string {
	t.Helper()
	claims := identity.Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  username,
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("session-test"))
	require.NoError(t, err)
	return token
}

func historyMsg(sender, content string) chat.Message {
	return chat.Message{Sender: sender, Content: content, Origin: chat.OriginHistory}
}

func liveMsg(sender, content string) chat.Message {
	return chat.Message{Sender: sender, Content: content, Origin: chat.OriginLive}
}

type harness struct {
	t       *testing.T
	ctrl    *session.Controller
	history *mocks.MockHistoryLoader
	opener  *spyOpener
	store   *identity.Store
}

func newHarness(t *testing.T, credential string) *harness {
	t.Helper()
	mockCtrl := gomock.NewController(t)

	h := &harness{
		t:       t,
		history: mocks.NewMockHistoryLoader(mockCtrl),
		opener:  newSpyOpener(),
		store:   identity.NewStore(credential),
	}
	c, err := session.New(session.Config{
		History:     h.history,
		Channels:    h.opener,
		Credentials: h.store,
		Logger:      slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	h.ctrl = c

	go c.Run(context.Background())
	t.Cleanup(func() { _ = c.Shutdown(2 * time.Second) })
	return h
}

func (h *harness) waitState(msg string, cond func(session.State) bool) session.State {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return cond(h.ctrl.State()) }, 2*time.Second, 5*time.Millisecond, msg)
	return h.ctrl.State()
}

func (h *harness) waitIdentity() {
	h.t.Helper()
	h.waitState("identity never resolved", func(s session.State) bool { return s.HasIdentity })
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	_, err := session.New(session.Config{
		History:     mocks.NewMockHistoryLoader(gomock.NewController(t)),
		Credentials: identity.NewStore(""),
	})
	assert.Error(t, err)
}

func TestScenarioHistoryThenLive(t *testing.T) {
	req := require.New(t)
	token := mintToken(t, "u-1", "alice", time.Now())
	h := newHarness(t, token)
	h.waitIdentity()

	h.history.EXPECT().LoadHistory(gomock.Any(), "1", token).
		Return([]chat.Message{historyMsg("a", "hi")}, nil)

	req.NoError(h.ctrl.SelectRoom(general))
	handle := h.opener.next(t)
	req.Equal("1", handle.roomID)
	req.Equal(token, handle.credential)
	req.Equal(identity.Identity{UserID: "u-1", DisplayName: "alice"}, handle.identity)

	h.waitState("history not loaded", func(s session.State) bool { return len(s.Messages) == 1 })
	state := h.ctrl.State()
	req.Equal(session.PhaseLoading, state.Phase)
	req.Equal(chat.Connecting, state.Connection)

	handle.open()
	h.waitState("never went live", func(s session.State) bool { return s.Phase == session.PhaseLive })

	handle.frame(`{"sender":"b","content":"yo"}`)
	state = h.waitState("live message missing", func(s session.State) bool { return len(s.Messages) == 2 })

	req.Equal([]chat.Message{historyMsg("a", "hi"), liveMsg("b", "yo")}, state.Messages)
	req.Equal(chat.Open, state.Connection)
	req.Equal(general, state.Room)
	req.True(state.HasRoom)
}

func TestLiveMessagesBeforeHistoryStayAfterIt(t *testing.T) {
	req := require.New(t)
	token := mintToken(t, "u-1", "alice", time.Now())
	h := newHarness(t, token)
	h.waitIdentity()

	release := make(chan struct{})
	h.history.EXPECT().LoadHistory(gomock.Any(), "1", token).
		DoAndReturn(func(context.Context, string, string) ([]chat.Message, error) {
			<-release
			return []chat.Message{historyMsg("a", "first"), historyMsg("b", "second")}, nil
		})

	req.NoError(h.ctrl.SelectRoom(general))
	handle := h.opener.next(t)
	handle.open()
	handle.frame(`{"sender":"c","content":"early"}`)
	h.waitState("early live message missing", func(s session.State) bool { return len(s.Messages) == 1 })

	close(release)
	state := h.waitState("history not merged", func(s session.State) bool { return len(s.Messages) == 3 })
	req.Equal([]chat.Message{
		historyMsg("a", "first"),
		historyMsg("b", "second"),
		liveMsg("c", "early"),
	}, state.Messages)
}

func TestScenarioStaleHistoryIsDiscarded(t *testing.T) {
	req := require.New(t)
	token := mintToken(t, "u-1", "alice", time.Now())
	h := newHarness(t, token)
	h.waitIdentity()

	release := make(chan struct{})
	h.history.EXPECT().LoadHistory(gomock.Any(), "1", token).
		DoAndReturn(func(context.Context, string, string) ([]chat.Message, error) {
			<-release
			return []chat.Message{historyMsg("old", "room one")}, nil
		})
	h.history.EXPECT().LoadHistory(gomock.Any(), "2", token).
		Return([]chat.Message{historyMsg("new", "room two")}, nil)

	req.NoError(h.ctrl.SelectRoom(general))
	first := h.opener.next(t)
	req.NoError(h.ctrl.SelectRoom(random))
	second := h.opener.next(t)

	req.True(first.isClosed(), "room 1 connection must be closed before room 2 opens")
	req.False(second.isClosed())

	h.waitState("room 2 history missing", func(s session.State) bool { return len(s.Messages) == 1 })
	close(release)

	req.Never(func() bool {
		s := h.ctrl.State()
		return len(s.Messages) != 1 || s.Messages[0].Sender != "new"
	}, 100*time.Millisecond, 5*time.Millisecond, "stale room 1 history leaked into room 2")
	req.Equal(random, h.ctrl.State().Room)
}

func TestEventsFromReplacedConnectionAreDropped(t *testing.T) {
	req := require.New(t)
	token := mintToken(t, "u-1", "alice", time.Now())
	h := newHarness(t, token)
	h.waitIdentity()
	h.history.EXPECT().LoadHistory(gomock.Any(), gomock.Any(), token).Return(nil, nil).AnyTimes()

	req.NoError(h.ctrl.SelectRoom(general))
	first := h.opener.next(t)
	req.NoError(h.ctrl.SelectRoom(random))
	second := h.opener.next(t)

	first.open()
	first.frame(`{"sender":"ghost","content":"from room 1"}`)
	second.frame(`{"sender":"b","content":"room 2"}`)

	state := h.waitState("room 2 message missing", func(s session.State) bool { return len(s.Messages) >= 1 })
	req.Equal([]chat.Message{liveMsg("b", "room 2")}, state.Messages)
	req.Equal(chat.Connecting, state.Connection)
	req.Equal(session.PhaseLoading, state.Phase)
}

func TestScenarioCloseWithoutError(t *testing.T) {
	req := require.New(t)
	token := mintToken(t, "u-1", "alice", time.Now())
	h := newHarness(t, token)
	h.waitIdentity()
	h.history.EXPECT().LoadHistory(gomock.Any(), "1", token).Return(nil, nil)

	req.NoError(h.ctrl.SelectRoom(general))
	handle := h.opener.next(t)
	handle.open()
	h.waitState("never opened", func(s session.State) bool { return s.Connection == chat.Open })

	handle.remoteClose()
	state := h.waitState("close not observed", func(s session.State) bool { return s.Connection == chat.Closed })
	req.Equal(session.PhaseLive, state.Phase)
	req.False(h.ctrl.Send("after close"))
	req.Empty(handle.sentFrames())
}

func TestErrorStatusSurvivesFollowingClose(t *testing.T) {
	req := require.New(t)
	token := mintToken(t, "u-1", "alice", time.Now())
	h := newHarness(t, token)
	h.waitIdentity()
	h.history.EXPECT().LoadHistory(gomock.Any(), "1", token).
		Return([]chat.Message{historyMsg("a", "hi")}, nil)

	req.NoError(h.ctrl.SelectRoom(general))
	handle := h.opener.next(t)
	handle.open()
	h.waitState("never opened", func(s session.State) bool { return s.Connection == chat.Open && len(s.Messages) == 1 })

	handle.fail(errors.New("connection reset"))
	h.waitState("error not observed", func(s session.State) bool { return s.Connection == chat.Errored })

	req.Never(func() bool { return h.ctrl.State().Connection != chat.Errored },
		50*time.Millisecond, 5*time.Millisecond)
	state := h.ctrl.State()
	req.Equal(session.PhaseLive, state.Phase)
	req.Equal([]chat.Message{historyMsg("a", "hi")}, state.Messages)
	req.Equal(1, h.opener.count(), "no reconnect after a drop")
}

func TestScenarioPlainTextFrame(t *testing.T) {
	req := require.New(t)
	token := mintToken(t, "u-1", "alice", time.Now())
	h := newHarness(t, token)
	h.waitIdentity()
	h.history.EXPECT().LoadHistory(gomock.Any(), "1", token).Return(nil, nil)

	req.NoError(h.ctrl.SelectRoom(general))
	handle := h.opener.next(t)
	handle.open()
	handle.frame("plain")
	handle.frame(`{"error":"You're sending messages too fast. Please slow down.","type":"rate_limit"}`)

	state := h.waitState("frames missing", func(s session.State) bool { return len(s.Messages) == 2 })
	req.Equal([]chat.Message{
		liveMsg("", "plain"),
		liveMsg("", "You're sending messages too fast. Please slow down."),
	}, state.Messages)
}

func TestHistoryFailureKeepsLog(t *testing.T) {
	req := require.New(t)
	token := mintToken(t, "u-1", "alice", time.Now())
	h := newHarness(t, token)
	h.waitIdentity()

	release := make(chan struct{})
	fetchErr := &history.FetchError{Kind: history.KindNotFound, RoomID: "1", StatusCode: 404}
	h.history.EXPECT().LoadHistory(gomock.Any(), "1", token).
		DoAndReturn(func(context.Context, string, string) ([]chat.Message, error) {
			<-release
			return nil, fetchErr
		})

	req.NoError(h.ctrl.SelectRoom(general))
	handle := h.opener.next(t)
	handle.open()
	handle.frame(`{"sender":"b","content":"yo"}`)
	h.waitState("live message missing", func(s session.State) bool { return len(s.Messages) == 1 })

	close(release)
	state := h.waitState("history error not surfaced", func(s session.State) bool { return s.HistoryErr != nil })
	req.True(history.IsKind(state.HistoryErr, history.KindNotFound))
	req.Equal([]chat.Message{liveMsg("b", "yo")}, state.Messages)
	req.Equal(chat.Open, state.Connection)
}

func TestSendOnlyTransmitsWhenOpen(t *testing.T) {
	req := require.New(t)
	token := mintToken(t, "u-1", "alice", time.Now())
	h := newHarness(t, token)
	h.waitIdentity()
	h.history.EXPECT().LoadHistory(gomock.Any(), "1", token).Return(nil, nil)

	req.False(h.ctrl.Send("no room yet"))

	req.NoError(h.ctrl.SelectRoom(general))
	handle := h.opener.next(t)
	req.False(h.ctrl.Send("still connecting"))

	handle.open()
	h.waitState("never opened", func(s session.State) bool { return s.Connection == chat.Open })
	req.True(h.ctrl.Send("hello"))
	req.Equal([]string{"hello"}, handle.sentFrames())

	handle.fail(errors.New("boom"))
	h.waitState("error not observed", func(s session.State) bool { return s.Connection == chat.Errored })
	req.False(h.ctrl.Send("after error"))
	req.Equal([]string{"hello"}, handle.sentFrames())
}

func TestSendNeverPanicsAfterShutdown(t *testing.T) {
	req := require.New(t)
	token := mintToken(t, "u-1", "alice", time.Now())
	h := newHarness(t, token)
	h.waitIdentity()
	h.history.EXPECT().LoadHistory(gomock.Any(), "1", token).Return(nil, nil)

	req.NoError(h.ctrl.SelectRoom(general))
	handle := h.opener.next(t)
	handle.open()
	h.waitState("never opened", func(s session.State) bool { return s.Connection == chat.Open })

	req.NoError(h.ctrl.Shutdown(2 * time.Second))
	req.True(handle.isClosed())

	req.NotPanics(func() { req.False(h.ctrl.Send("late")) })
	req.ErrorIs(h.ctrl.SelectRoom(general), session.ErrClosed)

	state := h.ctrl.State()
	req.Equal(session.PhaseClosed, state.Phase)
	req.Equal(chat.Closed, state.Connection)
}

func TestSelectRoomWithoutIdentity(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, "")

	err := h.ctrl.SelectRoom(general)
	req.ErrorIs(err, identity.ErrIdentityUnavailable)
	req.Zero(h.opener.count())

	state := h.ctrl.State()
	req.Equal(session.PhaseNoRoom, state.Phase)
	req.False(state.HasRoom)
	req.Equal(chat.Idle, state.Connection)
}

func TestSelectRoomRejectsEmptyRoomID(t *testing.T) {
	token := mintToken(t, "u-1", "alice", time.Now())
	h := newHarness(t, token)

	assert.Error(t, h.ctrl.SelectRoom(chat.RoomRef{RoomName: "nameless"}))
	assert.Zero(t, h.opener.count())
}

func TestReselectSameRoomRebuilds(t *testing.T) {
	req := require.New(t)
	token := mintToken(t, "u-1", "alice", time.Now())
	h := newHarness(t, token)
	h.waitIdentity()
	h.history.EXPECT().LoadHistory(gomock.Any(), "1", token).
		Return([]chat.Message{historyMsg("a", "hi")}, nil).Times(2)

	req.NoError(h.ctrl.SelectRoom(general))
	first := h.opener.next(t)
	first.open()
	first.frame(`{"sender":"b","content":"yo"}`)
	h.waitState("first session incomplete", func(s session.State) bool { return len(s.Messages) == 2 })

	req.NoError(h.ctrl.SelectRoom(general))
	second := h.opener.next(t)
	req.True(first.isClosed())

	state := h.waitState("rebuild did not reload history", func(s session.State) bool {
		return len(s.Messages) == 1 && s.Connection == chat.Connecting
	})
	req.Equal([]chat.Message{historyMsg("a", "hi")}, state.Messages)
	req.NotEqual(first.ID(), second.ID())
}

func TestIdentityLostLeavesRoom(t *testing.T) {
	req := require.New(t)
	token := mintToken(t, "u-1", "alice", time.Now())
	h := newHarness(t, token)
	h.waitIdentity()
	h.history.EXPECT().LoadHistory(gomock.Any(), "1", token).
		Return([]chat.Message{historyMsg("a", "hi")}, nil)

	req.NoError(h.ctrl.SelectRoom(general))
	handle := h.opener.next(t)
	handle.open()
	h.waitState("never live", func(s session.State) bool { return s.Phase == session.PhaseLive && len(s.Messages) == 1 })

	h.store.Clear()
	state := h.waitState("identity loss not applied", func(s session.State) bool { return !s.HasIdentity })
	req.Equal(session.PhaseNoRoom, state.Phase)
	req.False(state.HasRoom)
	req.Empty(state.Messages)
	req.Equal(chat.Idle, state.Connection)
	req.True(handle.isClosed())

	req.ErrorIs(h.ctrl.SelectRoom(general), identity.ErrIdentityUnavailable)
	req.Equal(1, h.opener.count())
}

func TestIdentityChangeRebuildsActiveRoom(t *testing.T) {
	req := require.New(t)
	aliceToken := mintToken(t, "u-1", "alice", time.Now())
	bobToken := mintToken(t, "u-2", "bob", time.Now())
	h := newHarness(t, aliceToken)
	h.waitIdentity()
	h.history.EXPECT().LoadHistory(gomock.Any(), "1", aliceToken).Return(nil, nil)
	h.history.EXPECT().LoadHistory(gomock.Any(), "1", bobToken).Return(nil, nil)

	req.NoError(h.ctrl.SelectRoom(general))
	first := h.opener.next(t)
	first.open()

	h.store.Set(bobToken)
	second := h.opener.next(t)
	req.True(first.isClosed())
	req.Equal("1", second.roomID)
	req.Equal(bobToken, second.credential)
	req.Equal("bob", second.identity.DisplayName)

	state := h.waitState("identity not updated", func(s session.State) bool { return s.Identity.UserID == "u-2" })
	req.Equal(general, state.Room)
	req.Equal(session.PhaseLoading, state.Phase)
}

func TestCredentialRefreshKeepsConnection(t *testing.T) {
	req := require.New(t)
	issued := time.Now()
	original := mintToken(t, "u-1", "alice", issued)
	refreshed := mintToken(t, "u-1", "alice", issued.Add(time.Hour))
	req.NotEqual(original, refreshed)

	h := newHarness(t, original)
	h.waitIdentity()
	h.history.EXPECT().LoadHistory(gomock.Any(), "1", original).Return(nil, nil)
	h.history.EXPECT().LoadHistory(gomock.Any(), "2", refreshed).Return(nil, nil)

	req.NoError(h.ctrl.SelectRoom(general))
	first := h.opener.next(t)
	first.open()
	h.waitState("never opened", func(s session.State) bool { return s.Connection == chat.Open })

	h.store.Set(refreshed)
	req.Never(func() bool { return h.opener.count() != 1 || first.isClosed() },
		100*time.Millisecond, 5*time.Millisecond, "refresh must not rebuild the connection")
	req.True(h.ctrl.Send("still here"))

	req.NoError(h.ctrl.SelectRoom(random))
	second := h.opener.next(t)
	req.Equal(refreshed, second.credential)
}

func TestAtMostOneOpenConnection(t *testing.T) {
	req := require.New(t)
	token := mintToken(t, "u-1", "alice", time.Now())
	h := newHarness(t, token)
	h.waitIdentity()
	h.history.EXPECT().LoadHistory(gomock.Any(), gomock.Any(), token).Return(nil, nil).AnyTimes()

	rooms := []chat.RoomRef{general, random, {RoomID: "3", RoomName: "music"}}
	rng := rand.New(rand.NewPCG(1, 2))
	const selections = 60
	for range selections {
		req.NoError(h.ctrl.SelectRoom(rooms[rng.IntN(len(rooms))]))
	}

	req.Equal(selections, h.opener.count())
	req.Zero(h.opener.overlaps())
	handles := h.opener.all()
	for _, handle := range handles[:len(handles)-1] {
		req.True(handle.isClosed(), "handle %s left open", handle.ID())
	}
	req.False(handles[len(handles)-1].isClosed())
}

func TestSubscribeNotifiesAndClosesOnShutdown(t *testing.T) {
	req := require.New(t)
	token := mintToken(t, "u-1", "alice", time.Now())
	h := newHarness(t, token)
	h.waitIdentity()
	h.history.EXPECT().LoadHistory(gomock.Any(), "1", token).Return(nil, nil)

	changes, cancel := h.ctrl.Subscribe()
	defer cancel()

	req.NoError(h.ctrl.SelectRoom(general))
	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		req.FailNow("no change notification after SelectRoom")
	}

	req.NoError(h.ctrl.Shutdown(2 * time.Second))
	req.Eventually(func() bool {
		select {
		case _, ok := <-changes:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestShutdownBeforeRun(t *testing.T) {
	c, err := session.New(session.Config{
		History:     mocks.NewMockHistoryLoader(gomock.NewController(t)),
		Channels:    newSpyOpener(),
		Credentials: identity.NewStore(""),
	})
	require.NoError(t, err)

	require.NoError(t, c.Shutdown(time.Second))
	require.Equal(t, session.PhaseClosed, c.State().Phase)
	require.ErrorIs(t, c.SelectRoom(general), session.ErrClosed)

	c.Run(context.Background())
}
