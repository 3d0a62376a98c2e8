package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiclient "github.com/dkeye/teamroom/internal/adapters/api"
	"github.com/dkeye/teamroom/internal/adapters/store"
	"github.com/dkeye/teamroom/internal/core"
	"github.com/dkeye/teamroom/internal/domain"
	"github.com/dkeye/teamroom/internal/payload"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	m       *Manager
	api     *fakeAPI
	dialer  *fakeDialer
	store   *store.MemoryStore
	notices *notices
}

func newHarness(t *testing.T, api *fakeAPI) *harness {
	t.Helper()
	h := &harness{
		api:     api,
		dialer:  &fakeDialer{},
		store:   store.NewMemoryStore(),
		notices: &notices{},
	}
	h.m = NewManager(api, h.dialer, h.store, fakeAuth{user: &domain.User{ID: "u1", Username: "me"}}, Options{
		PollInterval: 10 * time.Millisecond,
		LeaveGuard:   100 * time.Millisecond,
		Notify:       h.notices.add,
	})
	t.Cleanup(h.m.Close)
	require.NoError(t, h.m.Start(context.Background()))
	return h
}

func (h *harness) stored(t *testing.T) *domain.RoomSnapshot {
	t.Helper()
	r, err := h.store.Load(context.Background())
	require.NoError(t, err)
	return r
}

// matched drives the harness into a matched room r1 with members u1 and u9.
func (h *harness) matched(t *testing.T, members ...payload.Member) {
	t.Helper()
	if members == nil {
		members = []payload.Member{member("u1", "me"), member("u9", "User u9")}
	}
	h.api.mu.Lock()
	h.api.join = func(context.Context) (*payload.Room, error) {
		r := roomWith("r1", "u1", members...)
		r.RoomID = "r1"
		return r, nil
	}
	h.api.mu.Unlock()
	require.NoError(t, h.m.StartMatchmaking(context.Background()))
	require.Eventually(t, func() bool { return h.m.ChannelStatus() == core.ChannelOpen }, waitFor, tick)
}

func TestStart_Unauthenticated(t *testing.T) {
	m := NewManager(&fakeAPI{}, &fakeDialer{}, store.NewMemoryStore(), fakeAuth{}, Options{})
	defer m.Close()

	require.NoError(t, m.Start(context.Background()))
	assert.Nil(t, m.Me())
	assert.ErrorIs(t, m.StartMatchmaking(context.Background()), core.ErrUnauthenticated)
}

func TestStartMatchmaking_ImmediateMatchSkipsFetch(t *testing.T) {
	h := newHarness(t, &fakeAPI{})
	h.matched(t)

	v := h.m.View()
	assert.Equal(t, StateMatched, v.State)
	assert.True(t, v.NewMatch)
	require.NotNil(t, v.Room)
	assert.Equal(t, domain.RoomID("r1"), v.Room.ID)
	assert.Len(t, v.Room.Members, 2)
	assert.Zero(t, h.api.getRoomCalls.Load(), "members were embedded")
	assert.Equal(t, v.Room, h.stored(t))
	assert.Contains(t, h.notices.kinds(), NoticeTeamFormed)

	h.m.AcknowledgeMatch()
	assert.False(t, h.m.View().NewMatch)
}

func TestStartMatchmaking_MatchWithoutMembersFetchesOnce(t *testing.T) {
	api := &fakeAPI{
		join: func(context.Context) (*payload.Room, error) {
			return &payload.Room{Status: payload.StatusMatched, RoomID: "r1"}, nil
		},
		getRoom: func(_ context.Context, id domain.RoomID) (*payload.Room, error) {
			return roomWith(string(id), "u2", member("u2", "bob"), member("u1", "me")), nil
		},
	}
	h := newHarness(t, api)

	require.NoError(t, h.m.StartMatchmaking(context.Background()))
	assert.Equal(t, int32(1), api.getRoomCalls.Load())
	assert.Equal(t, StateMatched, h.m.State())
	assert.Equal(t, domain.UserID("u2"), h.m.View().Room.LeaderID)
}

func TestStartMatchmaking_JoinFailure(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"server detail", &statusErr{code: http.StatusBadRequest, detail: "Already in queue"}, "Already in queue"},
		{"no detail", errors.New("connection refused"), "Matchmaking failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{join: func(context.Context) (*payload.Room, error) { return nil, tt.err }}
			h := newHarness(t, api)

			err := h.m.StartMatchmaking(context.Background())
			var ae *ActionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.reason, ae.Error())
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, StateIdle, h.m.State())
		})
	}
}

func TestStartMatchmaking_RejectsWhenBusy(t *testing.T) {
	h := newHarness(t, &fakeAPI{})
	require.NoError(t, h.m.StartMatchmaking(context.Background()))
	assert.ErrorIs(t, h.m.StartMatchmaking(context.Background()), ErrNotIdle)
}

func TestPolling_StatusMatch(t *testing.T) {
	api := &fakeAPI{
		join: func(context.Context) (*payload.Room, error) { return waiting("queue 1/2"), nil },
		getRoom: func(_ context.Context, id domain.RoomID) (*payload.Room, error) {
			return roomWith(string(id), "u1", member("u1", "me"), member("u2", "bob")), nil
		},
	}
	h := newHarness(t, api)

	require.NoError(t, h.m.StartMatchmaking(context.Background()))
	assert.Equal(t, StateSearching, h.m.State())
	assert.Contains(t, h.notices.kinds(), NoticeWaiting)

	api.setStatus(func(context.Context) (*payload.Room, error) {
		return &payload.Room{Status: payload.StatusMatched, RoomID: "r1"}, nil
	})
	require.Eventually(t, func() bool { return h.m.ChannelStatus() == core.ChannelOpen }, waitFor, tick)

	assert.Equal(t, StateMatched, h.m.State())
	assert.Equal(t, int32(1), api.getRoomCalls.Load())
	ch := h.dialer.last()
	assert.Equal(t, domain.RoomID("r1"), ch.room)
	assert.Equal(t, "tok", ch.token)
	assert.Equal(t, 1, h.dialer.count())

	time.Sleep(30 * time.Millisecond)
	calls := api.statusCalls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, api.statusCalls.Load(), "polling stops once matched")
}

func TestPolling_MyRoomAndScanFallbacks(t *testing.T) {
	t.Run("my room", func(t *testing.T) {
		api := &fakeAPI{
			myRoom: func(context.Context) (*payload.Room, error) {
				return roomWith("r2", "u3", member("u3", "carol"), member("u1", "me")), nil
			},
		}
		h := newHarness(t, api)
		require.NoError(t, h.m.StartMatchmaking(context.Background()))
		require.Eventually(t, func() bool { return h.m.State() == StateMatched }, waitFor, tick)
		assert.Equal(t, domain.RoomID("r2"), h.m.View().Room.ID)
	})

	t.Run("scan skips ended and foreign rooms", func(t *testing.T) {
		api := &fakeAPI{
			listRooms: func(context.Context) ([]payload.Room, error) {
				ended := roomWith("old", "u1", member("u1", "me"))
				ended.Status = "ended"
				return []payload.Room{
					*ended,
					*roomWith("other", "u7", member("u7", "x")),
					{ID: "r3", LeaderID: "u4", Members: []payload.Member{{ID: "u4"}, {ID: "u1"}}},
				}, nil
			},
		}
		h := newHarness(t, api)
		require.NoError(t, h.m.StartMatchmaking(context.Background()))
		require.Eventually(t, func() bool { return h.m.State() == StateMatched }, waitFor, tick)
		assert.Equal(t, domain.RoomID("r3"), h.m.View().Room.ID)
	})
}

func TestPolling_UnauthorizedStops(t *testing.T) {
	api := &fakeAPI{
		status: func(context.Context) (*payload.Room, error) {
			return nil, &statusErr{code: http.StatusUnauthorized}
		},
	}
	h := newHarness(t, api)

	require.NoError(t, h.m.StartMatchmaking(context.Background()))
	require.Eventually(t, func() bool { return h.m.State() == StateIdle }, waitFor, tick)
	assert.Contains(t, h.notices.kinds(), NoticeFailure)

	calls := api.statusCalls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, api.statusCalls.Load()-calls, int32(1))
}

func TestCancel_DuringJoin(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	api := &fakeAPI{
		join: func(context.Context) (*payload.Room, error) {
			close(entered)
			<-release
			r := roomWith("r1", "u1", member("u1", "me"))
			r.RoomID = "r1"
			return r, nil
		},
	}
	h := newHarness(t, api)

	done := make(chan error, 1)
	go func() { done <- h.m.StartMatchmaking(context.Background()) }()
	<-entered
	h.m.CancelMatchmaking(context.Background())
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, h.m.State())
	assert.Nil(t, h.m.View().Room)
	assert.Nil(t, h.stored(t))
	assert.Zero(t, h.dialer.count())
	assert.Equal(t, int32(1), api.leaveQueue.Load())
}

func TestCancel_StalePollIgnored(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	api := &fakeAPI{}
	api.setStatus(func(context.Context) (*payload.Room, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return &payload.Room{Status: payload.StatusMatched, RoomID: "r1"}, nil
	})
	api.getRoom = func(_ context.Context, id domain.RoomID) (*payload.Room, error) {
		return roomWith(string(id), "u1", member("u1", "me")), nil
	}
	h := newHarness(t, api)

	require.NoError(t, h.m.StartMatchmaking(context.Background()))
	<-entered
	h.m.CancelMatchmaking(context.Background())
	close(release)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateIdle, h.m.State())
	assert.Nil(t, h.stored(t))
	assert.Zero(t, h.dialer.count())
}

func TestResolveMatch_OncePerAttempt(t *testing.T) {
	h := newHarness(t, &fakeAPI{})
	h.m.opts.PollInterval = time.Hour
	require.NoError(t, h.m.StartMatchmaking(context.Background()))

	h.m.mu.Lock()
	a := h.m.attempt
	h.m.mu.Unlock()

	room := *roomWith("r1", "u1", member("u1", "me"))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.m.resolveMatch(a, room)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return h.dialer.count() > 0 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.dialer.count())
	kinds := h.notices.kinds()
	formed := 0
	for _, k := range kinds {
		if k == NoticeTeamFormed {
			formed++
		}
	}
	assert.Equal(t, 1, formed)
}

func TestHydrate_RefetchesUntilSelfPresent(t *testing.T) {
	calls := 0
	api := &fakeAPI{
		join: func(context.Context) (*payload.Room, error) {
			r := roomWith("r1", "u2", member("u2", "bob"))
			r.RoomID = "r1"
			return r, nil
		},
		getRoom: func(_ context.Context, id domain.RoomID) (*payload.Room, error) {
			calls++
			return roomWith(string(id), "u2", member("u2", "bob"), member("u1", "me")), nil
		},
	}
	h := newHarness(t, api)

	require.NoError(t, h.m.StartMatchmaking(context.Background()))
	assert.Equal(t, 1, calls)
	assert.True(t, h.m.View().Room.HasMember("u1"))
}

func TestHydrate_IncompleteRoomResets(t *testing.T) {
	api := &fakeAPI{
		join: func(context.Context) (*payload.Room, error) {
			return &payload.Room{Status: payload.StatusMatched, RoomID: "r1"}, nil
		},
		getRoom: func(_ context.Context, id domain.RoomID) (*payload.Room, error) {
			return roomWith(string(id), "u2", member("u2", "bob")), nil
		},
	}
	h := newHarness(t, api)

	err := h.m.StartMatchmaking(context.Background())
	require.ErrorIs(t, err, ErrIncompleteRoom)
	assert.Equal(t, int32(DefaultHydrateAttempts), api.getRoomCalls.Load())
	assert.Equal(t, StateIdle, h.m.State())
	assert.Nil(t, h.stored(t))
	assert.Zero(t, h.dialer.count())
}

func TestChat_HealsPlaceholderName(t *testing.T) {
	h := newHarness(t, &fakeAPI{})
	h.matched(t)

	h.dialer.last().events <- core.ChatEvent{UserID: "u9", Username: "alice", Text: "hi"}
	require.Eventually(t, func() bool { return len(h.m.View().Messages) == 1 }, waitFor, tick)

	v := h.m.View()
	msg := v.Messages[0]
	assert.Equal(t, domain.UserID("u9"), msg.UserID)
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, "hi", msg.Text)

	u9 := v.Room.Members[v.Room.MemberIndex("u9")]
	assert.Equal(t, "alice", u9.Username)
	assert.Equal(t, "alice", u9.Name)
	assert.Equal(t, "alice", h.stored(t).Members[1].Username)
}

func TestChat_KeepsRealNameAndOrdersIDs(t *testing.T) {
	h := newHarness(t, &fakeAPI{})
	h.matched(t)
	ch := h.dialer.last()

	for i := 0; i < 5; i++ {
		ch.events <- core.ChatEvent{UserID: "u1", Username: "someone-else", Text: strconv.Itoa(i)}
	}
	require.Eventually(t, func() bool { return len(h.m.View().Messages) == 5 }, waitFor, tick)

	v := h.m.View()
	for i := 1; i < len(v.Messages); i++ {
		assert.Greater(t, v.Messages[i].ID, v.Messages[i-1].ID)
		assert.Equal(t, strconv.Itoa(i), v.Messages[i].Text)
	}
	assert.Equal(t, "me", v.Room.Members[0].Username)
}

func TestUsersList_AdditiveMerge(t *testing.T) {
	h := newHarness(t, &fakeAPI{})
	h.matched(t)

	h.dialer.last().events <- core.UsersListEvent{Members: []domain.MemberUpdate{
		{ID: "u9", Username: "alice", Name: "Alice A", Role: "designer", AvatarURL: "http://a/p.png"},
		{ID: "u404", Username: "ghost"},
	}}
	require.Eventually(t, func() bool {
		r := h.m.View().Room
		return r.Members[r.MemberIndex("u9")].Name == "Alice A"
	}, waitFor, tick)

	r := h.m.View().Room
	require.Len(t, r.Members, 2, "absent members stay, unknown ids are not added")
	assert.Equal(t, domain.UserID("u1"), r.Members[0].ID)
	assert.Equal(t, "me", r.Members[0].Username)
	assert.Equal(t, "designer", r.Members[1].Role)
	assert.Equal(t, "http://a/p.png", r.Members[1].AvatarURL)
}

func TestSendMessage_RequiresOpenChannel(t *testing.T) {
	h := newHarness(t, &fakeAPI{})
	assert.False(t, h.m.SendMessage("nobody hears this"))

	h.matched(t)
	ch := h.dialer.last()
	assert.True(t, h.m.SendMessage(" hello "))
	assert.False(t, h.m.SendMessage("   "))

	ch.status.Store(int32(core.ChannelConnecting))
	assert.False(t, h.m.SendMessage("dropped"))
	assert.Equal(t, []string{"hello"}, ch.Sent())
}

func TestLeave_ErrorStillTearsDown(t *testing.T) {
	api := &fakeAPI{
		leaveRoom: func(context.Context, domain.RoomID) error {
			return &statusErr{code: http.StatusInternalServerError, detail: "boom"}
		},
	}
	h := newHarness(t, api)
	h.matched(t)
	ch := h.dialer.last()
	ch.events <- core.ChatEvent{UserID: "u1", Username: "me", Text: "bye"}
	require.Eventually(t, func() bool { return len(h.m.View().Messages) == 1 }, waitFor, tick)
	historyBefore := api.historyCalls.Load()

	h.m.Leave(context.Background())

	v := h.m.View()
	assert.Equal(t, StateIdle, v.State)
	assert.Nil(t, v.Room)
	assert.Empty(t, v.Messages)
	assert.Nil(t, h.stored(t))
	assert.Equal(t, core.ChannelClosed, ch.Status())
	assert.Equal(t, int32(1), api.leaveRoomCalls.Load())
	assert.Equal(t, historyBefore+1, api.historyCalls.Load())
}

func TestEndSession_FailureKeepsRoom(t *testing.T) {
	api := &fakeAPI{
		endRoom: func(context.Context) error {
			return &statusErr{code: http.StatusForbidden, detail: "Only the room leader can end the session"}
		},
	}
	h := newHarness(t, api)
	h.matched(t)

	err := h.m.EndSession(context.Background())
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "Only the room leader can end the session", ae.Error())
	assert.True(t, core.IsForbidden(err))

	v := h.m.View()
	assert.Equal(t, StateMatched, v.State)
	require.NotNil(t, v.Room)
	assert.Equal(t, domain.RoomID("r1"), v.Room.ID)
	assert.NotNil(t, h.stored(t))
	assert.Equal(t, core.ChannelOpen, h.m.ChannelStatus())
}

func TestEndSession_Success(t *testing.T) {
	h := newHarness(t, &fakeAPI{})
	h.matched(t)

	require.NoError(t, h.m.EndSession(context.Background()))
	assert.Equal(t, StateIdle, h.m.State())
	assert.Nil(t, h.stored(t))
	assert.ErrorIs(t, h.m.EndSession(context.Background()), core.ErrNoActiveRoom)
}

func TestRestore(t *testing.T) {
	saved := &domain.RoomSnapshot{ID: "r1", Status: domain.RoomActive}

	t.Run("reattaches without team formed notice", func(t *testing.T) {
		api := &fakeAPI{
			getRoom: func(_ context.Context, id domain.RoomID) (*payload.Room, error) {
				return roomWith(string(id), "u1", member("u1", "me"), member("u2", "bob")), nil
			},
		}
		st := store.NewMemoryStore()
		require.NoError(t, st.Save(context.Background(), saved))
		dialer := &fakeDialer{}
		n := &notices{}
		m := NewManager(api, dialer, st, fakeAuth{user: &domain.User{ID: "u1"}}, Options{Notify: n.add})
		defer m.Close()

		require.NoError(t, m.Start(context.Background()))
		v := m.View()
		assert.Equal(t, StateMatched, v.State)
		assert.False(t, v.NewMatch)
		assert.False(t, v.Reconnecting)
		assert.Len(t, v.Room.Members, 2)
		assert.NotContains(t, n.kinds(), NoticeTeamFormed)
		require.Eventually(t, func() bool { return dialer.count() == 1 }, waitFor, tick)
	})

	t.Run("failure clears slot silently", func(t *testing.T) {
		api := &fakeAPI{}
		st := store.NewMemoryStore()
		require.NoError(t, st.Save(context.Background(), saved))
		n := &notices{}
		m := NewManager(api, &fakeDialer{}, st, fakeAuth{user: &domain.User{ID: "u1"}}, Options{Notify: n.add})
		defer m.Close()

		require.NoError(t, m.Start(context.Background()))
		assert.Equal(t, StateIdle, m.State())
		assert.False(t, m.View().Reconnecting)
		got, _ := st.Load(context.Background())
		assert.Nil(t, got)
		assert.Empty(t, n.kinds())
	})

	t.Run("ended room is not restored", func(t *testing.T) {
		api := &fakeAPI{
			getRoom: func(_ context.Context, id domain.RoomID) (*payload.Room, error) {
				r := roomWith(string(id), "u1", member("u1", "me"))
				r.Status = "ended"
				return r, nil
			},
		}
		st := store.NewMemoryStore()
		require.NoError(t, st.Save(context.Background(), saved))
		m := NewManager(api, &fakeDialer{}, st, fakeAuth{user: &domain.User{ID: "u1"}}, Options{})
		defer m.Close()

		require.NoError(t, m.Start(context.Background()))
		assert.Equal(t, StateIdle, m.State())
		got, _ := st.Load(context.Background())
		assert.Nil(t, got)
	})
}

func TestRestore_SuppressedRightAfterLeave(t *testing.T) {
	api := &fakeAPI{
		getRoom: func(_ context.Context, id domain.RoomID) (*payload.Room, error) {
			return roomWith(string(id), "u1", member("u1", "me")), nil
		},
	}
	h := newHarness(t, api)
	h.matched(t)
	h.m.Leave(context.Background())

	require.NoError(t, h.store.Save(context.Background(), &domain.RoomSnapshot{ID: "r1"}))
	before := api.getRoomCalls.Load()
	h.m.Restore(context.Background())
	assert.Equal(t, before, api.getRoomCalls.Load())
	assert.Equal(t, StateIdle, h.m.State())

	time.Sleep(h.m.opts.LeaveGuard + 20*time.Millisecond)
	h.m.Restore(context.Background())
	assert.Equal(t, StateMatched, h.m.State())
}

func TestRefreshHistory(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		history: func(context.Context) ([]payload.History, error) {
			var out []payload.History
			for i := 0; i < 12; i++ {
				out = append(out, payload.History{
					ID:        payload.ID(strconv.Itoa(i)),
					RoomID:    "r",
					Action:    "left",
					CreatedAt: base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
				})
			}
			return out, nil
		},
	}
	h := newHarness(t, api)

	got := h.m.RefreshHistory(context.Background())
	require.Len(t, got, DefaultHistoryLimit)
	assert.Equal(t, "11", got[0].ID)
	assert.Equal(t, "left", got[0].Summary)
	assert.Equal(t, "2", got[len(got)-1].ID)

	api.mu.Lock()
	api.history = func(context.Context) ([]payload.History, error) { return nil, errors.New("down") }
	api.mu.Unlock()
	assert.Empty(t, h.m.RefreshHistory(context.Background()))
	assert.Empty(t, h.m.View().History)
}

func TestStartMatchmaking_NonObjectAckStartsPolling(t *testing.T) {
	for _, body := range []string{`"queued"`, `[]`, `true`} {
		t.Run(body, func(t *testing.T) {
			var statusHits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/matchmaking/join":
					_, _ = w.Write([]byte(body))
				case "/matchmaking/status":
					statusHits.Add(1)
					_, _ = w.Write([]byte(body))
				case "/rooms/":
					_, _ = w.Write([]byte(`[]`))
				default:
					w.WriteHeader(http.StatusNotFound)
				}
			}))
			defer srv.Close()

			n := &notices{}
			m := NewManager(apiclient.New(srv.URL, "tok", srv.Client()), &fakeDialer{}, store.NewMemoryStore(),
				fakeAuth{user: &domain.User{ID: "u1"}}, Options{PollInterval: 10 * time.Millisecond, Notify: n.add})
			defer m.Close()
			require.NoError(t, m.Start(context.Background()))

			require.NoError(t, m.StartMatchmaking(context.Background()))
			assert.Equal(t, StateSearching, m.State())
			assert.Contains(t, n.kinds(), NoticeSearching)
			require.Eventually(t, func() bool { return statusHits.Load() >= 2 }, waitFor, tick)
			assert.Equal(t, StateSearching, m.State())
		})
	}
}

func TestHydrate_NewAttemptNotTiedToCancelledFetch(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	api := &fakeAPI{
		join: func(context.Context) (*payload.Room, error) {
			return &payload.Room{Status: payload.StatusMatched, RoomID: "r1"}, nil
		},
		getRoom: func(ctx context.Context, id domain.RoomID) (*payload.Room, error) {
			if calls.Add(1) == 1 {
				<-release
				return nil, ctx.Err()
			}
			return roomWith(string(id), "u1", member("u1", "me")), nil
		},
	}
	h := newHarness(t, api)

	first := make(chan error, 1)
	go func() { first <- h.m.StartMatchmaking(context.Background()) }()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)

	h.m.Leave(context.Background())
	require.Equal(t, StateIdle, h.m.State())

	require.NoError(t, h.m.StartMatchmaking(context.Background()))
	assert.Equal(t, StateMatched, h.m.State())
	assert.Equal(t, int32(2), calls.Load())

	close(release)
	require.Error(t, <-first)
	v := h.m.View()
	assert.Equal(t, StateMatched, v.State)
	require.NotNil(t, v.Room)
	assert.Equal(t, domain.RoomID("r1"), v.Room.ID)
}

func TestRestore_ReconnectingWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	api := &fakeAPI{
		getRoom: func(_ context.Context, id domain.RoomID) (*payload.Room, error) {
			<-release
			return roomWith(string(id), "u1", member("u1", "me")), nil
		},
	}
	st := store.NewMemoryStore()
	require.NoError(t, st.Save(context.Background(), &domain.RoomSnapshot{ID: "r1", Status: domain.RoomActive}))
	m := NewManager(api, &fakeDialer{}, st, fakeAuth{user: &domain.User{ID: "u1"}}, Options{})
	defer m.Close()

	started := make(chan error, 1)
	go func() { started <- m.Start(context.Background()) }()

	require.Eventually(t, func() bool { return m.View().Reconnecting }, waitFor, tick)
	assert.Equal(t, StateIdle, m.State())

	close(release)
	require.NoError(t, <-started)
	v := m.View()
	assert.False(t, v.Reconnecting)
	assert.Equal(t, StateMatched, v.State)
}

func TestEndSession_ForbiddenWithoutDetail(t *testing.T) {
	api := &fakeAPI{
		endRoom: func(context.Context) error { return &statusErr{code: http.StatusForbidden} },
	}
	h := newHarness(t, api)
	h.matched(t)

	err := h.m.EndSession(context.Background())
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "Only the room leader can end the session", ae.Reason)
	assert.Equal(t, StateMatched, h.m.State())

	api.mu.Lock()
	api.endRoom = func(context.Context) error { return errors.New("connection reset") }
	api.mu.Unlock()
	require.ErrorAs(t, h.m.EndSession(context.Background()), &ae)
	assert.Equal(t, "Failed to end session", ae.Reason)
}
