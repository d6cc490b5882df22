package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/TrackBot/internal/models"
	"github.com/BearBump/TrackBot/internal/storage/memstate"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	watchermocks "github.com/BearBump/TrackBot/internal/services/watcher/mocks"
)

const chat = models.ChatID(42)

type rec struct {
	code string
	ts   int64
	desc string
}

func payload(recs ...rec) []byte {
	parts := make([]string, 0, len(recs))
	for _, r := range recs {
		parts = append(parts, fmt.Sprintf(`{"tracking_code":%q,"actual_time":%d,"milestone_code":5,"description":%q}`, r.code, r.ts, r.desc))
	}
	return []byte(`{"data":{"sls_tracking_info":{"sls_tn":"X","records":[` + strings.Join(parts, ",") + `]}}}`)
}

type WatcherSuite struct {
	suite.Suite

	repo    *memstate.Repo
	fetcher *watchermocks.MockFetcher
	sched   *watchermocks.MockScheduler
	sink    *watchermocks.MockSink
	svc     *Service
	ctx     context.Context
}

func (s *WatcherSuite) SetupTest() {
	s.ctx = context.Background()
	s.repo = memstate.New()
	s.fetcher = watchermocks.NewMockFetcher(s.T())
	s.sched = watchermocks.NewMockScheduler(s.T())
	s.sink = watchermocks.NewMockSink(s.T())
	s.sched.On("Len").Return(1).Maybe()
	s.svc = New(s.repo, s.fetcher, s.sched, s.sink, zerolog.Nop())
}

func (s *WatcherSuite) seed(interval int, subs ...models.Subscription) {
	st := models.NewChatState(chat, interval)
	st.Subscriptions = subs
	s.Require().NoError(s.repo.Put(s.ctx, st))
}

func (s *WatcherSuite) stored(code string) models.Subscription {
	st, ok, err := s.repo.Get(s.ctx, chat)
	s.Require().NoError(err)
	s.Require().True(ok)
	sub, found := st.Find(code)
	s.Require().True(found, "subscription %s", code)
	return *sub
}

func (s *WatcherSuite) TestAdd_ValidatesInput() {
	_, err := s.svc.Add(s.ctx, chat, "ABC123", "phone")
	s.Require().ErrorIs(err, models.ErrInvalidCode)

	_, err = s.svc.Add(s.ctx, chat, "SPXVN1", "   ")
	s.Require().Error(err)
	s.Require().Equal(models.KindValidation, models.KindOf(err))

	s.sched.AssertNotCalled(s.T(), "Ensure", mock.Anything, mock.Anything, mock.Anything)
}

func (s *WatcherSuite) TestAdd_PersistsSchedulesAndMarksLatest() {
	var job func(context.Context)
	s.sched.On("Ensure", chat, 5*time.Minute, mock.Anything).
		Run(func(args mock.Arguments) { job = args.Get(2).(func(context.Context)) }).
		Return(true).Once()
	s.fetcher.On("Fetch", mock.Anything, "SPXVN061").
		Return(payload(rec{"A", 100, "a"}, rec{"B", 150, "b"}), nil)

	res, err := s.svc.Add(s.ctx, chat, " spxvn061 ", " Tai nghe ")
	s.Require().NoError(err)
	s.Require().NoError(res.LookupErr)
	s.Require().Equal("SPXVN061", res.Lookup.Code)
	s.Require().Equal("Tai nghe", res.Lookup.Alias)
	s.Require().Equal(int64(150), res.Lookup.Latest.Timestamp)
	s.Require().Contains(res.Lookup.Notification(chat).Text, "<code>Tai nghe</code>")

	sub := s.stored("SPXVN061")
	s.Require().Equal(int64(150), sub.LastNotifiedTS)

	// the scheduled job ticks the chat; nothing new, nothing sent
	s.Require().NotNil(job)
	job(s.ctx)
	s.sink.AssertNotCalled(s.T(), "Notify", mock.Anything, mock.Anything)
}

func (s *WatcherSuite) TestAdd_Duplicate() {
	s.seed(5, models.Subscription{TrackingCode: "SPXVN1", Alias: "x"})

	_, err := s.svc.Add(s.ctx, chat, "SPXVN1", "y")
	s.Require().ErrorIs(err, models.ErrAlreadyWatched)
	s.Require().Equal("x", s.stored("SPXVN1").Alias)
}

func (s *WatcherSuite) TestAdd_LookupFailureKeepsSubscription() {
	s.sched.On("Ensure", chat, 5*time.Minute, mock.Anything).Return(true).Once()
	s.fetcher.On("Fetch", mock.Anything, "SPXVN1").Return(nil, models.Upstream("spx http 502", nil))

	res, err := s.svc.Add(s.ctx, chat, "SPXVN1", "x")
	s.Require().NoError(err)
	s.Require().Error(res.LookupErr)
	s.Require().Equal(models.KindUpstream, models.KindOf(res.LookupErr))
	s.Require().Zero(s.stored("SPXVN1").LastNotifiedTS)
}

func (s *WatcherSuite) TestAdd_ConcurrentRemoveCancelsTask() {
	removed := make(chan error, 1)
	s.sched.On("Ensure", chat, 5*time.Minute, mock.Anything).
		Run(func(mock.Arguments) {
			s.Require().False(s.svc.chatLock(chat).TryLock(), "chat lock held while scheduling")
			go func() {
				_, err := s.svc.Remove(s.ctx, chat, "SPXVN1")
				removed <- err
			}()
		}).
		Return(true).Once()
	s.sched.On("Cancel", chat).Return(true).Once()
	s.fetcher.On("Fetch", mock.Anything, "SPXVN1").Return(nil, models.Upstream("spx http 502", nil)).Maybe()

	_, err := s.svc.Add(s.ctx, chat, "SPXVN1", "x")
	s.Require().NoError(err)
	s.Require().NoError(<-removed)

	// the remove ran after the task existed, so it was torn down with the last subscription
	_, ok, err := s.repo.Get(s.ctx, chat)
	s.Require().NoError(err)
	s.Require().False(ok)
	s.sched.AssertCalled(s.T(), "Cancel", chat)
}

func (s *WatcherSuite) TestCommandsAndTicksKeepChatConsistent() {
	const n = 20
	s.sched.On("Ensure", chat, 5*time.Minute, mock.Anything).Return(true).Maybe()
	s.sched.On("Cancel", chat).Return(true).Maybe()
	s.fetcher.On("Fetch", mock.Anything, mock.Anything).Return(payload(rec{"A", 100, "a"}), nil)
	s.sink.On("Notify", mock.Anything, mock.Anything).Return(nil).Maybe()

	stop := make(chan struct{})
	ticks := make(chan struct{})
	go func() {
		defer close(ticks)
		for {
			select {
			case <-stop:
				return
			default:
				s.svc.Tick(s.ctx, chat)
			}
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, 3*n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := fmt.Sprintf("SPXVN%d", i)
			if _, err := s.svc.Add(s.ctx, chat, code, "item"); err != nil {
				errs <- err
				return
			}
			if err := s.svc.Rename(s.ctx, chat, code, fmt.Sprintf("item %d", i)); err != nil {
				errs <- err
			}
			if i%2 == 0 {
				if _, err := s.svc.Remove(s.ctx, chat, code); err != nil {
					errs <- err
				}
			}
		}(i)
	}
	wg.Wait()
	close(stop)
	<-ticks
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	subs, err := s.svc.List(s.ctx, chat)
	s.Require().NoError(err)
	s.Require().Len(subs, n/2)
	got := map[string]models.Subscription{}
	for _, sub := range subs {
		got[sub.TrackingCode] = sub
	}
	for i := 1; i < n; i += 2 {
		sub, ok := got[fmt.Sprintf("SPXVN%d", i)]
		s.Require().True(ok, "SPXVN%d", i)
		s.Require().Equal(fmt.Sprintf("item %d", i), sub.Alias)
		s.Require().Equal(int64(100), sub.LastNotifiedTS)
	}
}

func (s *WatcherSuite) TestTick_NotifiesOnlyNewerEvents() {
	s.seed(5, models.Subscription{TrackingCode: "SPXVN1", Alias: "phone", LastNotifiedTS: 100})
	s.fetcher.On("Fetch", mock.Anything, "SPXVN1").Return(payload(rec{"A", 100, "old"}, rec{"B", 150, "new"}), nil)
	s.sink.On("Notify", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
		return n.ChatID == chat &&
			strings.HasPrefix(n.Text, "📣 <b>Có cập nhật mới</b>\n<code>SPXVN1</code>") &&
			strings.Contains(n.Text, "new") &&
			len(n.Actions) == 1 && n.Actions[0][0].Data == "refresh|SPXVN1"
	})).Return(nil).Once()

	rep := s.svc.Tick(s.ctx, chat)
	s.Require().Equal(TickReport{ChatID: chat, Checked: 1, Notified: 1, Took: rep.Took}, rep)
	s.Require().Equal(int64(150), s.stored("SPXVN1").LastNotifiedTS)

	rep = s.svc.Tick(s.ctx, chat)
	s.Require().Zero(rep.Notified)
	s.sink.AssertNumberOfCalls(s.T(), "Notify", 1)
}

func (s *WatcherSuite) TestTick_EqualTimestampIsSilent() {
	s.seed(5, models.Subscription{TrackingCode: "SPXVN1", Alias: "x", LastNotifiedTS: 150})
	s.fetcher.On("Fetch", mock.Anything, "SPXVN1").Return(payload(rec{"B", 150, "b"}), nil)

	rep := s.svc.Tick(s.ctx, chat)
	s.Require().Zero(rep.Notified)
	s.Require().Zero(rep.Failed)
}

func (s *WatcherSuite) TestTick_FailuresAreSkipped() {
	s.seed(5,
		models.Subscription{TrackingCode: "SPXVN1", Alias: "a"},
		models.Subscription{TrackingCode: "SPXVN2", Alias: "b"},
		models.Subscription{TrackingCode: "SPXVN3", Alias: "c"},
	)
	s.fetcher.On("Fetch", mock.Anything, "SPXVN1").Return(nil, errors.New("timeout"))
	s.fetcher.On("Fetch", mock.Anything, "SPXVN2").Return([]byte(`<html>`), nil)
	s.fetcher.On("Fetch", mock.Anything, "SPXVN3").Return(payload(rec{"A", 10, "x"}), nil)
	s.sink.On("Notify", mock.Anything, mock.Anything).Return(nil).Once()

	rep := s.svc.Tick(s.ctx, chat)
	s.Require().Equal(3, rep.Checked)
	s.Require().Equal(2, rep.Failed)
	s.Require().Equal(1, rep.Notified)
	s.Require().Equal(int64(10), s.stored("SPXVN3").LastNotifiedTS)

	st := s.svc.Stats()
	s.Require().Equal(int64(2), st.Failures)
	s.Require().Equal(int64(1), st.Notifications)
	s.Require().NotEmpty(st.LastError)
	s.Require().NotNil(st.LastTickAt)
}

func (s *WatcherSuite) TestTick_SubscriptionRemovedMidTick() {
	s.seed(5, models.Subscription{TrackingCode: "SPXVN1", Alias: "a"})
	s.sched.On("Cancel", chat).Return(true).Once()
	s.fetcher.On("Fetch", mock.Anything, "SPXVN1").
		Run(func(mock.Arguments) {
			_, err := s.svc.Remove(s.ctx, chat, "SPXVN1")
			s.Require().NoError(err)
		}).
		Return(payload(rec{"A", 10, "x"}), nil)

	rep := s.svc.Tick(s.ctx, chat)
	s.Require().Zero(rep.Notified)
	s.Require().Zero(rep.Failed)
	s.sink.AssertNotCalled(s.T(), "Notify", mock.Anything, mock.Anything)
}

func (s *WatcherSuite) TestTick_SinkErrorDoesNotResend() {
	s.seed(5, models.Subscription{TrackingCode: "SPXVN1", Alias: "a"})
	s.fetcher.On("Fetch", mock.Anything, "SPXVN1").Return(payload(rec{"A", 10, "x"}), nil)
	s.sink.On("Notify", mock.Anything, mock.Anything).Return(errors.New("telegram down")).Once()

	rep := s.svc.Tick(s.ctx, chat)
	s.Require().Equal(1, rep.Failed)
	s.Require().Equal(int64(10), s.stored("SPXVN1").LastNotifiedTS)

	rep = s.svc.Tick(s.ctx, chat)
	s.Require().Zero(rep.Failed)
	s.sink.AssertNumberOfCalls(s.T(), "Notify", 1)
}

func (s *WatcherSuite) TestTick_UnknownChat() {
	rep := s.svc.Trigger(s.ctx, models.ChatID(999))
	s.Require().Zero(rep.Checked)
}

func (s *WatcherSuite) TestRemove() {
	s.seed(5,
		models.Subscription{TrackingCode: "SPXVN1", Alias: "a"},
		models.Subscription{TrackingCode: "SPXVN2", Alias: "b"},
	)

	_, err := s.svc.Remove(s.ctx, chat, "SPXVN9")
	s.Require().ErrorIs(err, models.ErrNotWatched)

	removed, err := s.svc.Remove(s.ctx, chat, "spxvn1")
	s.Require().NoError(err)
	s.Require().Equal("a", removed.Alias)
	s.sched.AssertNotCalled(s.T(), "Cancel", chat)

	s.sched.On("Cancel", chat).Return(true).Once()
	_, err = s.svc.Remove(s.ctx, chat, "SPXVN2")
	s.Require().NoError(err)

	_, ok, err := s.repo.Get(s.ctx, chat)
	s.Require().NoError(err)
	s.Require().False(ok)
}

func (s *WatcherSuite) TestRemove_LastKeepsCustomInterval() {
	s.seed(15, models.Subscription{TrackingCode: "SPXVN1", Alias: "a"})
	s.sched.On("Cancel", chat).Return(true).Once()

	_, err := s.svc.Remove(s.ctx, chat, "SPXVN1")
	s.Require().NoError(err)

	minutes, err := s.svc.Interval(s.ctx, chat)
	s.Require().NoError(err)
	s.Require().Equal(15, minutes)
}

func (s *WatcherSuite) TestRename() {
	s.seed(5, models.Subscription{TrackingCode: "SPXVN1", Alias: "a", LastNotifiedTS: 7})

	s.Require().ErrorIs(s.svc.Rename(s.ctx, chat, "SPXVN2", "b"), models.ErrNotWatched)
	s.Require().Error(s.svc.Rename(s.ctx, chat, "SPXVN1", " "))

	s.Require().NoError(s.svc.Rename(s.ctx, chat, "SPXVN1", "Áo khoác"))
	sub := s.stored("SPXVN1")
	s.Require().Equal("Áo khoác", sub.Alias)
	s.Require().Equal(int64(7), sub.LastNotifiedTS)
}

func (s *WatcherSuite) TestListKeepsInsertionOrder() {
	s.seed(5,
		models.Subscription{TrackingCode: "SPXVN3", Alias: "c"},
		models.Subscription{TrackingCode: "SPXVN1", Alias: "a"},
	)
	subs, err := s.svc.List(s.ctx, chat)
	s.Require().NoError(err)
	s.Require().Equal([]string{"SPXVN3", "SPXVN1"}, []string{subs[0].TrackingCode, subs[1].TrackingCode})

	empty, err := s.svc.List(s.ctx, models.ChatID(1))
	s.Require().NoError(err)
	s.Require().Empty(empty)
}

func (s *WatcherSuite) TestSetInterval() {
	s.svc.WithDefaultInterval(7)
	minutes, err := s.svc.Interval(s.ctx, chat)
	s.Require().NoError(err)
	s.Require().Equal(7, minutes)

	s.Require().ErrorIs(s.svc.SetInterval(s.ctx, chat, 0), models.ErrInvalidInterval)
	s.Require().ErrorIs(s.svc.SetInterval(s.ctx, chat, 61), models.ErrInvalidInterval)

	// no subscriptions: stored, no task
	s.Require().NoError(s.svc.SetInterval(s.ctx, chat, 30))
	s.sched.AssertNotCalled(s.T(), "Replace", mock.Anything, mock.Anything, mock.Anything)
	minutes, _ = s.svc.Interval(s.ctx, chat)
	s.Require().Equal(30, minutes)

	s.seed(30, models.Subscription{TrackingCode: "SPXVN1", Alias: "a"})
	s.sched.On("Replace", chat, 10*time.Minute, mock.Anything).Return().Once()
	s.Require().NoError(s.svc.SetInterval(s.ctx, chat, 10))
}

func (s *WatcherSuite) TestLookup() {
	s.seed(5, models.Subscription{TrackingCode: "SPXVN1", Alias: "phone"})
	s.fetcher.On("Fetch", mock.Anything, "SPXVN1").Return(payload(rec{"A", 100, "a"}, rec{"B", 90, "b"}), nil)

	res, err := s.svc.Lookup(s.ctx, chat, "spxvn1")
	s.Require().NoError(err)
	s.Require().Equal("phone", res.Alias)
	s.Require().Equal("A", res.Latest.EventCode)

	_, err = s.svc.Lookup(s.ctx, chat, "hello")
	s.Require().ErrorIs(err, models.ErrInvalidCode)

	s.fetcher.On("Fetch", mock.Anything, "SPXVN2").Return([]byte(`{"data":{}}`), nil)
	_, err = s.svc.Lookup(s.ctx, chat, "SPXVN2")
	s.Require().Equal(models.KindMalformedResponse, models.KindOf(err))
}

func (s *WatcherSuite) TestTimeline() {
	var recs []rec
	for i := 1; i <= 12; i++ {
		recs = append(recs, rec{fmt.Sprintf("E%d", i), int64(i * 10), "d"})
	}
	s.fetcher.On("Fetch", mock.Anything, "SPXVN1").Return(payload(recs...), nil)

	res, err := s.svc.Timeline(s.ctx, "SPXVN1", 3)
	s.Require().NoError(err)
	s.Require().Len(res.Events, 3)
	s.Require().Equal("E12", res.Events[0].EventCode)
	s.Require().Equal("E10", res.Events[2].EventCode)
	s.Require().Contains(res.Notification(chat).Text, "<b>Timeline</b> <code>SPXVN1</code>")

	res, err = s.svc.Timeline(s.ctx, "SPXVN1", 0)
	s.Require().NoError(err)
	s.Require().Len(res.Events, 1)
}

func (s *WatcherSuite) TestRestore() {
	s.seed(12, models.Subscription{TrackingCode: "SPXVN1", Alias: "a"})
	s.Require().NoError(s.repo.Put(s.ctx, models.NewChatState(7, 5)))

	s.sched.On("Ensure", chat, 12*time.Minute, mock.Anything).Return(true).Once()

	n, err := s.svc.Restore(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(1, n)
}

func TestWatcherSuite(t *testing.T) {
	suite.Run(t, new(WatcherSuite))
}

func TestRestore_ListError(t *testing.T) {
	repo := watchermocks.NewMockRepository(t)
	repo.On("ListChatIDs", mock.Anything).Return(nil, errors.New("db down")).Once()

	svc := New(repo, watchermocks.NewMockFetcher(t), watchermocks.NewMockScheduler(t), watchermocks.NewMockSink(t), zerolog.Nop())
	_, err := svc.Restore(context.Background())
	if err == nil || !strings.Contains(err.Error(), "list chats") {
		t.Fatalf("want wrapped list error, got %v", err)
	}
}

func TestTick_RepositoryError(t *testing.T) {
	repo := watchermocks.NewMockRepository(t)
	repo.On("Get", mock.Anything, chat).Return(nil, false, errors.New("db down")).Once()
	sched := watchermocks.NewMockScheduler(t)

	svc := New(repo, watchermocks.NewMockFetcher(t), sched, watchermocks.NewMockSink(t), zerolog.Nop())
	rep := svc.Tick(context.Background(), chat)
	if rep.Checked != 0 {
		t.Fatalf("expected no checks, got %d", rep.Checked)
	}
	sched.On("Len").Return(0).Once()
	if svc.Stats().Failures != 1 {
		t.Fatal("expected a recorded failure")
	}
}
