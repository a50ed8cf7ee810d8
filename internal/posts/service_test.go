package posts

import (
	"context"
	"errors"
	"testing"
	"time"

	"postflow/internal/eventbus"
	"postflow/internal/platform"
	"postflow/pkg/logx"
)

type testEnv struct {
	svc   *Service
	reg   *platform.Registry
	fakes map[platform.Kind]*platform.Fake
	clock time.Time
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	reg := platform.NewRegistry(logx.Nop())
	fakes := make(map[platform.Kind]*platform.Fake)
	for _, k := range []platform.Kind{platform.Facebook, platform.Instagram, platform.Twitter, platform.WhatsApp} {
		f := platform.NewFake(k)
		fakes[k] = f
		reg.Register(f, 1000)
	}
	env := &testEnv{
		svc:   New(cfg, reg, logx.Nop(), eventbus.New()),
		reg:   reg,
		fakes: fakes,
		clock: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	env.svc.now = func() time.Time { return env.clock }
	return env
}

func draftAt(at time.Time, kinds ...platform.Kind) Draft {
	return Draft{
		OwnerID:       "owner-1",
		Platforms:     kinds,
		Content:       Content{Text: "hello"},
		ScheduledTime: at,
	}
}

func TestSchedulePostConflictWindow(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	base := env.clock.Add(time.Hour)

	if _, err := env.svc.SchedulePost(ctx, draftAt(base, platform.Twitter)); err != nil {
		t.Fatalf("first schedule: %v", err)
	}

	_, err := env.svc.SchedulePost(ctx, draftAt(base.Add(4*time.Minute), platform.Twitter))
	ce, ok := AsConflict(err)
	if !ok {
		t.Fatalf("want conflict error, got %v", err)
	}
	if len(ce.Conflicts) != 1 || ce.Conflicts[0].Type != ConflictTimeOverlap {
		t.Fatalf("unexpected conflicts: %+v", ce.Conflicts)
	}
	want := base.Add(4 * time.Minute).Add(10 * time.Minute)
	if st := ce.Conflicts[0].SuggestedTime; st == nil || !st.Equal(want) {
		t.Fatalf("suggested time = %v, want %v", st, want)
	}

	// Exactly the window apart is allowed; the window is a strict bound.
	if _, err := env.svc.SchedulePost(ctx, draftAt(base.Add(5*time.Minute), platform.Twitter)); err != nil {
		t.Fatalf("schedule at window edge: %v", err)
	}

	// Disjoint platforms never collide on time.
	if _, err := env.svc.SchedulePost(ctx, draftAt(base.Add(time.Minute), platform.Instagram)); err != nil {
		t.Fatalf("disjoint platform schedule: %v", err)
	}
}

func TestSchedulePostDailyCeiling(t *testing.T) {
	env := newTestEnv(t, Config{DailyLimits: map[platform.Kind]int{platform.Twitter: 2}})
	ctx := context.Background()
	base := env.clock.Add(time.Hour)

	for i := 0; i < 2; i++ {
		if _, err := env.svc.SchedulePost(ctx, draftAt(base.Add(time.Duration(i)*time.Hour), platform.Twitter)); err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
	}

	_, err := env.svc.SchedulePost(ctx, draftAt(base.Add(6*time.Hour), platform.Twitter))
	ce, ok := AsConflict(err)
	if !ok {
		t.Fatalf("want conflict error, got %v", err)
	}
	if len(ce.Conflicts) != 1 || ce.Conflicts[0].Type != ConflictPlatformLimit {
		t.Fatalf("unexpected conflicts: %+v", ce.Conflicts)
	}
	if ce.Conflicts[0].Platform != platform.Twitter {
		t.Fatalf("conflict platform = %s", ce.Conflicts[0].Platform)
	}

	// The next UTC day starts a fresh budget.
	if _, err := env.svc.SchedulePost(ctx, draftAt(base.AddDate(0, 0, 1), platform.Twitter)); err != nil {
		t.Fatalf("next-day schedule: %v", err)
	}
}

func TestDefaultDailyLimits(t *testing.T) {
	want := map[platform.Kind]int{
		platform.Facebook:  25,
		platform.Instagram: 25,
		platform.Twitter:   300,
		platform.WhatsApp:  1000,
	}
	got := DefaultDailyLimits()
	if len(got) != len(want) {
		t.Fatalf("limits = %v", got)
	}
	for k, n := range want {
		if got[k] != n {
			t.Errorf("%s limit = %d, want %d", k, got[k], n)
		}
	}
}

func TestSchedulePostFacebookDefaultCeiling(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	base := env.clock.Add(time.Hour)

	// 25 posts on one UTC day fit within the built-in facebook ceiling.
	for i := 0; i < 25; i++ {
		if _, err := env.svc.SchedulePost(ctx, draftAt(base.Add(time.Duration(i)*10*time.Minute), platform.Facebook)); err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
	}

	_, err := env.svc.SchedulePost(ctx, draftAt(base.Add(5*time.Hour), platform.Facebook))
	ce, ok := AsConflict(err)
	if !ok {
		t.Fatalf("26th post: want conflict error, got %v", err)
	}
	if len(ce.Conflicts) != 1 || ce.Conflicts[0].Type != ConflictPlatformLimit {
		t.Fatalf("unexpected conflicts: %+v", ce.Conflicts)
	}
}

func TestSchedulePostCollectsAllViolations(t *testing.T) {
	env := newTestEnv(t, Config{DailyLimits: map[platform.Kind]int{platform.Facebook: 1}})
	ctx := context.Background()
	base := env.clock.Add(time.Hour)

	if _, err := env.svc.SchedulePost(ctx, draftAt(base, platform.Facebook)); err != nil {
		t.Fatalf("seed schedule: %v", err)
	}

	_, err := env.svc.SchedulePost(ctx, draftAt(base.Add(2*time.Minute), platform.Facebook))
	ce, ok := AsConflict(err)
	if !ok {
		t.Fatalf("want conflict error, got %v", err)
	}
	if len(ce.Conflicts) != 2 {
		t.Fatalf("want both violations reported, got %+v", ce.Conflicts)
	}
}

func TestSchedulePostValidation(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	cases := []struct {
		name  string
		draft Draft
	}{
		{"no platforms", Draft{Content: Content{Text: "x"}, ScheduledTime: env.clock}},
		{"unknown platform", Draft{Platforms: []platform.Kind{"myspace"}, Content: Content{Text: "x"}, ScheduledTime: env.clock}},
		{"empty content", Draft{Platforms: []platform.Kind{platform.Twitter}, ScheduledTime: env.clock}},
		{"zero time", Draft{Platforms: []platform.Kind{platform.Twitter}, Content: Content{Text: "x"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.svc.SchedulePost(ctx, tc.draft); err == nil {
				t.Fatal("want validation error")
			}
		})
	}
}

func TestCancelPost(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	p, err := env.svc.SchedulePost(ctx, draftAt(env.clock.Add(time.Hour), platform.Twitter))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	got, err := env.svc.CancelPost(ctx, p.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}
	if _, err := env.svc.CancelPost(ctx, p.ID); err == nil {
		t.Fatal("second cancel should fail")
	}
	if _, err := env.svc.CancelPost(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUpdatePostExcludesSelf(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	p, err := env.svc.SchedulePost(ctx, draftAt(env.clock.Add(time.Hour), platform.Twitter))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// Moving a post inside its own former window must not self-conflict.
	at := p.ScheduledTime.Add(2 * time.Minute)
	got, err := env.svc.UpdatePost(ctx, p.ID, Update{ScheduledTime: &at})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !got.ScheduledTime.Equal(at) {
		t.Fatalf("scheduled time = %v, want %v", got.ScheduledTime, at)
	}

	other, err := env.svc.SchedulePost(ctx, draftAt(env.clock.Add(3*time.Hour), platform.Twitter))
	if err != nil {
		t.Fatalf("schedule other: %v", err)
	}
	bad := other.ScheduledTime.Add(time.Minute)
	if _, err := env.svc.UpdatePost(ctx, p.ID, Update{ScheduledTime: &bad}); err == nil {
		t.Fatal("update into another post's window should conflict")
	}
}

func TestProcessScheduledPostsPublishes(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	due, err := env.svc.SchedulePost(ctx, draftAt(env.clock.Add(time.Minute), platform.Twitter, platform.Facebook))
	if err != nil {
		t.Fatalf("schedule due: %v", err)
	}
	future, err := env.svc.SchedulePost(ctx, draftAt(env.clock.Add(2*time.Hour), platform.Instagram))
	if err != nil {
		t.Fatalf("schedule future: %v", err)
	}

	env.clock = env.clock.Add(5 * time.Minute)
	n, err := env.svc.ProcessScheduledPosts(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 1 {
		t.Fatalf("attempted %d posts, want 1", n)
	}

	got, _ := env.svc.Get(due.ID)
	if got.Status != StatusPublished {
		t.Fatalf("status = %s, want published", got.Status)
	}
	if !got.PublishedAt.Equal(env.clock) {
		t.Fatalf("published at %v, want %v", got.PublishedAt, env.clock)
	}
	for _, k := range []platform.Kind{platform.Twitter, platform.Facebook} {
		o, ok := got.PlatformResults[k]
		if !ok || o.ExternalID == "" || o.Error != "" {
			t.Fatalf("outcome for %s = %+v", k, o)
		}
	}
	if env.fakes[platform.Twitter].PublishCount() != 1 || env.fakes[platform.Facebook].PublishCount() != 1 {
		t.Fatal("each platform should receive exactly one message")
	}

	if got, _ := env.svc.Get(future.ID); got.Status != StatusScheduled {
		t.Fatalf("future post status = %s", got.Status)
	}
}

func TestPublishPartialFailure(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	env.fakes[platform.Facebook].PublishErr = errors.New("token expired")

	p, err := env.svc.SchedulePost(ctx, draftAt(env.clock.Add(time.Minute), platform.Twitter, platform.Facebook))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	env.clock = env.clock.Add(2 * time.Minute)
	if _, err := env.svc.ProcessScheduledPosts(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := env.svc.Get(p.ID)
	if got.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.FailureReason == "" {
		t.Fatal("failure reason should be recorded")
	}
	if o := got.PlatformResults[platform.Twitter]; o.Error != "" || o.ExternalID == "" {
		t.Fatalf("twitter outcome = %+v, want success kept", o)
	}
	if o := got.PlatformResults[platform.Facebook]; o.Error == "" {
		t.Fatalf("facebook outcome = %+v, want error", o)
	}

	// A failed post is terminal; nothing retries it.
	if _, err := env.svc.ProcessScheduledPosts(ctx); err != nil {
		t.Fatalf("second process: %v", err)
	}
	if env.fakes[platform.Twitter].PublishCount() != 1 {
		t.Fatal("publish must not be retried")
	}
}

func TestGenerateRecurringPosts(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	end := env.clock.AddDate(0, 0, 2)
	d := draftAt(env.clock.Add(time.Minute), platform.Twitter)
	d.Recurrence = &Recurrence{Frequency: Daily, Interval: 1, EndDate: &end}
	p, err := env.svc.SchedulePost(ctx, d)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	env.clock = env.clock.Add(2 * time.Minute)
	if _, err := env.svc.ProcessScheduledPosts(ctx); err != nil {
		t.Fatalf("publish: %v", err)
	}

	n, err := env.svc.GenerateRecurringPosts(ctx)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if n != 1 {
		t.Fatalf("generated %d, want 1", n)
	}
	scheduled := env.svc.List(StatusScheduled)
	if len(scheduled) != 1 {
		t.Fatalf("scheduled posts = %d", len(scheduled))
	}
	wantNext := env.clock.AddDate(0, 0, 1)
	if !scheduled[0].ScheduledTime.Equal(wantNext) {
		t.Fatalf("next occurrence at %v, want %v", scheduled[0].ScheduledTime, wantNext)
	}
	if scheduled[0].Recurrence == nil {
		t.Fatal("recurrence rule must carry over")
	}

	// Re-running before anything publishes must not duplicate the occurrence.
	n, err = env.svc.GenerateRecurringPosts(ctx)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if n != 0 {
		t.Fatalf("second generate created %d posts", n)
	}
	if got := env.svc.List(StatusScheduled); len(got) != 1 {
		t.Fatalf("scheduled posts after rerun = %d", len(got))
	}
	_ = p
}

func TestGenerateRecurringRespectsEndDate(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	end := env.clock.Add(12 * time.Hour)
	d := draftAt(env.clock.Add(time.Minute), platform.Twitter)
	d.Recurrence = &Recurrence{Frequency: Daily, EndDate: &end}
	if _, err := env.svc.SchedulePost(ctx, d); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	env.clock = env.clock.Add(2 * time.Minute)
	if _, err := env.svc.ProcessScheduledPosts(ctx); err != nil {
		t.Fatalf("publish: %v", err)
	}

	n, err := env.svc.GenerateRecurringPosts(ctx)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if n != 0 {
		t.Fatalf("generated %d past the end date", n)
	}
}

func TestNextOccurrence(t *testing.T) {
	last := time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		rule Recurrence
		want time.Time
	}{
		{"daily", Recurrence{Frequency: Daily}, last.AddDate(0, 0, 1)},
		{"every 3 days", Recurrence{Frequency: Daily, Interval: 3}, last.AddDate(0, 0, 3)},
		{"weekly", Recurrence{Frequency: Weekly}, last.AddDate(0, 0, 7)},
		{"biweekly", Recurrence{Frequency: Weekly, Interval: 2}, last.AddDate(0, 0, 14)},
		{"monthly rollover", Recurrence{Frequency: Monthly}, last.AddDate(0, 1, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := nextOccurrence(last, tc.rule); !got.Equal(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCollectAnalyticsOnce(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	env.fakes[platform.Twitter].Analytics = platform.Metrics{Reach: 100, Engagement: 10, Clicks: 5}

	p, err := env.svc.SchedulePost(ctx, draftAt(env.clock.Add(time.Minute), platform.Twitter))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	env.clock = env.clock.Add(2 * time.Minute)
	if _, err := env.svc.ProcessScheduledPosts(ctx); err != nil {
		t.Fatalf("publish: %v", err)
	}

	n, err := env.svc.CollectAnalytics(ctx)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if n != 1 {
		t.Fatalf("collected %d, want 1", n)
	}
	got, _ := env.svc.Get(p.ID)
	if got.Analytics == nil || got.Analytics.Reach != 100 {
		t.Fatalf("analytics = %+v", got.Analytics)
	}
	first := *got.Analytics

	// The snapshot is frozen even if the platform numbers move.
	env.fakes[platform.Twitter].Analytics = platform.Metrics{Reach: 9999}
	if n, _ := env.svc.CollectAnalytics(ctx); n != 0 {
		t.Fatalf("second collect touched %d posts", n)
	}
	got, _ = env.svc.Get(p.ID)
	if *got.Analytics != first {
		t.Fatalf("snapshot changed: %+v", got.Analytics)
	}
}

func TestCollectAnalyticsDeadLetters(t *testing.T) {
	env := newTestEnv(t, Config{MaxAnalyticsAttempts: 2})
	ctx := context.Background()
	env.fakes[platform.Twitter].AnalyticsErr = errors.New("rate limited")

	p, err := env.svc.SchedulePost(ctx, draftAt(env.clock.Add(time.Minute), platform.Twitter))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	env.clock = env.clock.Add(2 * time.Minute)
	if _, err := env.svc.ProcessScheduledPosts(ctx); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for i := 0; i < 3; i++ {
		if n, err := env.svc.CollectAnalytics(ctx); err != nil || n != 0 {
			t.Fatalf("collect %d: n=%d err=%v", i, n, err)
		}
	}

	dead := env.svc.DeadLetters()
	if len(dead) != 1 {
		t.Fatalf("dead letters = %+v", dead)
	}
	if dead[0].Kind != DeadLetterAnalytics || dead[0].PostID != p.ID {
		t.Fatalf("dead letter = %+v", dead[0])
	}
}

func TestBulkSchedule(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	base := env.clock.Add(time.Hour)

	res := env.svc.BulkSchedule(ctx, []Draft{
		draftAt(base, platform.Twitter),
		draftAt(base.Add(time.Minute), platform.Twitter), // collides with the first
		draftAt(base.Add(time.Hour), platform.Facebook),
		{ScheduledTime: base}, // no platforms
	})
	if len(res.Scheduled) != 2 {
		t.Fatalf("scheduled = %d", len(res.Scheduled))
	}
	if len(res.Conflicts) != 1 {
		t.Fatalf("conflicts = %d", len(res.Conflicts))
	}
	if len(res.Failed) != 1 {
		t.Fatalf("failed = %d", len(res.Failed))
	}
}
