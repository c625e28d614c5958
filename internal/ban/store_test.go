package ban

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestStore connects to a local Redis and skips the test when none is
// running. Each test gets unique fingerprints via testFP so keys never
// collide; leftovers expire through their own TTLs.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewStore(client)
}

func testFP(t *testing.T) string {
	return fmt.Sprintf("test_%s_%d", t.Name(), time.Now().UnixNano())
}

func TestIsBanned_Unknown(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	banned, remaining, reason, err := store.IsBanned(ctx, testFP(t))
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if banned {
		t.Errorf("expected not banned, got banned (remaining=%d reason=%q)", remaining, reason)
	}
}

func TestBanUnbanCycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	fp := testFP(t)

	if err := store.Ban(ctx, fp, 30*time.Second, "spam"); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}

	banned, remaining, reason, err := store.IsBanned(ctx, fp)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if !banned {
		t.Fatal("expected banned=true")
	}
	if reason != "spam" {
		t.Errorf("reason = %q, want %q", reason, "spam")
	}
	if remaining <= 0 || remaining > 30 {
		t.Errorf("remaining = %d, want in (0, 30]", remaining)
	}

	if err := store.Unban(ctx, fp); err != nil {
		t.Fatalf("Unban() error: %v", err)
	}
	banned, _, _, err = store.IsBanned(ctx, fp)
	if err != nil {
		t.Fatalf("IsBanned() after unban: %v", err)
	}
	if banned {
		t.Error("expected not banned after Unban()")
	}
}

func TestEscalationDuration(t *testing.T) {
	cases := []struct {
		offenses int
		want     time.Duration
	}{
		{0, BanFirst},
		{1, BanFirst},
		{2, BanSecond},
		{3, BanRepeat},
		{4, BanRepeat},
		{10, BanRepeat},
	}
	for _, tc := range cases {
		if got := escalationDuration(tc.offenses); got != tc.want {
			t.Errorf("escalationDuration(%d) = %v, want %v", tc.offenses, got, tc.want)
		}
	}
}

func TestEscalate_DurationsGrow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	fp := testFP(t)

	want := []time.Duration{BanFirst, BanSecond, BanRepeat, BanRepeat}
	for i, expected := range want {
		d, err := store.Escalate(ctx, fp, "spam")
		if err != nil {
			t.Fatalf("Escalate() #%d error: %v", i+1, err)
		}
		if d != expected {
			t.Errorf("offense %d: duration = %v, want %v", i+1, d, expected)
		}
	}

	count, err := store.OffenseCount(ctx, fp)
	if err != nil {
		t.Fatalf("OffenseCount() error: %v", err)
	}
	if count != len(want) {
		t.Errorf("offense count = %d, want %d", count, len(want))
	}
}

func TestEscalate_AppliesBan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	fp := testFP(t)

	if _, err := store.Escalate(ctx, fp, "harassment"); err != nil {
		t.Fatalf("Escalate() error: %v", err)
	}

	banned, remaining, reason, err := store.IsBanned(ctx, fp)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if !banned {
		t.Fatal("expected banned after first offense")
	}
	if reason != "harassment" {
		t.Errorf("reason = %q, want %q", reason, "harassment")
	}
	// 15 min, minus test execution slack.
	if remaining < 890 || remaining > 900 {
		t.Errorf("remaining = %d, want ~900", remaining)
	}
}

func TestOffenseCount_Unknown(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	count, err := store.OffenseCount(ctx, testFP(t))
	if err != nil {
		t.Fatalf("OffenseCount() error: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestReportAndCheck_BelowThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	fp := testFP(t)

	for i := 1; i < AutoBanThreshold; i++ {
		banned, d, err := store.ReportAndCheck(ctx, fp)
		if err != nil {
			t.Fatalf("ReportAndCheck() #%d error: %v", i, err)
		}
		if banned {
			t.Errorf("report %d: banned=true before threshold", i)
		}
		if d != 0 {
			t.Errorf("report %d: duration = %v, want 0", i, d)
		}
	}

	if banned, _, _, _ := store.IsBanned(ctx, fp); banned {
		t.Error("fingerprint banned below the report threshold")
	}
}

func TestReportAndCheck_AutoBanAtThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	fp := testFP(t)

	for i := 1; i < AutoBanThreshold; i++ {
		store.ReportAndCheck(ctx, fp)
	}

	banned, duration, err := store.ReportAndCheck(ctx, fp)
	if err != nil {
		t.Fatalf("ReportAndCheck() error: %v", err)
	}
	if !banned {
		t.Fatal("expected auto-ban at threshold")
	}
	// Third offense maps to the 24h tier.
	if duration != BanRepeat {
		t.Errorf("duration = %v, want %v", duration, BanRepeat)
	}

	isBanned, _, reason, _ := store.IsBanned(ctx, fp)
	if !isBanned {
		t.Fatal("IsBanned=false after auto-ban")
	}
	if reason != "multiple_reports" {
		t.Errorf("reason = %q, want %q", reason, "multiple_reports")
	}
}

func TestReportAndCheck_AboveThresholdStillBans(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	fp := testFP(t)

	for i := 0; i < AutoBanThreshold; i++ {
		store.ReportAndCheck(ctx, fp)
	}

	banned, duration, err := store.ReportAndCheck(ctx, fp)
	if err != nil {
		t.Fatalf("ReportAndCheck() error: %v", err)
	}
	if !banned {
		t.Fatal("expected banned=true for reports past the threshold")
	}
	if duration != BanRepeat {
		t.Errorf("duration = %v, want %v (capped)", duration, BanRepeat)
	}
}

func TestOffenseCounterHasWindowTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	fp := testFP(t)

	store.ReportAndCheck(ctx, fp)

	ttl, err := store.client.TTL(ctx, OffensePrefix+fp).Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	if ttl < OffenseWindow-10*time.Second || ttl > OffenseWindow {
		t.Errorf("counter TTL = %v, want ~%v", ttl, OffenseWindow)
	}
}
