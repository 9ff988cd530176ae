package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/digkill/TGKeyBot/internal/models"
	"github.com/digkill/TGKeyBot/internal/storage"
)

var creditCodePattern = regexp.MustCompile(`^PFX-CR100-[A-Z0-9]{8}$`)

func TestIssueCreditKeys(t *testing.T) {
	env := newTestEnv(t)
	codes, err := env.keySvc.Issue(context.Background(), models.KeyKindCredit, 100, 5)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(codes) != 5 {
		t.Fatalf("expected 5 codes, got %d", len(codes))
	}
	seen := map[string]bool{}
	for _, c := range codes {
		if !creditCodePattern.MatchString(c) {
			t.Errorf("code %q does not match format", c)
		}
		if seen[c] {
			t.Errorf("duplicate code %q", c)
		}
		seen[c] = true
	}

	credits, subs := env.keySvc.List(context.Background())
	if len(credits) != 5 || len(subs) != 0 {
		t.Fatalf("unexpected partitions %v %v", credits, subs)
	}
	for _, c := range codes {
		key, ok := env.keyRepo.GetByCode(c)
		if !ok || key.Kind != models.KeyKindCredit || key.Value != 100 {
			t.Errorf("code %q stored as %+v", c, key)
		}
	}
}

func TestIssueRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cases := []struct {
		name  string
		kind  models.KeyKind
		value int
		count int
	}{
		{"zero count", models.KeyKindCredit, 10, 0},
		{"negative credit", models.KeyKindCredit, -5, 1},
		{"tier four", models.KeyKindSubscription, 4, 1},
		{"tier zero", models.KeyKindSubscription, 0, 1},
		{"unknown kind", models.KeyKind("gems"), 1, 1},
		{"over batch limit", models.KeyKindCredit, 10, 501},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.keySvc.Issue(ctx, tc.kind, tc.value, tc.count); !errors.Is(err, ErrMalformedInput) {
				t.Fatalf("expected ErrMalformedInput, got %v", err)
			}
		})
	}
	credits, subs := env.keySvc.List(ctx)
	if len(credits)+len(subs) != 0 {
		t.Fatal("ledger changed by rejected issue")
	}
}

func TestIssueRetriesOnCollision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	suffixes := []string{"AAAAAAAA", "AAAAAAAA", "BBBBBBBB", "AAAAAAAA", "BBBBBBBB", "CCCCCCCC"}
	i := 0
	env.keySvc.suffix = func() (string, error) {
		s := suffixes[i]
		i++
		return s, nil
	}

	first, err := env.keySvc.Issue(ctx, models.KeyKindCredit, 50, 2)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if first[0] != "PFX-CR50-AAAAAAAA" || first[1] != "PFX-CR50-BBBBBBBB" {
		t.Fatalf("unexpected codes %v", first)
	}
	second, err := env.keySvc.Issue(ctx, models.KeyKindCredit, 50, 1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if second[0] != "PFX-CR50-CCCCCCCC" {
		t.Fatalf("existing code overwritten or reused: %v", second)
	}
}

func TestIssueGivesUpOnStuckGenerator(t *testing.T) {
	env := newTestEnv(t)
	env.keySvc.suffix = func() (string, error) { return "SAMESAME", nil }
	if _, err := env.keySvc.Issue(context.Background(), models.KeyKindCredit, 1, 2); err == nil {
		t.Fatal("expected error when no unique code can be produced")
	}
}

func TestIssuePersistenceFailure(t *testing.T) {
	env := newTestEnv(t)
	env.backend.setFail(storage.DocumentKeys, true)
	if _, err := env.keySvc.Issue(context.Background(), models.KeyKindCredit, 1, 3); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	credits, _ := env.keySvc.List(context.Background())
	if len(credits) != 0 {
		t.Fatalf("ledger changed after failed save: %v", credits)
	}
}

func TestRedeemScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.keySvc.suffix = func() (string, error) { return "XXXXXXXX", nil }
	env.register(t, "42")

	codes, err := env.keySvc.Issue(ctx, models.KeyKindCredit, 50, 1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if codes[0] != "PFX-CR50-XXXXXXXX" {
		t.Fatalf("unexpected code %s", codes[0])
	}

	reward, err := env.keySvc.Redeem(ctx, "42", codes[0])
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if reward.Kind != models.KeyKindCredit || reward.Value != 50 {
		t.Fatalf("unexpected reward %+v", reward)
	}
	u, _ := env.userSvc.GetProfile(ctx, "42")
	if u.Balance != 60 {
		t.Fatalf("balance = %d, want 60", u.Balance)
	}

	if _, err := env.keySvc.Redeem(ctx, "42", codes[0]); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if env.keyRepo.Exists(codes[0]) {
		t.Fatal("redeemed code still in ledger")
	}
}

func TestRedeemUnknownCode(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "1")
	if _, err := env.keySvc.Redeem(context.Background(), "1", "PFX-CR10-NOPENOPE"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestRedeemSubscriptionOverwritesTier(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "7")

	for _, tier := range []int{3, 1} {
		codes, err := env.keySvc.Issue(ctx, models.KeyKindSubscription, tier, 1)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		if _, err := env.keySvc.Redeem(ctx, "7", codes[0]); err != nil {
			t.Fatalf("redeem: %v", err)
		}
		u, _ := env.userSvc.GetProfile(ctx, "7")
		if u.Subscription != models.Tier(tier) {
			t.Fatalf("tier = %d, want %d", u.Subscription, tier)
		}
		if u.Balance != 10 {
			t.Fatalf("balance changed by subscription key: %d", u.Balance)
		}
	}
}

func TestRedeemUnregisteredKeepsKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	codes, err := env.keySvc.Issue(ctx, models.KeyKindCredit, 20, 1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := env.keySvc.Redeem(ctx, "ghost", codes[0]); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if !env.keyRepo.Exists(codes[0]) {
		t.Fatal("key consumed by unregistered user")
	}
}

func TestRedeemRollsBackWhenUserSaveFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "42")
	codes, err := env.keySvc.Issue(ctx, models.KeyKindCredit, 50, 1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	env.backend.setFail(storage.DocumentUsers, true)
	if _, err := env.keySvc.Redeem(ctx, "42", codes[0]); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if !env.keyRepo.Exists(codes[0]) {
		t.Fatal("key lost without reward")
	}
	u, _ := env.userSvc.GetProfile(ctx, "42")
	if u.Balance != 10 {
		t.Fatalf("balance = %d, want 10", u.Balance)
	}

	var persisted models.Ledger
	if err := env.store.Load(ctx, storage.DocumentKeys, &persisted); err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	if _, ok := persisted.Credits[codes[0]]; !ok {
		t.Fatal("restored key not persisted")
	}

	env.backend.setFail(storage.DocumentUsers, false)
	if _, err := env.keySvc.Redeem(ctx, "42", codes[0]); err != nil {
		t.Fatalf("retry redeem: %v", err)
	}
	u, _ = env.userSvc.GetProfile(ctx, "42")
	if u.Balance != 60 {
		t.Fatalf("balance = %d, want 60", u.Balance)
	}
}

func TestRedeemLedgerSaveFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "42")
	codes, err := env.keySvc.Issue(ctx, models.KeyKindCredit, 50, 1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	env.backend.setFail(storage.DocumentKeys, true)
	if _, err := env.keySvc.Redeem(ctx, "42", codes[0]); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if !env.keyRepo.Exists(codes[0]) {
		t.Fatal("key removed despite failed save")
	}
	u, _ := env.userSvc.GetProfile(ctx, "42")
	if u.Balance != 10 {
		t.Fatalf("reward granted despite failure: %d", u.Balance)
	}
}

func TestConcurrentRedeemSucceedsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "1")
	codes, err := env.keySvc.Issue(ctx, models.KeyKindCredit, 5, 1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.keySvc.Redeem(ctx, "1", codes[0]); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}
	u, _ := env.userSvc.GetProfile(ctx, "1")
	if u.Balance != 15 {
		t.Fatalf("balance = %d, want 15", u.Balance)
	}
}

func TestFormatCode(t *testing.T) {
	if got := FormatCode("PFX", models.KeyKindSubscription, 2, "ABCD1234"); got != "PFX-SUB2-ABCD1234" {
		t.Fatalf("unexpected %s", got)
	}
	if got := FormatCode("MIKU", models.KeyKindCredit, 350, "ZZZZ0000"); got != "MIKU-CR350-ZZZZ0000" {
		t.Fatalf("unexpected %s", got)
	}
}

func TestRandomSuffix(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z0-9]{8}$`)
	for i := 0; i < 50; i++ {
		s, err := randomSuffix()
		if err != nil {
			t.Fatalf("suffix: %v", err)
		}
		if !pattern.MatchString(s) {
			t.Fatalf("bad suffix %q", s)
		}
	}
}
