package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/digkill/TGKeyBot/internal/models"
)

func TestWizardSubscriptionBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := NewWizard(env.keySvc, 500)

	w.Start("admin")
	if err := w.ChooseKind("admin", models.KeyKindSubscription); err != nil {
		t.Fatalf("choose kind: %v", err)
	}
	if err := w.ChooseTier("admin", 2); err != nil {
		t.Fatalf("choose tier: %v", err)
	}

	reply, err := w.HandleText(ctx, "admin", "abc")
	if !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
	if !reply.Handled || reply.Next != WizardStepQuantity {
		t.Fatalf("unexpected reply %+v", reply)
	}
	credits, subs := env.keySvc.List(ctx)
	if len(credits)+len(subs) != 0 {
		t.Fatal("ledger mutated by malformed quantity")
	}

	reply, err = w.HandleText(ctx, "admin", " 3 ")
	if err != nil {
		t.Fatalf("quantity: %v", err)
	}
	if len(reply.Codes) != 3 || reply.Next != WizardStepIdle {
		t.Fatalf("unexpected reply %+v", reply)
	}
	credits, subs = env.keySvc.List(ctx)
	if len(credits) != 0 || len(subs) != 3 {
		t.Fatalf("unexpected partitions %v %v", credits, subs)
	}
	for _, c := range reply.Codes {
		key, ok := env.keyRepo.GetByCode(c)
		if !ok || key.Value != 2 || key.Kind != models.KeyKindSubscription {
			t.Fatalf("code %s stored as %+v", c, key)
		}
	}
	if _, ok := w.Session("admin"); ok {
		t.Fatal("session must be cleared after completion")
	}
}

func TestWizardCustomCreditAmount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := NewWizard(env.keySvc, 0)

	w.Start("admin")
	if err := w.ChooseKind("admin", models.KeyKindCredit); err != nil {
		t.Fatalf("choose kind: %v", err)
	}
	w.ChooseCustom("admin")

	if _, err := w.HandleText(ctx, "admin", "-5"); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
	s, _ := w.Session("admin")
	if s.Step != WizardStepCustomAmount {
		t.Fatalf("step advanced on bad input: %v", s.Step)
	}

	reply, err := w.HandleText(ctx, "admin", "777")
	if err != nil || reply.Next != WizardStepQuantity {
		t.Fatalf("custom amount = %+v, %v", reply, err)
	}
	reply, err = w.HandleText(ctx, "admin", "2")
	if err != nil {
		t.Fatalf("quantity: %v", err)
	}
	for _, c := range reply.Codes {
		if !strings.HasPrefix(c, "PFX-CR777-") {
			t.Fatalf("unexpected code %s", c)
		}
	}
}

func TestWizardRestartReplacesSession(t *testing.T) {
	env := newTestEnv(t)
	w := NewWizard(env.keySvc, 0)
	if err := w.ChooseCredit("admin", 100); err != nil {
		t.Fatalf("choose credit: %v", err)
	}
	w.Start("admin")
	s, ok := w.Session("admin")
	if !ok || s.Step != WizardStepKind || s.Value != 0 {
		t.Fatalf("unexpected session after restart %+v", s)
	}
	reply, err := w.HandleText(context.Background(), "admin", "5")
	if err != nil || reply.Handled {
		t.Fatalf("text at kind step must be ignored: %+v, %v", reply, err)
	}
}

func TestWizardSessionsAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := NewWizard(env.keySvc, 0)
	if err := w.ChooseCredit("a", 25); err != nil {
		t.Fatalf("choose credit: %v", err)
	}
	if err := w.ChooseTier("b", 3); err != nil {
		t.Fatalf("choose tier: %v", err)
	}

	reply, err := w.HandleText(ctx, "a", "1")
	if err != nil || !strings.Contains(reply.Codes[0], "-CR25-") {
		t.Fatalf("admin a got %+v, %v", reply, err)
	}
	s, ok := w.Session("b")
	if !ok || s.Kind != models.KeyKindSubscription || s.Value != 3 {
		t.Fatalf("admin b session disturbed: %+v", s)
	}
	if _, ok := w.Announcement("b"); ok {
		t.Fatal("admin b must not see admin a's batch")
	}
}

func TestWizardRejectsOversizedBatch(t *testing.T) {
	env := newTestEnv(t)
	w := NewWizard(env.keySvc, 10)
	if err := w.ChooseCredit("admin", 50); err != nil {
		t.Fatalf("choose credit: %v", err)
	}
	if _, err := w.HandleText(context.Background(), "admin", "11"); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
	if _, ok := w.Session("admin"); !ok {
		t.Fatal("session dropped on oversized batch")
	}
}

func TestWizardRejectsBadButtons(t *testing.T) {
	env := newTestEnv(t)
	w := NewWizard(env.keySvc, 0)
	if err := w.ChooseTier("admin", 9); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
	if err := w.ChooseCredit("admin", 0); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
	if err := w.ChooseKind("admin", "gems"); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
}

func TestWizardAnnouncement(t *testing.T) {
	env := newTestEnv(t)
	w := NewWizard(env.keySvc, 0)
	if _, ok := w.Announcement("admin"); ok {
		t.Fatal("announcement without batch")
	}
	if err := w.ChooseCredit("admin", 50); err != nil {
		t.Fatalf("choose credit: %v", err)
	}
	reply, err := w.HandleText(context.Background(), "admin", "2")
	if err != nil {
		t.Fatalf("quantity: %v", err)
	}
	text, ok := w.Announcement("admin")
	if !ok {
		t.Fatal("expected announcement")
	}
	if !strings.Contains(text, "Count: 2") {
		t.Fatalf("missing count: %s", text)
	}
	if !strings.Contains(text, reply.Codes[0]+"\n"+reply.Codes[1]) {
		t.Fatalf("codes not one per line: %s", text)
	}
}

// restartingIssuer starts a new session for the admin while a batch is issued.
type restartingIssuer struct {
	w     *Wizard
	admin string
	inner KeyIssuer
}

func (r *restartingIssuer) Issue(ctx context.Context, kind models.KeyKind, value, count int) ([]string, error) {
	r.w.Start(r.admin)
	return r.inner.Issue(ctx, kind, value, count)
}

func TestWizardKeepsSessionStartedDuringIssue(t *testing.T) {
	env := newTestEnv(t)
	issuer := &restartingIssuer{admin: "admin", inner: env.keySvc}
	w := NewWizard(issuer, 0)
	issuer.w = w

	if err := w.ChooseCredit("admin", 25); err != nil {
		t.Fatalf("choose credit: %v", err)
	}
	reply, err := w.HandleText(context.Background(), "admin", "2")
	if err != nil || len(reply.Codes) != 2 {
		t.Fatalf("quantity: %+v, %v", reply, err)
	}
	s, ok := w.Session("admin")
	if !ok || s.Step != WizardStepKind {
		t.Fatalf("restarted session lost: %+v, %v", s, ok)
	}
}
