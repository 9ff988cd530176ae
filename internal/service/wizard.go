package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/digkill/TGKeyBot/internal/models"
)

// CreditPresets are the amounts offered as buttons in the key wizard.
var CreditPresets = []int{25, 50, 100, 200, 350, 500, 800, 1000}

type WizardStep int

const (
	WizardStepIdle WizardStep = iota
	WizardStepKind
	WizardStepValue
	WizardStepCustomAmount
	WizardStepQuantity
)

// WizardSession is the pending key batch of one admin.
type WizardSession struct {
	Step  WizardStep
	Kind  models.KeyKind
	Value int
}

type KeyIssuer interface {
	Issue(ctx context.Context, kind models.KeyKind, value, count int) ([]string, error)
}

// WizardReply tells the caller what happened with a text message.
type WizardReply struct {
	Handled bool
	Next    WizardStep
	Codes   []string
}

// Wizard drives the kind → value → quantity conversation per admin.
type Wizard struct {
	issuer    KeyIssuer
	maxBatch  int
	mu        sync.Mutex
	sessions  map[string]*WizardSession
	lastBatch map[string][]string
}

func NewWizard(issuer KeyIssuer, maxBatch int) *Wizard {
	return &Wizard{
		issuer:    issuer,
		maxBatch:  maxBatch,
		sessions:  make(map[string]*WizardSession),
		lastBatch: make(map[string][]string),
	}
}

// Start replaces any pending session of the admin with a fresh one.
func (w *Wizard) Start(admin string) {
	w.set(admin, &WizardSession{Step: WizardStepKind})
}

func (w *Wizard) Cancel(admin string) {
	w.mu.Lock()
	delete(w.sessions, admin)
	w.mu.Unlock()
}

func (w *Wizard) Session(admin string) (WizardSession, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[admin]
	if !ok {
		return WizardSession{}, false
	}
	return *s, true
}

// ChooseKind records the reward kind. Pressing a kind button restarts the
// batch from the value step.
func (w *Wizard) ChooseKind(admin string, kind models.KeyKind) error {
	if kind != models.KeyKindCredit && kind != models.KeyKindSubscription {
		return fmt.Errorf("%w: unknown key kind %q", ErrMalformedInput, kind)
	}
	w.set(admin, &WizardSession{Step: WizardStepValue, Kind: kind})
	return nil
}

func (w *Wizard) ChooseCredit(admin string, amount int) error {
	if err := ValidateReward(models.KeyKindCredit, amount); err != nil {
		return err
	}
	w.set(admin, &WizardSession{Step: WizardStepQuantity, Kind: models.KeyKindCredit, Value: amount})
	return nil
}

// ChooseCustom waits for a typed credit amount.
func (w *Wizard) ChooseCustom(admin string) {
	w.set(admin, &WizardSession{Step: WizardStepCustomAmount, Kind: models.KeyKindCredit})
}

func (w *Wizard) ChooseTier(admin string, tier int) error {
	if err := ValidateReward(models.KeyKindSubscription, tier); err != nil {
		return err
	}
	w.set(admin, &WizardSession{Step: WizardStepQuantity, Kind: models.KeyKindSubscription, Value: tier})
	return nil
}

// HandleText consumes a typed answer. Malformed numbers return
// ErrMalformedInput and leave the session on the same step.
func (w *Wizard) HandleText(ctx context.Context, admin, text string) (WizardReply, error) {
	w.mu.Lock()
	session, ok := w.sessions[admin]
	if !ok || (session.Step != WizardStepCustomAmount && session.Step != WizardStepQuantity) {
		w.mu.Unlock()
		return WizardReply{}, nil
	}
	current := *session
	w.mu.Unlock()

	n, err := parsePositive(text)
	if err != nil {
		return WizardReply{Handled: true, Next: current.Step}, err
	}

	if current.Step == WizardStepCustomAmount {
		w.set(admin, &WizardSession{Step: WizardStepQuantity, Kind: models.KeyKindCredit, Value: n})
		return WizardReply{Handled: true, Next: WizardStepQuantity}, nil
	}

	if w.maxBatch > 0 && n > w.maxBatch {
		return WizardReply{Handled: true, Next: WizardStepQuantity}, fmt.Errorf("%w: at most %d keys per batch", ErrMalformedInput, w.maxBatch)
	}

	codes, err := w.issuer.Issue(ctx, current.Kind, current.Value, n)
	w.mu.Lock()
	// A restart during Issue left a new session that must survive.
	if w.sessions[admin] == session {
		delete(w.sessions, admin)
	}
	if err == nil {
		w.lastBatch[admin] = codes
	}
	w.mu.Unlock()
	if err != nil {
		return WizardReply{Handled: true}, err
	}
	return WizardReply{Handled: true, Next: WizardStepIdle, Codes: codes}, nil
}

// Announcement renders the last batch of the admin for posting.
func (w *Wizard) Announcement(admin string) (string, bool) {
	w.mu.Lock()
	codes := w.lastBatch[admin]
	w.mu.Unlock()
	if len(codes) == 0 {
		return "", false
	}
	return FormatAnnouncement(codes), true
}

func FormatAnnouncement(codes []string) string {
	return fmt.Sprintf("🎁 *Free Keys!* 🎁\n\nCount: %d\n\n%s\n\nRedeem in bot → `/redeem <key>`",
		len(codes), strings.Join(codes, "\n"))
}

func (w *Wizard) set(admin string, session *WizardSession) {
	w.mu.Lock()
	w.sessions[admin] = session
	w.mu.Unlock()
}

func parsePositive(text string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrMalformedInput, text)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: number must be positive", ErrMalformedInput)
	}
	return n, nil
}
