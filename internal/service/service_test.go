package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/digkill/TGKeyBot/internal/repository"
	"github.com/digkill/TGKeyBot/internal/storage"
)

// failingBackend refuses saves of the named documents while armed.
type failingBackend struct {
	*storage.MemoryBackend
	mu   sync.Mutex
	fail map[string]bool
}

func newFailingBackend() *failingBackend {
	return &failingBackend{MemoryBackend: storage.NewMemoryBackend(), fail: map[string]bool{}}
}

func (b *failingBackend) setFail(name string, fail bool) {
	b.mu.Lock()
	b.fail[name] = fail
	b.mu.Unlock()
}

func (b *failingBackend) Save(ctx context.Context, name string, data []byte) error {
	b.mu.Lock()
	fail := b.fail[name]
	b.mu.Unlock()
	if fail {
		return errors.New("no space left on device")
	}
	return b.MemoryBackend.Save(ctx, name, data)
}

type testEnv struct {
	backend   *failingBackend
	store     *storage.Store
	users     *repository.UserRepository
	keyRepo   *repository.KeyRepository
	userSvc   *UserService
	keySvc    *KeyService
	log       *slog.Logger
	broadcast *BroadcastService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	backend := newFailingBackend()
	store := storage.NewStore(backend)
	users, err := repository.NewUserRepository(ctx, store)
	if err != nil {
		t.Fatalf("user repo: %v", err)
	}
	keys, err := repository.NewKeyRepository(ctx, store)
	if err != nil {
		t.Fatalf("key repo: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &testEnv{
		backend:   backend,
		store:     store,
		users:     users,
		keyRepo:   keys,
		userSvc:   NewUserService(users),
		keySvc:    NewKeyService(keys, users, log, KeyOptions{Prefix: "PFX", MaxBatch: 500}),
		log:       log,
		broadcast: NewBroadcastService(users, log),
	}
}

func (e *testEnv) register(t *testing.T, id string) {
	t.Helper()
	if _, err := e.userSvc.Register(context.Background(), id, "user"+id, "User "+id); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}
