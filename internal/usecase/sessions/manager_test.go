package sessions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-checkin-bot/internal/domain"
)

type fakeHandle struct {
	mu       sync.Mutex
	probeErr error
	closed   bool
}

func (h *fakeHandle) setProbeErr(err error) {
	h.mu.Lock()
	h.probeErr = err
	h.mu.Unlock()
}

func (h *fakeHandle) Probe(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.probeErr
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) ResolvePeer(ctx context.Context, target domain.TargetRef) (domain.Peer, error) {
	return domain.Peer{}, nil
}

func (h *fakeHandle) SendMessage(ctx context.Context, peer domain.Peer, text string) error {
	return nil
}

func (h *fakeHandle) SubscribeMessages(peerID int64) (<-chan domain.IncomingMessage, func()) {
	ch := make(chan domain.IncomingMessage)
	return ch, func() {}
}

func (h *fakeHandle) ClickButton(ctx context.Context, peer domain.Peer, msgID int64, data []byte) (string, error) {
	return "", nil
}

func (h *fakeHandle) GetMessage(ctx context.Context, peer domain.Peer, msgID int64) (domain.IncomingMessage, error) {
	return domain.IncomingMessage{}, nil
}

func (h *fakeHandle) LatestMessage(ctx context.Context, peer domain.Peer) (domain.IncomingMessage, bool, error) {
	return domain.IncomingMessage{}, false, nil
}

type fakeLoginSession struct {
	name       string
	codeHash   string
	sendErr    error
	signInErr  error
	signInUser domain.LoginUser
	closed     bool
}

func (l *fakeLoginSession) SendCode(ctx context.Context, phone string) (string, error) {
	return l.codeHash, l.sendErr
}

func (l *fakeLoginSession) SignIn(ctx context.Context, phone, code, codeHash, password string) (domain.LoginUser, error) {
	if l.signInErr != nil {
		return domain.LoginUser{}, l.signInErr
	}
	return l.signInUser, nil
}

func (l *fakeLoginSession) SessionName() string { return l.name }

func (l *fakeLoginSession) Close() error {
	l.closed = true
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	dialErr  map[string]error
	dials    []string
	handles  map[string]*fakeHandle
	all      []*fakeHandle
	gate     chan struct{}
	login    *fakeLoginSession
	loginErr error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialErr: make(map[string]error), handles: make(map[string]*fakeHandle)}
}

func (d *fakeDialer) Dial(ctx context.Context, name string) (domain.SessionHandle, error) {
	d.mu.Lock()
	d.dials = append(d.dials, name)
	err := d.dialErr[name]
	gate := d.gate
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if gate != nil {
		<-gate
	}
	h := &fakeHandle{}
	d.mu.Lock()
	d.handles[name] = h
	d.all = append(d.all, h)
	d.mu.Unlock()
	return h, nil
}

func (d *fakeDialer) allHandles() []*fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*fakeHandle, len(d.all))
	copy(out, d.all)
	return out
}

func (d *fakeDialer) DialForLogin(ctx context.Context, name string) (domain.LoginSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loginErr != nil {
		return nil, d.loginErr
	}
	if d.login == nil {
		d.login = &fakeLoginSession{codeHash: "hash"}
	}
	d.login.name = name
	return d.login, nil
}

func (d *fakeDialer) dialCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, dialed := range d.dials {
		if dialed == name {
			n++
		}
	}
	return n
}

type fakeBlobs struct {
	mu      sync.Mutex
	deleted []string
	renames [][2]string
}

func (b *fakeBlobs) LoadSessionBlob(ctx context.Context, name string) ([]byte, error) {
	return nil, nil
}

func (b *fakeBlobs) StoreSessionBlob(ctx context.Context, name string, data []byte) error {
	return nil
}

func (b *fakeBlobs) DeleteSessionBlob(ctx context.Context, name string) error {
	b.mu.Lock()
	b.deleted = append(b.deleted, name)
	b.mu.Unlock()
	return nil
}

func (b *fakeBlobs) RenameSessionBlob(ctx context.Context, oldName, newName string) error {
	b.mu.Lock()
	b.renames = append(b.renames, [2]string{oldName, newName})
	b.mu.Unlock()
	return nil
}

type fakeUsers struct {
	users []domain.User
}

func (u *fakeUsers) ListUsers(ctx context.Context) ([]domain.User, error) { return u.users, nil }

func (u *fakeUsers) GetUserByTelegramID(ctx context.Context, telegramID int64) (domain.User, error) {
	for _, user := range u.users {
		if user.TelegramID == telegramID {
			return user, nil
		}
	}
	return domain.User{}, errors.New("not found")
}

func (u *fakeUsers) UpsertUser(ctx context.Context, user domain.User) (domain.User, error) {
	return user, nil
}

func (u *fakeUsers) UpdateUserStatus(ctx context.Context, telegramID int64, status string) error {
	return nil
}

func newTestManager(d *fakeDialer, b *fakeBlobs, u *fakeUsers) *Manager {
	return NewManager(d, b, u, time.Minute, zerolog.Nop())
}

func TestAddOrUpdateIsIdempotentForLiveSession(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, &fakeBlobs{}, &fakeUsers{})

	if err := m.AddOrUpdate(context.Background(), "session_1", "Ник"); err != nil {
		t.Fatalf("первое подключение: %v", err)
	}
	if err := m.AddOrUpdate(context.Background(), "session_1", "Ник"); err != nil {
		t.Fatalf("повторное подключение: %v", err)
	}
	if got := d.dialCount("session_1"); got != 1 {
		t.Fatalf("живая сессия пересоздана: %d подключений", got)
	}
	if _, ok := m.Get("session_1"); !ok {
		t.Fatal("подключённая сессия недоступна через Get")
	}
}

func TestAddOrUpdateKeepsFailedEntryVisible(t *testing.T) {
	d := newFakeDialer()
	d.dialErr["session_2"] = domain.ErrNotAuthorized
	m := newTestManager(d, &fakeBlobs{}, &fakeUsers{})

	if err := m.AddOrUpdate(context.Background(), "session_2", ""); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("ожидалась ErrNotAuthorized, получено %v", err)
	}
	info, ok := m.Info("session_2")
	if !ok {
		t.Fatal("запись о сессии исчезла после ошибки авторизации")
	}
	if info.Status != domain.SessionAuthFailed {
		t.Fatalf("статус = %s, ожидался auth_failed", info.Status)
	}
	if _, ok := m.Get("session_2"); ok {
		t.Fatal("неавторизованная сессия не должна отдаваться через Get")
	}
}

func TestConcurrentAddOrUpdateKeepsSingleLiveHandle(t *testing.T) {
	d := newFakeDialer()
	d.gate = make(chan struct{})
	m := NewManager(d, &fakeBlobs{}, &fakeUsers{}, time.Minute, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.AddOrUpdate(context.Background(), "session_9", "")
		}()
	}
	deadline := time.Now().Add(2 * time.Second)
	for d.dialCount("session_9") < 2 {
		if time.Now().After(deadline) {
			t.Fatal("оба вызова должны дойти до набора соединения")
		}
		time.Sleep(time.Millisecond)
	}
	close(d.gate)
	wg.Wait()

	handle, ok := m.Get("session_9")
	if !ok {
		t.Fatal("сессия не подключена")
	}
	live := 0
	for _, h := range d.allHandles() {
		if h.isClosed() {
			continue
		}
		live++
		if domain.SessionHandle(h) != handle {
			t.Fatal("живой хэндл не совпадает с хэндлом реестра")
		}
	}
	if live != 1 {
		t.Fatalf("живых хэндлов %d, ожидался 1", live)
	}
}

func TestRemoveClosesHandleAndDeletesBlob(t *testing.T) {
	d := newFakeDialer()
	b := &fakeBlobs{}
	m := newTestManager(d, b, &fakeUsers{})

	_ = m.AddOrUpdate(context.Background(), "session_3", "")
	if !m.Remove(context.Background(), "session_3") {
		t.Fatal("Remove должен вернуть true для существующей сессии")
	}
	if m.Remove(context.Background(), "session_3") {
		t.Fatal("Remove должен вернуть false для отсутствующей сессии")
	}
	if !d.handles["session_3"].closed {
		t.Fatal("хэндл не закрыт при удалении")
	}
	if len(b.deleted) != 1 || b.deleted[0] != "session_3" {
		t.Fatalf("блоб не удалён: %v", b.deleted)
	}
}

func TestHealthCheckReconnectsDeadSession(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, &fakeBlobs{}, &fakeUsers{})

	_ = m.AddOrUpdate(context.Background(), "session_4", "Ник")
	d.handles["session_4"].setProbeErr(errors.New("flood wait"))

	m.HealthCheckAll(context.Background())

	if got := d.dialCount("session_4"); got != 2 {
		t.Fatalf("ожидалось переподключение, подключений: %d", got)
	}
	info, ok := m.Info("session_4")
	if !ok {
		t.Fatal("health-цикл удалил сессию")
	}
	if info.Status != domain.SessionConnected {
		t.Fatalf("после переподключения статус = %s", info.Status)
	}
}

func TestHealthCheckLeavesHealthySessionAlone(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, &fakeBlobs{}, &fakeUsers{})

	_ = m.AddOrUpdate(context.Background(), "session_5", "")
	m.HealthCheckAll(context.Background())

	if got := d.dialCount("session_5"); got != 1 {
		t.Fatalf("здоровая сессия переподключена: %d подключений", got)
	}
}

func TestInitializeAllConnectsOnlyLoggedInUsers(t *testing.T) {
	d := newFakeDialer()
	u := &fakeUsers{users: []domain.User{
		{TelegramID: 1, Status: domain.UserLoggedIn, SessionName: "session_1", Nickname: "один"},
		{TelegramID: 2, Status: "logged_out", SessionName: "session_2"},
		{TelegramID: 3, Status: domain.UserLoggedIn, SessionName: ""},
	}}
	m := newTestManager(d, &fakeBlobs{}, u)

	if err := m.InitializeAll(context.Background()); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}
	if got := d.dialCount("session_1"); got != 1 {
		t.Fatalf("авторизованный пользователь не подключён: %d", got)
	}
	if got := d.dialCount("session_2"); got != 0 {
		t.Fatal("разлогиненный пользователь не должен подключаться")
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d", m.ActiveCount())
	}
}

func TestSignInSuccessMigratesBlobAndConnects(t *testing.T) {
	d := newFakeDialer()
	d.login = &fakeLoginSession{codeHash: "hash", signInUser: domain.LoginUser{TelegramID: 42, Nickname: "оператор"}}
	b := &fakeBlobs{}
	m := newTestManager(d, b, &fakeUsers{})

	hash, err := m.SendCode(context.Background(), "+79990000001")
	if err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	if hash != "hash" {
		t.Fatalf("hash = %q", hash)
	}
	tempName := d.login.name
	if !strings.HasPrefix(tempName, "temp_login_79990000001_") {
		t.Fatalf("временное имя = %q", tempName)
	}

	out, err := m.CompleteSignIn(context.Background(), "+79990000001", "12345", hash, "")
	if err != nil {
		t.Fatalf("CompleteSignIn: %v", err)
	}
	if out.Status != SignInOK || out.SessionName != "session_42" {
		t.Fatalf("исход = %+v", out)
	}
	if len(b.renames) != 1 || b.renames[0] != [2]string{tempName, "session_42"} {
		t.Fatalf("блоб не мигрирован: %v", b.renames)
	}
	if len(b.deleted) != 0 {
		t.Fatalf("успешный вход не должен удалять блоб: %v", b.deleted)
	}
	if !d.login.closed {
		t.Fatal("эфемерное соединение не закрыто")
	}
	if _, ok := m.Get("session_42"); !ok {
		t.Fatal("постоянная сессия не подключена после входа")
	}
}

func TestSignInFailureTearsDownTempSession(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status string
	}{
		{"неверный код", domain.ErrInvalidCode, SignInInvalidCode},
		{"истёкший код", domain.ErrExpiredCode, SignInExpiredCode},
		{"нужен пароль 2FA", domain.ErrTwoFactorRequired, SignInNeeds2FA},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := newFakeDialer()
			d.login = &fakeLoginSession{codeHash: "hash", signInErr: tc.err}
			b := &fakeBlobs{}
			m := newTestManager(d, b, &fakeUsers{})

			if _, err := m.SendCode(context.Background(), "+79990000002"); err != nil {
				t.Fatalf("SendCode: %v", err)
			}
			out, err := m.CompleteSignIn(context.Background(), "+79990000002", "000", "hash", "")
			if err != nil {
				t.Fatalf("CompleteSignIn: %v", err)
			}
			if out.Status != tc.status {
				t.Fatalf("статус = %q, ожидался %q", out.Status, tc.status)
			}
			if len(b.deleted) != 1 {
				t.Fatalf("временный блоб не удалён: %v", b.deleted)
			}
			if !d.login.closed {
				t.Fatal("эфемерное соединение не закрыто")
			}
		})
	}
}

func TestCompleteSignInWithoutSendCode(t *testing.T) {
	m := newTestManager(newFakeDialer(), &fakeBlobs{}, &fakeUsers{})
	if _, err := m.CompleteSignIn(context.Background(), "+79990000003", "1", "h", ""); !errors.Is(err, domain.ErrLoginNotStarted) {
		t.Fatalf("ожидалась ErrLoginNotStarted, получено %v", err)
	}
}
