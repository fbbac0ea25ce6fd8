package mtproto

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"

	"tg-checkin-bot/internal/domain"
	"tg-checkin-bot/internal/infra/metrics"
)

const dialTimeout = 30 * time.Second

// Options — параметры подключения к Telegram.
type Options struct {
	APIID   int
	APIHash string
	Blobs   domain.SessionBlobRepo
	Log     zerolog.Logger
}

// Dialer поднимает MTProto-клиенты по именам сохранённых сессий.
type Dialer struct {
	opts Options
}

// NewDialer создаёт фабрику клиентов.
func NewDialer(opts Options) *Dialer {
	return &Dialer{opts: opts}
}

// Dial подключает сохранённую сессию и ждёт готовности. Неавторизованная
// сессия отличается от сетевого сбоя ошибкой ErrNotAuthorized.
func (d *Dialer) Dial(ctx context.Context, sessionName string) (domain.SessionHandle, error) {
	r := newRouter()
	dispatcher := tg.NewUpdateDispatcher()
	r.bind(&dispatcher)

	tc := telegram.NewClient(d.opts.APIID, d.opts.APIHash, telegram.Options{
		SessionStorage: &blobStorage{repo: d.opts.Blobs, name: sessionName},
		UpdateHandler:  dispatcher,
	})

	c := &Client{
		name:   sessionName,
		client: tc,
		router: r,
		log:    d.opts.Log.With().Str("session", sessionName).Logger(),
	}

	runCtx, stop := context.WithCancel(context.Background())
	ready := make(chan error, 1)
	go func() {
		err := tc.Run(runCtx, func(ctx context.Context) error {
			status, err := tc.Auth().Status(ctx)
			if err != nil {
				ready <- err
				return err
			}
			if !status.Authorized {
				ready <- domain.ErrNotAuthorized
				return domain.ErrNotAuthorized
			}
			self, err := tc.Self(ctx)
			if err != nil {
				ready <- err
				return err
			}
			c.selfID = self.ID
			ready <- nil
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil && runCtx.Err() == nil {
			c.log.Warn().Err(err).Msg("соединение сессии завершилось")
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			stop()
			return nil, err
		}
	case <-ctx.Done():
		stop()
		return nil, ctx.Err()
	case <-time.After(dialTimeout):
		stop()
		return nil, fmt.Errorf("подключение сессии %s: %w", sessionName, domain.ErrTimeout)
	}

	c.api = tc.API()
	c.stop = stop
	return c, nil
}

// Client — живое подключение одной учётной записи. Реализует
// domain.SessionHandle, методы можно звать из нескольких горутин.
type Client struct {
	name   string
	client *telegram.Client
	api    *tg.Client
	router *router
	stop   context.CancelFunc
	selfID int64
	log    zerolog.Logger
}

var _ domain.SessionHandle = (*Client)(nil)

// Close разрывает соединение. Повторный вызов безопасен.
func (c *Client) Close() error {
	c.stop()
	return nil
}

// Probe проверяет живость соединения лёгким запросом.
func (c *Client) Probe(ctx context.Context) error {
	start := time.Now()
	_, err := c.client.Self(ctx)
	metrics.ObserveNetworkRequest("telegram", "self", c.name, start, err)
	return err
}

// SubscribeMessages подписывает на новые и отредактированные сообщения пира.
func (c *Client) SubscribeMessages(peerID int64) (<-chan domain.IncomingMessage, func()) {
	return c.router.Subscribe(peerID)
}

// SendMessage отправляет текст пиру.
func (c *Client) SendMessage(ctx context.Context, peer domain.Peer, text string) error {
	start := time.Now()
	_, err := message.NewSender(c.api).To(inputPeer(peer)).Text(ctx, text)
	metrics.ObserveNetworkRequest("telegram", "send_message", c.name, start, err)
	if tgerr.Is(err, "CHAT_WRITE_FORBIDDEN") {
		return domain.ErrWriteForbidden
	}
	return err
}

// ClickButton нажимает инлайн-кнопку и возвращает текст всплывающего
// ответа бота, если тот был.
func (c *Client) ClickButton(ctx context.Context, peer domain.Peer, msgID int64, data []byte) (string, error) {
	req := &tg.MessagesGetBotCallbackAnswerRequest{
		Peer:  inputPeer(peer),
		MsgID: int(msgID),
	}
	req.SetData(data)
	start := time.Now()
	answer, err := c.api.MessagesGetBotCallbackAnswer(ctx, req)
	metrics.ObserveNetworkRequest("telegram", "callback_answer", c.name, start, err)
	if err != nil {
		// Бот не ответил на колбэк вовремя: нажатие состоялось, ответа
		// просто нет.
		if tgerr.Is(err, "BOT_RESPONSE_TIMEOUT") {
			return "", nil
		}
		return "", err
	}
	alert, _ := answer.GetMessage()
	return alert, nil
}

// GetMessage перечитывает сообщение по идентификатору. Нужен для ботов,
// дорисовывающих клавиатуру после отправки текста.
func (c *Client) GetMessage(ctx context.Context, peer domain.Peer, msgID int64) (domain.IncomingMessage, error) {
	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: int(msgID)}}
	var (
		res tg.MessagesMessagesClass
		err error
	)
	start := time.Now()
	if peer.Kind == domain.PeerChannel {
		res, err = c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: peer.ID, AccessHash: peer.AccessHash},
			ID:      ids,
		})
	} else {
		res, err = c.api.MessagesGetMessages(ctx, ids)
	}
	metrics.ObserveNetworkRequest("telegram", "get_message", c.name, start, err)
	if err != nil {
		return domain.IncomingMessage{}, err
	}
	for _, raw := range historyMessages(res) {
		if msg, ok := raw.(*tg.Message); ok && int64(msg.ID) == msgID {
			return convertMessage(msg), nil
		}
	}
	return domain.IncomingMessage{}, fmt.Errorf("сообщение %d не найдено", msgID)
}

// LatestMessage возвращает последнее сообщение диалога. Пустая история
// не ошибка: false во втором значении.
func (c *Client) LatestMessage(ctx context.Context, peer domain.Peer) (domain.IncomingMessage, bool, error) {
	start := time.Now()
	res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  inputPeer(peer),
		Limit: 1,
	})
	metrics.ObserveNetworkRequest("telegram", "get_history", c.name, start, err)
	if err != nil {
		return domain.IncomingMessage{}, false, err
	}
	for _, raw := range historyMessages(res) {
		if msg, ok := raw.(*tg.Message); ok {
			return convertMessage(msg), true, nil
		}
	}
	return domain.IncomingMessage{}, false, nil
}

// ResolvePeer находит пира по ссылке задачи: боты по юзернейму, группы и
// каналы по числовому идентификатору среди диалогов аккаунта.
func (c *Client) ResolvePeer(ctx context.Context, target domain.TargetRef) (domain.Peer, error) {
	if target.Kind == domain.TargetBot {
		return c.resolveUsername(ctx, target.BotUsername)
	}
	return c.resolveDialog(ctx, target.ChatID)
}

func (c *Client) resolveUsername(ctx context.Context, username string) (domain.Peer, error) {
	start := time.Now()
	res, err := c.api.ContactsResolveUsername(ctx, strings.TrimPrefix(username, "@"))
	metrics.ObserveNetworkRequest("telegram", "resolve_username", c.name, start, err)
	if err != nil {
		if tgerr.Is(err, "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID") {
			return domain.Peer{}, domain.ErrTargetNotFound
		}
		return domain.Peer{}, err
	}
	for _, raw := range res.Users {
		if user, ok := raw.(*tg.User); ok {
			return domain.Peer{
				Kind:       domain.PeerUser,
				ID:         user.ID,
				AccessHash: user.AccessHash,
				Title:      user.Username,
			}, nil
		}
	}
	return domain.Peer{}, domain.ErrTargetNotFound
}

func (c *Client) resolveDialog(ctx context.Context, chatID int64) (domain.Peer, error) {
	// Идентификаторы в стиле клиентских API: -100xxxxxxxxxx для каналов,
	// -xxxx для старых групп.
	channelID := int64(0)
	legacyID := int64(0)
	switch {
	case chatID <= -1000000000000:
		channelID = -chatID - 1000000000000
	case chatID < 0:
		legacyID = -chatID
	default:
		channelID = chatID
		legacyID = chatID
	}

	start := time.Now()
	res, err := c.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      100,
	})
	metrics.ObserveNetworkRequest("telegram", "get_dialogs", c.name, start, err)
	if err != nil {
		return domain.Peer{}, err
	}

	var chats []tg.ChatClass
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	}
	for _, raw := range chats {
		switch chat := raw.(type) {
		case *tg.Chat:
			if chat.ID == legacyID {
				return domain.Peer{Kind: domain.PeerGroup, ID: chat.ID, Title: chat.Title}, nil
			}
		case *tg.Channel:
			if chat.ID == channelID {
				return domain.Peer{
					Kind:       domain.PeerChannel,
					ID:         chat.ID,
					AccessHash: chat.AccessHash,
					Title:      chat.Title,
				}, nil
			}
		}
	}
	return domain.Peer{}, domain.ErrTargetNotFound
}

func inputPeer(peer domain.Peer) tg.InputPeerClass {
	switch peer.Kind {
	case domain.PeerGroup:
		return &tg.InputPeerChat{ChatID: peer.ID}
	case domain.PeerChannel:
		return &tg.InputPeerChannel{ChannelID: peer.ID, AccessHash: peer.AccessHash}
	default:
		return &tg.InputPeerUser{UserID: peer.ID, AccessHash: peer.AccessHash}
	}
}

func historyMessages(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch m := res.(type) {
	case *tg.MessagesMessages:
		return m.Messages
	case *tg.MessagesMessagesSlice:
		return m.Messages
	case *tg.MessagesChannelMessages:
		return m.Messages
	}
	return nil
}
