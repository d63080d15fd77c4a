// internal/dispatcher/dispatcher_test.go
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlockchainHB/twitter-monitor/internal/api/helius"
	"github.com/BlockchainHB/twitter-monitor/internal/api/twitter"
	"github.com/BlockchainHB/twitter-monitor/internal/config"
	"github.com/BlockchainHB/twitter-monitor/internal/storage/memory"
	"github.com/BlockchainHB/twitter-monitor/internal/types"
)

const (
	testWallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	testMint   = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// fakeContent - фейковый контент-провайдер
type fakeContent struct {
	users  map[string]*twitter.User
	tweets []twitter.Tweet
	err    error
}

func (f *fakeContent) GetUserByUsername(_ context.Context, username string) (*twitter.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.users[username]; ok {
		return u, nil
	}
	return nil, types.ErrNotFound
}

func (f *fakeContent) GetUserTweets(_ context.Context, _, sinceID string) ([]twitter.Tweet, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []twitter.Tweet
	for _, t := range f.tweets {
		if idGreater(t.ID, sinceID) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeContent) SearchRecent(_ context.Context, _ []string, sinceID string) ([]twitter.Tweet, error) {
	return f.GetUserTweets(context.Background(), "", sinceID)
}

// fakeChain - фейковый провайдер блокчейна
type fakeChain struct {
	mu    sync.Mutex
	hooks []helius.Webhook
	next  int
}

func (f *fakeChain) RegisterWebhook(_ context.Context, url, auth string, addresses []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("hook-%d", f.next)
	f.hooks = append(f.hooks, helius.Webhook{WebhookID: id, WebhookURL: url, AccountAddresses: addresses})
	return id, nil
}

func (f *fakeChain) ListWebhooks(_ context.Context) ([]helius.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]helius.Webhook(nil), f.hooks...), nil
}

func (f *fakeChain) DeleteWebhook(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.hooks {
		if f.hooks[i].WebhookID == id {
			f.hooks = append(f.hooks[:i], f.hooks[i+1:]...)
			return nil
		}
	}
	return nil
}

// fakePrices - фейковое API обогащения
type fakePrices struct {
	info  map[string]*types.TokenInfo
	err   error
	calls int
}

func (f *fakePrices) GetTokenInfo(_ context.Context, address string) (*types.TokenInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.info[address], nil
}

// recordingSink - приемник, записывающий отправленные уведомления
type recordingSink struct {
	mu       sync.Mutex
	messages []sentMessage
}

type sentMessage struct {
	channel types.ChannelKind
	text    string
}

func (r *recordingSink) Send(kind types.ChannelKind, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, sentMessage{channel: kind, text: message})
	return nil
}

func (r *recordingSink) sent() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.messages...)
}

// recordingSms - отправитель SMS с настраиваемыми отказами
type recordingSms struct {
	mu      sync.Mutex
	failFor map[string]bool
	sent    []string
}

func (r *recordingSms) SendSms(_, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor[phone] {
		return errors.New("carrier unavailable")
	}
	r.sent = append(r.sent, phone)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		BroadcastThresholdUsd: 1000,
		SmsThresholdUsd:       500,
		WebhookBatchSize:      3,
		WebhookBatchPause:     time.Millisecond,
	}
}

func newTestDispatcher(cfg *config.Config, deps Deps) *Dispatcher {
	if deps.Store == nil {
		deps.Store = memory.NewWatchStore()
	}
	if deps.Sink == nil {
		deps.Sink = &recordingSink{}
	}
	return NewDispatcher(cfg, deps)
}

func TestAddWatchIdempotent(t *testing.T) {
	content := &fakeContent{users: map[string]*twitter.User{
		"elonmusk": {ID: "44196397", Name: "Elon Musk", Username: "elonmusk"},
	}}
	d := newTestDispatcher(testConfig(), Deps{Content: content})

	ctx := context.Background()
	first, err := d.AddWatch(ctx, "@ElonMusk", types.WatchKindTwitter, types.MonitorAll, false)
	require.NoError(t, err)
	assert.Equal(t, "elonmusk", first.ID)
	assert.Equal(t, "44196397", first.UpstreamID)

	second, err := d.AddWatch(ctx, "elonmusk", types.WatchKindTwitter, types.MonitorAll, false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestAddWatchRejectsInvalidID(t *testing.T) {
	d := newTestDispatcher(testConfig(), Deps{Content: &fakeContent{}})

	_, err := d.AddWatch(context.Background(), "this handle is way too long!!", types.WatchKindTwitter, types.MonitorAll, false)
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))

	_, err = d.AddWatch(context.Background(), "not-base58", types.WatchKindWallet, types.MonitorAll, false)
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestAddWatchUnknownAccount(t *testing.T) {
	d := newTestDispatcher(testConfig(), Deps{Content: &fakeContent{}})

	_, err := d.AddWatch(context.Background(), "ghost", types.WatchKindTwitter, types.MonitorAll, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRemoveWatchIdempotent(t *testing.T) {
	d := newTestDispatcher(testConfig(), Deps{Content: &fakeContent{}})

	// Удаление несуществующей записи - успех
	require.NoError(t, d.RemoveWatch(context.Background(), "nobody"))
}

func TestWalletWatchSyncsWebhook(t *testing.T) {
	chain := &fakeChain{}
	store := memory.NewWatchStore()
	cfg := testConfig()
	cfg.WebhookURL = "https://example.com/hook"
	d := newTestDispatcher(cfg, Deps{Store: store, Chain: chain})

	ctx := context.Background()
	_, err := d.AddWatch(ctx, testWallet, types.WatchKindWallet, types.MonitorAll, false)
	require.NoError(t, err)

	hooks, _ := chain.ListWebhooks(ctx)
	require.Len(t, hooks, 1)
	assert.Equal(t, []string{testWallet}, hooks[0].AccountAddresses)

	// Повторная синхронизация без изменений не пересоздает webhook
	require.NoError(t, d.SyncWebhook(ctx))
	hooks, _ = chain.ListWebhooks(ctx)
	require.Len(t, hooks, 1)
	assert.Equal(t, "hook-1", hooks[0].WebhookID)
}

// fakeRefresher считает запросы переподписки потока
type fakeRefresher struct {
	calls int32
}

func (f *fakeRefresher) Resubscribe() { atomic.AddInt32(&f.calls, 1) }

func TestWalletMutationsTriggerStreamResubscribe(t *testing.T) {
	store := memory.NewWatchStore()
	refresher := &fakeRefresher{}
	d := newTestDispatcher(testConfig(), Deps{Store: store})
	d.SetStreamRefresher(refresher)

	ctx := context.Background()
	_, err := d.AddWatch(ctx, testWallet, types.WatchKindWallet, types.MonitorAll, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&refresher.calls))

	// Повторное добавление - no-op, поток не дергаем
	_, err = d.AddWatch(ctx, testWallet, types.WatchKindWallet, types.MonitorAll, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&refresher.calls))

	require.NoError(t, d.RemoveWatch(ctx, testWallet))
	assert.EqualValues(t, 2, atomic.LoadInt32(&refresher.calls))

	// Аккаунты состав кошельков не меняют
	content := &fakeContent{users: map[string]*twitter.User{
		"trader": {ID: "1", Name: "Trader", Username: "trader"},
	}}
	d2 := newTestDispatcher(testConfig(), Deps{Store: store, Content: content})
	d2.SetStreamRefresher(refresher)
	_, err = d2.AddWatch(ctx, "trader", types.WatchKindTwitter, types.MonitorAll, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&refresher.calls))
}

func TestPollCycleAdvancesCursorMonotonically(t *testing.T) {
	content := &fakeContent{
		users: map[string]*twitter.User{"trader": {ID: "100", Name: "Trader", Username: "trader"}},
		tweets: []twitter.Tweet{
			{ID: "105", Text: "пятый"},
			{ID: "103", Text: "третий"},
			{ID: "101", Text: "первый"},
		},
	}
	store := memory.NewWatchStore()
	sink := &recordingSink{}
	d := newTestDispatcher(testConfig(), Deps{Store: store, Content: content, Sink: sink})

	ctx := context.Background()
	_, err := d.AddWatch(ctx, "trader", types.WatchKindTwitter, types.MonitorAll, false)
	require.NoError(t, err)

	require.NoError(t, d.PollCycle(ctx))
	entry, err := store.GetWatch(ctx, "trader")
	require.NoError(t, err)
	assert.Equal(t, "105", entry.LastSeenID)
	assert.Len(t, sink.sent(), 3)

	// Повторный цикл без новых постов не откатывает курсор и не дублирует
	require.NoError(t, d.PollCycle(ctx))
	entry, _ = store.GetWatch(ctx, "trader")
	assert.Equal(t, "105", entry.LastSeenID)
	assert.Len(t, sink.sent(), 3)
}

func TestPollCycleBatchesMultipleAccounts(t *testing.T) {
	content := &fakeContent{
		users: map[string]*twitter.User{
			"alpha": {ID: "10", Name: "Alpha", Username: "alpha"},
			"beta":  {ID: "20", Name: "Beta", Username: "beta"},
		},
		tweets: []twitter.Tweet{
			{ID: "205", Text: "пост беты", AuthorID: "20"},
			{ID: "204", Text: "пост альфы", AuthorID: "10"},
			{ID: "203", Text: "чужой пост", AuthorID: "99"},
		},
	}
	store := memory.NewWatchStore()
	sink := &recordingSink{}
	d := newTestDispatcher(testConfig(), Deps{Store: store, Content: content, Sink: sink})

	ctx := context.Background()
	_, err := d.AddWatch(ctx, "alpha", types.WatchKindTwitter, types.MonitorAll, false)
	require.NoError(t, err)
	_, err = d.AddWatch(ctx, "beta", types.WatchKindTwitter, types.MonitorAll, false)
	require.NoError(t, err)

	require.NoError(t, d.PollCycle(ctx))

	// Чужой автор отброшен, курсоры обоих аккаунтов продвинуты
	assert.Len(t, sink.sent(), 2)
	alpha, _ := store.GetWatch(ctx, "alpha")
	beta, _ := store.GetWatch(ctx, "beta")
	assert.Equal(t, "204", alpha.LastSeenID)
	assert.Equal(t, "205", beta.LastSeenID)
}

func TestPollBatchSkipsEntriesWithoutUpstreamID(t *testing.T) {
	content := &fakeContent{
		tweets: []twitter.Tweet{
			{ID: "301", Text: "пост с известным автором", AuthorID: "10"},
			{ID: "300", Text: "пост без автора", AuthorID: ""},
		},
	}
	store := memory.NewWatchStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertWatch(ctx, &types.WatchEntry{
		ID: "resolved", Kind: types.WatchKindTwitter, UpstreamID: "10", Monitor: types.MonitorAll,
	}))
	// Запись, сохраненная без разрешенного ID автора
	require.NoError(t, store.UpsertWatch(ctx, &types.WatchEntry{
		ID: "unresolved", Kind: types.WatchKindTwitter, Monitor: types.MonitorAll,
	}))

	sink := &recordingSink{}
	d := newTestDispatcher(testConfig(), Deps{Store: store, Content: content, Sink: sink})

	require.NoError(t, d.PollCycle(ctx))

	// Твит без автора никому не приписан, твит с автором дошел ровно один раз
	messages := sink.sent()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].text, "известным автором")

	resolved, _ := store.GetWatch(ctx, "resolved")
	unresolved, _ := store.GetWatch(ctx, "unresolved")
	assert.Equal(t, "301", resolved.LastSeenID)
	assert.Equal(t, "", unresolved.LastSeenID)
}

func TestPollCycleIsolatesEntryFailures(t *testing.T) {
	store := memory.NewWatchStore()
	require.NoError(t, store.UpsertWatch(context.Background(), &types.WatchEntry{
		ID: "broken", Kind: types.WatchKindTwitter, UpstreamID: "1", Monitor: types.MonitorAll,
	}))
	require.NoError(t, store.UpsertWatch(context.Background(), &types.WatchEntry{
		ID: "healthy", Kind: types.WatchKindTwitter, UpstreamID: "2", Monitor: types.MonitorAll,
	}))

	content := &fakeContent{err: types.ErrUpstreamUnavailable}
	d := newTestDispatcher(testConfig(), Deps{Store: store, Content: content})

	// Ошибки по записям логируются, цикл завершается без ошибки
	require.NoError(t, d.PollCycle(context.Background()))
}

func TestPollCycleAddressOnlyFilter(t *testing.T) {
	content := &fakeContent{
		users: map[string]*twitter.User{"caller": {ID: "7", Name: "Caller", Username: "caller"}},
		tweets: []twitter.Tweet{
			{ID: "2", Text: "gm, рынок спит"},
			{ID: "1", Text: "новый токен: " + testMint},
		},
	}
	sink := &recordingSink{}
	d := newTestDispatcher(testConfig(), Deps{Content: content, Sink: sink})

	ctx := context.Background()
	_, err := d.AddWatch(ctx, "caller", types.WatchKindTwitter, types.MonitorAddressOnly, false)
	require.NoError(t, err)
	require.NoError(t, d.PollCycle(ctx))

	messages := sink.sent()
	require.Len(t, messages, 1)
	assert.Equal(t, types.ChannelAddressAlert, messages[0].channel)
	assert.Contains(t, messages[0].text, testMint)
}

func TestDetectAddresses(t *testing.T) {
	text := "покупаю " + testMint + " и еще раз " + testMint + ", а short123 мимо"
	found := DetectAddresses(text)
	require.Len(t, found, 1)
	assert.Equal(t, testMint, found[0])

	assert.Empty(t, DetectAddresses("без адресов 0OIl не base58"))
}

func TestWebhookBatchSkipsUnwatchedWallet(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDispatcher(testConfig(), Deps{Sink: sink})

	tx := helius.EnhancedTransaction{Signature: "sig1", Type: "TRANSFER", FeePayer: testWallet}
	require.NoError(t, d.HandleWebhookBatch(context.Background(), []helius.EnhancedTransaction{tx}))
	assert.Empty(t, sink.sent())
}

func TestWebhookBatchGroupsWithPause(t *testing.T) {
	store := memory.NewWatchStore()
	require.NoError(t, store.UpsertWatch(context.Background(), &types.WatchEntry{
		ID: testWallet, Kind: types.WatchKindWallet, DisplayName: "whale", Monitor: types.MonitorAll,
	}))
	sink := &recordingSink{}
	cfg := testConfig()
	cfg.WebhookBatchPause = 30 * time.Millisecond
	d := newTestDispatcher(cfg, Deps{Store: store, Sink: sink})

	txs := make([]helius.EnhancedTransaction, 7)
	for i := range txs {
		txs[i] = helius.EnhancedTransaction{
			Signature: fmt.Sprintf("sig-%d", i),
			Type:      "TRANSFER",
			FeePayer:  testWallet,
		}
	}

	start := time.Now()
	require.NoError(t, d.HandleWebhookBatch(context.Background(), txs))
	elapsed := time.Since(start)

	// 7 событий при размере группы 3 - группы [3,3,1], две паузы между ними
	assert.Len(t, sink.sent(), 7)
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}

func TestWebhookSwapClassificationAndValue(t *testing.T) {
	store := memory.NewWatchStore()
	require.NoError(t, store.UpsertWatch(context.Background(), &types.WatchEntry{
		ID: testWallet, Kind: types.WatchKindWallet, DisplayName: "whale", Monitor: types.MonitorAll,
	}))
	sink := &recordingSink{}
	prices := &fakePrices{info: map[string]*types.TokenInfo{
		testMint: {Address: testMint, Symbol: "USDC", PriceUsd: 1.0},
	}}
	d := newTestDispatcher(testConfig(), Deps{Store: store, Sink: sink, Prices: prices})

	tx := helius.EnhancedTransaction{
		Signature: "swap-sig",
		Type:      "SWAP",
		FeePayer:  testWallet,
		Events: helius.TxEvents{Swap: &helius.SwapEvent{
			TokenOutputs: []helius.TokenTransfer{{Mint: testMint, TokenAmount: 2500}},
		}},
	}
	require.NoError(t, d.HandleWebhookBatch(context.Background(), []helius.EnhancedTransaction{tx}))

	messages := sink.sent()
	require.Len(t, messages, 1)
	assert.Equal(t, types.ChannelWalletAlert, messages[0].channel)
	assert.Contains(t, messages[0].text, "swap")
	assert.Contains(t, messages[0].text, "$2.5K")
	// 2500 USD выше broadcast-порога 1000
	assert.Contains(t, messages[0].text, "@everyone")
}

func TestSmsFanOutIsolatesFailures(t *testing.T) {
	store := memory.NewWatchStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertWatch(ctx, &types.WatchEntry{
		ID: testWallet, Kind: types.WatchKindWallet, DisplayName: "whale", Monitor: types.MonitorAll,
	}))
	for _, phone := range []string{"+15550000001", "+15550000002", "+15550000003"} {
		require.NoError(t, store.UpsertSmsSubscriber(ctx, &types.SmsSubscriber{Phone: phone}))
	}

	sink := &recordingSink{}
	sms := &recordingSms{failFor: map[string]bool{"+15550000002": true}}
	prices := &fakePrices{info: map[string]*types.TokenInfo{
		testMint: {Address: testMint, Symbol: "USDC", PriceUsd: 1.0},
	}}
	d := newTestDispatcher(testConfig(), Deps{Store: store, Sink: sink, Sms: sms, Prices: prices})

	tx := helius.EnhancedTransaction{
		Signature:      "big-transfer",
		Type:           "TRANSFER",
		FeePayer:       testWallet,
		TokenTransfers: []helius.TokenTransfer{{Mint: testMint, TokenAmount: 1000, FromUserAccount: testWallet}},
	}
	require.NoError(t, d.HandleWebhookBatch(ctx, []helius.EnhancedTransaction{tx}))

	// Основное уведомление ушло, SMS получили двое из трех
	require.Len(t, sink.sent(), 1)
	assert.ElementsMatch(t, []string{"+15550000001", "+15550000003"}, sms.sent)
}

func TestEnrichmentFailureDoesNotBlockNotification(t *testing.T) {
	store := memory.NewWatchStore()
	require.NoError(t, store.UpsertWatch(context.Background(), &types.WatchEntry{
		ID: testWallet, Kind: types.WatchKindWallet, DisplayName: "whale", Monitor: types.MonitorAll,
	}))
	sink := &recordingSink{}
	prices := &fakePrices{err: types.ErrUpstreamUnavailable}
	d := newTestDispatcher(testConfig(), Deps{Store: store, Sink: sink, Prices: prices})

	tx := helius.EnhancedTransaction{
		Signature:      "degraded",
		Type:           "TRANSFER",
		FeePayer:       testWallet,
		TokenTransfers: []helius.TokenTransfer{{Mint: testMint, TokenAmount: 10}},
	}
	require.NoError(t, d.HandleWebhookBatch(context.Background(), []helius.EnhancedTransaction{tx}))

	// Уведомление без стоимости все равно доставлено
	messages := sink.sent()
	require.Len(t, messages, 1)
	assert.NotContains(t, messages[0].text, "@everyone")
}

func TestDedupSkipsSeenSignatures(t *testing.T) {
	store := memory.NewWatchStore()
	require.NoError(t, store.UpsertWatch(context.Background(), &types.WatchEntry{
		ID: testWallet, Kind: types.WatchKindWallet, DisplayName: "whale", Monitor: types.MonitorAll,
	}))
	sink := &recordingSink{}
	d := newTestDispatcher(testConfig(), Deps{Store: store, Sink: sink, Dedup: &memoryDedup{seen: map[string]bool{}}})

	tx := helius.EnhancedTransaction{Signature: "dup-sig", Type: "TRANSFER", FeePayer: testWallet}
	require.NoError(t, d.HandleWebhookBatch(context.Background(), []helius.EnhancedTransaction{tx}))
	require.NoError(t, d.HandleWebhookBatch(context.Background(), []helius.EnhancedTransaction{tx}))

	assert.Len(t, sink.sent(), 1)
}

// memoryDedup - дедупликатор в памяти для тестов
type memoryDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memoryDedup) Seen(_ context.Context, signature string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[signature] {
		return true, nil
	}
	m.seen[signature] = true
	return false, nil
}

func TestAddSmsSubscriberValidation(t *testing.T) {
	d := newTestDispatcher(testConfig(), Deps{})

	err := d.AddSmsSubscriber(context.Background(), "555-1234")
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))

	require.NoError(t, d.AddSmsSubscriber(context.Background(), "+15551234567"))
	// Повторная регистрация идемпотентна
	require.NoError(t, d.AddSmsSubscriber(context.Background(), "+15551234567"))
}

func TestIDGreater(t *testing.T) {
	assert.True(t, idGreater("100", "99"))
	assert.True(t, idGreater("10", "9"))
	assert.True(t, idGreater("105", "103"))
	assert.False(t, idGreater("103", "105"))
	assert.False(t, idGreater("", "1"))
	assert.True(t, idGreater("1", ""))
}
