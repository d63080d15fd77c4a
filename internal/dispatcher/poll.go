// internal/dispatcher/poll.go
package dispatcher

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/BlockchainHB/twitter-monitor/internal/types"
	"github.com/BlockchainHB/twitter-monitor/pkg/logger"
)

// PollCycle опрашивает все отслеживаемые аккаунты и рассылает уведомления
// о новых постах. Несколько аккаунтов опрашиваются одним батч-поиском,
// одиночный аккаунт - обычной выборкой ленты. Ошибка одного аккаунта
// (или одной группы) логируется и не прерывает цикл.
func (d *Dispatcher) PollCycle(ctx context.Context) error {
	entries, err := d.store.ListWatches(ctx, types.WatchKindTwitter)
	if err != nil {
		return err
	}

	if len(entries) > 1 {
		return d.pollBatched(ctx, entries)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := d.pollEntry(ctx, entry); err != nil {
			logger.Error("❌ Опрос @%s не удался: %v", entry.ID, err)
		}
	}
	return nil
}

// pollBatched опрашивает аккаунты группами через батч-поиск: один запрос
// накрывает до maxAccountsPerBatch аккаунтов, интервалы и повторы между
// батчами держит планировщик.
func (d *Dispatcher) pollBatched(ctx context.Context, entries []*types.WatchEntry) error {
	groupSize := d.cfg.MaxAccountsPerBatch
	if groupSize <= 0 {
		groupSize = 25
	}

	for start := 0; start < len(entries); start += groupSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		end := start + groupSize
		if end > len(entries) {
			end = len(entries)
		}
		if err := d.pollGroup(ctx, entries[start:end]); err != nil {
			logger.Error("❌ Батч-опрос (%d аккаунтов) не удался: %v", end-start, err)
		}
	}
	return nil
}

// pollGroup выполняет один батч-поиск и раскладывает результаты по
// аккаунтам группы. since_id берется минимальным из курсоров группы:
// лишние старые твиты отсеются по курсору аккаунта, новые не потеряются.
func (d *Dispatcher) pollGroup(ctx context.Context, group []*types.WatchEntry) error {
	handles := make([]string, 0, len(group))
	byAuthor := make(map[string]*types.WatchEntry, len(group))
	sinceID := ""
	for _, entry := range group {
		// Запись без разрешенного ID автора не сопоставима с результатами
		// поиска: пустые ключи коллидируют и присваивают чужие твиты
		if entry.UpstreamID == "" {
			logger.Warn("⚠️ @%s без ID автора, пропущен в батч-опросе", entry.ID)
			continue
		}
		if len(handles) == 0 || idGreater(sinceID, entry.LastSeenID) {
			sinceID = entry.LastSeenID
		}
		handles = append(handles, entry.ID)
		byAuthor[entry.UpstreamID] = entry
	}
	if len(handles) == 0 {
		return nil
	}

	tweets, err := d.content.SearchRecent(ctx, handles, sinceID)
	if err != nil {
		return err
	}

	newest := make(map[string]string, len(group))
	for i := len(tweets) - 1; i >= 0; i-- { // от старых к новым
		tweet := tweets[i]
		entry, ok := byAuthor[tweet.AuthorID]
		if !ok || !idGreater(tweet.ID, entry.LastSeenID) {
			continue
		}
		if idGreater(tweet.ID, newest[entry.ID]) {
			newest[entry.ID] = tweet.ID
		}
		d.emitContent(ctx, entry, tweet.Text)
	}

	for id, cursor := range newest {
		if err := d.store.UpdateCursor(ctx, id, cursor); err != nil {
			logger.Error("❌ Курсор @%s не продвинут: %v", id, err)
		}
	}
	return nil
}

// pollEntry обрабатывает новый контент одного аккаунта начиная с курсора
func (d *Dispatcher) pollEntry(ctx context.Context, entry *types.WatchEntry) error {
	tweets, err := d.content.GetUserTweets(ctx, entry.UpstreamID, entry.LastSeenID)
	if err != nil {
		return err
	}
	if len(tweets) == 0 {
		return nil
	}

	newest := entry.LastSeenID
	for i := len(tweets) - 1; i >= 0; i-- { // от старых к новым
		tweet := tweets[i]
		if idGreater(tweet.ID, newest) {
			newest = tweet.ID
		}
		d.emitContent(ctx, entry, tweet.Text)
	}

	// Курсор никогда не откатывается назад
	if idGreater(newest, entry.LastSeenID) {
		if err := d.store.UpdateCursor(ctx, entry.ID, newest); err != nil {
			return err
		}
	}
	return nil
}

// emitContent классифицирует один пост и отправляет уведомление.
// В режиме address_only посты без адресов токенов отбрасываются.
func (d *Dispatcher) emitContent(ctx context.Context, entry *types.WatchEntry, text string) {
	addresses := DetectAddresses(text)
	if entry.Monitor == types.MonitorAddressOnly && len(addresses) == 0 {
		return
	}

	event := &types.NotificationEvent{
		ID:        uuid.New().String(),
		Source:    *entry,
		Text:      text,
		Addresses: addresses,
		CreatedAt: time.Now(),
	}
	d.enrichAddresses(ctx, event)
	d.route(ctx, event)
}

// enrichAddresses подтягивает данные первого найденного токена.
// Недоступность обогащения не блокирует уведомление.
func (d *Dispatcher) enrichAddresses(ctx context.Context, event *types.NotificationEvent) {
	if d.prices == nil || len(event.Addresses) == 0 {
		return
	}
	info, err := d.prices.GetTokenInfo(ctx, event.Addresses[0])
	if err != nil {
		logger.Warn("⚠️ Обогащение %s не удалось: %v", event.Addresses[0], err)
		return
	}
	event.TokenInfo = info // nil - токен не в листинге, это не ошибка
}

// idGreater сравнивает числовые строковые id: сперва по длине, затем
// лексикографически. Пустая строка меньше любого id.
func idGreater(a, b string) bool {
	if a == "" {
		return false
	}
	if b == "" {
		return true
	}
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}
