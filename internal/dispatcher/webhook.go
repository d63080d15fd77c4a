// internal/dispatcher/webhook.go
package dispatcher

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/BlockchainHB/twitter-monitor/internal/api/helius"
	"github.com/BlockchainHB/twitter-monitor/internal/types"
	"github.com/BlockchainHB/twitter-monitor/pkg/logger"
)

// HandleWebhookBatch обрабатывает пачку транзакций из webhook провайдера.
// Транзакции идут маленькими группами с паузой между ними, чтобы не
// заваливать API обогащения всплеском. Ошибка одной транзакции
// логируется и не прерывает обработку остальных.
func (d *Dispatcher) HandleWebhookBatch(ctx context.Context, txs []helius.EnhancedTransaction) error {
	if len(txs) == 0 {
		return nil
	}

	watched, err := d.watchedWalletMap(ctx)
	if err != nil {
		return err
	}

	batchSize := d.cfg.WebhookBatchSize
	if batchSize <= 0 {
		batchSize = 3
	}

	for start := 0; start < len(txs); start += batchSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if start > 0 && d.cfg.WebhookBatchPause > 0 {
			select {
			case <-time.After(d.cfg.WebhookBatchPause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		end := start + batchSize
		if end > len(txs) {
			end = len(txs)
		}
		for i := start; i < end; i++ {
			if err := d.handleTransaction(ctx, &txs[i], watched); err != nil {
				logger.Error("❌ Транзакция %s не обработана: %v", txs[i].Signature, err)
			}
		}
	}
	return nil
}

// handleTransaction классифицирует одну транзакцию и рассылает уведомление
func (d *Dispatcher) handleTransaction(ctx context.Context, tx *helius.EnhancedTransaction, watched map[string]*types.WatchEntry) error {
	entry := resolveWallet(tx, watched)
	if entry == nil {
		return nil // кошелек не отслеживается - молча пропускаем
	}

	// Пропускаем уже обработанные подписи
	if d.dedup != nil && tx.Signature != "" {
		seen, err := d.dedup.Seen(ctx, tx.Signature)
		if err != nil {
			logger.Warn("⚠️ Дедупликация %s недоступна: %v", tx.Signature, err)
		} else if seen {
			return nil
		}
	}

	kind := classifyTx(tx)
	event := &types.NotificationEvent{
		ID:        uuid.New().String(),
		Source:    *entry,
		Text:      tx.Description,
		TxKind:    kind,
		Signature: tx.Signature,
		CreatedAt: time.Now(),
	}

	// Обогащение стоимости: его недоступность не блокирует уведомление
	if mint, amount := primaryToken(tx, kind); mint != "" && d.prices != nil {
		event.Addresses = []string{mint}
		info, err := d.prices.GetTokenInfo(ctx, mint)
		if err != nil {
			logger.Warn("⚠️ Обогащение %s не удалось: %v", mint, err)
		} else if info != nil {
			event.TokenInfo = info
			event.UsdValue = amount * info.PriceUsd
		}
	}

	d.publish(types.EventWalletActivity, map[string]interface{}{
		"wallet":    entry.ID,
		"signature": tx.Signature,
		"kind":      string(kind),
		"usd_value": event.UsdValue,
	})

	d.route(ctx, event)
	return nil
}

// HandleStreamActivity обрабатывает сигнал активности из websocket-потока.
// Поток дает только кошелек и подпись, поэтому собирается минимальная
// транзакция и проходит обычным webhook-путем (с дедупликацией, так что
// дубль webhook/поток схлопнется).
func (d *Dispatcher) HandleStreamActivity(wallet, signature string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx := helius.EnhancedTransaction{
		Signature: signature,
		Type:      "TRANSFER",
		FeePayer:  wallet,
		Timestamp: time.Now().Unix(),
	}
	if err := d.HandleWebhookBatch(ctx, []helius.EnhancedTransaction{tx}); err != nil {
		logger.Error("❌ Сигнал потока %s не обработан: %v", signature, err)
	}
}

// watchedWalletMap строит индекс отслеживаемых кошельков по адресу
func (d *Dispatcher) watchedWalletMap(ctx context.Context) (map[string]*types.WatchEntry, error) {
	entries, err := d.store.ListWatches(ctx, types.WatchKindWallet)
	if err != nil {
		return nil, err
	}
	watched := make(map[string]*types.WatchEntry, len(entries))
	for _, e := range entries {
		watched[e.ID] = e
	}
	return watched, nil
}
