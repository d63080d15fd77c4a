// internal/dispatcher/routing.go
package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/BlockchainHB/twitter-monitor/internal/types"
	"github.com/BlockchainHB/twitter-monitor/pkg/logger"
	"github.com/BlockchainHB/twitter-monitor/pkg/utils"
)

// route доставляет уведомление в канал назначения и при превышении
// SMS-порога дополнительно рассылает его подписчикам
func (d *Dispatcher) route(ctx context.Context, event *types.NotificationEvent) {
	event.HighVisibility = event.UsdValue >= d.cfg.BroadcastThresholdUsd

	channel := d.pickChannel(event)
	message := d.formatMessage(event)

	if err := d.sink.Send(channel, message); err != nil {
		logger.Error("❌ Доставка в канал %s не удалась: %v", channel, err)
	} else {
		d.publish(types.EventNotificationSent, map[string]interface{}{
			"channel":   string(channel),
			"source":    event.Source.ID,
			"usd_value": event.UsdValue,
		})
		if event.UsdValue > 0 {
			logger.Alert(event.Source.DisplayName, string(event.TxKind), event.UsdValue)
		}
	}

	if event.UsdValue >= d.cfg.SmsThresholdUsd && d.cfg.SmsThresholdUsd > 0 {
		d.fanOutSms(ctx, event)
	}
}

// pickChannel выбирает канал доставки по виду и содержимому события
func (d *Dispatcher) pickChannel(event *types.NotificationEvent) types.ChannelKind {
	if event.Source.Kind == types.WatchKindWallet {
		return types.ChannelWalletAlert
	}
	if event.Source.Priority {
		return types.ChannelPriority
	}
	if len(event.Addresses) > 0 {
		return types.ChannelAddressAlert
	}
	return types.ChannelContent
}

// fanOutSms рассылает SMS всем подписчикам. Неудача одной отправки
// не блокирует доставку остальным.
func (d *Dispatcher) fanOutSms(ctx context.Context, event *types.NotificationEvent) {
	if d.sms == nil {
		return
	}
	subs, err := d.store.ListSmsSubscribers(ctx)
	if err != nil {
		logger.Error("❌ Не удалось получить подписчиков SMS: %v", err)
		return
	}

	message := d.formatSmsMessage(event)
	sent := 0
	for _, sub := range subs {
		if err := d.sms.SendSms(message, sub.Phone); err != nil {
			logger.Error("❌ SMS на %s не доставлено: %v", sub.Phone, err)
			continue
		}
		sent++
	}
	if len(subs) > 0 {
		logger.Info("📱 SMS разослано: %d из %d подписчиков", sent, len(subs))
	}
}

// formatMessage собирает текст уведомления для канала
func (d *Dispatcher) formatMessage(event *types.NotificationEvent) string {
	var b strings.Builder

	switch {
	case event.Source.Kind == types.WatchKindWallet:
		icon := "💸"
		if event.TxKind == types.TxKindSwap {
			icon = "🔄"
		}
		fmt.Fprintf(&b, "%s %s: %s", icon, event.Source.DisplayName, event.TxKind)
		if event.UsdValue > 0 {
			fmt.Fprintf(&b, " на %s", utils.FormatUsd(event.UsdValue))
		}
		if event.Signature != "" {
			fmt.Fprintf(&b, "\nTx: %s", utils.ShortAddress(event.Signature))
		}
	default:
		fmt.Fprintf(&b, "🐦 @%s:\n%s", event.Source.ID, utils.Truncate(event.Text, 500))
	}

	if event.TokenInfo != nil {
		fmt.Fprintf(&b, "\n🪙 %s | цена %s | капитализация %s",
			event.TokenInfo.Symbol,
			utils.FormatPrice(event.TokenInfo.PriceUsd, 6),
			utils.FormatUsd(event.TokenInfo.MarketCap))
	} else if len(event.Addresses) > 0 {
		fmt.Fprintf(&b, "\n📍 Адрес: %s", event.Addresses[0])
	}

	if event.HighVisibility {
		b.WriteString("\n🚨 @everyone")
	}
	return b.String()
}

// formatSmsMessage собирает короткий текст для SMS
func (d *Dispatcher) formatSmsMessage(event *types.NotificationEvent) string {
	symbol := ""
	if event.TokenInfo != nil {
		symbol = " " + event.TokenInfo.Symbol
	}
	return fmt.Sprintf("%s: %s%s %s", event.Source.DisplayName, event.TxKind, symbol, utils.FormatUsd(event.UsdValue))
}
