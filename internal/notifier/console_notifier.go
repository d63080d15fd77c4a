// internal/notifier/console_notifier.go
package notifier

import (
	"github.com/BlockchainHB/twitter-monitor/internal/types"
	"github.com/BlockchainHB/twitter-monitor/pkg/logger"
)

// ConsoleNotifier - приемник уведомлений для консоли (разработка, дебаг)
type ConsoleNotifier struct{}

// NewConsoleNotifier создает консольный нотификатор
func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{}
}

// Send выводит уведомление в лог
func (c *ConsoleNotifier) Send(kind types.ChannelKind, message string) error {
	var icon string
	switch kind {
	case types.ChannelPriority:
		icon = "🚨"
	case types.ChannelWalletAlert:
		icon = "💰"
	case types.ChannelAddressAlert:
		icon = "🎯"
	default:
		icon = "🐦"
	}

	logger.Info("%s [%s] %s", icon, kind, message)
	return nil
}
