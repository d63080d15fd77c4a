// internal/api/solana/ws/wallet_watcher_test.go
package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// staticProvider отдает фиксированный список кошельков
type staticProvider struct {
	wallets []string
}

func (p *staticProvider) WatchedWallets() []string { return p.wallets }

func TestResubscribeNeverBlocks(t *testing.T) {
	w := NewWalletWatcher("wss://localhost", &staticProvider{}, nil)

	// Без активного соединения повторные запросы схлопываются в один
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			w.Resubscribe()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Resubscribe заблокировался")
	}

	assert.Len(t, w.refreshCh, 1)
}

func TestResubscribeWakesIdleWatcher(t *testing.T) {
	provider := &staticProvider{}
	w := NewWalletWatcher("wss://localhost", provider, nil)

	// Пустой список кошельков держит connectLoop в ожидании
	w.Start()
	defer w.Stop()

	time.Sleep(20 * time.Millisecond)
	w.Resubscribe()

	// Сигнал потреблен циклом, канал снова пуст
	assert.Eventually(t, func() bool {
		return len(w.refreshCh) == 0
	}, time.Second, 10*time.Millisecond)
}
