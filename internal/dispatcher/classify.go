// internal/dispatcher/classify.go
package dispatcher

import (
	"regexp"

	"github.com/BlockchainHB/twitter-monitor/internal/api/helius"
	"github.com/BlockchainHB/twitter-monitor/internal/types"
)

// wsolMint - mint обернутого SOL, используется для оценки нативных переводов
const wsolMint = "So11111111111111111111111111111111111111112"

const lamportsPerSol = 1_000_000_000

// base58Run - непрерывная последовательность символов алфавита base58.
// Адресом токена считается последовательность ровно в 44 символа.
var base58Run = regexp.MustCompile(`[1-9A-HJ-NP-Za-km-z]+`)

// DetectAddresses находит в свободном тексте подстроки, похожие на
// адреса токенов Solana. Дубликаты схлопываются с сохранением порядка.
func DetectAddresses(text string) []string {
	var found []string
	seen := make(map[string]struct{})
	for _, run := range base58Run.FindAllString(text, -1) {
		if len(run) != 44 {
			continue
		}
		if _, ok := seen[run]; ok {
			continue
		}
		seen[run] = struct{}{}
		found = append(found, run)
	}
	return found
}

// classifyTx определяет вид транзакции: наличие swap-события или
// тип SWAP от провайдера означает обмен, все остальное - перевод
func classifyTx(tx *helius.EnhancedTransaction) types.TxKind {
	if tx.Events.Swap != nil || tx.Type == "SWAP" {
		return types.TxKindSwap
	}
	return types.TxKindTransfer
}

// resolveWallet находит отслеживаемый кошелек, участвующий в транзакции.
// Сначала проверяется плательщик комиссии, затем стороны переводов.
func resolveWallet(tx *helius.EnhancedTransaction, watched map[string]*types.WatchEntry) *types.WatchEntry {
	if entry, ok := watched[tx.FeePayer]; ok {
		return entry
	}
	for _, t := range tx.TokenTransfers {
		if entry, ok := watched[t.FromUserAccount]; ok {
			return entry
		}
		if entry, ok := watched[t.ToUserAccount]; ok {
			return entry
		}
	}
	for _, t := range tx.NativeTransfers {
		if entry, ok := watched[t.FromUserAccount]; ok {
			return entry
		}
		if entry, ok := watched[t.ToUserAccount]; ok {
			return entry
		}
	}
	return nil
}

// primaryToken извлекает mint и объем главного токена транзакции.
// Для обмена берется выход swap-события, для перевода - крупнейший
// SPL-перевод; при отсутствии SPL-переводов нативная сумма
// оценивается через WSOL.
func primaryToken(tx *helius.EnhancedTransaction, kind types.TxKind) (mint string, amount float64) {
	if kind == types.TxKindSwap && tx.Events.Swap != nil {
		if out := biggestTransfer(tx.Events.Swap.TokenOutputs); out != nil {
			return out.Mint, out.TokenAmount
		}
		if in := biggestTransfer(tx.Events.Swap.TokenInputs); in != nil {
			return in.Mint, in.TokenAmount
		}
	}
	if t := biggestTransfer(tx.TokenTransfers); t != nil {
		return t.Mint, t.TokenAmount
	}
	var lamports int64
	for _, n := range tx.NativeTransfers {
		if n.Amount > lamports {
			lamports = n.Amount
		}
	}
	if lamports > 0 {
		return wsolMint, float64(lamports) / lamportsPerSol
	}
	return "", 0
}

// biggestTransfer возвращает перевод с наибольшим объемом
func biggestTransfer(transfers []helius.TokenTransfer) *helius.TokenTransfer {
	var best *helius.TokenTransfer
	for i := range transfers {
		if best == nil || transfers[i].TokenAmount > best.TokenAmount {
			best = &transfers[i]
		}
	}
	return best
}
