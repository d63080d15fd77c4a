// internal/api/helius/types.go
package helius

import "fmt"

// Webhook - зарегистрированный у провайдера webhook
type Webhook struct {
	WebhookID        string   `json:"webhookID"`
	WebhookURL       string   `json:"webhookURL"`
	AccountAddresses []string `json:"accountAddresses"`
	TransactionTypes []string `json:"transactionTypes"`
	AuthHeader       string   `json:"authHeader,omitempty"`
}

// webhookRequest - тело запроса регистрации webhook
type webhookRequest struct {
	WebhookURL       string   `json:"webhookURL"`
	AccountAddresses []string `json:"accountAddresses"`
	TransactionTypes []string `json:"transactionTypes"`
	WebhookType      string   `json:"webhookType"`
	AuthHeader       string   `json:"authHeader,omitempty"`
}

// NativeTransfer - перевод SOL внутри транзакции
type NativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"` // лампорты
}

// TokenTransfer - перевод SPL-токена внутри транзакции
type TokenTransfer struct {
	FromUserAccount string  `json:"fromUserAccount"`
	ToUserAccount   string  `json:"toUserAccount"`
	Mint            string  `json:"mint"`
	TokenAmount     float64 `json:"tokenAmount"`
}

// SwapEvent - событие обмена из расширенного разбора транзакции
type SwapEvent struct {
	TokenInputs  []TokenTransfer `json:"tokenInputs"`
	TokenOutputs []TokenTransfer `json:"tokenOutputs"`
}

// TxEvents - структурированные события транзакции
type TxEvents struct {
	Swap *SwapEvent `json:"swap,omitempty"`
}

// EnhancedTransaction - транзакция в расширенном формате провайдера.
// Поля за пределами перечисленных проходят насквозь и не разбираются.
type EnhancedTransaction struct {
	Signature   string           `json:"signature"`
	Type        string           `json:"type"` // SWAP, TRANSFER, ...
	FeePayer    string           `json:"feePayer"`
	Timestamp   int64            `json:"timestamp"`
	Description string           `json:"description,omitempty"`
	NativeTransfers []NativeTransfer `json:"nativeTransfers,omitempty"`
	TokenTransfers  []TokenTransfer  `json:"tokenTransfers,omitempty"`
	Events          TxEvents         `json:"events,omitempty"`
}

// apiError - ошибка уровня HTTP
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("helius api: status %d: %s", e.status, e.body)
}

func (e *apiError) StatusCode() int { return e.status }
