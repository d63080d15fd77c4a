// internal/notifier/sms_notifier.go
package notifier

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BlockchainHB/twitter-monitor/internal/config"
	"github.com/BlockchainHB/twitter-monitor/internal/types"
	"github.com/BlockchainHB/twitter-monitor/pkg/logger"
)

// SmsNotifier - отправитель SMS через Twilio-совместимый REST API
type SmsNotifier struct {
	httpClient *http.Client
	baseURL    string
	accountSid string
	authToken  string
	fromNumber string
}

// NewSmsNotifier создает отправитель SMS. Возвращает nil, если SMS отключены.
func NewSmsNotifier(cfg *config.Config) *SmsNotifier {
	if !cfg.SmsEnabled {
		return nil
	}

	return &SmsNotifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(cfg.SmsBaseURL, "/"),
		accountSid: cfg.SmsAccountSid,
		authToken:  cfg.SmsAuthToken,
		fromNumber: cfg.SmsFromNumber,
	}
}

// SendSms отправляет одно SMS на номер
func (sn *SmsNotifier) SendSms(message, phone string) error {
	if !types.ValidPhone(phone) {
		return types.NewValidationError("phone", "must be E.164, e.g. +15551234567")
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", sn.baseURL, sn.accountSid)
	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", sn.fromNumber)
	form.Set("Body", message)

	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(sn.accountSid, sn.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := sn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<14))
		return fmt.Errorf("sms: status %d: %s", resp.StatusCode, string(body))
	}

	logger.Debug("📱 SMS отправлено на %s", phone)
	return nil
}
