// internal/api/twitter/types.go
package twitter

import (
	"fmt"
	"time"
)

// User - данные аккаунта из /users/by/username
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// Tweet - один твит из ленты или поиска
type Tweet struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	AuthorID  string    `json:"author_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// userResponse - ответ /users/by/username/{username}
type userResponse struct {
	Data   *User      `json:"data"`
	Errors []apiIssue `json:"errors"`
}

// tweetsResponse - ответ /users/{id}/tweets и /tweets/search/recent
type tweetsResponse struct {
	Data []Tweet `json:"data"`
	Meta struct {
		NewestID    string `json:"newest_id"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
	Errors []apiIssue `json:"errors"`
}

// apiIssue - одна ошибка из списка errors в теле ответа
type apiIssue struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

// apiError - ошибка уровня HTTP с данными заголовков квоты
type apiError struct {
	status  int
	body    string
	resetAt time.Time // из заголовка x-rate-limit-reset
}

func (e *apiError) Error() string {
	return fmt.Sprintf("twitter api: status %d: %s", e.status, e.body)
}

// StatusCode возвращает HTTP-статус для классификации планировщиком
func (e *apiError) StatusCode() int { return e.status }

// RateLimitReset возвращает заявленное время сброса квоты
func (e *apiError) RateLimitReset() time.Time { return e.resetAt }
