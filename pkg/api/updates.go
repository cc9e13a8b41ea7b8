// Package api defines the JSON messages exchanged between peers.
package api

// UpdateEntry описывает локальную версию одного ключа отправителя
type UpdateEntry struct {
	Key     string              `json:"key"`     // ключ вида store/object/component/branch
	Version map[string][]uint64 `json:"version"` // тики по устройствам
}

// UpdatesRequest представляет уведомление об изменениях от пира
type UpdatesRequest struct {
	Device  string        `json:"device"`  // id устройства отправителя
	Updates []UpdateEntry `json:"updates"` // обновленные ключи
}

// UpdatesResponse представляет ответ на уведомление
type UpdatesResponse struct {
	Received int `json:"received"` // количество новых тиков
	Known    int `json:"known"`    // количество уже известных тиков
}

// HealthResponse представляет ответ health check
type HealthResponse struct {
	Status  string `json:"status"`
	Device  string `json:"device,omitempty"`
	Version string `json:"version,omitempty"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}
