package model

import (
	"time"
)

const (
	SettingTimeUpdate      = "time_update"
	SettingAnalyzeURL      = "analyze_url"
	SettingGoogleJSONDir   = "google_json_dir"
	SettingDownloadStorage = "download_storage"
)

// AvailableSettings lists the keys operators may change at runtime.
var AvailableSettings = map[string]string{
	SettingTimeUpdate:      "Частота обновления расписания в минутах",
	SettingAnalyzeURL:      "Корневая ссылка для анализа расписания",
	SettingGoogleJSONDir:   "Путь к файлу авторизации Google Drive",
	SettingDownloadStorage: "Тип хранилища для скачивания файлов",
}

type Setting struct {
	Key         string    `db:"key"`
	Value       string    `db:"value"`
	Description string    `db:"description"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type Snapshot struct {
	ID        string    `db:"id"`
	Type      string    `db:"type"`
	Path      string    `db:"path"`
	URL       string    `db:"url"`
	CreatedAt time.Time `db:"created_at"`
}
