package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

var ErrUnknownSetting = errors.New("unknown setting")

// ValidateSetting checks a runtime setting value before it is stored.
// knownStorages lists the storage types a download_storage value may name.
func ValidateSetting(key, value string, knownStorages []string) error {
	value = strings.TrimSpace(value)

	switch key {
	case "time_update":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return errors.New("time_update must be a whole number of minutes, at least 1")
		}
	case "analyze_url":
		if value == "" {
			return errors.New("analyze_url is required")
		}
		for _, raw := range strings.Split(value, ";") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("invalid source url: %q", raw)
			}
		}
	case "download_storage":
		for _, s := range knownStorages {
			if s == value {
				return nil
			}
		}
		return fmt.Errorf("unknown storage type %q", value)
	case "google_json_dir":
		if value == "" {
			return errors.New("google_json_dir is required")
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}

	return nil
}
