package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Watch reloads the config file whenever it changes on disk and hands each
// valid new snapshot to onChange. Invalid or unreadable snapshots are logged
// and dropped; the previous configuration stays in effect. onChange is invoked
// from viper's watcher goroutine.
func Watch(configPath string, onChange func(*Config)) error {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return err
	}

	v.OnConfigChange(func(event fsnotify.Event) {
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}

		cfg := DefaultConfig()
		if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
			dc.TagName = "mapstructure"
			dc.MatchName = func(mapKey, fieldName string) bool {
				return normalizeKey(mapKey) == normalizeKey(fieldName)
			}
		}); err != nil {
			slog.Warn("ignoring config change, unmarshal failed", "path", event.Name, "error", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			slog.Warn("ignoring config change, validation failed", "path", event.Name, "error", err)
			return
		}

		slog.Debug("config change applied", "path", event.Name, "servers", len(cfg.Servers))
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}
