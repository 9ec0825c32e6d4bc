package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/any-globe/internal/quadtree"
	"github.com/any-hub/any-globe/internal/tilesource"
	"github.com/any-hub/any-globe/internal/version"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectLayerLevelPorts(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Layers {
		applyLayerDefaults(&cfg.Layers[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", defaultStoragePath())
	v.SetDefault("UserAgent", version.UserAgent())
	v.SetDefault("FetchTimeout", "30s")
	v.SetDefault("RetainFor", "10s")
	v.SetDefault("GCInterval", "30s")
	v.SetDefault("DrawStrategy", "auto")
}

// defaultStoragePath 返回用户缓存目录下的 any-globe 目录，无法获取时退回 ./storage。
func defaultStoragePath() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		return "./storage"
	}
	return filepath.Join(dir, "any-globe")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if strings.TrimSpace(g.UserAgent) == "" {
		g.UserAgent = version.UserAgent()
	}
	if g.FetchTimeout.DurationValue() == 0 {
		g.FetchTimeout = Duration(30 * time.Second)
	}
	if g.RetainFor.DurationValue() == 0 {
		g.RetainFor = Duration(10 * time.Second)
	}
	if g.GCInterval.DurationValue() == 0 {
		g.GCInterval = Duration(30 * time.Second)
	}
	g.DrawStrategy = strings.ToLower(strings.TrimSpace(g.DrawStrategy))
	if g.DrawStrategy == "" {
		g.DrawStrategy = "auto"
	}
}

// defaultMaxResolution 为未配置时的目标精度（米/像素）。
const defaultMaxResolution = 1.0

func applyLayerDefaults(l *LayerConfig) {
	l.Name = strings.TrimSpace(l.Name)
	l.Type = strings.ToLower(strings.TrimSpace(l.Type))
	if strings.TrimSpace(l.CachePrefix) == "" {
		l.CachePrefix = l.Name
	}
	l.Extension = strings.TrimPrefix(strings.TrimSpace(l.Extension), ".")

	meta, known := tilesource.Resolve(l.Type)
	if l.Extension == "" && known {
		l.Extension = meta.DefaultExtension
	}
	if strings.TrimSpace(l.Projection) == "" && known {
		l.Projection = string(meta.DefaultProjection)
	}
	l.Projection = strings.ToLower(strings.TrimSpace(l.Projection))

	if l.TileWidth == 0 {
		l.TileWidth = 256
	}
	if l.TileHeight == 0 {
		l.TileHeight = 256
	}
	if l.Workers == 0 {
		l.Workers = 1
	}
	if l.MaxResolution == 0 {
		l.MaxResolution = defaultMaxResolution
	}
	l.Payload = strings.ToLower(strings.TrimSpace(l.Payload))
	if l.Payload == "" {
		l.Payload = "raw"
	}

	if l.North == 0 && l.South == 0 && l.East == 0 && l.West == 0 {
		world := worldBounds(quadtree.Projection(l.Projection))
		l.North, l.South, l.East, l.West = world.N, world.S, world.E, world.W
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectLayerLevelPorts 拒绝在 [[Layer]] 中声明端口，诊断服务只监听全局 ListenPort。
func rejectLayerLevelPorts(v *viper.Viper) error {
	raw := v.Get("Layer")
	layers, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	for idx, entry := range layers {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		for _, key := range []string{"Port", "ListenPort"} {
			if _, exists := lookupKey(m, key); !exists {
				continue
			}
			name := fmt.Sprintf("#%d", idx)
			if rawName, ok := lookupKey(m, "Name"); ok {
				if s, ok := rawName.(string); ok && s != "" {
					name = s
				}
			}
			return newFieldError(layerField(name, key), "图层不支持独立端口，请使用全局 ListenPort")
		}
	}

	return nil
}

// lookupKey 兼容 viper 将键名转为小写的行为。
func lookupKey(m map[string]interface{}, key string) (interface{}, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	v, ok := m[strings.ToLower(key)]
	return v, ok
}
