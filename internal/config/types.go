package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/any-globe/internal/geo"
	"github.com/any-hub/any-globe/internal/tilesource"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有图层共享同一份参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	StoragePath   string `mapstructure:"StoragePath"`
	UserAgent     string `mapstructure:"UserAgent"`
	// FetchTimeout 限制单次上游请求的总时长。
	FetchTimeout Duration `mapstructure:"FetchTimeout"`
	// RetainFor 为节点在最后一次访问后保留的时长，超过后可被回收。
	RetainFor Duration `mapstructure:"RetainFor"`
	// GCInterval 为周期性回收的间隔，与每次视点更新后的回收互补。
	GCInterval   Duration `mapstructure:"GCInterval"`
	DrawStrategy string   `mapstructure:"DrawStrategy"`
}

// LayerConfig 描述一个数据图层：上游模板、缓存命名空间与四叉树参数。
type LayerConfig struct {
	Name          string  `mapstructure:"Name"`
	Type          string  `mapstructure:"Type"`
	URIPrefix     string  `mapstructure:"URIPrefix"`
	URILayer      string  `mapstructure:"URILayer"`
	URIFormat     string  `mapstructure:"URIFormat"`
	CachePrefix   string  `mapstructure:"CachePrefix"`
	Extension     string  `mapstructure:"Extension"`
	TileWidth     int     `mapstructure:"TileWidth"`
	TileHeight    int     `mapstructure:"TileHeight"`
	MaxResolution float64 `mapstructure:"MaxResolution"`
	Workers       int     `mapstructure:"Workers"`
	Payload       string  `mapstructure:"Payload"`
	Projection    string  `mapstructure:"Projection"`
	North         float64 `mapstructure:"North"`
	South         float64 `mapstructure:"South"`
	East          float64 `mapstructure:"East"`
	West          float64 `mapstructure:"West"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig  `mapstructure:",squash"`
	Layers []LayerConfig `mapstructure:"Layer"`
}

// Bounds 返回图层根节点的经纬度范围。
func (l LayerConfig) Bounds() geo.Bounds {
	return geo.Bounds{N: l.North, S: l.South, E: l.East, W: l.West}
}

// SourceConfig 提取构造 TileSource 所需的模板参数。
func (l LayerConfig) SourceConfig() tilesource.Config {
	return tilesource.Config{
		URIPrefix:  l.URIPrefix,
		URILayer:   l.URILayer,
		URIFormat:  l.URIFormat,
		Extension:  l.Extension,
		TileWidth:  l.TileWidth,
		TileHeight: l.TileHeight,
	}
}

// LayerSummaries 返回所有图层的类型摘要，例如 sat:wms，供启动日志使用。
func LayerSummaries(layers []LayerConfig) []string {
	if len(layers) == 0 {
		return nil
	}
	result := make([]string, len(layers))
	for i, layer := range layers {
		result[i] = fmt.Sprintf("%s:%s", layer.Name, layer.Type)
	}
	return result
}
