package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/any-hub/any-globe/internal/geo"
	"github.com/any-hub/any-globe/internal/quadtree"
	"github.com/any-hub/any-globe/internal/tilesource"
)

var supportedPayloads = map[string]struct{}{
	"raw": {},
	"bil": {},
}

var supportedDrawStrategies = map[string]struct{}{
	"auto":   {},
	"modern": {},
	"legacy": {},
}

const maxLayerWorkers = 64

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.FetchTimeout.DurationValue() <= 0 {
		return newFieldError("Global.FetchTimeout", "必须大于 0")
	}
	if g.RetainFor.DurationValue() <= 0 {
		return newFieldError("Global.RetainFor", "必须大于 0")
	}
	if g.GCInterval.DurationValue() <= 0 {
		return newFieldError("Global.GCInterval", "必须大于 0")
	}
	if _, ok := supportedDrawStrategies[g.DrawStrategy]; !ok {
		return newFieldError("Global.DrawStrategy", "仅支持 auto|modern|legacy")
	}

	if len(c.Layers) == 0 {
		return errors.New("至少需要配置一个 Layer")
	}

	seenNames := map[string]struct{}{}
	seenPrefixes := map[string]string{}
	for i := range c.Layers {
		layer := &c.Layers[i]
		if layer.Name == "" {
			return newFieldError("Layer[].Name", "不能为空")
		}
		if _, exists := seenNames[layer.Name]; exists {
			return newFieldError(layerField(layer.Name, "Name"), "重复")
		}
		seenNames[layer.Name] = struct{}{}

		if owner, exists := seenPrefixes[layer.CachePrefix]; exists {
			return newFieldError(layerField(layer.Name, "CachePrefix"), fmt.Sprintf("与图层 %s 冲突", owner))
		}
		seenPrefixes[layer.CachePrefix] = layer.Name
		if strings.Contains(layer.CachePrefix, "..") {
			return newFieldError(layerField(layer.Name, "CachePrefix"), "不允许包含 ..")
		}

		if err := validateLayer(layer); err != nil {
			return err
		}
	}

	return nil
}

func validateLayer(layer *LayerConfig) error {
	if layer.Type == "" {
		return newFieldError(layerField(layer.Name, "Type"), "不能为空")
	}
	meta, ok := tilesource.Resolve(layer.Type)
	if !ok {
		return newFieldError(layerField(layer.Name, "Type"), "仅支持 "+strings.Join(tilesource.Keys(), "|"))
	}

	if err := validateUpstream(layer.URIPrefix); err != nil {
		return fmt.Errorf("%s: %w", layerField(layer.Name, "URIPrefix"), err)
	}
	if meta.RequiresLayer {
		if strings.TrimSpace(layer.URILayer) == "" {
			return newFieldError(layerField(layer.Name, "URILayer"), "不能为空")
		}
		if strings.TrimSpace(layer.URIFormat) == "" {
			return newFieldError(layerField(layer.Name, "URIFormat"), "不能为空")
		}
	}

	if layer.TileWidth <= 0 || layer.TileHeight <= 0 {
		return newFieldError(layerField(layer.Name, "TileWidth/TileHeight"), "必须大于 0")
	}
	if layer.MaxResolution <= 0 {
		return newFieldError(layerField(layer.Name, "MaxResolution"), "必须大于 0")
	}
	if layer.Workers < 1 || layer.Workers > maxLayerWorkers {
		return newFieldError(layerField(layer.Name, "Workers"), fmt.Sprintf("必须在 1-%d", maxLayerWorkers))
	}
	if _, ok := supportedPayloads[layer.Payload]; !ok {
		return newFieldError(layerField(layer.Name, "Payload"), "仅支持 raw|bil")
	}

	proj, err := quadtree.ParseProjection(layer.Projection)
	if err != nil {
		return newFieldError(layerField(layer.Name, "Projection"), "仅支持 latlon|mercator")
	}
	layer.Projection = string(proj)

	bounds := layer.Bounds()
	if !bounds.Valid() {
		return newFieldError(layerField(layer.Name, "North/South/East/West"), "范围无效，需满足 North > South 且经度在 ±180 内")
	}
	if proj == quadtree.ProjectionMercator && (bounds.N > geo.MercatorLimit+1e-9 || bounds.S < -geo.MercatorLimit-1e-9) {
		return newFieldError(layerField(layer.Name, "North/South"), fmt.Sprintf("mercator 图层纬度不能超过 ±%.4f", geo.MercatorLimit))
	}
	if meta.WholeWorld {
		if proj != meta.DefaultProjection {
			return newFieldError(layerField(layer.Name, "Projection"), fmt.Sprintf("%s 图层只支持 %s", meta.Key, meta.DefaultProjection))
		}
		if !sameBounds(bounds, worldBounds(proj)) {
			return newFieldError(layerField(layer.Name, "North/South/East/West"), fmt.Sprintf("%s 图层的范围必须覆盖完整瓦片网格", meta.Key))
		}
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

// worldBounds 返回投影下的完整世界范围，mercator 截断在 ±MercatorLimit。
func worldBounds(proj quadtree.Projection) geo.Bounds {
	world := geo.World()
	if proj == quadtree.ProjectionMercator {
		world.N, world.S = geo.MercatorLimit, -geo.MercatorLimit
	}
	return world
}

func sameBounds(a, b geo.Bounds) bool {
	const eps = 1e-9
	return math.Abs(a.N-b.N) < eps && math.Abs(a.S-b.S) < eps &&
		math.Abs(a.E-b.E) < eps && math.Abs(a.W-b.W) < eps
}
