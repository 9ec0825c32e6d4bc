// Package tms 实现 slippy-map 瓦片地址：{prefix}/{zoom}/{x}/{y}.{ext}。
package tms

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/any-hub/any-globe/internal/geo"
	"github.com/any-hub/any-globe/internal/quadtree"
	"github.com/any-hub/any-globe/internal/tilesource"
)

func init() {
	tilesource.MustRegister(tilesource.Metadata{
		Key:               "tms",
		Description:       "Slippy map tiles addressed by zoom/x/y on a web-mercator grid",
		DefaultProjection: quadtree.ProjectionMercator,
		DefaultExtension:  "png",
		WholeWorld:        true,
		New:               New,
	})
}

// Source 只保存模板配置。
type Source struct {
	prefix    string
	extension string
}

// New 构造 tms 适配器。
func New(cfg tilesource.Config) (tilesource.Source, error) {
	prefix := strings.TrimRight(strings.TrimSpace(cfg.URIPrefix), "/")
	if prefix == "" {
		return nil, errors.New("tms uri prefix required")
	}
	return &Source{prefix: prefix, extension: cfg.Extension}, nil
}

// URI 以节点在 mercator 空间中的中点定位瓦片，zoom 等于节点深度。
func (s *Source) URI(tile quadtree.Tile) string {
	t := Locate(tile)
	return fmt.Sprintf("%s/%d/%d/%d.%s", s.prefix, t.Z, t.X, t.Y, s.extension)
}

func (s *Source) Extension() string {
	return s.extension
}

// Locate 返回节点对应的 slippy 瓦片坐标，要求树根覆盖完整的 mercator 世界。
func Locate(tile quadtree.Tile) maptile.Tile {
	b := tile.Bounds
	midLat := geo.InverseIsometric((geo.Isometric(b.N) + geo.Isometric(b.S)) / 2)
	midLon := geo.NormalizeLon(b.W + b.Width()/2)
	return maptile.At(orb.Point{midLon, midLat}, maptile.Zoom(tile.Depth))
}
