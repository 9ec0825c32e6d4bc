// Package wms 实现按经纬度包围盒请求图像的 WMS 1.1.0 GetMap 地址。
package wms

import (
	"errors"
	"fmt"
	"strings"

	"github.com/any-hub/any-globe/internal/quadtree"
	"github.com/any-hub/any-globe/internal/tilesource"
)

func init() {
	tilesource.MustRegister(tilesource.Metadata{
		Key:               "wms",
		Description:       "WMS GetMap requests by EPSG:4326 bounding box",
		DefaultProjection: quadtree.ProjectionLatLon,
		DefaultExtension:  "jpg",
		RequiresLayer:     true,
		New:               New,
	})
}

type Source struct {
	prefix    string
	layer     string
	format    string
	extension string
	width     int
	height    int
}

// New 构造 wms 适配器，图层、格式与像素尺寸均为必填。
func New(cfg tilesource.Config) (tilesource.Source, error) {
	prefix := strings.TrimSpace(cfg.URIPrefix)
	if prefix == "" {
		return nil, errors.New("wms uri prefix required")
	}
	if cfg.URILayer == "" || cfg.URIFormat == "" {
		return nil, errors.New("wms layer and format required")
	}
	if cfg.TileWidth <= 0 || cfg.TileHeight <= 0 {
		return nil, errors.New("wms tile size must be positive")
	}
	return &Source{
		prefix:    prefix,
		layer:     cfg.URILayer,
		format:    cfg.URIFormat,
		extension: cfg.Extension,
		width:     cfg.TileWidth,
		height:    cfg.TileHeight,
	}, nil
}

// URI 将节点范围写入 BBOX=w,s,e,n。
func (s *Source) URI(tile quadtree.Tile) string {
	b := tile.Bounds
	return fmt.Sprintf("%s?LAYERS=%s&SERVICE=WMS&VERSION=1.1.0&REQUEST=GetMap&STYLES="+
		"&SRS=EPSG:4326&BBOX=%f,%f,%f,%f&WIDTH=%d&HEIGHT=%d&FORMAT=%s",
		s.prefix, s.layer, b.W, b.S, b.E, b.N, s.width, s.height, s.format)
}

func (s *Source) Extension() string {
	return s.extension
}
