package config

import (
	"fmt"

	"github.com/any-hub/any-globe/internal/quadtree"
	"github.com/any-hub/any-globe/internal/tilesource"
)

// LayerRuntime 将图层配置与适配器元数据合并，方便运行时快速取用。
type LayerRuntime struct {
	Config     LayerConfig
	Source     tilesource.Source
	Metadata   tilesource.Metadata
	Projection quadtree.Projection
}

// BuildLayerRuntime 根据已校验的图层配置构造 TileSource 并解析投影。
func BuildLayerRuntime(cfg LayerConfig) (LayerRuntime, error) {
	proj, err := quadtree.ParseProjection(cfg.Projection)
	if err != nil {
		return LayerRuntime{}, newFieldError(layerField(cfg.Name, "Projection"), err.Error())
	}
	src, meta, err := tilesource.New(cfg.Type, cfg.SourceConfig())
	if err != nil {
		return LayerRuntime{}, fmt.Errorf("%s: %w", layerField(cfg.Name, "Type"), err)
	}
	return LayerRuntime{
		Config:     cfg,
		Source:     src,
		Metadata:   meta,
		Projection: proj,
	}, nil
}
