package config

import (
	_ "github.com/any-hub/any-globe/internal/tilesource/tms"
	_ "github.com/any-hub/any-globe/internal/tilesource/wms"
)
