package routes

import (
	"errors"
	"regexp/syntax"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-globe/internal/cache"
	"github.com/any-hub/any-globe/internal/geo"
	"github.com/any-hub/any-globe/internal/layer"
	"github.com/any-hub/any-globe/internal/server"
)

// Engine 是诊断接口依赖的引擎能力，*layer.Engine 满足该接口。
type Engine interface {
	Layers() []*layer.Layer
	Layer(name string) (*layer.Layer, bool)
	PostEye(eye geo.Point)
	Status() layer.EngineStatus
}

// RegisterLayerRoutes 暴露 /-/layers 与 /-/eye 诊断接口。
func RegisterLayerRoutes(app *fiber.App, engine Engine, logger *logrus.Logger) {
	if app == nil || engine == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Get("/-/layers", func(c fiber.Ctx) error {
		layers := engine.Layers()
		stats := make([]layer.Stats, 0, len(layers))
		for _, l := range layers {
			stats = append(stats, l.Stats())
		}
		return c.JSON(fiber.Map{
			"engine": engine.Status(),
			"layers": stats,
		})
	})

	app.Post("/-/eye", func(c fiber.Ctx) error {
		var eye geo.Point
		if err := c.Bind().JSON(&eye); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_eye"})
		}
		if !validPoint(eye.Lat, eye.Lon) || eye.Elev < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_eye"})
		}
		engine.PostEye(eye)
		logger.WithFields(logrus.Fields{
			"action":     "eye_update",
			"lat":        eye.Lat,
			"lon":        eye.Lon,
			"elev":       eye.Elev,
			"request_id": server.RequestID(c),
		}).Debug("eye_posted")
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
	})

	app.Get("/-/layers/:name", withLayer(engine, func(c fiber.Ctx, l *layer.Layer) error {
		return c.JSON(l.Stats())
	}))

	app.Get("/-/layers/:name/tile", withLayer(engine, func(c fiber.Ctx, l *layer.Layer) error {
		lat, lon, ok := pointQuery(c)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_point"})
		}
		tile, found := l.Lookup(lat, lon)
		if !found {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no_data"})
		}
		return c.JSON(tilePayload{
			Path:       tile.Path,
			Depth:      tile.Depth,
			Row:        tile.Row,
			Col:        tile.Col,
			Projection: string(tile.Projection),
			Bounds:     tile.Bounds,
		})
	}))

	app.Get("/-/layers/:name/height", withLayer(engine, func(c fiber.Ctx, l *layer.Layer) error {
		lat, lon, ok := pointQuery(c)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_point"})
		}
		return c.JSON(fiber.Map{
			"lat":    lat,
			"lon":    lon,
			"height": l.HeightAt(lat, lon),
		})
	}))

	app.Get("/-/layers/:name/available", withLayer(engine, func(c fiber.Ctx, l *layer.Layer) error {
		opts := cache.AvailableOptions{
			Cache:   c.Query("cache"),
			Index:   c.Query("index"),
			Filter:  c.Query("filter"),
			Extract: c.Query("extract"),
		}
		if opts.Cache == "" && opts.Index == "" {
			opts.Cache = "."
		}
		names, err := l.Available(c.Context(), opts)
		if err != nil {
			return renderAvailableError(c, logger, l.Name(), err)
		}
		return c.JSON(fiber.Map{
			"layer": l.Name(),
			"count": len(names),
			"names": names,
		})
	}))
}

type tilePayload struct {
	Path       string     `json:"path"`
	Depth      int        `json:"depth"`
	Row        int        `json:"row"`
	Col        int        `json:"col"`
	Projection string     `json:"projection"`
	Bounds     geo.Bounds `json:"bounds"`
}

func withLayer(engine Engine, next func(fiber.Ctx, *layer.Layer) error) fiber.Handler {
	return func(c fiber.Ctx) error {
		l, ok := engine.Layer(c.Params("name"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "layer_not_found"})
		}
		return next(c, l)
	}
}

func pointQuery(c fiber.Ctx) (float64, float64, bool) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, validPoint(lat, lon)
}

func validPoint(lat, lon float64) bool {
	return lat >= geo.South && lat <= geo.North && lon >= geo.West && lon <= geo.East
}

func renderAvailableError(c fiber.Ctx, logger *logrus.Logger, name string, err error) error {
	var syntaxErr *syntax.Error
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	case errors.As(err, &syntaxErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_filter"})
	case errors.Is(err, cache.ErrCancelled):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "cancelled"})
	}
	logger.WithFields(logrus.Fields{
		"action":     "available",
		"layer":      name,
		"request_id": server.RequestID(c),
	}).WithError(err).Warn("available_failed")
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "available_failed"})
}
