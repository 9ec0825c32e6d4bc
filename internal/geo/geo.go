// Package geo holds the small amount of earth geometry the quadtree needs:
// lat/lon bounds that may wrap the date line, conversion to cartesian
// coordinates, the screen resolution model and the isometric latitude mapping
// used by web-mercator tiles.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// EarthRadius 地球平均半径（米）。
	EarthRadius = 6371000.0
	// FOVDist 为视点到屏幕平面的像素距离，决定 MPPX 的换算比例。
	FOVDist = 2000.0

	North = 90.0
	South = -90.0
	East  = 180.0
	West  = -180.0

	// MercatorLimit 是 web-mercator 瓦片覆盖的最大纬度。
	MercatorLimit = 85.0511287798066
)

// Point 描述一个视点或地表位置，Elev 为海拔（米）。
type Point struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Elev float64 `json:"elev"`
}

// Bounds 以度为单位记录经纬度范围。W > E 表示跨越日期变更线。
type Bounds struct {
	N float64 `json:"n"`
	S float64 `json:"s"`
	E float64 `json:"e"`
	W float64 `json:"w"`
}

// World 返回覆盖整个地球的范围。
func World() Bounds {
	return Bounds{N: North, S: South, E: East, W: West}
}

// Height 返回南北跨度（度）。
func (b Bounds) Height() float64 {
	return b.N - b.S
}

// Width 返回东西跨度（度），跨日期变更线时自动加上 360。
func (b Bounds) Width() float64 {
	w := b.E - b.W
	if w <= 0 {
		w += 360
	}
	return w
}

// Wraps 表示该范围是否跨越日期变更线。
func (b Bounds) Wraps() bool {
	return b.W > b.E
}

// Valid 检查 N > S 且经度跨度非退化。
func (b Bounds) Valid() bool {
	if !(b.N > b.S) || b.N > North || b.S < South {
		return false
	}
	if b.E < West || b.E > East || b.W < West || b.W > East {
		return false
	}
	return b.E != b.W
}

// Contains 判断点是否落在范围内（含边界）。
func (b Bounds) Contains(lat, lon float64) bool {
	if lat > b.N || lat < b.S {
		return false
	}
	if b.Wraps() {
		return lon >= b.W || lon <= b.E
	}
	return lon >= b.W && lon <= b.E
}

// LonOffset 返回 lon 相对西边界向东的距离（度），处理跨日期变更线的情况。
func (b Bounds) LonOffset(lon float64) float64 {
	off := lon - b.W
	if off < 0 {
		off += 360
	}
	return off
}

// Clamp 将点夹到范围内最近的位置。
func (b Bounds) Clamp(lat, lon float64) (float64, float64) {
	switch {
	case lat > b.N:
		lat = b.N
	case lat < b.S:
		lat = b.S
	}
	if b.Contains(lat, lon) {
		return lat, lon
	}
	if !b.Wraps() {
		if lon > b.E {
			return lat, b.E
		}
		return lat, b.W
	}
	// 跨日期变更线时 lon 落在 (E, W) 缺口里，取更近的一侧。
	if lon-b.E < b.W-lon {
		return lat, b.E
	}
	return lat, b.W
}

// Orb 转为 orb.Bound，方便与瓦片库互通。
func (b Bounds) Orb() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.W, b.S},
		Max: orb.Point{b.E, b.N},
	}
}

// FromOrb 由 orb.Bound 构建 Bounds。
func FromOrb(bound orb.Bound) Bounds {
	return Bounds{
		N: bound.Max.Lat(),
		S: bound.Min.Lat(),
		E: bound.Max.Lon(),
		W: bound.Min.Lon(),
	}
}

// NormalizeLon 将经度折回 [-180, 180]，保留恰好等于 ±180 的边界值。
func NormalizeLon(lon float64) float64 {
	for lon > East {
		lon -= 360
	}
	for lon < West {
		lon += 360
	}
	return lon
}

func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func RadToDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}

// LLEToXYZ 将纬度/经度/海拔转换为以地心为原点的直角坐标。
func LLEToXYZ(lat, lon, elev float64) [3]float64 {
	rad := EarthRadius + elev
	azim := DegToRad(lon)
	incl := DegToRad(90 - lat)
	return [3]float64{
		rad * math.Sin(azim) * math.Sin(incl),
		rad * math.Cos(incl),
		rad * math.Cos(azim) * math.Sin(incl),
	}
}

// Distance 返回两个直角坐标间的欧氏距离。
func Distance(a, b [3]float64) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	dz := a[2] - b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// MPPX 返回距离 dist 处一个屏幕像素对应的米数。
func MPPX(dist float64) float64 {
	return 4 * dist / FOVDist
}

// LonToMeters 将某纬度上的经度跨度换算为米。
func LonToMeters(lonDist, lat float64) float64 {
	azim := DegToRad(90 - lat)
	circ := 2 * math.Pi * math.Sin(azim) * EarthRadius
	return lonDist / 360 * circ
}

// Isometric 将纬度（度）映射为 mercator 的等角纬度 asinh(tan(lat))（弧度）。
func Isometric(lat float64) float64 {
	return math.Asinh(math.Tan(DegToRad(lat)))
}

// InverseIsometric 是 Isometric 的反函数，返回纬度（度）。
func InverseIsometric(y float64) float64 {
	return RadToDeg(math.Atan(math.Sinh(y)))
}
