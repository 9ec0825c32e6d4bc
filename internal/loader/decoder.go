package loader

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/any-hub/any-globe/internal/cache"
)

// Decoder 将缓存文件转换为节点负载。返回的错误若匹配 cache.ErrMalformedPayload，
// 调用方会删除缓存文件以便下次重新下载。
type Decoder interface {
	Decode(path string) (any, error)
}

// DecoderFunc 将普通函数适配为 Decoder。
type DecoderFunc func(path string) (any, error)

func (f DecoderFunc) Decode(path string) (any, error) {
	return f(path)
}

// Image 是 raw 解码的结果，保留原始字节交给渲染端处理。
type Image struct {
	Path string
	Data []byte
}

// Elevation 是 16 位 BIL 高程网格，按行优先存储，第 0 行为北边。
type Elevation struct {
	Width   int
	Height  int
	Samples []int16
}

// NewDecoder 按负载类型构造解码器：raw 或 bil。
func NewDecoder(kind string, width, height int) (Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "raw":
		return DecoderFunc(decodeRaw), nil
	case "bil":
		if width <= 0 || height <= 0 {
			return nil, fmt.Errorf("bil decoder needs a positive grid size")
		}
		return bilDecoder{width: width, height: height}, nil
	default:
		return nil, fmt.Errorf("unknown payload type: %s", kind)
	}
}

func decodeRaw(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", cache.ErrMalformedPayload, path)
	}
	return &Image{Path: path, Data: data}, nil
}

type bilDecoder struct {
	width, height int
}

func (d bilDecoder) Decode(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	want := d.width * d.height * 2
	if len(data) != want {
		return nil, fmt.Errorf("%w: %s has %d bytes, want %d", cache.ErrMalformedPayload, path, len(data), want)
	}
	samples := make([]int16, d.width*d.height)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return &Elevation{Width: d.width, Height: d.height, Samples: samples}, nil
}

// Sample 以双线性插值读取网格，fx/fy 为 [0,1] 内的相对位置，越界时夹到边缘。
func (e *Elevation) Sample(fx, fy float64) float64 {
	if e == nil || e.Width == 0 || e.Height == 0 {
		return 0
	}
	x := clamp(fx, 0, 1) * float64(e.Width-1)
	y := clamp(fy, 0, 1) * float64(e.Height-1)

	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, e.Width-1), min(y0+1, e.Height-1)
	dx, dy := x-float64(x0), y-float64(y0)

	at := func(col, row int) float64 {
		return float64(e.Samples[row*e.Width+col])
	}
	top := at(x0, y0)*(1-dx) + at(x1, y0)*dx
	bottom := at(x0, y1)*(1-dx) + at(x1, y1)*dx
	return top*(1-dy) + bottom*dy
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
