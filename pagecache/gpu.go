package pagecache

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// GPUPagePool is the upload boundary for a page's resident bytes. It keeps
// this package testable without a real GPU device while still specifying
// exactly how a page's splat payload reaches the rasterizer's array
// textures.
type GPUPagePool interface {
	// UploadPage writes data into page's slot. data is exactly one page's
	// worth of decoded splat bytes.
	UploadPage(page uint32, data []byte) error
}

// wgpuPagePool is the production GPUPagePool: a fixed-size array texture
// with one layer per page (pageCount layers), each layer a single row of
// pageBytes/4 RGBA8 texels, uploaded with
// wgpu.Queue.WriteTexture on promotion, the same CreateTexture/WriteTexture
// staged-upload idiom used elsewhere for material textures, generalized
// here to a splat page pool.
type wgpuPagePool struct {
	device    *wgpu.Device
	queue     *wgpu.Queue
	texture   *wgpu.Texture
	pageBytes uint32 // bytes per page row
}

// NewWGPUPagePool allocates the backing array texture for a pool of
// pageCount pages, each holding pageBytes bytes of packed splat data.
func NewWGPUPagePool(device *wgpu.Device, queue *wgpu.Queue, pageCount, pageBytes uint32) (GPUPagePool, error) {
	tex, err := device.CreateTexture(&wgpu.TextureDescriptor{
		Size: wgpu.Extent3D{
			Width:              pageBytes / 4,
			Height:             1,
			DepthOrArrayLayers: pageCount,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatRGBA8Uint,
		Usage:         wgpu.TextureUsageCopyDst | wgpu.TextureUsageTextureBinding,
	})
	if err != nil {
		return nil, fmt.Errorf("pagecache: allocate page pool texture: %w", err)
	}
	return &wgpuPagePool{device: device, queue: queue, texture: tex, pageBytes: pageBytes}, nil
}

func (p *wgpuPagePool) UploadPage(page uint32, data []byte) error {
	if uint32(len(data)) > p.pageBytes {
		return fmt.Errorf("pagecache: page payload %d exceeds page byte budget %d", len(data), p.pageBytes)
	}
	p.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  p.texture,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{X: 0, Y: 0, Z: page},
			Aspect:   wgpu.TextureAspectAll,
		},
		data,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  p.pageBytes,
			RowsPerImage: 1,
		},
		&wgpu.Extent3D{Width: p.pageBytes / 4, Height: 1, DepthOrArrayLayers: 1},
	)
	return nil
}
