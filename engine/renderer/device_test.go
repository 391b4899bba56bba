package renderer_test

import (
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/renderertest"
)

func TestMipExtent(t *testing.T) {
	tests := []struct {
		w, h, mip uint32
		wantW     uint32
		wantH     uint32
	}{
		{1920, 1080, 0, 1920, 1080},
		{1920, 1080, 1, 960, 540},
		{5, 3, 1, 3, 2},
		{5, 3, 2, 2, 1},
		{5, 3, 3, 1, 1},
		{1, 1, 4, 1, 1},
		{0, 0, 0, 1, 1},
	}
	for _, tt := range tests {
		w, h := renderer.MipExtent(tt.w, tt.h, tt.mip)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("MipExtent(%d, %d, %d)\nhave %dx%d\nwant %dx%d", tt.w, tt.h, tt.mip, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestCheckWrite(t *testing.T) {
	d := renderertest.NewDevice()
	b, err := d.CreateBuffer(renderer.BufferDescriptor{Label: "b", Size: 16})
	if err != nil {
		t.Fatal(err)
	}
	if err := renderer.CheckWrite(b, 8, 8); err != nil {
		t.Errorf("exact fit rejected: %v", err)
	}
	if err := renderer.CheckWrite(b, 12, 8); !errors.Is(err, renderer.ErrOutOfRange) {
		t.Errorf("overflow\nhave %v\nwant %v", err, renderer.ErrOutOfRange)
	}
}

func TestWriteBuffersStopsAtFirstFailure(t *testing.T) {
	d := renderertest.NewDevice()
	a, _ := d.CreateBuffer(renderer.BufferDescriptor{Label: "a", Size: 8})
	b, _ := d.CreateBuffer(renderer.BufferDescriptor{Label: "b", Size: 4})
	c, _ := d.CreateBuffer(renderer.BufferDescriptor{Label: "c", Size: 8})

	err := renderer.WriteBuffers(d,
		renderer.BufferWrite{Buffer: a, Offset: 4, Data: []byte{1, 2, 3, 4}},
		renderer.BufferWrite{Buffer: nil, Data: []byte{9}},
		renderer.BufferWrite{Buffer: b, Offset: 0, Data: make([]byte, 8)},
		renderer.BufferWrite{Buffer: c, Offset: 0, Data: []byte{7}},
	)
	if !errors.Is(err, renderer.ErrOutOfRange) {
		t.Fatalf("have %v\nwant %v", err, renderer.ErrOutOfRange)
	}
	if got := a.(*renderertest.Buffer).Data[4:]; got[0] != 1 || got[3] != 4 {
		t.Errorf("first write not applied: %v", got)
	}
	if got := c.(*renderertest.Buffer).Data[0]; got != 0 {
		t.Errorf("write after failure applied: %d", got)
	}
}

func TestFakeDeviceFrameDiscipline(t *testing.T) {
	d := renderertest.NewDevice()
	src, _ := d.CreateBuffer(renderer.BufferDescriptor{Label: "src", Size: 8})
	dst, _ := d.CreateBuffer(renderer.BufferDescriptor{Label: "dst", Size: 8})

	if err := d.CopyBuffer(src, 0, dst, 0, 4); !errors.Is(err, renderer.ErrNoFrame) {
		t.Errorf("copy outside frame\nhave %v\nwant %v", err, renderer.ErrNoFrame)
	}
	if err := d.BeginComputeFrame(); err != nil {
		t.Fatal(err)
	}
	if err := d.BeginComputeFrame(); !errors.Is(err, renderer.ErrFrameOpen) {
		t.Errorf("nested frame\nhave %v\nwant %v", err, renderer.ErrFrameOpen)
	}
	if err := d.WriteBuffer(src, 0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := d.CopyBuffer(src, 0, dst, 4, 4); err != nil {
		t.Fatal(err)
	}
	if err := d.EndComputeFrame(); err != nil {
		t.Fatal(err)
	}
	out, err := d.ReadBuffer(dst, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	if out[0] != 1 || out[3] != 4 {
		t.Errorf("readback\nhave %v\nwant [1 2 3 4]", out)
	}
	if d.Submissions != 1 {
		t.Errorf("submissions\nhave %d\nwant 1", d.Submissions)
	}
}

func TestFakeTextureMipChain(t *testing.T) {
	d := renderertest.NewDevice()
	tex, err := d.CreateTexture(renderer.TextureDescriptor{
		Label:         "hiz",
		Width:         5,
		Height:        3,
		MipLevelCount: 4,
		Format:        renderer.TextureFormatR32Float,
	})
	if err != nil {
		t.Fatal(err)
	}
	ft := tex.(*renderertest.Texture)
	want := []int{5 * 3 * 4, 3 * 2 * 4, 2 * 1 * 4, 1 * 1 * 4}
	for m, n := range want {
		if len(ft.Mips[m]) != n {
			t.Errorf("mip %d bytes\nhave %d\nwant %d", m, len(ft.Mips[m]), n)
		}
	}
	if err := d.WriteTexture(tex, 1, make([]byte, 4)); !errors.Is(err, renderer.ErrOutOfRange) {
		t.Errorf("short mip write\nhave %v\nwant %v", err, renderer.ErrOutOfRange)
	}
}
