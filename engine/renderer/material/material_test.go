package material

import "testing"

func TestMaterialIdentity(t *testing.T) {
	a := NewMaterial(WithName("a"))
	b := NewMaterial(WithName("b"))
	if a.ID() == b.ID() {
		t.Fatalf("materials share ID %d", a.ID())
	}
	if a.Transparent() {
		t.Fatal("default material is transparent")
	}

	h := a.Hash()
	a.SetPipelineKey("lit")
	if a.PipelineKey() != "lit" {
		t.Fatalf("PipelineKey\nhave %q\nwant lit", a.PipelineKey())
	}
	if a.Hash() == h {
		t.Log("hash unchanged after SetPipelineKey (16-bit collision)")
	}
	if got := identityHash(a.ID(), "lit"); got != a.Hash() {
		t.Fatalf("Hash not derived from identity\nhave %d\nwant %d", a.Hash(), got)
	}
}

func TestTransparentBlendModes(t *testing.T) {
	tests := []struct {
		mode BlendMode
		want bool
	}{
		{BlendOpaque, false},
		{BlendAlphaMask, true},
		{BlendAlpha, true},
		{BlendAdditive, true},
	}
	for _, tt := range tests {
		if got := NewMaterial(WithBlendMode(tt.mode)).Transparent(); got != tt.want {
			t.Errorf("Transparent(%d)\nhave %v\nwant %v", tt.mode, got, tt.want)
		}
	}
}
