package pipeline

import (
	"errors"
	"testing"

	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer/shader"
)

func TestNewPipelineDefaults(t *testing.T) {
	p := NewPipeline("scene", PipelineTypeRender)
	if p.Key() != "scene" || p.Type() != PipelineTypeRender {
		t.Errorf("NewPipeline() = %q/%v, want scene/render", p.Key(), p.Type())
	}
	if !p.Depth().Test || !p.Depth().Write {
		t.Error("depth test and write should default to enabled")
	}
	if p.Blend() {
		t.Error("blending should default to disabled")
	}
	if p.Kernel() != nil || p.FragmentKernel() != nil || p.Handle() != nil {
		t.Error("kernels and handle should default to nil")
	}
	if p.Shader(shader.ShaderTypeVertex) != nil {
		t.Error("Shader(vertex) should be nil when not set")
	}
}

func TestPipelineOptions(t *testing.T) {
	calls := 0
	k := func(wg Workgroup, res Resources) { calls++ }
	fk := func(f Fragment, res Resources) FragmentOutput { return FragmentOutput{Color: [4]float32{1, 0, 0, 1}} }

	p := NewPipeline("overlay", PipelineTypeRender,
		WithKernel(k),
		WithFragmentKernel(fk),
		WithDepth(false, false),
		WithBlendEnabled(true),
	)
	if p.Depth().Test || p.Depth().Write || !p.Blend() {
		t.Error("options were not applied")
	}
	p.Kernel()(Workgroup{}, nil)
	if calls != 1 {
		t.Errorf("kernel calls = %d, want 1", calls)
	}
	if got := p.FragmentKernel()(Fragment{}, nil).Color; got != [4]float32{1, 0, 0, 1} {
		t.Errorf("FragmentKernel() color = %v, want red", got)
	}
	p.SetHandle("compiled")
	if p.Handle() != "compiled" {
		t.Errorf("Handle() = %v, want compiled", p.Handle())
	}
}

func TestValidate(t *testing.T) {
	k := func(Workgroup, Resources) {}
	fk := func(Fragment, Resources) FragmentOutput { return FragmentOutput{} }
	tests := []struct {
		name    string
		p       Pipeline
		wantErr bool
	}{
		{"compute kernel", NewPipeline("c", PipelineTypeCompute, WithKernel(k)), false},
		{"empty compute", NewPipeline("c", PipelineTypeCompute), true},
		{"render kernel", NewPipeline("r", PipelineTypeRender, WithFragmentKernel(fk)), false},
		{"empty render", NewPipeline("r", PipelineTypeRender), true},
		{"unknown type", NewPipeline("x", PipelineType(7), WithKernel(k)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrIncomplete) {
				t.Errorf("Validate() error = %v, want %v", err, ErrIncomplete)
			}
		})
	}
}
