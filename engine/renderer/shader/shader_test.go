package shader

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/cogentcore/webgpu/wgpu"
)

const testParams = `struct AnalysisParams {
    reprojection: mat4x4<f32>,
    blockSize: vec2u,
    brightness: f32,
    pad: f32,
}
`

const testKernel = `//@oxy:include analysis_params
//@oxy:group 0 0 storage_uniform params analysis_params
//@oxy:provider 0 1 capture source_image
@group(0) @binding(1) var sourceImage: texture_2d<f32>;
//@oxy:provider 0 2 analysis nas_image
@group(0) @binding(2) var nasImage: texture_storage_2d<rg32float, write>;

@compute @workgroup_size(8, 8)
fn main(@builtin(global_invocation_id) id: vec3u) {
    textureStore(nasImage, id.xy, vec4f(0.0));
}
`

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"shaders/nas.wgsl":                     {Data: []byte(testKernel)},
		"shaders/include/analysis_params.wgsl": {Data: []byte(testParams)},
		"shaders/broken.wgsl":                  {Data: []byte("//@oxy:include nope\n")},
		"shaders/vertex_only.wgsl":             {Data: []byte("@vertex fn vs() -> @builtin(position) vec4f { return vec4f(0.0); }\n")},
		"shaders/cube.wgsl":                    {Data: []byte("@group(0) @binding(0) var sky: texture_cube<f32>;\n@compute @workgroup_size(1) fn main() {}\n")},
	}
}

func TestLoadShaderReflectsCompute(t *testing.T) {
	s, err := LoadShader(testFS(), "nas", ShaderTypeCompute, "shaders/nas.wgsl")
	if err != nil {
		t.Fatalf("LoadShader() error = %v", err)
	}
	if got := s.EntryPoint(); got != "main" {
		t.Errorf("EntryPoint() = %q, want %q", got, "main")
	}
	if got := s.WorkgroupSize(); got != [3]uint32{8, 8, 1} {
		t.Errorf("WorkgroupSize() = %v, want [8 8 1]", got)
	}
	if !strings.Contains(s.Source(), "@group(0) @binding(0) var<uniform> params: AnalysisParams;") {
		t.Errorf("Source() is missing the generated params declaration:\n%s", s.Source())
	}
	if !strings.Contains(s.Source(), "struct AnalysisParams") {
		t.Error("Source() is missing the included AnalysisParams struct")
	}
	if size, ok := s.StructSize("AnalysisParams"); !ok || size != 80 {
		t.Errorf("StructSize(AnalysisParams) = %d, %v, want 80, true", size, ok)
	}

	roles := []struct {
		role    AnnotationArg
		binding int
	}{
		{AnnotationArgAnalysisParams, 0},
		{AnnotationArgSourceImage, 1},
		{AnnotationArgNASImage, 2},
	}
	for _, tt := range roles {
		group, binding, ok := s.Binding(tt.role)
		if !ok || group != 0 || binding != tt.binding {
			t.Errorf("Binding(%s) = %d, %d, %v, want 0, %d, true", tt.role, group, binding, ok, tt.binding)
		}
	}
	if _, _, ok := s.Binding(AnnotationArgRateImage); ok {
		t.Error("Binding(rate_image) found, want not declared")
	}
	if got := s.BindGroupVarName(0, 2); got != "nasImage" {
		t.Errorf("BindGroupVarName(0, 2) = %q, want nasImage", got)
	}
}

func TestLoadShaderBindGroupLayout(t *testing.T) {
	s, err := LoadShader(testFS(), "nas", ShaderTypeCompute, "shaders/nas.wgsl")
	if err != nil {
		t.Fatalf("LoadShader() error = %v", err)
	}
	desc := s.BindGroupLayoutDescriptor(0)
	if len(desc.Entries) != 3 {
		t.Fatalf("len(Entries) = %d, want 3", len(desc.Entries))
	}
	if got := desc.Entries[0].Buffer.Type; got != wgpu.BufferBindingTypeUniform {
		t.Errorf("Entries[0].Buffer.Type = %v, want uniform", got)
	}
	if got := desc.Entries[0].Buffer.MinBindingSize; got != 80 {
		t.Errorf("Entries[0].Buffer.MinBindingSize = %d, want 80", got)
	}
	if got := desc.Entries[1].Texture.SampleType; got != wgpu.TextureSampleTypeUnfilterableFloat {
		t.Errorf("Entries[1].Texture.SampleType = %v, want unfilterable float without a sampler", got)
	}
	if got := desc.Entries[2].StorageTexture.Format; got != wgpu.TextureFormatRG32Float {
		t.Errorf("Entries[2].StorageTexture.Format = %v, want RG32Float", got)
	}
	if got := desc.Entries[2].StorageTexture.Access; got != wgpu.StorageTextureAccessWriteOnly {
		t.Errorf("Entries[2].StorageTexture.Access = %v, want write-only", got)
	}
}

func TestLoadShaderErrors(t *testing.T) {
	tests := []struct {
		name       string
		shaderType ShaderType
		path       string
	}{
		{"missing file", ShaderTypeCompute, "shaders/missing.wgsl"},
		{"unknown include", ShaderTypeCompute, "shaders/broken.wgsl"},
		{"no entry point for stage", ShaderTypeFragment, "shaders/vertex_only.wgsl"},
		{"unsupported resource", ShaderTypeCompute, "shaders/cube.wgsl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadShader(testFS(), tt.name, tt.shaderType, tt.path); err == nil {
				t.Errorf("LoadShader(%q) error = nil, want error", tt.path)
			}
		})
	}
}

func TestParseAnnotation(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantNil bool
		wantErr bool
	}{
		{"plain code", "let x = 1;", true, false},
		{"plain comment", "// just a note", true, false},
		{"include", "//@oxy:include palette", false, false},
		{"group", "//@oxy:group 0 3 storage_uniform params synthesis_params", false, false},
		{"group with include-only type", "//@oxy:group 0 3 storage_uniform params palette", false, true},
		{"provider", "//@oxy:provider 0 1 synthesis rate_image", false, false},
		{"provider unknown role", "//@oxy:provider 0 1 synthesis albedo", false, true},
		{"provider unknown identity", "//@oxy:provider 0 1 lights rate_image", false, true},
		{"bad group number", "//@oxy:provider x 1 synthesis rate_image", false, true},
		{"empty", "//@oxy:", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := parseAnnotation(tt.line, 1)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAnnotation() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (a == nil) != tt.wantNil {
				t.Errorf("parseAnnotation() = %v, wantNil %v", a, tt.wantNil)
			}
		})
	}
}

func TestPreProcessor(t *testing.T) {
	includeFS := fstest.MapFS{
		"analysis_params.wgsl": {Data: []byte(testParams)},
		"palette.wgsl":         {Data: []byte("const RED = vec3f(1.0, 0.0, 0.0);\n")},
	}
	src := strings.Join([]string{
		"//@oxy:include palette",
		"//@oxy:include analysis_params",
		"//@oxy:include palette",
		"//@oxy:group 1 4 storage_read table analysis_params",
		"//@oxy:provider 0 7 synthesis rate_image",
		"fn f() {}",
	}, "\n")

	out, decls, err := NewPreProcessor(includeFS).Process(src)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got := strings.Count(out, "const RED"); got != 1 {
		t.Errorf("palette pasted %d times, want 1", got)
	}
	if !strings.Contains(out, "@group(1) @binding(4) var<storage, read> table: AnalysisParams;") {
		t.Errorf("Process() is missing the group declaration:\n%s", out)
	}
	if strings.Contains(out, "@oxy:") || !strings.Contains(out, "fn f() {}") {
		t.Errorf("Process() output = %q, want directives removed and code kept", out)
	}

	want := []Annotation{
		{Type: AnnotationTypeBindingGroup, Line: 4, Group: 1, Binding: 4, Role: AnnotationArgAnalysisParams, Space: "storage_read", Var: "table"},
		{Type: AnnotationTypeProvider, Line: 5, Group: 0, Binding: 7, Role: AnnotationArgRateImage, Provider: AnnotationArgSynthesis},
	}
	if len(decls) != len(want) {
		t.Fatalf("len(decls) = %d, want %d", len(decls), len(want))
	}
	for i := range want {
		if decls[i] != want[i] {
			t.Errorf("decls[%d] = %+v, want %+v", i, decls[i], want[i])
		}
	}
}

func TestPreProcessorErrors(t *testing.T) {
	tests := []struct {
		name      string
		src       string
		malformed bool
	}{
		{"wrong arity", "//@oxy:group 0 0 storage_uniform params", true},
		{"unknown keyword", "//@oxy:texture 0 0", true},
		{"unknown address space", "//@oxy:group 0 0 private params analysis_params", true},
		{"missing include file", "//@oxy:include palette", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewPreProcessor(fstest.MapFS{}).Process(tt.src)
			if err == nil {
				t.Fatal("Process() error = nil, want error")
			}
			if got := errors.Is(err, ErrAnnotation); got != tt.malformed {
				t.Errorf("errors.Is(%v, ErrAnnotation) = %v, want %v", err, got, tt.malformed)
			}
		})
	}
}

func TestParseWorkgroupSizeDefaults(t *testing.T) {
	tests := []struct {
		src  string
		want [3]uint32
	}{
		{"@compute @workgroup_size(64) fn main() {}", [3]uint32{64, 1, 1}},
		{"@compute @workgroup_size(8, 4) fn main() {}", [3]uint32{8, 4, 1}},
		{"@compute fn main() {}", [3]uint32{1, 1, 1}},
	}
	for _, tt := range tests {
		if got := workgroupSize(tt.src); got != tt.want {
			t.Errorf("workgroupSize(%q) = %v, want %v", tt.src, got, tt.want)
		}
	}
}

func TestLayoutOf(t *testing.T) {
	known := map[string]typeLayout{"Light": {size: 32, align: 16}}
	tests := []struct {
		typ  string
		want typeLayout
	}{
		{"f32", typeLayout{4, 4}},
		{"vec2u", typeLayout{8, 8}},
		{"vec3f", typeLayout{12, 16}},
		{"vec3<f32>", typeLayout{12, 16}},
		{"vec4h", typeLayout{8, 8}},
		{"mat3x3<f32>", typeLayout{48, 16}},
		{"mat4x4f", typeLayout{64, 16}},
		{"mat4x2<f32>", typeLayout{32, 8}},
		{"atomic<u32>", typeLayout{4, 4}},
		{"array<vec3f, 4>", typeLayout{64, 16}},
		{"array<vec4<f32>, 4>", typeLayout{64, 16}},
		{"array<Light>", typeLayout{32, 16}},
		{"Light", typeLayout{32, 16}},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			got, ok := layoutOf(tt.typ, known)
			if !ok || got != tt.want {
				t.Errorf("layoutOf(%q) = %v, %v, want %v, true", tt.typ, got, ok, tt.want)
			}
		})
	}
	for _, typ := range []string{"Unknown", "vec5f", "atomic<f32>", "array<f32, n>"} {
		if got, ok := layoutOf(typ, known); ok {
			t.Errorf("layoutOf(%q) = %v, true, want false", typ, got)
		}
	}
}

func TestStructLayoutsResolveForwardReferences(t *testing.T) {
	code := stripComments(`
struct Outer {
    inner: Inner, // declared below
    flag: u32,
}
/* block /* nested */ comment */
struct Inner {
    a: vec3f,
    @builtin(position) pos: vec4f,
}
`)
	got := structLayouts(code)
	if want := (typeLayout{16, 16}); got["Inner"] != want {
		t.Errorf("Inner = %v, want %v", got["Inner"], want)
	}
	if want := (typeLayout{32, 16}); got["Outer"] != want {
		t.Errorf("Outer = %v, want %v", got["Outer"], want)
	}
}
