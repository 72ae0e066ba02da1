package shader

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"
)

// typeLayout is the WGSL host-shareable size and alignment of a type.
//
// Reference: https://www.w3.org/TR/WGSL/#alignment-and-size
type typeLayout struct {
	size  uint64
	align uint64
}

// stride is the distance between consecutive array elements of the type.
func (l typeLayout) stride() uint64 {
	return alignUp(l.size, l.align)
}

// resource is one @group(g) @binding(b) var declaration.
type resource struct {
	group   int
	binding int
	space   string // "uniform", "storage, read", or empty for handle types
	name    string
	typ     string
}

// reflection is what LoadShader learns from pre-processed WGSL source.
type reflection struct {
	entryPoint    string
	workgroupSize [3]uint32
	structs       map[string]typeLayout
	resources     []resource
}

var (
	entryRegex     = regexp.MustCompile(`(?s)@(vertex|fragment|compute)\b.*?\bfn\s+(\w+)`)
	workgroupRegex = regexp.MustCompile(`@workgroup_size\(([^)]*)\)`)
	structRegex    = regexp.MustCompile(`struct\s+(\w+)\s*\{([^}]*)\}`)
	attrRegex      = regexp.MustCompile(`@\w+(\([^)]*\))?`)
	resourceRegex  = regexp.MustCompile(`@group\((\d+)\)\s*@binding\((\d+)\)\s*var(?:<([^>]*)>)?\s+(\w+)\s*:\s*([^;]+?)\s*;`)
)

// scalarSizes are the byte sizes of the WGSL scalar types; alignment equals size.
var scalarSizes = map[string]uint64{"f32": 4, "i32": 4, "u32": 4, "bool": 4, "f16": 2}

// vectorSuffixes maps the vecNx shorthand suffixes to their scalar type.
var vectorSuffixes = map[byte]string{'f': "f32", 'i': "i32", 'u': "u32", 'h': "f16"}

// storageFormats are the texel formats the devices can bind as storage images.
var storageFormats = map[string]wgpu.TextureFormat{
	"rgba8unorm": wgpu.TextureFormatRGBA8Unorm,
	"rg32float":  wgpu.TextureFormatRG32Float,
	"r32uint":    wgpu.TextureFormatR32Uint,
}

var sampleTypes = map[string]wgpu.TextureSampleType{
	"f32": wgpu.TextureSampleTypeFloat,
	"i32": wgpu.TextureSampleTypeSint,
	"u32": wgpu.TextureSampleTypeUint,
}

var storageAccess = map[string]wgpu.StorageTextureAccess{
	"write":      wgpu.StorageTextureAccessWriteOnly,
	"read":       wgpu.StorageTextureAccessReadOnly,
	"read_write": wgpu.StorageTextureAccessReadWrite,
}

// reflectSource reflects the entry point of stage, the workgroup size, struct layouts and
// resource declarations of a WGSL source.
//
// Parameters:
//   - source: pre-processed WGSL source
//   - stage: the stage whose entry point is looked up
//
// Returns:
//   - reflection: the reflected shader interface
//   - error: an error if the stage has no entry point or a declaration cannot be parsed
func reflectSource(source string, stage ShaderType) (reflection, error) {
	code := stripComments(source)
	var r reflection
	for _, m := range entryRegex.FindAllStringSubmatch(code, -1) {
		if m[1] == stage.String() {
			r.entryPoint = m[2]
			break
		}
	}
	if r.entryPoint == "" {
		return reflection{}, fmt.Errorf("no @%s entry point", stage)
	}
	if stage == ShaderTypeCompute {
		r.workgroupSize = workgroupSize(code)
	}
	r.structs = structLayouts(code)
	for _, m := range resourceRegex.FindAllStringSubmatch(code, -1) {
		g, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		r.resources = append(r.resources, resource{
			group:   g,
			binding: b,
			space:   strings.TrimSpace(m[3]),
			name:    m[4],
			typ:     strings.TrimSpace(m[5]),
		})
	}
	return r, nil
}

// workgroupSize reads @workgroup_size; omitted dimensions are 1.
func workgroupSize(code string) [3]uint32 {
	size := [3]uint32{1, 1, 1}
	m := workgroupRegex.FindStringSubmatch(code)
	if m == nil {
		return size
	}
	for i, dim := range strings.SplitN(m[1], ",", 3) {
		if v, err := strconv.ParseUint(strings.TrimSpace(dim), 10, 32); err == nil {
			size[i] = uint32(v)
		}
	}
	return size
}

// bindGroupLayouts builds one layout per declared group with entries sorted by binding,
// plus the variable names by group and binding.
//
// Parameters:
//   - visibility: the stage flag set on every entry
//
// Returns:
//   - map[int]wgpu.BindGroupLayoutDescriptor: layouts keyed by group
//   - map[int]map[int]string: variable names keyed by group and binding
//   - error: an error naming the first declaration no device can bind
func (r reflection) bindGroupLayouts(visibility wgpu.ShaderStage) (map[int]wgpu.BindGroupLayoutDescriptor, map[int]map[int]string, error) {
	entries := make(map[int][]wgpu.BindGroupLayoutEntry)
	names := make(map[int]map[int]string)
	for _, res := range r.resources {
		entry, err := res.layoutEntry(visibility, r.structs)
		if err != nil {
			return nil, nil, fmt.Errorf("binding %d.%d %s: %w", res.group, res.binding, res.name, err)
		}
		entries[res.group] = append(entries[res.group], entry)
		if names[res.group] == nil {
			names[res.group] = make(map[int]string)
		}
		names[res.group][res.binding] = res.name
	}

	layouts := make(map[int]wgpu.BindGroupLayoutDescriptor, len(entries))
	for g, list := range entries {
		slices.SortFunc(list, func(a, b wgpu.BindGroupLayoutEntry) int { return int(a.Binding) - int(b.Binding) })
		// Without a sampler in the group, float textures are only read with textureLoad,
		// so 32-bit float formats bind without the float32-filterable feature.
		if !slices.ContainsFunc(list, func(e wgpu.BindGroupLayoutEntry) bool {
			return e.Sampler.Type != wgpu.SamplerBindingTypeUndefined
		}) {
			for i := range list {
				if list[i].Texture.SampleType == wgpu.TextureSampleTypeFloat {
					list[i].Texture.SampleType = wgpu.TextureSampleTypeUnfilterableFloat
				}
			}
		}
		layouts[g] = wgpu.BindGroupLayoutDescriptor{Entries: list}
	}
	return layouts, names, nil
}

// layoutEntry classifies the declaration. Only the 2D resources the frame pipeline uses
// are accepted.
func (res resource) layoutEntry(visibility wgpu.ShaderStage, structs map[string]typeLayout) (wgpu.BindGroupLayoutEntry, error) {
	entry := wgpu.BindGroupLayoutEntry{Binding: uint32(res.binding), Visibility: visibility}

	switch {
	case res.space == "uniform":
		entry.Buffer.Type = wgpu.BufferBindingTypeUniform
	case strings.HasPrefix(res.space, "storage"):
		entry.Buffer.Type = wgpu.BufferBindingTypeReadOnlyStorage
		if strings.HasSuffix(res.space, "read_write") {
			entry.Buffer.Type = wgpu.BufferBindingTypeStorage
		}
	case res.space != "":
		return entry, fmt.Errorf("unsupported address space %q", res.space)
	}
	if entry.Buffer.Type != wgpu.BufferBindingTypeUndefined {
		if l, ok := layoutOf(res.typ, structs); ok {
			entry.Buffer.MinBindingSize = l.size
		}
		return entry, nil
	}

	base, params, _ := strings.Cut(strings.TrimSuffix(res.typ, ">"), "<")
	switch base {
	case "sampler":
		entry.Sampler.Type = wgpu.SamplerBindingTypeFiltering
	case "texture_2d":
		st, ok := sampleTypes[strings.TrimSpace(params)]
		if !ok {
			return entry, fmt.Errorf("unsupported sample type in %q", res.typ)
		}
		entry.Texture.SampleType = st
		entry.Texture.ViewDimension = wgpu.TextureViewDimension2D
	case "texture_depth_2d":
		entry.Texture.SampleType = wgpu.TextureSampleTypeDepth
		entry.Texture.ViewDimension = wgpu.TextureViewDimension2D
	case "texture_storage_2d":
		format, access, _ := strings.Cut(params, ",")
		f, ok := storageFormats[strings.TrimSpace(format)]
		if !ok {
			return entry, fmt.Errorf("unsupported storage format in %q", res.typ)
		}
		a, ok := storageAccess[strings.TrimSpace(access)]
		if !ok {
			return entry, fmt.Errorf("unsupported access mode in %q", res.typ)
		}
		entry.StorageTexture.Format = f
		entry.StorageTexture.Access = a
		entry.StorageTexture.ViewDimension = wgpu.TextureViewDimension2D
	default:
		return entry, fmt.Errorf("unsupported resource type %q", res.typ)
	}
	return entry, nil
}

// structLayouts lays out every struct in code. Structs may reference structs declared
// later, so passes repeat until no more resolve.
func structLayouts(code string) map[string]typeLayout {
	type decl struct {
		name   string
		fields []string
	}
	var pending []decl
	for _, m := range structRegex.FindAllStringSubmatch(code, -1) {
		d := decl{name: m[1]}
		for _, field := range splitFields(m[2]) {
			if strings.Contains(field, "@builtin") {
				continue
			}
			if _, typ, ok := strings.Cut(attrRegex.ReplaceAllString(field, ""), ":"); ok {
				d.fields = append(d.fields, strings.TrimSpace(typ))
			}
		}
		pending = append(pending, d)
	}

	known := make(map[string]typeLayout, len(pending))
	for len(pending) > 0 {
		left := pending[:0]
		for _, d := range pending {
			if l, ok := structLayout(d.fields, known); ok {
				known[d.name] = l
			} else {
				left = append(left, d)
			}
		}
		if len(left) == len(pending) {
			break
		}
		pending = left
	}
	return known
}

// structLayout places each member at its aligned offset. A trailing runtime-sized array
// contributes one element, the smallest useful binding.
func structLayout(fields []string, known map[string]typeLayout) (typeLayout, bool) {
	var offset uint64
	align := uint64(1)
	for _, typ := range fields {
		l, ok := layoutOf(typ, known)
		if !ok {
			return typeLayout{}, false
		}
		offset = alignUp(offset, l.align) + l.size
		align = max(align, l.align)
	}
	return typeLayout{size: alignUp(offset, align), align: align}, true
}

// layoutOf resolves scalars, vectors, matrices, atomics, arrays and known structs.
func layoutOf(typ string, known map[string]typeLayout) (typeLayout, bool) {
	typ = strings.ReplaceAll(typ, " ", "")
	if size, ok := scalarSizes[typ]; ok {
		return typeLayout{size, size}, true
	}
	if l, ok := known[typ]; ok {
		return l, true
	}

	base, param, generic := strings.Cut(typ, "<")
	param = strings.TrimSuffix(param, ">")
	if !generic && len(base) > 1 {
		// vec3f, mat4x4f and friends.
		if scalar, ok := vectorSuffixes[base[len(base)-1]]; ok {
			base, param = base[:len(base)-1], scalar
		}
	}

	switch {
	case base == "atomic":
		return typeLayout{4, 4}, param == "u32" || param == "i32"
	case base == "array":
		elem, count, sized := cutTopLevel(param)
		el, ok := layoutOf(elem, known)
		if !ok {
			return typeLayout{}, false
		}
		n := uint64(1)
		if sized {
			var err error
			if n, err = strconv.ParseUint(count, 10, 64); err != nil {
				return typeLayout{}, false
			}
		}
		return typeLayout{n * el.stride(), el.align}, true
	case len(base) == 4 && strings.HasPrefix(base, "vec"):
		return vectorLayout(base[3], param)
	case len(base) == 6 && strings.HasPrefix(base, "mat") && base[4] == 'x':
		col, ok := vectorLayout(base[5], param)
		if !ok || base[3] < '2' || base[3] > '4' {
			return typeLayout{}, false
		}
		return typeLayout{uint64(base[3]-'0') * col.stride(), col.align}, true
	}
	return typeLayout{}, false
}

// vectorLayout lays out a vector of n components. vec3 aligns like vec4.
func vectorLayout(n byte, scalar string) (typeLayout, bool) {
	size, ok := scalarSizes[scalar]
	if !ok || n < '2' || n > '4' {
		return typeLayout{}, false
	}
	count := uint64(n - '0')
	lanes := count
	if lanes == 3 {
		lanes = 4
	}
	return typeLayout{count * size, lanes * size}, true
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) / align * align
}

// splitFields splits a struct body at commas outside angle brackets.
func splitFields(body string) []string {
	var fields []string
	for {
		head, tail, more := cutTopLevel(body)
		if strings.TrimSpace(head) != "" {
			fields = append(fields, head)
		}
		if !more {
			return fields
		}
		body = tail
	}
}

// cutTopLevel cuts s around the first comma outside angle brackets.
func cutTopLevel(s string) (before, after string, found bool) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			depth = max(depth-1, 0)
		case ',':
			if depth == 0 {
				return s[:i], s[i+1:], true
			}
		}
	}
	return s, "", false
}

// stripComments removes line comments and nested block comments, keeping newlines.
func stripComments(source string) string {
	var sb strings.Builder
	sb.Grow(len(source))
	depth, line := 0, false
	for i := 0; i < len(source); i++ {
		c := source[i]
		next := byte(0)
		if i+1 < len(source) {
			next = source[i+1]
		}
		switch {
		case line:
			if c == '\n' {
				line = false
				sb.WriteByte(c)
			}
		case c == '/' && next == '*':
			depth++
			i++
		case depth > 0 && c == '*' && next == '/':
			depth--
			i++
		case depth > 0:
			if c == '\n' {
				sb.WriteByte(c)
			}
		case c == '/' && next == '/':
			line = true
			i++
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
