package shader

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Shaders carry single-line directives in WGSL comments:
//
//	//@oxy:include  <include>
//	//@oxy:group    <group> <binding> <address_space> <var_name> <struct>
//	//@oxy:provider <group> <binding> <provider> <role>
//
// include pastes a registered include file once per shader. group emits the @group/@binding
// declaration of a registered struct. provider emits nothing and only tags a hand-written
// texture or sampler binding with its owner and role. group and provider directives are
// collected so that components find their bindings by role instead of by variable name.

// ErrAnnotation is wrapped by every directive parse error.
var ErrAnnotation = errors.New("malformed @oxy annotation")

const annotationPrefix = "@oxy:"

// AnnotationType is the directive keyword.
type AnnotationType string

const (
	annotationTypeInclude      AnnotationType = "include"
	AnnotationTypeBindingGroup AnnotationType = "group"
	AnnotationTypeProvider     AnnotationType = "provider"
)

// AnnotationArg is a registered directive argument: an include or struct key, an address
// space, a provider identity or a binding role.
type AnnotationArg string

// Annotation is one parsed directive.
type Annotation struct {
	Type AnnotationType
	// Line is 1-based, in the unprocessed source.
	Line int

	// Group and Binding are -1 for include directives.
	Group, Binding int

	// Role is the include key, the struct key of a group directive or the role of a
	// provider directive.
	Role AnnotationArg

	// Space and Var are set for group directives.
	Space AnnotationArg
	Var   string

	// Provider is set for provider directives.
	Provider AnnotationArg
}

// Struct and include keys.
const (
	AnnotationArgSceneUniforms   AnnotationArg = "scene_uniforms"
	AnnotationArgOverlayParams   AnnotationArg = "overlay_params"
	AnnotationArgAnalysisParams  AnnotationArg = "analysis_params"
	AnnotationArgSynthesisParams AnnotationArg = "synthesis_params"

	// Include only.
	annotationArgFullscreen AnnotationArg = "fullscreen"
	annotationArgPalette    AnnotationArg = "palette"
)

// Provider identities.
const (
	AnnotationArgScene     AnnotationArg = "scene"
	AnnotationArgCapture   AnnotationArg = "capture"
	AnnotationArgAnalysis  AnnotationArg = "analysis"
	AnnotationArgSynthesis AnnotationArg = "synthesis"
	AnnotationArgFoveation AnnotationArg = "foveation"
	AnnotationArgOverlay   AnnotationArg = "overlay"
)

// Binding roles of provider directives.
const (
	// AnnotationArgSourceImage is the image a kernel or pass reads from.
	AnnotationArgSourceImage AnnotationArg = "source_image"
	// AnnotationArgSourceDepth is the depth image paired with a source image.
	AnnotationArgSourceDepth AnnotationArg = "source_depth"
	// AnnotationArgSourceSampler samples the source image.
	AnnotationArgSourceSampler AnnotationArg = "source_sampler"
	// AnnotationArgNASImage holds per-block coarsening headroom.
	AnnotationArgNASImage AnnotationArg = "nas_image"
	// AnnotationArgStaticPattern is the foveation pattern.
	AnnotationArgStaticPattern AnnotationArg = "static_pattern"
	// AnnotationArgRateImage is the shading rate surface written by synthesis and read by
	// the rasterizer.
	AnnotationArgRateImage AnnotationArg = "rate_image"
)

// include is a registered include file. wgslType is empty for files that only define
// functions or constants; those cannot appear in a group directive.
type include struct {
	file     string
	wgslType string
}

var includes = map[AnnotationArg]include{
	AnnotationArgSceneUniforms:   {"scene_uniforms.wgsl", "SceneUniforms"},
	AnnotationArgOverlayParams:   {"overlay_params.wgsl", "OverlayParams"},
	AnnotationArgAnalysisParams:  {"analysis_params.wgsl", "AnalysisParams"},
	AnnotationArgSynthesisParams: {"synthesis_params.wgsl", "SynthesisParams"},
	annotationArgFullscreen:      {file: "fullscreen.wgsl"},
	annotationArgPalette:         {file: "palette.wgsl"},
}

// addressSpaces maps group directive address spaces to their WGSL spelling.
var addressSpaces = map[AnnotationArg]string{
	"storage_uniform":    "var<uniform>",
	"storage_read":       "var<storage, read>",
	"storage_read_write": "var<storage, read_write>",
}

var providers = []AnnotationArg{
	AnnotationArgScene, AnnotationArgCapture, AnnotationArgAnalysis,
	AnnotationArgSynthesis, AnnotationArgFoveation, AnnotationArgOverlay,
}

var roles = []AnnotationArg{
	AnnotationArgSourceImage, AnnotationArgSourceDepth, AnnotationArgSourceSampler,
	AnnotationArgNASImage, AnnotationArgStaticPattern, AnnotationArgRateImage,
}

// directive parses the arguments following a keyword into a.
type directive struct {
	usage string
	parse func(args []string, a *Annotation) error
}

var directives = map[AnnotationType]directive{
	annotationTypeInclude: {
		usage: "<include>",
		parse: func(args []string, a *Annotation) error {
			a.Group, a.Binding = -1, -1
			a.Role = AnnotationArg(args[0])
			if _, ok := includes[a.Role]; !ok {
				return fmt.Errorf("unknown include %q", args[0])
			}
			return nil
		},
	},
	AnnotationTypeBindingGroup: {
		usage: "<group> <binding> <address_space> <var_name> <struct>",
		parse: func(args []string, a *Annotation) error {
			if err := a.parseSlot(args[0], args[1]); err != nil {
				return err
			}
			a.Space, a.Var, a.Role = AnnotationArg(args[2]), args[3], AnnotationArg(args[4])
			if _, ok := addressSpaces[a.Space]; !ok {
				return fmt.Errorf("unknown address space %q", args[2])
			}
			if includes[a.Role].wgslType == "" {
				return fmt.Errorf("%q is not a registered struct", args[4])
			}
			return nil
		},
	},
	AnnotationTypeProvider: {
		usage: "<group> <binding> <provider> <role>",
		parse: func(args []string, a *Annotation) error {
			if err := a.parseSlot(args[0], args[1]); err != nil {
				return err
			}
			a.Provider, a.Role = AnnotationArg(args[2]), AnnotationArg(args[3])
			if !slices.Contains(providers, a.Provider) {
				return fmt.Errorf("unknown provider %q", args[2])
			}
			if !slices.Contains(roles, a.Role) {
				return fmt.Errorf("unknown binding role %q", args[3])
			}
			return nil
		},
	},
}

func (a *Annotation) parseSlot(group, binding string) error {
	var err error
	if a.Group, err = strconv.Atoi(group); err != nil {
		return fmt.Errorf("group %q is not a number", group)
	}
	if a.Binding, err = strconv.Atoi(binding); err != nil {
		return fmt.Errorf("binding %q is not a number", binding)
	}
	return nil
}

// parseAnnotation parses line as a directive. Lines that are not comments carrying the
// @oxy: prefix return nil and no error.
//
// Parameters:
//   - line: one line of WGSL source
//   - lineNum: its 1-based line number, used in errors
//
// Returns:
//   - *Annotation: the directive, or nil
//   - error: a parse error wrapping ErrAnnotation
func parseAnnotation(line string, lineNum int) (*Annotation, error) {
	comment, ok := strings.CutPrefix(strings.TrimSpace(line), "//")
	if !ok {
		return nil, nil
	}
	_, rest, ok := strings.Cut(comment, annotationPrefix)
	if !ok {
		return nil, nil
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return nil, fmt.Errorf("line %d: %w: missing keyword", lineNum, ErrAnnotation)
	}

	kind := AnnotationType(fields[0])
	d, ok := directives[kind]
	if !ok {
		return nil, fmt.Errorf("line %d: %w: unknown keyword %q", lineNum, ErrAnnotation, fields[0])
	}
	args := fields[1:]
	if want := len(strings.Fields(d.usage)); len(args) != want {
		return nil, fmt.Errorf("line %d: %w: usage //@oxy:%s %s", lineNum, ErrAnnotation, kind, d.usage)
	}
	a := &Annotation{Type: kind, Line: lineNum}
	if err := d.parse(args, a); err != nil {
		return nil, fmt.Errorf("line %d: %w: %s: %v", lineNum, ErrAnnotation, kind, err)
	}
	return a, nil
}
