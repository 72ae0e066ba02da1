package shader

import (
	"bufio"
	"fmt"
	"io/fs"
	"strings"
)

// PreProcessor expands @oxy directives in WGSL source.
type PreProcessor interface {
	// Process pastes include files, replaces group directives with their generated
	// declarations and drops provider directives. Every other line is kept.
	//
	// Parameters:
	//   - source: WGSL source with directives
	//
	// Returns:
	//   - string: the expanded source
	//   - []Annotation: the group and provider directives, in source order
	//   - error: a directive error wrapping ErrAnnotation, or an include read error
	Process(source string) (string, []Annotation, error)
}

type preProcessor struct {
	includeFS fs.FS
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a PreProcessor reading include files from includeFS.
func NewPreProcessor(includeFS fs.FS) PreProcessor {
	return &preProcessor{includeFS: includeFS}
}

func (p *preProcessor) Process(source string) (string, []Annotation, error) {
	var (
		out   strings.Builder
		decls []Annotation
		seen  = make(map[AnnotationArg]struct{})
	)
	out.Grow(len(source))

	sc := bufio.NewScanner(strings.NewReader(source))
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		a, err := parseAnnotation(line, n)
		if err != nil {
			return "", nil, err
		}

		switch {
		case a == nil:
			out.WriteString(line)
		case a.Type == annotationTypeInclude:
			if _, dup := seen[a.Role]; dup {
				continue
			}
			seen[a.Role] = struct{}{}
			data, err := fs.ReadFile(p.includeFS, includes[a.Role].file)
			if err != nil {
				return "", nil, fmt.Errorf("line %d: include %s: %w", n, a.Role, err)
			}
			out.Write(data)
		case a.Type == AnnotationTypeBindingGroup:
			fmt.Fprintf(&out, "@group(%d) @binding(%d) %s %s: %s;",
				a.Group, a.Binding, addressSpaces[a.Space], a.Var, includes[a.Role].wgslType)
			decls = append(decls, *a)
		default:
			decls = append(decls, *a)
			continue
		}
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return "", nil, err
	}
	return out.String(), decls, nil
}
