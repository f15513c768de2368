package softgl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/user/detectshow/pkg/pipeline"
	"github.com/user/detectshow/pkg/ports"
)

var (
	declPattern   = regexp.MustCompile(`^\s*(attribute|uniform|varying)\s+(?:(?:lowp|mediump|highp)\s+)?(\w+)\s+(\w+)\s*;\s*$`)
	assignPattern = regexp.MustCompile(`(\w+)\s*=\s*(\w+)\s*;`)
	mainPattern   = regexp.MustCompile(`void\s+main\s*\(\s*(void)?\s*\)`)
)

// shader is a checked GLSL ES 1.0 source. Only declarations and direct
// assignments are interpreted; the rasterizer draws textured quads.
type shader struct {
	kind       ports.ShaderType
	attributes []string
	uniforms   map[string]string // name -> type
	varyings   []string
	assigns    map[string]string // lhs -> rhs
}

type program struct {
	attributes map[string]int
	uniforms   map[string]int
	samplers   map[int]bool

	positionAttrib int
	texCoordAttrib int
}

func compileShader(kind ports.ShaderType, source string) (*shader, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("%w: empty source", pipeline.ErrShaderCompile)
	}
	if !balanced(source) {
		return nil, fmt.Errorf("%w: unbalanced braces or parentheses", pipeline.ErrShaderCompile)
	}
	if !mainPattern.MatchString(source) {
		return nil, fmt.Errorf("%w: missing void main()", pipeline.ErrShaderCompile)
	}

	s := &shader{
		kind:     kind,
		uniforms: make(map[string]string),
		assigns:  make(map[string]string),
	}
	for n, line := range strings.Split(source, "\n") {
		m := declPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		qualifier, typ, name := m[1], m[2], m[3]
		switch qualifier {
		case "attribute":
			if kind != ports.VertexShader {
				return nil, fmt.Errorf("%w: line %d: attribute %s in fragment shader", pipeline.ErrShaderCompile, n+1, name)
			}
			s.attributes = append(s.attributes, name)
		case "uniform":
			s.uniforms[name] = typ
		case "varying":
			s.varyings = append(s.varyings, name)
		}
	}
	for _, m := range assignPattern.FindAllStringSubmatch(source, -1) {
		s.assigns[m[1]] = m[2]
	}

	switch kind {
	case ports.VertexShader:
		if _, ok := s.assigns["gl_Position"]; !ok {
			return nil, fmt.Errorf("%w: vertex shader never writes gl_Position", pipeline.ErrShaderCompile)
		}
	case ports.FragmentShader:
		if !strings.Contains(source, "gl_FragColor") {
			return nil, fmt.Errorf("%w: fragment shader never writes gl_FragColor", pipeline.ErrShaderCompile)
		}
	default:
		return nil, fmt.Errorf("%w: unknown shader type %d", pipeline.ErrShaderCompile, kind)
	}
	return s, nil
}

func linkProgram(vs, fs *shader) (*program, error) {
	if vs.kind != ports.VertexShader || fs.kind != ports.FragmentShader {
		return nil, fmt.Errorf("%w: program needs one vertex and one fragment shader", pipeline.ErrShaderLink)
	}
	for _, v := range fs.varyings {
		if !contains(vs.varyings, v) {
			return nil, fmt.Errorf("%w: varying %s not declared in vertex shader", pipeline.ErrShaderLink, v)
		}
	}

	p := &program{
		attributes:     make(map[string]int),
		uniforms:       make(map[string]int),
		samplers:       make(map[int]bool),
		positionAttrib: -1,
		texCoordAttrib: -1,
	}
	for i, name := range vs.attributes {
		p.attributes[name] = i
	}

	loc := 0
	addUniform := func(name, typ string) {
		if _, ok := p.uniforms[name]; ok {
			return
		}
		p.uniforms[name] = loc
		if typ == "sampler2D" {
			p.samplers[loc] = true
		}
		loc++
	}
	for name, typ := range vs.uniforms {
		addUniform(name, typ)
	}
	for name, typ := range fs.uniforms {
		if other, ok := vs.uniforms[name]; ok && other != typ {
			return nil, fmt.Errorf("%w: uniform %s declared as %s and %s", pipeline.ErrShaderLink, name, other, typ)
		}
		addUniform(name, typ)
	}

	if src, ok := vs.assigns["gl_Position"]; ok {
		if l, ok := p.attributes[src]; ok {
			p.positionAttrib = l
		}
	}
	for _, v := range fs.varyings {
		if src, ok := vs.assigns[v]; ok {
			if l, ok := p.attributes[src]; ok {
				p.texCoordAttrib = l
				break
			}
		}
	}
	if p.positionAttrib < 0 {
		return nil, fmt.Errorf("%w: gl_Position is not fed by an attribute", pipeline.ErrShaderLink)
	}
	return p, nil
}

func balanced(src string) bool {
	braces, parens := 0, 0
	for _, r := range src {
		switch r {
		case '{':
			braces++
		case '}':
			braces--
		case '(':
			parens++
		case ')':
			parens--
		}
		if braces < 0 || parens < 0 {
			return false
		}
	}
	return braces == 0 && parens == 0
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
