// Package outline validates and saves the project outline, a small YAML
// document of a title and an ordered list of plot points.
package outline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultTitle names a freshly created outline.
const DefaultTitle = "Untitled Novel"

// Outline is the structured form of the outline document.
type Outline struct {
	Title string   `yaml:"title"`
	Plots []string `yaml:"plots"`
}

// Default returns the outline a new project starts with.
func Default() Outline {
	return Outline{Title: DefaultTitle, Plots: []string{}}
}

// Marshal renders o as YAML text.
func (o Outline) Marshal() (string, error) {
	if o.Plots == nil {
		o.Plots = []string{}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(o); err != nil {
		return "", fmt.Errorf("outline: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("outline: encode: %w", err)
	}
	return buf.String(), nil
}

// ValidationError describes why an outline document was refused.
type ValidationError struct {
	Line int
	Msg  string
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("outline: line %d: %s", e.Line, e.Msg)
	}
	return "outline: " + e.Msg
}

var yamlLine = regexp.MustCompile(`line (\d+)`)

// Parse validates text and returns the outline it describes. The document
// must be a single mapping with a string title and a list of string plots;
// unknown keys are refused.
func Parse(text string) (Outline, error) {
	if strings.TrimSpace(text) == "" {
		return Outline{}, &ValidationError{Msg: "document is empty"}
	}

	var root yaml.Node
	if err := yaml.Unmarshal([]byte(text), &root); err != nil {
		return Outline{}, wrapYAMLError(err)
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		line := 0
		if len(root.Content) > 0 {
			line = root.Content[0].Line
		}
		return Outline{}, &ValidationError{Line: line, Msg: "document must be a mapping with title and plots"}
	}
	if err := checkFields(root.Content[0]); err != nil {
		return Outline{}, err
	}

	dec := yaml.NewDecoder(strings.NewReader(text))
	dec.KnownFields(true)
	var out Outline
	if err := dec.Decode(&out); err != nil {
		return Outline{}, wrapYAMLError(err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Outline{}, &ValidationError{Msg: "only one document is allowed"}
	}
	if out.Plots == nil {
		out.Plots = []string{}
	}
	return out, nil
}

// checkFields enforces scalar types that yaml would otherwise coerce.
func checkFields(m *yaml.Node) error {
	for i := 0; i+1 < len(m.Content); i += 2 {
		key, value := m.Content[i], m.Content[i+1]
		switch key.Value {
		case "title":
			if value.Kind != yaml.ScalarNode || value.ShortTag() != "!!str" {
				return &ValidationError{Line: value.Line, Msg: "title must be a string"}
			}
		case "plots":
			if value.Kind == yaml.ScalarNode && value.ShortTag() == "!!null" {
				continue
			}
			if value.Kind != yaml.SequenceNode {
				return &ValidationError{Line: value.Line, Msg: "plots must be a list"}
			}
			for _, item := range value.Content {
				if item.Kind != yaml.ScalarNode || item.ShortTag() != "!!str" {
					return &ValidationError{Line: item.Line, Msg: "every plot must be a string"}
				}
			}
		default:
			return &ValidationError{Line: key.Line, Msg: fmt.Sprintf("unknown field %q", key.Value)}
		}
	}
	return nil
}

func wrapYAMLError(err error) error {
	msg := err.Error()
	msg = strings.TrimPrefix(msg, "yaml: ")
	line := 0
	if m := yamlLine.FindStringSubmatch(msg); m != nil {
		line, _ = strconv.Atoi(m[1])
	}
	return &ValidationError{Line: line, Msg: msg}
}
