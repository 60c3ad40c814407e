package config

import (
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Presence tells a caller whether an option was set and usable.
type Presence int

const (
	// Absent means the key is not in the document.
	Absent Presence = iota
	// WrongType means the key exists but its value has another type.
	WrongType
	// Present means the key exists and the value was decoded.
	Present
)

func (p Presence) String() string {
	switch p {
	case Absent:
		return "absent"
	case WrongType:
		return "wrong type"
	case Present:
		return "present"
	default:
		return fmt.Sprintf("presence(%d)", int(p))
	}
}

// Options is a flat option document. YAML and JSON are both accepted since
// JSON parses as YAML flow style. Byte blobs use the !!binary tag.
type Options struct {
	fields map[string]*yaml.Node
}

// ParseOptions parses a document whose root must be a mapping. An empty
// document yields empty Options.
func ParseOptions(data []byte) (*Options, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse options: %w", err)
	}
	if doc.Kind == 0 {
		return &Options{fields: map[string]*yaml.Node{}}, nil
	}
	return NewOptions(&doc)
}

// NewOptions wraps an already parsed mapping node.
func NewOptions(node *yaml.Node) (*Options, error) {
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("options must be a mapping (line %d)", node.Line)
	}
	o := &Options{fields: make(map[string]*yaml.Node, len(node.Content)/2)}
	for i := 0; i+1 < len(node.Content); i += 2 {
		o.fields[node.Content[i].Value] = node.Content[i+1]
	}
	return o, nil
}

// Keys returns the option names in sorted order.
func (o *Options) Keys() []string {
	keys := make([]string, 0, len(o.fields))
	for k := range o.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (o *Options) scalar(name, tag string) (*yaml.Node, Presence) {
	n, ok := o.fields[name]
	if !ok {
		return nil, Absent
	}
	if n.Kind != yaml.ScalarNode || n.ShortTag() != tag {
		return nil, WrongType
	}
	return n, Present
}

// String returns a string option.
func (o *Options) String(name string) (string, Presence) {
	n, p := o.scalar(name, "!!str")
	if p != Present {
		return "", p
	}
	return n.Value, Present
}

// Int returns a signed integer option.
func (o *Options) Int(name string) (int64, Presence) {
	n, p := o.scalar(name, "!!int")
	if p != Present {
		return 0, p
	}
	var v int64
	if err := n.Decode(&v); err != nil {
		return 0, WrongType
	}
	return v, Present
}

// Uint64 returns a non-negative integer option. Negative values are WrongType.
func (o *Options) Uint64(name string) (uint64, Presence) {
	n, p := o.scalar(name, "!!int")
	if p != Present {
		return 0, p
	}
	var v uint64
	if err := n.Decode(&v); err != nil {
		return 0, WrongType
	}
	return v, Present
}

// Bool returns a boolean option.
func (o *Options) Bool(name string) (bool, Presence) {
	n, p := o.scalar(name, "!!bool")
	if p != Present {
		return false, p
	}
	var v bool
	if err := n.Decode(&v); err != nil {
		return false, WrongType
	}
	return v, Present
}

// Bytes returns a !!binary option, base64-decoded.
func (o *Options) Bytes(name string) ([]byte, Presence) {
	n, p := o.scalar(name, "!!binary")
	if p != Present {
		return nil, p
	}
	// yaml.v3 decodes !!binary into a string holding the raw bytes.
	var v string
	if err := n.Decode(&v); err != nil {
		return nil, WrongType
	}
	return []byte(v), Present
}

// Duration returns a duration option written as a Go duration string ("250ms").
func (o *Options) Duration(name string) (time.Duration, Presence) {
	n, p := o.scalar(name, "!!str")
	if p != Present {
		return 0, p
	}
	d, err := time.ParseDuration(n.Value)
	if err != nil {
		return 0, WrongType
	}
	return d, Present
}

// StringArray returns a sequence of strings. Any non-string element makes the
// whole option WrongType.
func (o *Options) StringArray(name string) ([]string, Presence) {
	n, ok := o.fields[name]
	if !ok {
		return nil, Absent
	}
	if n.Kind != yaml.SequenceNode {
		return nil, WrongType
	}
	out := make([]string, 0, len(n.Content))
	for _, item := range n.Content {
		if item.Kind != yaml.ScalarNode || item.ShortTag() != "!!str" {
			return nil, WrongType
		}
		out = append(out, item.Value)
	}
	return out, Present
}
