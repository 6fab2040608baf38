package domain

import "fmt"

// Node identifies a node of the rendered page.
// Implementations belong to Page adapters; the core only passes them around.
type Node interface {
	// Describe returns a short human readable description, used in logs and errors.
	Describe() string
}

type documentNode struct{}

func (documentNode) Describe() string { return "#document" }

// Document is the synthetic root node used for value-only results and as the
// initial scope of every root Action.
var Document Node = documentNode{}

// IsDocument reports whether n is the synthetic document root (or nil).
func IsDocument(n Node) bool {
	if n == nil {
		return true
	}
	_, ok := n.(documentNode)
	return ok
}

// Element is the immutable value carrier flowing through Pipelines:
// a page node reference plus a JSON-compatible value.
type Element struct {
	Node  Node
	Value any
}

// NewElement creates an element bound to the given node.
func NewElement(node Node, value any) Element {
	if node == nil {
		node = Document
	}
	return Element{Node: node, Value: value}
}

// ValueElement creates an element bound to the document root.
func ValueElement(value any) Element {
	return Element{Node: Document, Value: value}
}

// Clone returns a copy of the element carrying a new value. The node is preserved.
func (e Element) Clone(value any) Element {
	return Element{Node: e.nodeOrDocument(), Value: value}
}

// WithNode returns a copy of the element bound to another node.
func (e Element) WithNode(node Node) Element {
	return NewElement(node, e.Value)
}

func (e Element) nodeOrDocument() Node {
	if e.Node == nil {
		return Document
	}
	return e.Node
}

func (e Element) String() string {
	return fmt.Sprintf("%s=%v", e.nodeOrDocument().Describe(), e.Value)
}

// Values extracts the values of a set of elements, preserving order.
func Values(elements []Element) []any {
	out := make([]any, len(elements))
	for i, el := range elements {
		out[i] = el.Value
	}
	return out
}

// Truthy applies JSON truthiness: false, nil, 0, "" and empty collections are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
