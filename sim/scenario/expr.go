package scenario

import (
	"fmt"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"github.com/inference-sim/population-sim/sim"
	"github.com/inference-sim/population-sim/sim/partition"
)

// ParseFilter compiles a filter expression into a partition.Filter.
//
// The grammar is the boolean subset of expr-lang:
//
//	age >= 18 && (region == "north" || !attribute.vaccinated)
//	property.status in ["infected", "recovered"]
//	region not in ["south"]
//
// References are region, property.<key>, attribute.<key>, or a bare key,
// which names a property if one is defined and an attribute otherwise.
// A bare reference used as a predicate means "== true". Comparisons need a
// reference on one side and a literal on the other.
//
// The result is not validated against the population; partition.New does that.
func ParseFilter(src string, pop partition.Population) (partition.Filter, error) {
	tree, err := parser.Parse(src)
	if err != nil {
		return partition.Filter{}, fmt.Errorf("%w: %q: %v", partition.ErrMalformedFilter, src, err)
	}
	l := lowerer{pop: pop, src: src}
	return l.predicate(tree.Node)
}

type lowerer struct {
	pop partition.Population
	src string
}

// ref is a resolved value reference.
type ref struct {
	source partition.Source
	key    string
}

func (l lowerer) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %q: %s", partition.ErrMalformedFilter, l.src, fmt.Sprintf(format, args...))
}

func (l lowerer) predicate(n ast.Node) (partition.Filter, error) {
	switch n := n.(type) {
	case *ast.BinaryNode:
		switch n.Operator {
		case "&&", "and", "||", "or":
			left, err := l.predicate(n.Left)
			if err != nil {
				return partition.Filter{}, err
			}
			right, err := l.predicate(n.Right)
			if err != nil {
				return partition.Filter{}, err
			}
			if n.Operator == "&&" || n.Operator == "and" {
				return partition.And(left, right), nil
			}
			return partition.Or(left, right), nil
		case "in":
			return l.membership(n.Left, n.Right)
		case "not in":
			f, err := l.membership(n.Left, n.Right)
			if err != nil {
				return partition.Filter{}, err
			}
			return partition.Not(f), nil
		}
		return l.comparison(n)
	case *ast.UnaryNode:
		if n.Operator != "!" && n.Operator != "not" {
			return partition.Filter{}, l.errorf("unsupported unary operator %q", n.Operator)
		}
		f, err := l.predicate(n.Node)
		if err != nil {
			return partition.Filter{}, err
		}
		return partition.Not(f), nil
	case *ast.BoolNode:
		if n.Value {
			return partition.True(), nil
		}
		return partition.Or(), nil
	case *ast.IdentifierNode, *ast.MemberNode:
		r, err := l.reference(n)
		if err != nil {
			return partition.Filter{}, err
		}
		if r.source == partition.SourceRegion {
			return partition.Filter{}, l.errorf("region is not a predicate")
		}
		return leaf(r, partition.Equal, true), nil
	}
	return partition.Filter{}, l.errorf("unsupported expression %T", n)
}

// flipped mirrors an operator so that "18 <= age" reads as "age >= 18".
var flipped = map[partition.Equality]partition.Equality{
	partition.Equal:              partition.Equal,
	partition.NotEqual:           partition.NotEqual,
	partition.LessThan:           partition.GreaterThan,
	partition.LessThanOrEqual:    partition.GreaterThanOrEqual,
	partition.GreaterThan:        partition.LessThan,
	partition.GreaterThanOrEqual: partition.LessThanOrEqual,
}

func (l lowerer) comparison(n *ast.BinaryNode) (partition.Filter, error) {
	eq, ok := partition.ParseEquality(n.Operator)
	if !ok {
		return partition.Filter{}, l.errorf("unsupported operator %q", n.Operator)
	}
	refNode, litNode := n.Left, n.Right
	if isLiteral(refNode) {
		refNode, litNode = litNode, refNode
		eq = flipped[eq]
	}
	r, err := l.reference(refNode)
	if err != nil {
		return partition.Filter{}, err
	}
	v, err := l.literal(litNode)
	if err != nil {
		return partition.Filter{}, err
	}
	return leafOf(l, r, eq, v)
}

func (l lowerer) membership(left, right ast.Node) (partition.Filter, error) {
	r, err := l.reference(left)
	if err != nil {
		return partition.Filter{}, err
	}
	arr, ok := right.(*ast.ArrayNode)
	if !ok {
		return partition.Filter{}, l.errorf("right side of in must be a list literal")
	}
	children := make([]partition.Filter, 0, len(arr.Nodes))
	for _, item := range arr.Nodes {
		v, err := l.literal(item)
		if err != nil {
			return partition.Filter{}, err
		}
		f, err := leafOf(l, r, partition.Equal, v)
		if err != nil {
			return partition.Filter{}, err
		}
		children = append(children, f)
	}
	return partition.Or(children...), nil
}

func (l lowerer) reference(n ast.Node) (ref, error) {
	switch n := n.(type) {
	case *ast.IdentifierNode:
		switch n.Value {
		case "region":
			return ref{source: partition.SourceRegion}, nil
		case "property", "attribute":
			return ref{}, l.errorf("%s needs a key, as in %s.<key>", n.Value, n.Value)
		}
		if _, ok := l.pop.PropertyDefinition(n.Value); !ok {
			if _, ok := l.pop.AttributeDefinition(n.Value); ok {
				return ref{source: partition.SourceAttribute, key: n.Value}, nil
			}
		}
		return ref{source: partition.SourceProperty, key: n.Value}, nil
	case *ast.MemberNode:
		base, ok := n.Node.(*ast.IdentifierNode)
		if !ok {
			return ref{}, l.errorf("unsupported member access")
		}
		key, ok := n.Property.(*ast.StringNode)
		if !ok {
			return ref{}, l.errorf("unsupported member access on %s", base.Value)
		}
		switch base.Value {
		case "property":
			return ref{source: partition.SourceProperty, key: key.Value}, nil
		case "attribute":
			return ref{source: partition.SourceAttribute, key: key.Value}, nil
		}
		return ref{}, l.errorf("unknown namespace %q", base.Value)
	}
	return ref{}, l.errorf("expected a reference, got %T", n)
}

func isLiteral(n ast.Node) bool {
	switch n := n.(type) {
	case *ast.IntegerNode, *ast.FloatNode, *ast.StringNode, *ast.BoolNode:
		return true
	case *ast.UnaryNode:
		return n.Operator == "-" && isLiteral(n.Node)
	}
	return false
}

func (l lowerer) literal(n ast.Node) (any, error) {
	switch n := n.(type) {
	case *ast.IntegerNode:
		return int64(n.Value), nil
	case *ast.FloatNode:
		return n.Value, nil
	case *ast.StringNode:
		return n.Value, nil
	case *ast.BoolNode:
		return n.Value, nil
	case *ast.UnaryNode:
		if n.Operator == "-" {
			v, err := l.literal(n.Node)
			if err != nil {
				return nil, err
			}
			switch x := v.(type) {
			case int64:
				return -x, nil
			case float64:
				return -x, nil
			}
		}
	}
	return nil, l.errorf("expected a literal, got %T", n)
}

func leafOf(l lowerer, r ref, eq partition.Equality, v any) (partition.Filter, error) {
	if r.source == partition.SourceRegion {
		s, ok := v.(string)
		if !ok {
			return partition.Filter{}, l.errorf("region must be compared with a string, got %v", v)
		}
		return partition.Region(eq, sim.RegionID(s)), nil
	}
	return leaf(r, eq, v), nil
}

func leaf(r ref, eq partition.Equality, v any) partition.Filter {
	if r.source == partition.SourceAttribute {
		return partition.Attribute(r.key, eq, v)
	}
	return partition.Property(r.key, eq, v)
}
