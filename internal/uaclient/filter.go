package uaclient

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"

	"github.com/opcbridge/opcbridge/internal/publisher"
)

var filterOperators = map[string]ua.FilterOperator{
	"equals":             ua.FilterOperatorEquals,
	"isnull":             ua.FilterOperatorIsNull,
	"greaterthan":        ua.FilterOperatorGreaterThan,
	"lessthan":           ua.FilterOperatorLessThan,
	"greaterthanorequal": ua.FilterOperatorGreaterThanOrEqual,
	"lessthanorequal":    ua.FilterOperatorLessThanOrEqual,
	"like":               ua.FilterOperatorLike,
	"not":                ua.FilterOperatorNot,
	"between":            ua.FilterOperatorBetween,
	"inlist":             ua.FilterOperatorInList,
	"and":                ua.FilterOperatorAnd,
	"or":                 ua.FilterOperatorOr,
	"cast":               ua.FilterOperatorCast,
	"oftype":             ua.FilterOperatorOfType,
}

// buildEventFilter translates an event configuration into the wire-level
// event filter: one simple attribute operand per select clause and a
// content filter from the where clause.
func buildEventFilter(cfg *publisher.EventConfiguration, resolver *namespaceResolver) (*ua.EventFilter, error) {
	selects := make([]*ua.SimpleAttributeOperand, 0, len(cfg.SelectClauses))
	for i := range cfg.SelectClauses {
		operand, err := buildSelectOperand(&cfg.SelectClauses[i], resolver)
		if err != nil {
			return nil, fmt.Errorf("select clause %d: %w", i, err)
		}
		selects = append(selects, operand)
	}

	elements := make([]*ua.ContentFilterElement, 0, len(cfg.WhereClause))
	for i := range cfg.WhereClause {
		element, err := buildFilterElement(&cfg.WhereClause[i], resolver)
		if err != nil {
			return nil, fmt.Errorf("where clause %d: %w", i, err)
		}
		elements = append(elements, element)
	}

	return &ua.EventFilter{
		SelectClauses: selects,
		WhereClause:   &ua.ContentFilter{Elements: elements},
	}, nil
}

func buildSelectOperand(clause *publisher.SelectClause, resolver *namespaceResolver) (*ua.SimpleAttributeOperand, error) {
	typeID, err := parseTypeID(clause.TypeID, resolver)
	if err != nil {
		return nil, err
	}

	attributeID := ua.AttributeIDValue
	if clause.AttributeID != nil {
		attributeID = ua.AttributeID(*clause.AttributeID)
	}

	browsePath, err := parseBrowsePath(clause.BrowsePaths)
	if err != nil {
		return nil, err
	}

	return &ua.SimpleAttributeOperand{
		TypeDefinitionID: typeID.NodeID,
		BrowsePath:       browsePath,
		AttributeID:      attributeID,
	}, nil
}

func buildFilterElement(element *publisher.WhereClauseElement, resolver *namespaceResolver) (*ua.ContentFilterElement, error) {
	operator, ok := filterOperators[strings.ToLower(element.Operator)]
	if !ok {
		return nil, fmt.Errorf("unknown filter operator %q", element.Operator)
	}

	operands := make([]*ua.ExtensionObject, 0, len(element.Operands))
	for i := range element.Operands {
		operand, err := buildFilterOperand(&element.Operands[i], resolver)
		if err != nil {
			return nil, fmt.Errorf("operand %d: %w", i, err)
		}
		operands = append(operands, operand)
	}

	return &ua.ContentFilterElement{
		FilterOperator: operator,
		FilterOperands: operands,
	}, nil
}

func buildFilterOperand(operand *publisher.FilterOperand, resolver *namespaceResolver) (*ua.ExtensionObject, error) {
	switch {
	case operand.Index != nil:
		return extensionObject(id.ElementOperand_Encoding_DefaultBinary, &ua.ElementOperand{
			Index: *operand.Index,
		}), nil
	case operand.Literal != "":
		variant, err := ua.NewVariant(operand.Literal)
		if err != nil {
			return nil, fmt.Errorf("literal %q: %w", operand.Literal, err)
		}
		return extensionObject(id.LiteralOperand_Encoding_DefaultBinary, &ua.LiteralOperand{
			Value: variant,
		}), nil
	default:
		typeID, err := parseTypeID(operand.TypeID, resolver)
		if err != nil {
			return nil, err
		}
		browsePath, err := parseBrowsePath(operand.BrowsePaths)
		if err != nil {
			return nil, err
		}
		return extensionObject(id.SimpleAttributeOperand_Encoding_DefaultBinary, &ua.SimpleAttributeOperand{
			TypeDefinitionID: typeID.NodeID,
			BrowsePath:       browsePath,
			AttributeID:      ua.AttributeIDValue,
		}), nil
	}
}

func extensionObject(encodingID uint32, value any) *ua.ExtensionObject {
	return &ua.ExtensionObject{
		EncodingMask: ua.ExtensionObjectBinary,
		TypeID:       &ua.ExpandedNodeID{NodeID: ua.NewNumericNodeID(0, encodingID)},
		Value:        value,
	}
}

// parseTypeID resolves a type definition identifier, defaulting to the base
// event type when omitted.
func parseTypeID(typeID string, resolver *namespaceResolver) (*ua.ExpandedNodeID, error) {
	if typeID == "" {
		return &ua.ExpandedNodeID{NodeID: ua.NewNumericNodeID(0, id.BaseEventType)}, nil
	}
	wireID := typeID
	if resolver != nil {
		resolved, err := resolver.toWireID(typeID)
		if err != nil {
			return nil, err
		}
		wireID = resolved
	}
	nodeID, err := ua.ParseNodeID(wireID)
	if err != nil {
		return nil, fmt.Errorf("invalid type id %q: %w", typeID, err)
	}
	return &ua.ExpandedNodeID{NodeID: nodeID}, nil
}

// parseBrowsePath converts "2:AlarmName" style path elements into
// qualified names.
func parseBrowsePath(paths []string) ([]*ua.QualifiedName, error) {
	names := make([]*ua.QualifiedName, 0, len(paths))
	for _, p := range paths {
		nsIdx := 0
		name := p
		if idxText, rest, found := strings.Cut(p, ":"); found {
			if idx, err := strconv.Atoi(idxText); err == nil {
				nsIdx = idx
				name = rest
			}
		}
		names = append(names, &ua.QualifiedName{
			NamespaceIndex: uint16(nsIdx),
			Name:           name,
		})
	}
	return names, nil
}
