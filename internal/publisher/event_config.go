package publisher

import "fmt"

// SelectClause names one field to extract from matching event notifications.
// BrowsePaths addresses the field relative to the event type; the optional
// publish mode routes the extracted field individually.
type SelectClause struct {
	TypeID                     string       `json:"TypeId,omitempty"`
	BrowsePaths                []string     `json:"BrowsePaths,omitempty"`
	AttributeID                *uint32      `json:"AttributeId,omitempty"`
	IotCentralEventPublishMode *PublishMode `json:"IotCentralEventPublishMode,omitempty"`
}

// FieldName returns the name the extracted field is published under: the
// last browse path element, falling back to the type id.
func (c *SelectClause) FieldName() string {
	if n := len(c.BrowsePaths); n > 0 {
		return c.BrowsePaths[n-1]
	}
	return c.TypeID
}

// FilterOperand is one operand of a where-clause element. Exactly one of the
// addressing forms is used per operand.
type FilterOperand struct {
	Literal     string   `json:"Literal,omitempty"`
	TypeID      string   `json:"TypeId,omitempty"`
	BrowsePaths []string `json:"BrowsePaths,omitempty"`
	Index       *uint32  `json:"Index,omitempty"`
}

// WhereClauseElement is one element of the event filter expression.
type WhereClauseElement struct {
	Operator string          `json:"Operator"`
	Operands []FilterOperand `json:"Operands,omitempty"`
}

// EventConfiguration describes one event source: which fields to select,
// which occurrences to forward, and how the whole event routes to the hub.
type EventConfiguration struct {
	ID                         string               `json:"Id"`
	DisplayName                string               `json:"DisplayName,omitempty"`
	SelectClauses              []SelectClause       `json:"SelectClauses"`
	WhereClause                []WhereClauseElement `json:"WhereClause,omitempty"`
	IotCentralEventPublishMode *PublishMode         `json:"IotCentralEventPublishMode,omitempty"`
}

// Validate enforces the structural rules on an event configuration. An event
// without select clauses can never produce a field list and is rejected
// outright.
func (e *EventConfiguration) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event configuration requires an Id")
	}
	if len(e.SelectClauses) == 0 {
		return fmt.Errorf("event configuration for %s has no select clauses", e.ID)
	}
	return nil
}

// PublishModeOrDefault resolves the event-level routing tag.
func (e *EventConfiguration) PublishModeOrDefault() PublishMode {
	if e.IotCentralEventPublishMode != nil {
		return *e.IotCentralEventPublishMode
	}
	return PublishModeDefault
}

// clone produces an independent copy so registry snapshots cannot alias the
// live configuration.
func (e *EventConfiguration) clone() *EventConfiguration {
	c := *e
	c.SelectClauses = append([]SelectClause(nil), e.SelectClauses...)
	c.WhereClause = append([]WhereClauseElement(nil), e.WhereClause...)
	return &c
}
