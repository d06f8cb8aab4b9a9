package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Event field names as they appear on the wire.
const (
	FieldTimestamp   = "timestamp"
	FieldSourceIP    = "source_ip"
	FieldEventType   = "event_type"
	FieldUserID      = "user_id"
	FieldIPAddress   = "ip_address"
	FieldPort        = "port"
	FieldProtocol    = "protocol"
	FieldDescription = "description"
)

// RawEvent is one security telemetry record.
// Timestamp, SourceIP and EventType are required; everything else is optional.
// Fields not known to the pipeline are kept in Attributes as float64 or string.
type RawEvent struct {
	Timestamp   string         // ISO-8601
	SourceIP    string         // originating address
	EventType   string         // login, network_flow, ...
	UserID      string         // empty if absent
	IPAddress   string         // empty if absent
	Port        *int           // nil if absent
	Protocol    string         // empty if absent
	Description string         // free text, empty if absent
	Attributes  map[string]any // extra numeric/string fields
}

// NumericField resolves a numeric column by name.
// Typed fields are consulted first, then Attributes.
func (e *RawEvent) NumericField(name string) (float64, bool) {
	if name == FieldPort {
		if e.Port == nil {
			return 0, false
		}
		return float64(*e.Port), true
	}
	v, ok := e.Attributes[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// CategoricalField resolves a categorical column by name.
// Empty strings count as absent.
func (e *RawEvent) CategoricalField(name string) (string, bool) {
	var s string
	switch name {
	case FieldSourceIP:
		s = e.SourceIP
	case FieldEventType:
		s = e.EventType
	case FieldUserID:
		s = e.UserID
	case FieldIPAddress:
		s = e.IPAddress
	case FieldProtocol:
		s = e.Protocol
	case FieldDescription:
		s = e.Description
	case FieldTimestamp:
		s = e.Timestamp
	default:
		v, ok := e.Attributes[name]
		if !ok {
			return "", false
		}
		switch t := v.(type) {
		case string:
			s = t
		case bool:
			s = strconv.FormatBool(t)
		default:
			return "", false
		}
	}
	return s, s != ""
}

// Fields renders the event back into its open wire form.
func (e *RawEvent) Fields() map[string]any {
	m := make(map[string]any, len(e.Attributes)+8)
	for k, v := range e.Attributes {
		m[k] = v
	}
	put := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	put(FieldTimestamp, e.Timestamp)
	put(FieldSourceIP, e.SourceIP)
	put(FieldEventType, e.EventType)
	put(FieldUserID, e.UserID)
	put(FieldIPAddress, e.IPAddress)
	put(FieldProtocol, e.Protocol)
	put(FieldDescription, e.Description)
	if e.Port != nil {
		m[FieldPort] = *e.Port
	}
	return m
}

// MarshalJSON encodes the event as a flat JSON object.
func (e RawEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Fields())
}

// UnmarshalJSON decodes a flat JSON object. Known keys populate the typed
// fields; the rest go to Attributes. Nested objects and arrays are rejected.
func (e *RawEvent) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	ev, err := EventFromMap(raw)
	if err != nil {
		return err
	}
	*e = ev
	return nil
}

// EventFromMap builds a RawEvent from an open field mapping.
func EventFromMap(raw map[string]any) (RawEvent, error) {
	var e RawEvent
	for k, v := range raw {
		if v == nil {
			continue
		}
		switch k {
		case FieldTimestamp, FieldSourceIP, FieldEventType, FieldUserID,
			FieldIPAddress, FieldProtocol, FieldDescription:
			s, err := scalarString(v)
			if err != nil {
				return RawEvent{}, NewValidationError(k, "%v", err)
			}
			e.setString(k, s)
		case FieldPort:
			p, err := scalarInt(v)
			if err != nil {
				return RawEvent{}, NewValidationError(k, "%v", err)
			}
			e.Port = &p
		default:
			a, err := scalarAttribute(v)
			if err != nil {
				return RawEvent{}, NewValidationError(k, "%v", err)
			}
			if e.Attributes == nil {
				e.Attributes = make(map[string]any)
			}
			e.Attributes[k] = a
		}
	}
	return e, nil
}

func (e *RawEvent) setString(k, s string) {
	switch k {
	case FieldTimestamp:
		e.Timestamp = s
	case FieldSourceIP:
		e.SourceIP = s
	case FieldEventType:
		e.EventType = s
	case FieldUserID:
		e.UserID = s
	case FieldIPAddress:
		e.IPAddress = s
	case FieldProtocol:
		e.Protocol = s
	case FieldDescription:
		e.Description = s
	}
}

func scalarString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("expected scalar, got %T", v)
	}
}

func scalarInt(v any) (int, error) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %s", t)
		}
		return int(f), nil
	case float64:
		return int(t), nil
	case int:
		return t, nil
	case string:
		i, err := strconv.Atoi(t)
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", t)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func scalarAttribute(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("not a number: %s", t)
		}
		return f, nil
	case float64, string, bool:
		return t, nil
	case int:
		return float64(t), nil
	default:
		return nil, fmt.Errorf("expected scalar, got %T", v)
	}
}
