package schema

// ResponseKind tags the shape of a Response payload.
type ResponseKind string

const (
	KindText    ResponseKind = "text"
	KindTable   ResponseKind = "table"
	KindChart   ResponseKind = "chart"
	KindData    ResponseKind = "data"
	KindError   ResponseKind = "error"
	KindSummary ResponseKind = "summary"
)

// Item is one element of a Response payload. Its required keys depend on the
// Response kind (see Validate).
type Item map[string]any

// Response is a typed, described unit of output emitted by a tool or by the
// engine itself. Treat as immutable once constructed: constructors validate
// the payload shape for the kind and callers must not modify it afterwards.
type Response struct {
	Kind        ResponseKind   `json:"kind"`
	Payload     []Item         `json:"payload"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewResponse builds a Response of an arbitrary kind, validating the payload.
func NewResponse(kind ResponseKind, payload []Item, description string, metadata map[string]any) (*Response, error) {
	r := &Response{
		Kind:        kind,
		Payload:     clonePayload(payload),
		Description: description,
		Metadata:    metadata,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewText builds a text Response from a single string.
func NewText(text, description string) *Response {
	return &Response{
		Kind:        KindText,
		Payload:     []Item{{"text": text}},
		Description: description,
	}
}

// NewTable builds a table Response from row maps. Column order is carried in
// metadata under "headers".
func NewTable(headers []string, rows []Item, description string, metadata map[string]any) *Response {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["headers"] = headers
	metadata["row_count"] = len(rows)
	return &Response{
		Kind:        KindTable,
		Payload:     clonePayload(rows),
		Description: description,
		Metadata:    metadata,
	}
}

// NewData builds a data Response carrying structured values not meant for
// direct display (e.g. interpreter results consumed by later steps).
func NewData(values Item, description string) *Response {
	return &Response{
		Kind:        KindData,
		Payload:     []Item{cloneItem(values)},
		Description: description,
	}
}

// NewErrorResponse builds an error-kind Response describing a recoverable
// step failure. It is recorded in the tree like any other response so the
// decision engine can observe and react to it.
func NewErrorResponse(tool, code, message string) *Response {
	return &Response{
		Kind:        KindError,
		Payload:     []Item{{"tool": tool, "code": code, "message": message}},
		Description: "step failed: " + message,
	}
}

// NewSummary builds the terminal summary Response for a completed run.
func NewSummary(text, description string) *Response {
	return &Response{
		Kind:        KindSummary,
		Payload:     []Item{{"text": text}},
		Description: description,
	}
}

// IsTerminal reports whether this response ends a stream.
func (r *Response) IsTerminal() bool {
	return r.Kind == KindSummary || r.Kind == KindError && r.terminal()
}

func (r *Response) terminal() bool {
	if len(r.Payload) == 0 {
		return false
	}
	v, ok := r.Payload[0]["terminal"].(bool)
	return ok && v
}

// MarkTerminal returns a copy of an error response flagged as the terminal
// stream item. Summary responses are terminal by construction.
func (r *Response) MarkTerminal() *Response {
	out := &Response{
		Kind:        r.Kind,
		Payload:     clonePayload(r.Payload),
		Description: r.Description,
		Metadata:    r.Metadata,
	}
	if len(out.Payload) == 0 {
		out.Payload = []Item{{}}
	}
	out.Payload[0]["terminal"] = true
	return out
}

// Validate checks that the payload matches the declared kind.
func (r *Response) Validate() error {
	switch r.Kind {
	case KindText, KindSummary:
		if len(r.Payload) != 1 {
			return NewErrorf(ErrCodeValidation, "%s response requires exactly one payload item", r.Kind)
		}
		if _, ok := r.Payload[0]["text"].(string); !ok {
			return NewErrorf(ErrCodeValidation, "%s response payload requires a string %q field", r.Kind, "text")
		}
	case KindError:
		if len(r.Payload) != 1 {
			return NewError(ErrCodeValidation, "error response requires exactly one payload item")
		}
		if _, ok := r.Payload[0]["message"].(string); !ok {
			return NewErrorf(ErrCodeValidation, "error response payload requires a string %q field", "message")
		}
	case KindTable, KindChart, KindData:
		// Row-, spec- and value-shaped items; any non-nil item sequence is legal.
		for i, it := range r.Payload {
			if it == nil {
				return NewErrorf(ErrCodeValidation, "%s response payload item %d is nil", r.Kind, i)
			}
		}
	default:
		return NewErrorf(ErrCodeValidation, "unknown response kind %q", r.Kind)
	}
	return nil
}

func clonePayload(in []Item) []Item {
	out := make([]Item, len(in))
	for i, it := range in {
		out[i] = cloneItem(it)
	}
	return out
}

func cloneItem(in Item) Item {
	if in == nil {
		return nil
	}
	out := make(Item, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
