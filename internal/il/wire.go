package il

import (
	"encoding/json"
	"fmt"
)

// wireOp is the JSON-friendly projection of Op: payloads are tagged
// objects ({"kind": "...", ...}) rather than Go's any, and label
// payloads carry a synthetic id so repeated references to the same
// *Label round-trip to the same object.
type wireOp struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	Opcode  string          `json:"op"`
	Dst     int             `json:"dst,omitempty"`
	Left    int             `json:"left,omitempty"`
	Right   int             `json:"right,omitempty"`
}

type wireProgram struct {
	SchemaVersion string     `json:"schema_version"`
	Functions     []FuncMeta `json:"functions"`
	Ops           []wireOp   `json:"ops"`
}

type payloadEnvelope struct {
	Kind    string `json:"kind"`
	Raw     string `json:"raw,omitempty"`     // IntLit
	Value   string `json:"value,omitempty"`   // StrLit
	Name    string `json:"name,omitempty"`    // Ident
	Index   int    `json:"index,omitempty"`   // LocalVar
	LabelID int    `json:"label_id,omitempty"`
	Callee  string `json:"callee,omitempty"` // ArgList
	Args    []int  `json:"args,omitempty"`
}

// Encode serializes a Program to its JSON wire form. Labels are keyed
// by pointer identity within a single call so that two ops referencing
// the same *Label encode the same label_id.
func Encode(p *Program) ([]byte, error) {
	labelIDs := make(map[*Label]int)
	nextLabelID := 1

	wp := wireProgram{
		SchemaVersion: p.SchemaVersion,
		Functions:     p.Functions,
		Ops:           make([]wireOp, len(p.Ops)),
	}

	for i, op := range p.Ops {
		wo := wireOp{Opcode: op.Opcode.String(), Dst: op.Dst, Left: op.Left, Right: op.Right}

		if op.Payload != nil {
			env, err := encodePayload(op.Payload, labelIDs, &nextLabelID)
			if err != nil {
				return nil, fmt.Errorf("il: encode op %d (%s): %w", i, op.Opcode, err)
			}

			raw, err := json.Marshal(env)
			if err != nil {
				return nil, fmt.Errorf("il: encode op %d (%s): %w", i, op.Opcode, err)
			}

			wo.Payload = raw
		}

		wp.Ops[i] = wo
	}

	return json.Marshal(wp)
}

func encodePayload(payload any, labelIDs map[*Label]int, next *int) (payloadEnvelope, error) {
	switch v := payload.(type) {
	case IntLit:
		return payloadEnvelope{Kind: "intlit", Raw: v.Raw}, nil
	case StrLit:
		return payloadEnvelope{Kind: "strlit", Value: v.Value}, nil
	case Ident:
		return payloadEnvelope{Kind: "ident", Name: v.Name}, nil
	case LocalVar:
		return payloadEnvelope{Kind: "localvar", Index: v.Index}, nil
	case LabelRef:
		id, ok := labelIDs[v.Label]
		if !ok {
			id = *next
			*next++
			labelIDs[v.Label] = id
		}

		return payloadEnvelope{Kind: "label", LabelID: id, Name: v.Label.Name}, nil
	case ArgList:
		return payloadEnvelope{Kind: "arglist", Callee: v.Callee, Args: v.Args}, nil
	default:
		return payloadEnvelope{}, fmt.Errorf("il: unsupported payload type %T", payload)
	}
}

// Decode parses a Program from its JSON wire form.
func Decode(data []byte) (*Program, error) {
	var wp wireProgram

	if err := json.Unmarshal(data, &wp); err != nil {
		return nil, fmt.Errorf("il: decode: %w", err)
	}

	labelsByID := make(map[int]*Label)

	p := &Program{
		SchemaVersion: wp.SchemaVersion,
		Functions:     wp.Functions,
		Ops:           make([]Op, len(wp.Ops)),
	}

	for i, wo := range wp.Ops {
		opcode, err := parseOpcode(wo.Opcode)
		if err != nil {
			return nil, fmt.Errorf("il: decode op %d: %w", i, err)
		}

		op := Op{Opcode: opcode, Dst: wo.Dst, Left: wo.Left, Right: wo.Right}

		if len(wo.Payload) > 0 {
			var env payloadEnvelope
			if err := json.Unmarshal(wo.Payload, &env); err != nil {
				return nil, fmt.Errorf("il: decode op %d payload: %w", i, err)
			}

			payload, err := decodePayload(env, labelsByID)
			if err != nil {
				return nil, fmt.Errorf("il: decode op %d payload: %w", i, err)
			}

			op.Payload = payload
		}

		p.Ops[i] = op
	}

	return p, nil
}

func decodePayload(env payloadEnvelope, labelsByID map[int]*Label) (any, error) {
	switch env.Kind {
	case "intlit":
		return IntLit{Raw: env.Raw}, nil
	case "strlit":
		return StrLit{Value: env.Value}, nil
	case "ident":
		return Ident{Name: env.Name}, nil
	case "localvar":
		return LocalVar{Index: env.Index}, nil
	case "label":
		lbl, ok := labelsByID[env.LabelID]
		if !ok {
			lbl = &Label{Name: env.Name}
			labelsByID[env.LabelID] = lbl
		}

		return LabelRef{Label: lbl}, nil
	case "arglist":
		return ArgList{Callee: env.Callee, Args: env.Args}, nil
	default:
		return nil, fmt.Errorf("unknown payload kind %q", env.Kind)
	}
}

func parseOpcode(name string) (Opcode, error) {
	for op := OpFuncBegin; op <= OpCall; op++ {
		if op.String() == name {
			return op, nil
		}
	}

	return OpInvalid, fmt.Errorf("unknown opcode %q", name)
}
