// Package control defines the messages accepted by the daemon's control
// socket and the line-delimited JSON codec shared by the daemon and its
// clients.
//
// Protocol:
//   - Client sends: {"type": "message_name", "data": {...}}
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"}
package control

import (
	"encoding/json"
	"fmt"
)

// Message is a marker interface for control messages.
type Message interface {
	controlMessage()
}

// Bounce describes the bounce settings carried by expression edits.
type Bounce struct {
	Enabled     bool    `json:"enabled"`
	MaxVelocity float32 `json:"max_velocity"`
	TotalFrames int32   `json:"total_frames"`
}

// ============================================================================
// Catalog edits
// ============================================================================

// AddExpression appends a new expression to the catalog.
type AddExpression struct {
	ID        string  `json:"id,omitempty"`
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
	AttackMS  float64 `json:"attack_ms"`
	ReleaseMS float64 `json:"release_ms"`
	Bounce    *Bounce `json:"bounce,omitempty"`
	Asset     string  `json:"asset"`
}

// UpdateExpression edits an existing expression in place. Nil fields are left
// unchanged.
type UpdateExpression struct {
	ID        string   `json:"id"`
	Name      *string  `json:"name,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	AttackMS  *float64 `json:"attack_ms,omitempty"`
	ReleaseMS *float64 `json:"release_ms,omitempty"`
	Bounce    *Bounce  `json:"bounce,omitempty"`
	Asset     *string  `json:"asset,omitempty"`
}

// RemoveExpression deletes an expression.
type RemoveExpression struct {
	ID string `json:"id"`
}

// MoveExpression changes an expression's position in storage order, which
// decides ties between equal thresholds.
type MoveExpression struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
}

func (AddExpression) controlMessage()    {}
func (UpdateExpression) controlMessage() {}
func (RemoveExpression) controlMessage() {}
func (MoveExpression) controlMessage()   {}

// ============================================================================
// Scene settings
// ============================================================================

// SetBackground sets the #rrggbb background color.
type SetBackground struct {
	Color string `json:"color"`
}

// SetInputDevice switches the audio capture device.
type SetInputDevice struct {
	Device string `json:"device"`
}

// ReloadCatalog re-reads the catalog file.
type ReloadCatalog struct{}

// SaveCatalog writes the in-memory catalog to disk.
type SaveCatalog struct{}

func (SetBackground) controlMessage()  {}
func (SetInputDevice) controlMessage() {}
func (ReloadCatalog) controlMessage()  {}
func (SaveCatalog) controlMessage()    {}

// ============================================================================
// Level override
// ============================================================================

// SetLevel forces the level fed to the engine until ClearLevel.
type SetLevel struct {
	Level float32 `json:"level"`
}

// ClearLevel returns to the live audio level.
type ClearLevel struct{}

func (SetLevel) controlMessage()   {}
func (ClearLevel) controlMessage() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// Envelope wraps a message with a type discriminator.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is sent back for every request line.
type Response struct {
	Status string `json:"status"`          // "ok" or "error"
	Error  string `json:"error,omitempty"` // set when Status == "error"
	ID     string `json:"id,omitempty"`    // id of the expression an add created
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// TypeName returns the wire name of m.
func TypeName(m Message) (string, error) {
	switch m.(type) {
	case AddExpression:
		return "add_expression", nil
	case UpdateExpression:
		return "update_expression", nil
	case RemoveExpression:
		return "remove_expression", nil
	case MoveExpression:
		return "move_expression", nil
	case SetBackground:
		return "set_background", nil
	case SetInputDevice:
		return "set_input_device", nil
	case ReloadCatalog:
		return "reload_catalog", nil
	case SaveCatalog:
		return "save_catalog", nil
	case SetLevel:
		return "set_level", nil
	case ClearLevel:
		return "clear_level", nil
	default:
		return "", fmt.Errorf("unsupported message type: %T", m)
	}
}

// Marshal encodes m as an envelope.
func Marshal(m Message) ([]byte, error) {
	name, err := TypeName(m)
	if err != nil {
		return nil, err
	}
	env := Envelope{Type: name}

	switch m.(type) {
	case ReloadCatalog, SaveCatalog, ClearLevel:
		// no payload
	default:
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", name, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Unmarshal decodes an envelope into its concrete message.
func Unmarshal(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "add_expression":
		return decode[AddExpression](env)
	case "update_expression":
		m, err := decode[UpdateExpression](env)
		if err == nil && m.(UpdateExpression).ID == "" {
			return nil, fmt.Errorf("update_expression: missing id")
		}
		return m, err
	case "remove_expression":
		m, err := decode[RemoveExpression](env)
		if err == nil && m.(RemoveExpression).ID == "" {
			return nil, fmt.Errorf("remove_expression: missing id")
		}
		return m, err
	case "move_expression":
		return decode[MoveExpression](env)
	case "set_background":
		return decode[SetBackground](env)
	case "set_input_device":
		return decode[SetInputDevice](env)
	case "set_level":
		return decode[SetLevel](env)
	case "reload_catalog":
		return ReloadCatalog{}, nil
	case "save_catalog":
		return SaveCatalog{}, nil
	case "clear_level":
		return ClearLevel{}, nil
	default:
		return nil, fmt.Errorf("unknown message type: %q", env.Type)
	}
}

func decode[T Message](env Envelope) (Message, error) {
	var m T
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%s: missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	return m, nil
}
