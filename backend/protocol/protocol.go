// Package protocol defines the wire envelope exchanged with clients and
// the closed vocabulary of message kinds. Everything on the wire is a
// JSON object of the form {"type": "...", "data": {...}}.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"
)

// Language is the fixed language label reported to opponents. The judge
// command is configurable, but the catalogue this backend serves is
// RISC-V assembly.
const Language = "risc-v"

// Kind classifies an inbound frame.
type Kind int

const (
	KindUnsupported Kind = iota
	KindJoin
	KindCreate
	KindSetName
	KindCodeEcho
	KindCodeSubmit
	KindClose
)

func (k Kind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindCreate:
		return "create"
	case KindSetName:
		return "name"
	case KindCodeEcho:
		return "userCode"
	case KindCodeSubmit:
		return "submitUserCode"
	case KindClose:
		return "close"
	default:
		return "unsupported"
	}
}

// Outbound message types.
const (
	TypeCreatedGame  = "created_game"
	TypeJoinStatus   = "join_status"
	TypeStarting     = "starting"
	TypeProblem      = "problem"
	TypeOpponentCode = "opponentCode"
	TypeOppInfo      = "oppInfo"
	TypeResult       = "result"
	TypeHealthUpdate = "healthUpdate"
	TypeGameOver     = "gameOver"
	TypeInfo         = "info"
)

type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Inbound payloads.
type (
	Create struct {
		Name string `json:"name"`
	}
	Join struct {
		Name   string `json:"name"`
		GameID string `json:"gameId"`
	}
	SetName struct {
		Name string `json:"name"`
	}
	Code struct {
		Code string `json:"code"`
	}
)

// Outbound payloads.
type (
	CreatedGame struct {
		ID string `json:"id"`
	}
	JoinStatus struct {
		Status string `json:"status"`
	}
	Problem struct {
		Description string `json:"description"`
		StarterCode string `json:"starterCode"`
	}
	OpponentCode struct {
		Code string `json:"code"`
	}
	OppInfo struct {
		Name     string `json:"name"`
		Language string `json:"language"`
		Health   int    `json:"health"`
		Console  string `json:"console"`
	}
	Result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	HealthUpdate struct {
		NewHealth int `json:"newHealth"`
	}
	GameOver struct {
		Winner string `json:"winner"`
	}
	Info struct {
		Message string `json:"message"`
	}
)

// Join statuses.
const (
	StatusWaiting = "waiting"
	StatusStarted = "started"
	StatusFull    = "full"
)

// Classify maps a raw websocket frame to a message kind. Anything that
// is not a well-formed text frame carrying a known type discriminator
// classifies as KindUnsupported; inbound garbage must never take down
// the dispatch loop. Close frames classify as KindClose regardless of
// payload.
func Classify(messageType int, raw []byte) Kind {
	if messageType == websocket.CloseMessage {
		return KindClose
	}
	if messageType != websocket.TextMessage {
		return KindUnsupported
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return KindUnsupported
	}
	switch env.Type {
	case "join":
		return KindJoin
	case "create":
		return KindCreate
	case "name":
		return KindSetName
	case "userCode":
		return KindCodeEcho
	case "submitUserCode":
		return KindCodeSubmit
	default:
		return KindUnsupported
	}
}

// Decode unmarshals the data field of a raw frame into payload.
func Decode(raw []byte, payload any) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	if env.Data == nil {
		return errors.New("envelope has no data field")
	}
	return json.Unmarshal(env.Data, payload)
}

// Encode wraps payload in an envelope of the given type and marshals
// it. Payload types are all plain structs, so marshaling cannot fail
// for any message this package defines.
func Encode(msgType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Data: data})
}

// MustEncode is Encode for the package's own payload types, where
// marshaling is infallible.
func MustEncode(msgType string, payload any) []byte {
	b, err := Encode(msgType, payload)
	if err != nil {
		panic(err)
	}
	return b
}
