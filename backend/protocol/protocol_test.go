package protocol

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		messageType int
		raw         string
		want        Kind
	}{
		{"join", websocket.TextMessage, `{"type":"join","data":{"name":"alice","gameId":"abc"}}`, KindJoin},
		{"create", websocket.TextMessage, `{"type":"create","data":{"name":"bob"}}`, KindCreate},
		{"name", websocket.TextMessage, `{"type":"name","data":{"name":"carol"}}`, KindSetName},
		{"code echo", websocket.TextMessage, `{"type":"userCode","data":{"code":"addi"}}`, KindCodeEcho},
		{"submit", websocket.TextMessage, `{"type":"submitUserCode","data":{"code":"addi"}}`, KindCodeSubmit},
		{"unknown type", websocket.TextMessage, `{"type":"dance","data":{}}`, KindUnsupported},
		{"no type field", websocket.TextMessage, `{"data":{}}`, KindUnsupported},
		{"not json", websocket.TextMessage, `hello there`, KindUnsupported},
		{"empty", websocket.TextMessage, ``, KindUnsupported},
		{"binary frame", websocket.BinaryMessage, `{"type":"join","data":{}}`, KindUnsupported},
		{"ping frame", websocket.PingMessage, ``, KindUnsupported},
		{"close frame", websocket.CloseMessage, ``, KindClose},
		{"close frame with junk", websocket.CloseMessage, `not json`, KindClose},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.messageType, []byte(tt.raw)))
		})
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		msgType string
		payload any
		decoded any
	}{
		{"created_game", TypeCreatedGame, CreatedGame{ID: "abc123"}, &CreatedGame{}},
		{"join_status", TypeJoinStatus, JoinStatus{Status: StatusWaiting}, &JoinStatus{}},
		{"problem", TypeProblem, Problem{Description: "sum 1..100", StarterCode: "main:"}, &Problem{}},
		{"opponentCode", TypeOpponentCode, OpponentCode{Code: "li a0, 1"}, &OpponentCode{}},
		{"oppInfo", TypeOppInfo, OppInfo{Name: "bob", Language: Language, Health: 4, Console: "42"}, &OppInfo{}},
		{"result", TypeResult, Result{Success: true, Message: "Correct Answer\nOutput: 42"}, &Result{}},
		{"healthUpdate", TypeHealthUpdate, HealthUpdate{NewHealth: 3}, &HealthUpdate{}},
		{"gameOver", TypeGameOver, GameOver{Winner: "alice"}, &GameOver{}},
		{"info", TypeInfo, Info{Message: "hi"}, &Info{}},
		{"join", "join", Join{Name: "alice", GameID: "abc"}, &Join{}},
		{"create", "create", Create{Name: "alice"}, &Create{}},
		{"code", "submitUserCode", Code{Code: "ecall"}, &Code{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(tt.msgType, tt.payload)
			require.NoError(t, err)

			var env Envelope
			require.NoError(t, json.Unmarshal(raw, &env))
			assert.Equal(t, tt.msgType, env.Type)

			require.NoError(t, Decode(raw, tt.decoded))
			// decoded is a pointer to a zero value of payload's type
			assert.EqualValues(t, tt.payload, reflect.ValueOf(tt.decoded).Elem().Interface())
		})
	}
}

func TestDecode_MissingData(t *testing.T) {
	var join Join
	err := Decode([]byte(`{"type":"join"}`), &join)
	assert.Error(t, err)
}

func TestMustEncode_EmptyPayload(t *testing.T) {
	raw := MustEncode(TypeStarting, struct{}{})
	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, TypeStarting, env.Type)
	assert.JSONEq(t, `{}`, string(env.Data))
}
