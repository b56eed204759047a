// Package protocol defines the relay's JSON envelope: the action and
// response vocabulary shared by the server and client engines, and the
// positional key checks that decide whether an inbound wire.Frame is
// well-formed for its action.
//
// Key presence is checked positionally per the wire contract — there is
// no JSON-schema validation, and unknown extra keys are ignored.
package protocol

import "github.com/cipherdesk/relay/internal/wire"

// Action codes, C→S unless noted.
const (
	ActionPresence    = "presence"     // auth start
	ActionMessage     = "message"      // C→S→C
	ActionExit        = "exit"
	ActionGetContacts = "get_contacts"
	ActionGetUsers    = "get_users"
	ActionAdd         = "add"
	ActionRemove      = "remove"
	ActionPubkeyNeed  = "pubkey_need"
)

// Response codes.
const (
	ResponseOK            = 200
	ResponseList          = 202
	ResponseRosterChanged = 205
	ResponseError         = 400
	ResponseAuth          = 511
)

// Envelope keys.
const (
	KeyAction      = "action"
	KeyResponse    = "response"
	KeyTime        = "time"
	KeyUser        = "user"
	KeyAccountName = "account_name"
	KeyFrom        = "from"
	KeyTo          = "to"
	KeyMessageText = "message_text"
	KeyDataList    = "data_list"
	KeyError       = "error"
	KeyBin         = "bin"
	KeyPubkey      = "pubkey"
)

// BadRequest builds the catch-all {response:400, error:"bad request"}
// frame required for any shape that matches none of the dispatch rules.
func BadRequest() wire.Frame {
	return ErrorFrame("bad request")
}

// ErrorFrame builds a {response:400, error:msg} frame.
func ErrorFrame(msg string) wire.Frame {
	return wire.Frame{KeyResponse: float64(ResponseError), KeyError: msg}
}

// OKFrame builds the plain {response:200} acknowledgement.
func OKFrame() wire.Frame {
	return wire.Frame{KeyResponse: float64(ResponseOK)}
}

// ListFrame builds a {response:202, data_list:items} frame.
func ListFrame(items []string) wire.Frame {
	list := make([]any, len(items))
	for i, v := range items {
		list[i] = v
	}
	return wire.Frame{KeyResponse: float64(ResponseList), KeyDataList: list}
}

// AuthFrame builds a {response:511, bin:data} frame, used both for the
// server's random challenge and for carrying a PEM-encoded public key.
func AuthFrame(data string) wire.Frame {
	return wire.Frame{KeyResponse: float64(ResponseAuth), KeyBin: data}
}

// RosterChangedFrame builds the bare {response:205} broadcast.
func RosterChangedFrame() wire.Frame {
	return wire.Frame{KeyResponse: float64(ResponseRosterChanged)}
}

// responseCode extracts the numeric response code from a frame, if any.
// JSON numbers decode to float64 through encoding/json's default
// unmarshaling into map[string]any, so that's the type checked here.
func responseCode(f wire.Frame) (int, bool) {
	v, ok := f[KeyResponse]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// ResponseCode returns the frame's response code and whether it carried
// one at all (i.e. this is a response frame, not an action frame).
func ResponseCode(f wire.Frame) (int, bool) {
	return responseCode(f)
}

// str reads a string-valued key, returning "" and false if absent or of
// the wrong type.
func str(f wire.Frame, key string) (string, bool) {
	v, ok := f[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Action returns the frame's action code, if any.
func Action(f wire.Frame) (string, bool) {
	return str(f, KeyAction)
}

// PresenceFields extracts the account_name/pubkey pair nested under
// "user" for a presence frame: {time, user:{account_name, pubkey}}.
func PresenceFields(f wire.Frame) (account, pubkey string, ok bool) {
	if _, hasTime := f[KeyTime]; !hasTime {
		return "", "", false
	}
	userVal, ok := f[KeyUser]
	if !ok {
		return "", "", false
	}
	userObj, ok := userVal.(map[string]any)
	if !ok {
		return "", "", false
	}
	account, ok = str(wire.Frame(userObj), KeyAccountName)
	if !ok {
		return "", "", false
	}
	pubkey, ok = str(wire.Frame(userObj), KeyPubkey)
	return account, pubkey, ok
}

// MessageFields extracts {from, to, message_text} from a message frame.
func MessageFields(f wire.Frame) (from, to, text string, ok bool) {
	if _, hasTime := f[KeyTime]; !hasTime {
		return "", "", "", false
	}
	from, ok = str(f, KeyFrom)
	if !ok {
		return
	}
	to, ok = str(f, KeyTo)
	if !ok {
		return
	}
	text, ok = str(f, KeyMessageText)
	return
}

// ExitFields extracts {account_name} from an exit frame.
func ExitFields(f wire.Frame) (account string, ok bool) {
	if _, hasTime := f[KeyTime]; !hasTime {
		return "", false
	}
	return str(f, KeyAccountName)
}

// GetContactsFields extracts {user} from a get_contacts frame.
func GetContactsFields(f wire.Frame) (user string, ok bool) {
	if _, hasTime := f[KeyTime]; !hasTime {
		return "", false
	}
	return str(f, KeyUser)
}

// GetUsersFields extracts {account_name} from a get_users frame.
func GetUsersFields(f wire.Frame) (account string, ok bool) {
	if _, hasTime := f[KeyTime]; !hasTime {
		return "", false
	}
	return str(f, KeyAccountName)
}

// AddRemoveFields extracts {user, account_name} from an add/remove frame.
func AddRemoveFields(f wire.Frame) (user, target string, ok bool) {
	if _, hasTime := f[KeyTime]; !hasTime {
		return "", "", false
	}
	user, ok = str(f, KeyUser)
	if !ok {
		return
	}
	target, ok = str(f, KeyAccountName)
	return
}

// PubkeyNeedFields extracts {account_name} from a pubkey_need frame.
func PubkeyNeedFields(f wire.Frame) (account string, ok bool) {
	if _, hasTime := f[KeyTime]; !hasTime {
		return "", false
	}
	return str(f, KeyAccountName)
}

// PresenceRequest builds the client's outbound presence frame.
func PresenceRequest(account, pubkeyPEM string, now float64) wire.Frame {
	return wire.Frame{
		KeyAction: ActionPresence,
		KeyTime:   now,
		KeyUser: map[string]any{
			KeyAccountName: account,
			KeyPubkey:      pubkeyPEM,
		},
	}
}

// MessageRequest builds a C→S message envelope.
func MessageRequest(from, to, text string, now float64) wire.Frame {
	return wire.Frame{
		KeyAction:      ActionMessage,
		KeyTime:        now,
		KeyFrom:        from,
		KeyTo:          to,
		KeyMessageText: text,
	}
}

// ExitRequest builds the client's exit notification.
func ExitRequest(account string, now float64) wire.Frame {
	return wire.Frame{KeyAction: ActionExit, KeyTime: now, KeyAccountName: account}
}

// GetContactsRequest builds a get_contacts request.
func GetContactsRequest(user string, now float64) wire.Frame {
	return wire.Frame{KeyAction: ActionGetContacts, KeyTime: now, KeyUser: user}
}

// GetUsersRequest builds a get_users request.
func GetUsersRequest(account string, now float64) wire.Frame {
	return wire.Frame{KeyAction: ActionGetUsers, KeyTime: now, KeyAccountName: account}
}

// AddRequest builds an add-contact request.
func AddRequest(user, target string, now float64) wire.Frame {
	return wire.Frame{KeyAction: ActionAdd, KeyTime: now, KeyUser: user, KeyAccountName: target}
}

// RemoveRequest builds a remove-contact request.
func RemoveRequest(user, target string, now float64) wire.Frame {
	return wire.Frame{KeyAction: ActionRemove, KeyTime: now, KeyUser: user, KeyAccountName: target}
}

// PubkeyNeedRequest builds a public-key request.
func PubkeyNeedRequest(account string, now float64) wire.Frame {
	return wire.Frame{KeyAction: ActionPubkeyNeed, KeyTime: now, KeyAccountName: account}
}

// AuthAnswer builds the client's base64 challenge-answer frame.
func AuthAnswer(base64Digest string) wire.Frame {
	return wire.Frame{KeyResponse: float64(ResponseAuth), KeyBin: base64Digest}
}

// StringList reads the data_list key as a []string, tolerating the
// []any produced by decoding JSON into map[string]any.
func StringList(f wire.Frame) []string {
	v, ok := f[KeyDataList]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ErrorMessage reads the error key from a 400 response.
func ErrorMessage(f wire.Frame) string {
	s, _ := str(f, KeyError)
	return s
}

// BinPayload reads the bin key from a 511 response.
func BinPayload(f wire.Frame) string {
	s, _ := str(f, KeyBin)
	return s
}
