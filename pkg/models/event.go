package models

import "encoding/json"

// EventVersion is the wire version of the event format.
const EventVersion = 1

// GovernanceRoomID is the well-known room carrying admin events.
const GovernanceRoomID = "governance"

// Event kinds (v0).
const (
	KindMsgPost        = "MSG_POST"
	KindMsgEdit        = "MSG_EDIT"
	KindMsgRedact      = "MSG_REDACT"
	KindReactionAdd    = "REACTION_ADD"
	KindReactionRemove = "REACTION_REMOVE"
	KindPinAdd         = "PIN_ADD"
	KindPinRemove      = "PIN_REMOVE"

	KindSpacePolicySet = "SPACE_POLICY_SET"
	KindRoleDefine     = "ROLE_DEFINE"
	KindRoleGrant      = "ROLE_GRANT"
	KindRoleRevoke     = "ROLE_REVOKE"
	KindMemberBan      = "MEMBER_BAN"
	KindMemberUnban    = "MEMBER_UNBAN"
	KindInviteIssue    = "INVITE_ISSUE"
	KindInviteRevoke   = "INVITE_REVOKE"
	KindMemberJoin     = "MEMBER_JOIN"
	KindRoomDefine     = "ROOM_DEFINE"
	KindRoomArchive    = "ROOM_ARCHIVE"
	KindDeviceRevoke   = "DEVICE_REVOKE"
)

// Event is an immutable, signed, content-addressed record with declared
// DAG parents. EventID and Sig are derived from the other fields; Body
// is opaque JSON participating in the signature via its JCS bytes.
type Event struct {
	V                 int             `json:"v"`
	SpaceID           string          `json:"space_id"`
	RoomID            string          `json:"room_id"`
	EventID           string          `json:"event_id"`
	AuthorPrincipalID string          `json:"author_principal_id"`
	AuthorDeviceID    string          `json:"author_device_id"`
	AuthorDevicePub   []byte          `json:"author_device_pub"` // SPKI DER
	Delegation        DelegationCert  `json:"delegation"`
	TS                int64           `json:"ts"`
	Kind              string          `json:"kind"`
	Prev              []string        `json:"prev"`
	Body              json.RawMessage `json:"body,omitempty"`
	Sig               []byte          `json:"sig"`
}

// MemberJoinBody is the typed view of a MEMBER_JOIN body. The raw body
// remains authoritative for signing; unknown fields pass through.
type MemberJoinBody struct {
	PrincipalID  string `json:"principal_id"`
	PrincipalPub []byte `json:"principal_pub"` // SPKI DER
	Invite       Invite `json:"invite"`
	PoWNonce     []byte `json:"pow_nonce,omitempty"`
	PoWExpiresTS int64  `json:"pow_expires_ts,omitempty"`
}

// MemberModBody is the typed view of MEMBER_BAN / MEMBER_UNBAN bodies.
type MemberModBody struct {
	PrincipalID string `json:"principal_id"`
	Reason      string `json:"reason,omitempty"`
}

// MsgPostBody is the typed view of a MSG_POST body.
type MsgPostBody struct {
	Text string `json:"text"`
}

// RoomDefineBody is the typed view of ROOM_DEFINE / ROOM_ARCHIVE bodies.
type RoomDefineBody struct {
	RoomID string `json:"room_id"`
	Name   string `json:"name,omitempty"`
}

// RoleBody is the typed view of ROLE_DEFINE / ROLE_GRANT / ROLE_REVOKE
// bodies.
type RoleBody struct {
	Role        string `json:"role"`
	PrincipalID string `json:"principal_id,omitempty"`
}
