package models

// SpaceScope builds the device-local scope string for an operation in a
// Space, e.g. "space:<space_id>:post".
func SpaceScope(spaceID, op string) string {
	return "space:" + spaceID + ":" + op
}

// HasScope reports whether scopes contains want exactly.
func HasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

// ScopesSubset reports whether every scope in sub is present in super.
func ScopesSubset(sub, super []string) bool {
	for _, s := range sub {
		if !HasScope(super, s) {
			return false
		}
	}
	return true
}

// RequiredScopeOp maps an event kind to the delegation scope operation
// it needs: MEMBER_JOIN needs join, message-room kinds need post, all
// other governance kinds need governance. Unknown kinds default to post.
func RequiredScopeOp(kind string) string {
	switch kind {
	case KindMemberJoin:
		return ScopeJoin
	case KindMsgPost, KindMsgEdit, KindMsgRedact,
		KindReactionAdd, KindReactionRemove, KindPinAdd, KindPinRemove:
		return ScopePost
	case KindSpacePolicySet, KindRoleDefine, KindRoleGrant, KindRoleRevoke,
		KindMemberBan, KindMemberUnban, KindInviteIssue, KindInviteRevoke,
		KindRoomDefine, KindRoomArchive, KindDeviceRevoke:
		return ScopeGovernance
	}
	return ScopePost
}
