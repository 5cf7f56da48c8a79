package entities

// IncomingRequest is a pending inbound edge decorated with its sender
type IncomingRequest struct {
	EdgeID string
	Sender Profile
}

// RelationshipView is the derived snapshot of one user's social state.
// It is never mutated in place; a successful store operation is followed
// by a fresh LoadView that replaces it wholesale.
type RelationshipView struct {
	Friends                []Profile
	IncomingRequests       []IncomingRequest
	OutgoingRequestTargets map[string]struct{}
}

// EmptyView returns the view of a user with no relationships
func EmptyView() *RelationshipView {
	return &RelationshipView{
		Friends:                []Profile{},
		IncomingRequests:       []IncomingRequest{},
		OutgoingRequestTargets: map[string]struct{}{},
	}
}

// IsFriend reports whether userID is a mutual friend in this view
func (v *RelationshipView) IsFriend(userID string) bool {
	for _, f := range v.Friends {
		if f.ID == userID {
			return true
		}
	}
	return false
}

// HasIncomingFrom reports whether userID has a pending request to the viewer
func (v *RelationshipView) HasIncomingFrom(userID string) bool {
	for _, r := range v.IncomingRequests {
		if r.Sender.ID == userID {
			return true
		}
	}
	return false
}

// HasOutgoingTo reports whether the viewer has a pending request to userID
func (v *RelationshipView) HasOutgoingTo(userID string) bool {
	_, ok := v.OutgoingRequestTargets[userID]
	return ok
}

// ExclusionSet returns friends ∪ inbound senders ∪ outbound targets ∪ {self},
// with the optional pending delta applied on top.
func (v *RelationshipView) ExclusionSet(currentUser string, delta *PendingDelta) ExclusionSet {
	set := make(ExclusionSet, len(v.Friends)+len(v.IncomingRequests)+len(v.OutgoingRequestTargets)+1)
	if currentUser != "" {
		set.Add(currentUser)
	}
	for _, f := range v.Friends {
		set.Add(f.ID)
	}
	for _, r := range v.IncomingRequests {
		set.Add(r.Sender.ID)
	}
	for id := range v.OutgoingRequestTargets {
		set.Add(id)
	}
	if delta != nil {
		for id := range delta.OutgoingTargets {
			set.Add(id)
		}
	}
	return set
}

// RelationshipStatus describes the relation between the viewer and another user
type RelationshipStatus string

const (
	RelationshipNone     RelationshipStatus = "none"
	RelationshipOutgoing RelationshipStatus = "outgoing"
	RelationshipIncoming RelationshipStatus = "incoming"
	RelationshipFriends  RelationshipStatus = "friends"
)
