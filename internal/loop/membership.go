package loop

import "iter"

// IsAdminOf returns true if user holds the admin role in the given chain.
func IsAdminOf(user *User, chainID string) bool {
	if user == nil {
		return false
	}
	for _, m := range user.Chains {
		if m.ChainID == chainID && m.IsChainAdmin {
			return true
		}
	}
	return false
}

// IsApprovedMember returns true if user is an approved member of the chain.
func IsApprovedMember(user *User, chainID string) bool {
	for id := range ApprovedChainIDs(user) {
		if id == chainID {
			return true
		}
	}
	return false
}

// ApprovedChainIDs yields the IDs of the user's approved memberships in the
// order the backend returned them.
func ApprovedChainIDs(user *User) iter.Seq[string] {
	return func(yield func(string) bool) {
		if user == nil {
			return
		}
		for _, m := range user.Chains {
			if !m.IsApproved {
				continue
			}
			if !yield(m.ChainID) {
				return
			}
		}
	}
}
