package boardsync

import "testing"

func TestResolveAccess(t *testing.T) {
	alice := &Identity{ID: "alice"}
	cases := []struct {
		name           string
		user           *Identity
		requestedOwner string
		wantOwner      string
		wantReadOnly   bool
	}{
		{name: "own board implicit owner", user: alice, requestedOwner: "", wantOwner: "alice", wantReadOnly: false},
		{name: "own board explicit owner", user: alice, requestedOwner: "alice", wantOwner: "alice", wantReadOnly: false},
		{name: "foreign board", user: alice, requestedOwner: "bob", wantOwner: "bob", wantReadOnly: true},
		{name: "signed out with owner", user: nil, requestedOwner: "bob", wantOwner: "bob", wantReadOnly: true},
		{name: "signed out without owner", user: nil, requestedOwner: "", wantOwner: "", wantReadOnly: true},
		{name: "owner whitespace trimmed", user: alice, requestedOwner: "  alice  ", wantOwner: "alice", wantReadOnly: false},
	}
	for _, tc := range cases {
		owner, readOnly := ResolveAccess(tc.user, tc.requestedOwner)
		if owner != tc.wantOwner || readOnly != tc.wantReadOnly {
			t.Fatalf("%s: got owner=%q readOnly=%v, want owner=%q readOnly=%v",
				tc.name, owner, readOnly, tc.wantOwner, tc.wantReadOnly)
		}
	}
}

func TestDocumentIDPath(t *testing.T) {
	id := DocumentID{OwnerID: "alice", BoardID: "b1"}
	if got := id.Path(); got != "alice/boards/b1.json" {
		t.Fatalf("unexpected path: %q", got)
	}
	legacy := DocumentID{OwnerID: "alice"}
	if got := legacy.Path(); got != "alice/board.json" {
		t.Fatalf("unexpected legacy path: %q", got)
	}
	if !(DocumentID{}).IsZero() || id.IsZero() {
		t.Fatal("IsZero misclassified a document id")
	}
}
