package cronmon

import (
	"os/user"
	"strconv"
	"testing"
)

func TestResolveIdentityEmptyIsUnset(t *testing.T) {
	id, err := resolveIdentity("", "")
	if err != nil {
		t.Fatal(err)
	}
	if id.Set {
		t.Error("no user or group configured should leave Identity unset")
	}
}

func TestResolveIdentityUserOnlyUsesPrimaryGroup(t *testing.T) {
	u, err := user.Current()
	if err != nil {
		t.Skipf("no current user available: %v", err)
	}
	wantUID, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		t.Skip("current user has non-numeric uid on this platform")
	}
	wantGID, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		t.Skip("current user has non-numeric gid on this platform")
	}

	id, err := resolveIdentity(u.Username, "")
	if err != nil {
		t.Fatal(err)
	}
	if !id.Set {
		t.Error("Identity should be Set once a user is resolved")
	}
	if id.Uid != uint32(wantUID) || id.Gid != uint32(wantGID) {
		t.Errorf("id = %+v; want uid=%d gid=%d", id, wantUID, wantGID)
	}
}

func TestResolveIdentityUnknownUserErrors(t *testing.T) {
	_, err := resolveIdentity("no-such-user-should-exist-xyz", "")
	if err == nil {
		t.Fatal("expected an error resolving a nonexistent user")
	}
}
