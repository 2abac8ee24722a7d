package cronmon

import (
	"os/user"
	"strconv"

	"github.com/pkg/errors"
)

// resolveIdentity looks up userName/groupName (either may be empty) and
// returns the Identity children should be launched under, per the
// [supervisor] user/group keys of spec.md section 4.1. A blank groupName
// falls back to the resolved user's primary group.
func resolveIdentity(userName, groupName string) (Identity, error) {
	if userName == "" && groupName == "" {
		return Identity{}, nil
	}

	var id Identity
	id.Set = true

	if userName != "" {
		u, err := user.Lookup(userName)
		if err != nil {
			return Identity{}, errors.Wrapf(err, "failed to resolve user %q", userName)
		}
		uid, err := strconv.ParseUint(u.Uid, 10, 32)
		if err != nil {
			return Identity{}, errors.Wrapf(err, "non-numeric uid for user %q", userName)
		}
		id.Uid = uint32(uid)

		if groupName == "" {
			gid, err := strconv.ParseUint(u.Gid, 10, 32)
			if err != nil {
				return Identity{}, errors.Wrapf(err, "non-numeric gid for user %q", userName)
			}
			id.Gid = uint32(gid)
		}
	}

	if groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return Identity{}, errors.Wrapf(err, "failed to resolve group %q", groupName)
		}
		gid, err := strconv.ParseUint(g.Gid, 10, 32)
		if err != nil {
			return Identity{}, errors.Wrapf(err, "non-numeric gid for group %q", groupName)
		}
		id.Gid = uint32(gid)
	}

	return id, nil
}
