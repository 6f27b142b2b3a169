package orgs

import (
	"errors"
	"fmt"
	"strings"
)

// Membership flag names
const (
	FlagSSOLinked  = "sso:linked"
	FlagSSOInvalid = "sso:invalid"
)

// ErrUnknownFlag is returned when a flag name is not recognized
var ErrUnknownFlag = errors.New("unknown member flag")

// Bit positions of the flags column
const (
	bitSSOLinked  int64 = 1 << 0
	bitSSOInvalid int64 = 1 << 1

	ssoFlagMask = bitSSOLinked | bitSSOInvalid
)

// MemberFlags holds the SSO status of a membership. Both false is a valid
// state (never verified, or linking cleared).
type MemberFlags struct {
	SSOLinked  bool `json:"sso_linked"`
	SSOInvalid bool `json:"sso_invalid"`
}

// Get returns the flag called name
func (f MemberFlags) Get(name string) (bool, error) {
	switch name {
	case FlagSSOLinked:
		return f.SSOLinked, nil
	case FlagSSOInvalid:
		return f.SSOInvalid, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownFlag, name)
	}
}

// Set assigns the flag called name
func (f *MemberFlags) Set(name string, value bool) error {
	switch name {
	case FlagSSOLinked:
		f.SSOLinked = value
	case FlagSSOInvalid:
		f.SSOInvalid = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFlag, name)
	}
	return nil
}

// Bits encodes the flags in the column format
func (f MemberFlags) Bits() int64 {
	var bits int64
	if f.SSOLinked {
		bits |= bitSSOLinked
	}
	if f.SSOInvalid {
		bits |= bitSSOInvalid
	}
	return bits
}

// FlagsFromBits decodes a flags column value. Bits other than the SSO flags
// are ignored.
func FlagsFromBits(bits int64) MemberFlags {
	return MemberFlags{
		SSOLinked:  bits&bitSSOLinked != 0,
		SSOInvalid: bits&bitSSOInvalid != 0,
	}
}

// VerificationFlags returns the flags recorded after a verification attempt
func VerificationFlags(valid bool) MemberFlags {
	return MemberFlags{SSOLinked: valid, SSOInvalid: !valid}
}

func (f MemberFlags) String() string {
	var set []string
	if f.SSOLinked {
		set = append(set, FlagSSOLinked)
	}
	if f.SSOInvalid {
		set = append(set, FlagSSOInvalid)
	}
	return "[" + strings.Join(set, " ") + "]"
}
