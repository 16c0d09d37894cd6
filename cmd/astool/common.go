package main

import (
	"fmt"

	"github.com/lanternkey/astool/pkg/cryptoutil"
	"github.com/lanternkey/astool/pkg/session"
)

func parsePlatform(s string) (session.Platform, error) {
	switch s {
	case "i", "ios":
		return session.PlatformIOS, nil
	case "a", "android":
		return session.PlatformAndroid, nil
	default:
		return "", fmt.Errorf("unknown platform %q (want i/ios or a/android)", s)
	}
}

// unimplementedBlockDecrypt is the opaque native block cipher's plug-in
// point: the primitive itself is a reverse-engineered external component,
// out of scope for this core (see BlockDecryptFunc). A real deployment
// links in the actual keystream generator here.
func unimplementedBlockDecrypt(cryptoutil.KeySet, []byte) {
	panic("astool: no block cipher implementation linked in; BlockDecryptFunc must be supplied by the deployment")
}
