// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
	"strconv"
	"strings"
)

// Request id kinds. A Philia request id is "<kind>|<flag>", where flag is
// the correlation token the client needs to answer the request.
const (
	RequestKindFriend = "friend"
	RequestKindGroup  = "group"
)

// MakeRequestID creates a Philia request id from a request kind and flag.
func MakeRequestID(kind, flag string) string {
	return kind + "|" + flag
}

// ParseRequestID splits a Philia request id into its kind and flag.
func ParseRequestID(id string) (kind, flag string, err error) {
	kind, flag, ok := strings.Cut(id, "|")
	if !ok || (kind != RequestKindFriend && kind != RequestKindGroup) {
		return "", "", fmt.Errorf("invalid request id %q", id)
	}
	return kind, flag, nil
}

// MakeID formats a QQ user or group number as a Philia id.
func MakeID(uin int64) string {
	return strconv.FormatInt(uin, 10)
}

// ParseID parses a Philia user or group id as a QQ number.
func ParseID(id string) (int64, error) {
	uin, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", id, err)
	}
	return uin, nil
}
