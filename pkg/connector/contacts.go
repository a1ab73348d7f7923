// Copyright 2024-2026 Aiku AI

package connector

import (
	"encoding/json"
	"fmt"

	"github.com/aiku/philia-icqq/pkg/icqq"
	"github.com/aiku/philia-icqq/pkg/philia"
)

// UserAvatarURL returns the avatar URL of a QQ user.
func UserAvatarURL(uin int64) string {
	return fmt.Sprintf("https://q1.qlogo.cn/g?b=qq&s=0&nk=%d", uin)
}

// GroupAvatarURL returns the avatar URL of a QQ group.
func GroupAvatarURL(groupID int64) string {
	return fmt.Sprintf("https://p.qlogo.cn/gh/%d/%d/0", groupID, groupID)
}

func rawJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func convertUser(u *icqq.UserInfo) *philia.User {
	return &philia.User{
		ID:     MakeID(u.UserID),
		Name:   u.Nickname,
		Avatar: UserAvatarURL(u.UserID),
		Remark: u.Remark,
		Raw:    rawJSON(u),
	}
}

// convertSender builds a user record from the sender block of a message,
// for when no profile lookup is made.
func convertSender(s *icqq.Sender) *philia.User {
	return &philia.User{
		ID:     MakeID(s.UserID),
		Name:   s.Nickname,
		Avatar: UserAvatarURL(s.UserID),
		Raw:    rawJSON(s),
	}
}

func convertGroup(g *icqq.GroupInfo) *philia.Group {
	return &philia.Group{
		ID:        MakeID(g.GroupID),
		Name:      g.GroupName,
		Avatar:    GroupAvatarURL(g.GroupID),
		WholeMute: g.ShutupTimeWhole > 0,
		Raw:       rawJSON(g),
	}
}

func convertMember(m *icqq.MemberInfo) *philia.GroupMember {
	return &philia.GroupMember{
		ID:       MakeID(m.UserID),
		Name:     m.Nickname,
		Avatar:   UserAvatarURL(m.UserID),
		Card:     m.Card,
		Role:     m.Role,
		Title:    m.Title,
		MuteTime: m.ShutupTime,
		Raw:      rawJSON(m),
	}
}
