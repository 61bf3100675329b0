package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MemberStatus is a member's standing in a chat.
type MemberStatus string

const (
	MemberCreator       MemberStatus = "creator"
	MemberAdministrator MemberStatus = "administrator"
	MemberMember        MemberStatus = "member"
	MemberRestricted    MemberStatus = "restricted"
	MemberLeft          MemberStatus = "left"
	MemberKicked        MemberStatus = "kicked"
)

// Present reports whether the member is still in the chat.
func (s MemberStatus) Present() bool {
	return s != MemberLeft && s != MemberKicked
}

// Button is an inline keyboard button.
type Button struct {
	Label string
	Data  string
}

// PostOptions carries optional presentation for posted or edited messages.
type PostOptions struct {
	// Keyboard rows of inline buttons.
	Keyboard [][]Button
	// ReplyTo threads the message under another message.
	ReplyTo MessageRef
}

// GroupStatistic is a member count snapshot for a chat.
type GroupStatistic struct {
	ChatID      int64     `json:"chat_id"`
	MemberCount int       `json:"member_count"`
	RecordedAt  time.Time `json:"recorded_at"`
}

const callbackPrefix = "captcha"

// CallbackData encodes an inline button press for userID choosing option idx.
func CallbackData(userID int64, idx int) string {
	return fmt.Sprintf("%s:%d:%d", callbackPrefix, userID, idx)
}

// ParseCallbackData decodes data produced by CallbackData.
func ParseCallbackData(data string) (userID int64, idx int, ok bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != callbackPrefix {
		return 0, 0, false
	}
	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	idx, err = strconv.Atoi(parts[2])
	if err != nil || idx < 0 {
		return 0, 0, false
	}
	return userID, idx, true
}
