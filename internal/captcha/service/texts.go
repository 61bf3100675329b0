package service

import (
	"fmt"
	"strings"
	"time"

	"gatekeeper/internal/captcha/models"
)

const (
	permissionNoticeText       = "I don't have permission to remove users. Please make me an administrator with the right to ban members."
	deletePermissionNoticeText = "I don't have permission to delete messages. Please make me an administrator with the right to delete messages."
	failureNoticeText          = "Something went wrong, please try again."
)

func challengeText(name string, timeout time.Duration, c models.Challenge) string {
	sep := " "
	if c.Mode == models.ChallengeMultiple {
		sep = "\n"
	}
	return fmt.Sprintf("Welcome %s!\n\nPlease answer this captcha within %d seconds:%s%s",
		displayName(name), int(timeout.Seconds()), sep, c.Question)
}

func retryText(question string, remaining int) string {
	noun := "attempts"
	if remaining == 1 {
		noun = "attempt"
	}
	return fmt.Sprintf("Sorry, that's incorrect. You have %d %s remaining.\n\nPlease try again: %s",
		remaining, noun, question)
}

func welcomeText(welcome string) string {
	return "Correct! " + welcome
}

func evictionNotice(name string, action models.EvictionAction) string {
	return fmt.Sprintf("%s has been %s for not completing the captcha.", displayName(name), action)
}

func displayName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return "new member"
	}
	return name
}

// keyboard renders one button per row, in the order given.
func keyboard(userID int64, options []string) [][]models.Button {
	if len(options) == 0 {
		return nil
	}
	rows := make([][]models.Button, 0, len(options))
	for i, label := range options {
		rows = append(rows, []models.Button{{Label: label, Data: models.CallbackData(userID, i)}})
	}
	return rows
}
