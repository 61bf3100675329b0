package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectivePolicy(t *testing.T) {
	t.Run("nil policy yields defaults", func(t *testing.T) {
		p := EffectivePolicy(nil)
		assert.Equal(t, 60*time.Second, p.Timeout)
		assert.Equal(t, 3, p.AttemptLimit)
		assert.Equal(t, 10*time.Second, p.WelcomeDisplay)
		assert.False(t, p.Strict)
		assert.Equal(t, "What is 2+2?", p.Challenge.Question)
		assert.Equal(t, []string{"4", "four"}, p.Challenge.Answers)
	})

	t.Run("unset fields fall back individually", func(t *testing.T) {
		p := EffectivePolicy(&Policy{AttemptLimit: 2, Strict: true})
		assert.Equal(t, DefaultTimeout, p.Timeout)
		assert.Equal(t, 2, p.AttemptLimit)
		assert.True(t, p.Strict)
		assert.Equal(t, DefaultWelcomeText, p.WelcomeText)
		assert.Equal(t, DefaultWelcomeDisplay, p.WelcomeDisplay)
		assert.Equal(t, DefaultChallenge(), p.Challenge)
	})

	t.Run("multiple choice keeps correct answer first among options", func(t *testing.T) {
		p := EffectivePolicy(&Policy{Challenge: Challenge{
			Mode:     ChallengeMultiple,
			Question: "Pick blue",
			Answers:  []string{"Blue"},
			Options:  []string{"Red", "blue", "Green"},
		}})
		assert.Equal(t, ChallengeMultiple, p.Challenge.Mode)
		assert.Equal(t, []string{"Blue"}, p.Challenge.Answers)
		assert.Equal(t, []string{"Blue", "Red", "Green"}, p.Challenge.Options)
	})

	t.Run("multiple choice without wrong options degrades to open", func(t *testing.T) {
		p := EffectivePolicy(&Policy{Challenge: Challenge{
			Mode:     ChallengeMultiple,
			Question: "Pick blue",
			Answers:  []string{"blue"},
		}})
		assert.Equal(t, ChallengeOpen, p.Challenge.Mode)
		assert.Empty(t, p.Challenge.Options)
	})

	t.Run("challenge without answers falls back to default", func(t *testing.T) {
		p := EffectivePolicy(&Policy{Challenge: Challenge{Question: "Why?"}})
		assert.Equal(t, DefaultChallenge(), p.Challenge)
	})
}
