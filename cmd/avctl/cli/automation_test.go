package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olexisomar/ai-visibility/internal/automation"
	"github.com/olexisomar/ai-visibility/internal/db"
)

type fakeTrigger struct {
	run *db.AutomationRun
	err error
}

func (f *fakeTrigger) TriggerRun(ctx context.Context, accountID, triggerType, source, triggeredBy string) (*db.AutomationRun, error) {
	return f.run, f.err
}

func TestTriggerWeekly(t *testing.T) {
	t.Run("triggers a run", func(t *testing.T) {
		trigger := &fakeTrigger{run: &db.AutomationRun{
			ID:     "run-1",
			Status: db.RunStatusPending,
			Source: db.SourceAll,
		}}

		var out bytes.Buffer
		err := triggerWeekly(context.Background(), trigger, &out, "account-1", "")
		require.NoError(t, err)
		assert.Contains(t, out.String(), "Triggered run run-1")
	})

	t.Run("duplicate scheduled run is a skip", func(t *testing.T) {
		trigger := &fakeTrigger{err: db.ErrDuplicateScheduledRun}

		var out bytes.Buffer
		err := triggerWeekly(context.Background(), trigger, &out, "account-1", "")
		require.NoError(t, err)
		assert.Contains(t, out.String(), "already exists for account-1 today")
	})

	t.Run("daily limit is an error", func(t *testing.T) {
		trigger := &fakeTrigger{err: automation.ErrDailyLimitReached}

		var out bytes.Buffer
		err := triggerWeekly(context.Background(), trigger, &out, "account-1", "")
		assert.ErrorContains(t, err, "daily run limit reached")
	})
}
