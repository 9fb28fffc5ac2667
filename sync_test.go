package main

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncCommand_PopulatesCache(t *testing.T) {
	svc := newCalendarService(t)
	env := newCLIEnv(t, svc.listURL())

	out, err := env.run(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Feed personal synced")
	assert.Contains(t, out, "calendars: 1 created, 0 updated")
	assert.Contains(t, out, "events:    2 created, 0 updated")
	assert.NotContains(t, out, "not advanced")

	out, err = env.run(t, "calendars")
	require.NoError(t, err)
	assert.Contains(t, out, "TITLE")
	assert.Contains(t, out, "Work")
}

func TestSyncCommand_SecondPassTakesFastPath(t *testing.T) {
	svc := newCalendarService(t)
	env := newCLIEnv(t, svc.listURL())

	_, err := env.run(t, "sync")
	require.NoError(t, err)

	out, err := env.run(t, "--json", "sync")
	require.NoError(t, err)

	var got syncOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	assert.Equal(t, "personal", got.Feed)
	assert.True(t, got.FastPath)
	assert.False(t, got.Advanced, "stamp is unchanged")
	assert.Equal(t, 2, got.Events.Unchanged)
	assert.Empty(t, got.Errors)
}

func TestSyncCommand_ForceSkipsFastPath(t *testing.T) {
	svc := newCalendarService(t)
	env := newCLIEnv(t, svc.listURL())

	_, err := env.run(t, "sync")
	require.NoError(t, err)

	out, err := env.run(t, "--json", "sync", "--force")
	require.NoError(t, err)

	var got syncOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.False(t, got.FastPath)
}

func TestSyncCommand_MalformedEventIsIncomplete(t *testing.T) {
	svc := newCalendarService(t)
	svc.events = `<feed xmlns='http://www.w3.org/2005/Atom' xmlns:gCal='http://schemas.google.com/gCal/2005'>
		<entry><title>no stamp</title><gCal:uid value='broken@google.com'/></entry>
	</feed>`
	env := newCLIEnv(t, svc.listURL())

	out, err := env.run(t, "sync")
	require.Error(t, err)
	assert.ErrorIs(t, err, errPassIncomplete)
	assert.Contains(t, out, "error:")
	assert.NotContains(t, out, "not advanced", "malformed records do not hold the stamp back")
}

func TestSyncCommand_NotLoggedIn(t *testing.T) {
	svc := newCalendarService(t)
	env := newCLIEnv(t, svc.listURL())
	require.NoError(t, os.Remove(env.tokenPath))

	_, err := env.run(t, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calsync login --feed personal")
}

func TestSyncCommand_WorkersOutOfRange(t *testing.T) {
	svc := newCalendarService(t)
	env := newCLIEnv(t, svc.listURL())

	_, err := env.run(t, "sync", "--workers", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--workers")
}
