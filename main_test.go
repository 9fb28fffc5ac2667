package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/calsync/internal/tokenfile"
)

// cliEnv is an isolated home with a config file, a token and a cache path
// for running the root command end to end.
type cliEnv struct {
	dir       string
	cfgPath   string
	tokenPath string
	dbPath    string
}

// newCLIEnv writes a one-feed config pointing at feedURL and a token that
// is valid for an hour. Environment overrides are cleared, so tests using
// it cannot run in parallel.
func newCLIEnv(t *testing.T, feedURL string) *cliEnv {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("CALSYNC_CONFIG", "")
	t.Setenv("CALSYNC_FEED", "")
	t.Setenv("CALSYNC_DB", "")

	e := &cliEnv{
		dir:       dir,
		cfgPath:   filepath.Join(dir, "calsync.toml"),
		tokenPath: filepath.Join(dir, "tokens", "personal.json"),
		dbPath:    filepath.Join(dir, "cache", "calsync.db"),
	}

	e.writeConfig(t, fmt.Sprintf(`[feeds.personal]
account = "me@example.com"
token_file = %q
calendar_feed_url = %q
client_id = "client"
client_secret = "secret"

[storage]
database = %q
`, e.tokenPath, feedURL, e.dbPath))

	tok := &oauth2.Token{AccessToken: "access", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
	meta := map[string]string{tokenfile.MetaFeed: "personal", tokenfile.MetaAccount: "me@example.com"}
	require.NoError(t, tokenfile.Save(e.tokenPath, tok, meta))

	return e
}

func (e *cliEnv) writeConfig(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(e.cfgPath, []byte(content), 0o600))
}

// run executes the root command with --config and --quiet and returns
// what the command wrote to stdout.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", e.cfgPath, "--quiet"}, args...))

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

// calendarService fakes the calendar list and the event feed of a single
// "Work" calendar: a weekly all-day series with four instances from June 3,
// 2024 and a single event on June 5.
type calendarService struct {
	*httptest.Server
	events string
}

func newCalendarService(t *testing.T) *calendarService {
	t.Helper()

	mux := http.NewServeMux()
	svc := &calendarService{Server: httptest.NewServer(mux)}
	t.Cleanup(svc.Close)

	svc.events = `<feed xmlns='http://www.w3.org/2005/Atom' xmlns:gd='http://schemas.google.com/g/2005'
		xmlns:gCal='http://schemas.google.com/gCal/2005'>
		<entry gd:etag='"s1"'>
			<updated>2024-05-01T08:00:00Z</updated>
			<title>Standup</title>
			<gd:recurrence>DTSTART;VALUE=DATE:20240603
DTEND;VALUE=DATE:20240604
RRULE:FREQ=WEEKLY;COUNT=4
</gd:recurrence>
			<gCal:uid value='series@google.com'/>
		</entry>
		<entry gd:etag='"l1"'>
			<updated>2024-05-01T08:00:00Z</updated>
			<title>Lunch</title>
			<gd:eventStatus value='http://schemas.google.com/g/2005#event.confirmed'/>
			<gd:when startTime='2024-06-05T10:00:00Z' endTime='2024-06-05T11:00:00Z'/>
			<gCal:uid value='lunch@google.com'/>
		</entry>
	</feed>`

	mux.HandleFunc("GET /calendars", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<feed xmlns='http://www.w3.org/2005/Atom' xmlns:gd='http://schemas.google.com/g/2005'>
			<updated>2024-06-01T08:00:00Z</updated>
			<entry gd:etag='"w1"'>
				<id>work</id><updated>2024-06-01T07:00:00Z</updated><title>Work</title>
				<link rel='http://schemas.google.com/gCal/2005#eventFeed' href='%s/events/work'/>
			</entry>
		</feed>`, svc.URL)
	})

	mux.HandleFunc("GET /events/work", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, svc.events)
	})

	return svc
}

func (s *calendarService) listURL() string {
	return s.URL + "/calendars"
}
