package harvest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

type fakeElement struct {
	sel   Selector
	index int
}

func (e fakeElement) Selector() Selector { return e.sel }

// fakeSite simulates the remote site behind a PageAgent: a login page, a
// result list and a run of numbered records.
type fakeSite struct {
	layout  Layout
	title   string
	cookie  string
	records int
	results int

	// expireOn[k] is how many more times arriving at record k shows the
	// expiry marker instead of the record.
	expireOn map[int]int
	// missing selectors are never found.
	missing map[Selector]bool
	// unreadable[k] is how many more page reads fail on record k.
	unreadable map[int]int

	onRecord    int
	expired     bool
	navigations int
	scripts     []string
	keys        []string
	clicks      []Selector
	findErr     error
}

var jumpArg = regexp.MustCompile(`args~~(\d+)`)

func newFakeSite(records int) *fakeSite {
	return &fakeSite{
		layout:   DefaultLayout(),
		title:    "EBSCOhost Login",
		cookie:   "sid=abc-123@sessionmgr4&vid=0&other=1",
		records:  records,
		results:  records,
		expireOn:   map[int]int{},
		missing:    map[Selector]bool{},
		unreadable: map[int]int{},
	}
}

func (s *fakeSite) Navigate(_ context.Context, _ string) error {
	s.navigations++
	s.onRecord = 0
	s.expired = false
	return nil
}

func (s *fakeSite) FindElement(ctx context.Context, sel Selector) (Element, bool, error) {
	els, err := s.FindElements(ctx, sel)
	if err != nil || len(els) == 0 {
		return nil, false, err
	}
	return els[0], true, nil
}

func (s *fakeSite) FindElements(_ context.Context, sel Selector) ([]Element, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.missing[sel] {
		return nil, nil
	}
	switch sel {
	case s.layout.ErrorMarker:
		if s.expired {
			return []Element{fakeElement{sel: sel}}, nil
		}
		return nil, nil
	case s.layout.NextControl:
		if s.expired || s.onRecord == 0 || s.onRecord >= s.records {
			return nil, nil
		}
		return []Element{fakeElement{sel: sel}}, nil
	case s.layout.FirstResult:
		out := make([]Element, 0, s.results)
		for i := 0; i < s.results; i++ {
			out = append(out, fakeElement{sel: sel, index: i})
		}
		return out, nil
	default:
		return []Element{fakeElement{sel: sel}}, nil
	}
}

func (s *fakeSite) Click(_ context.Context, el Element) error {
	sel := el.Selector()
	s.clicks = append(s.clicks, sel)
	switch sel {
	case s.layout.NextControl:
		s.show(s.onRecord + 1)
	case s.layout.FirstResult:
		s.show(1)
	}
	return nil
}

func (s *fakeSite) SendKeys(_ context.Context, _ Element, text string) error {
	s.keys = append(s.keys, text)
	return nil
}

func (s *fakeSite) RunScript(_ context.Context, code string) error {
	s.scripts = append(s.scripts, code)
	m := jumpArg.FindStringSubmatch(code)
	if m == nil {
		return fmt.Errorf("unexpected script %q", code)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return err
	}
	s.show(n)
	return nil
}

func (s *fakeSite) show(n int) {
	s.onRecord = n
	if s.expireOn[n] > 0 {
		s.expireOn[n]--
		s.expired = true
	}
}

func (s *fakeSite) CurrentURL(context.Context) (string, error) {
	return fmt.Sprintf("https://example.test/record/%d", s.onRecord), nil
}

func (s *fakeSite) Title(context.Context) (string, error) {
	return s.title, nil
}

func (s *fakeSite) Cookie(_ context.Context, name string) (Cookie, bool, error) {
	if s.cookie == "" || name != s.layout.SessionCookie {
		return Cookie{}, false, nil
	}
	return Cookie{Name: name, Value: s.cookie}, true, nil
}

func (s *fakeSite) PageSource(context.Context) (string, error) {
	if s.unreadable[s.onRecord] > 0 {
		s.unreadable[s.onRecord]--
		return "", context.DeadlineExceeded
	}
	if s.expired {
		return `<span id="ErrorMessageLabel">Session expired</span>`, nil
	}
	return fmt.Sprintf(`<html><body>
<h2 class="ft-title">Record %d</h2>
<dl>
  <dt>Источник:</dt><dd>Journal, 3/%d/2021</dd>
  <dt>База данных:</dt><dd>Business Source</dd>
</dl>
<p class="body-paragraph">Body %d.</p>
</body></html>`, s.onRecord, s.onRecord, s.onRecord), nil
}

type fakeSink struct {
	saved  []Record
	failOn map[Cursor]bool
}

func (s *fakeSink) Save(_ context.Context, r Record) error {
	s.saved = append(s.saved, r)
	if s.failOn[r.Cursor] {
		return errors.New("disk full")
	}
	return nil
}

func (s *fakeSink) cursors() []Cursor {
	out := make([]Cursor, 0, len(s.saved))
	for _, r := range s.saved {
		out = append(out, r.Cursor)
	}
	return out
}

type fakeCheckpoints struct {
	value    Cursor
	present  bool
	writes   []Cursor
	writeErr error
}

func (c *fakeCheckpoints) Read(context.Context) (Cursor, bool, error) {
	return c.value, c.present, nil
}

func (c *fakeCheckpoints) Write(_ context.Context, cursor Cursor) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, cursor)
	c.value, c.present = cursor, true
	return nil
}

type fakeSleeper struct {
	slept []time.Duration
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return ctx.Err()
}

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

type recordingObserver struct {
	loop     []LoopState
	recovery []RecoveryState
	records  []Cursor
}

func (o *recordingObserver) LoopStateChanged(s LoopState)         { o.loop = append(o.loop, s) }
func (o *recordingObserver) RecoveryStateChanged(s RecoveryState) { o.recovery = append(o.recovery, s) }
func (o *recordingObserver) RecordProcessed(c Cursor, _ error)    { o.records = append(o.records, c) }

// harness wires the real session manager, navigator and supervisor over a
// fakeSite.
type harness struct {
	site        *fakeSite
	sink        *fakeSink
	checkpoints *fakeCheckpoints
	sleeper     *fakeSleeper
	observer    *recordingObserver
	supervisor  *RecoverySupervisor
	loop        *Loop
}

func newHarness(site *fakeSite, recovery RecoveryConfig, cfg LoopConfig, extra ...Observer) *harness {
	h := &harness{
		site:        site,
		sink:        &fakeSink{failOn: map[Cursor]bool{}},
		checkpoints: &fakeCheckpoints{},
		sleeper:     &fakeSleeper{},
		observer:    &recordingObserver{},
	}
	sessions := NewSessionManager(site, h.sleeper, SessionConfig{
		BaseURL:     "https://example.test/login",
		Credentials: Credentials{Username: "reader", Password: "secret"},
		Search:      "economics",
		SettleDelay: 8 * time.Second,
		Layout:      site.layout,
	}, nil)
	nav := NewNavigator(site, site.layout, nil)
	observer := Observers(append([]Observer{h.observer}, extra...))
	h.supervisor = NewRecoverySupervisor(site, site.layout.ErrorMarker, sessions, nav, h.sleeper, recovery, observer, nil)
	h.loop = NewLoop(Dependencies{
		Agent:       site,
		Sessions:    sessions,
		Pager:       nav,
		Guard:       h.supervisor,
		Extractor:   NewExtractor(site.layout),
		Sink:        h.sink,
		Checkpoints: h.checkpoints,
		Clock:       fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		Observer:    observer,
	}, cfg, nil)
	return h
}
