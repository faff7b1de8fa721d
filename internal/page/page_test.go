package page

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_Query(t *testing.T) {
	doc := NewDocument()
	assert.NotEmpty(t, doc.ID())

	logout := NewElement("Log out", AttrLogout)
	email := NewElement("", AttrUserEmail)
	both := NewElement("", AttrUserEmail, AttrSessionTime)
	doc.Add(logout, email, both)

	assert.Equal(t, []*Element{logout}, doc.Query(AttrLogout))
	assert.Equal(t, []*Element{email, both}, doc.Query(AttrUserEmail))
	assert.Equal(t, []*Element{both}, doc.Query(AttrSessionTime))
	assert.Empty(t, doc.Query(AttrExtendSession))
}

func TestDocument_ListenDispatch(t *testing.T) {
	doc := NewDocument()

	var keys, scrolls int
	stopKeys := doc.Listen(EventKeyDown, func(Event) { keys++ })
	doc.Listen(EventScroll, func(Event) { scrolls++ })

	doc.Dispatch(Event{Kind: EventKeyDown})
	doc.Dispatch(Event{Kind: EventScroll})
	assert.Equal(t, 1, doc.ListenerCount(EventKeyDown))

	stopKeys()
	doc.Dispatch(Event{Kind: EventKeyDown})

	assert.Equal(t, 1, keys)
	assert.Equal(t, 1, scrolls)
	assert.Equal(t, 0, doc.ListenerCount(EventKeyDown))
}

func TestDocument_Click(t *testing.T) {
	ctx := context.Background()
	doc := NewDocument()
	btn := NewElement("Extend", AttrExtendSession)
	doc.Add(btn)

	var order []string
	doc.Listen(EventClick, func(ev Event) {
		require.Equal(t, btn, ev.Target)
		order = append(order, "activity")
	})
	btn.OnClick(func(ctx context.Context, el *Element) {
		order = append(order, "handler")
		el.SetText("done")
	})

	doc.Click(ctx, btn)

	assert.Equal(t, []string{"activity", "handler"}, order)
	assert.Equal(t, "done", btn.Text())
}

func TestRecorder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Recorder{Answer: true}

	ok, err := r.Confirm(ctx, "continue?")
	require.NoError(t, err)
	assert.True(t, ok)

	r.Answers = make(chan bool)
	cancel()
	_, err = r.Confirm(ctx, "again?")
	require.ErrorIs(t, err, context.Canceled)

	r.Navigate(ctx, "/login")
	r.Alert(ctx, "oops")

	assert.Equal(t, []string{"continue?", "again?"}, r.Prompts())
	assert.Equal(t, []string{"/login"}, r.Navigations())
	assert.Equal(t, []string{"oops"}, r.Alerts())
}
