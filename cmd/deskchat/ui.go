package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/agencydesk/deskchat/pkg/chat"
	"github.com/agencydesk/deskchat/pkg/notify"
	"github.com/agencydesk/deskchat/pkg/session"
	"github.com/agencydesk/deskchat/pkg/transport"
	"github.com/agencydesk/deskchat/pkg/wire"
)

// refreshMsg is pushed into the program whenever the chat client or the
// notification feed dispatches an event; the model re-reads their state.
type refreshMsg struct{}

// tickMsg drives periodic re-renders so typing indicators and the reconnect
// banner stay current without an event.
type tickMsg struct{}

type errMsg struct{ err error }

type focusArea int

const (
	focusSidebar focusArea = iota
	focusInput
)

type overlayKind int

const (
	overlayNone overlayKind = iota
	overlayNotifications
	overlayNewGroup
)

// convRef is one selectable sidebar entry.
type convRef struct {
	key      string
	title    string
	chatType wire.ChatType
	// id is the counterpart user id for 1:1 chats, the group id otherwise.
	id string
}

var (
	accentColor = lipgloss.Color("#7C3AED")
	selfColor   = lipgloss.Color("#10B981")
	mutedColor  = lipgloss.Color("#9CA3AF")
	alertColor  = lipgloss.Color("#EF4444")
	focusColor  = lipgloss.Color("#F59E0B")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor).Padding(0, 1)
	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
	badgeStyle = lipgloss.NewStyle().Foreground(alertColor).Bold(true)
	selfStyle  = lipgloss.NewStyle().Foreground(selfColor)
	otherStyle = lipgloss.NewStyle().Foreground(accentColor)

	selectedItemStyle = lipgloss.NewStyle().Foreground(selfColor).Bold(true).PaddingLeft(1)
	itemStyle         = lipgloss.NewStyle().PaddingLeft(2)

	sidebarStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).MarginRight(1)
	chatStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder())
	modalStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(focusColor).Padding(1, 2)
)

type model struct {
	sess   *session.Session
	client *chat.Client
	feed   *notify.Feed

	width  int
	height int

	focus    focusArea
	overlay  overlayKind
	selected int
	convs    []convRef
	current  *convRef

	input    textinput.Model
	viewport viewport.Model

	primed bool

	notifSelected int

	groupName    textinput.Model
	groupCursor  int
	groupInvited map[string]bool

	err error
}

func newModel(sess *session.Session, client *chat.Client, feed *notify.Feed) *model {
	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = 2000
	input.Width = 50

	groupName := textinput.New()
	groupName.Placeholder = "Group name"
	groupName.CharLimit = 64
	groupName.Width = 30

	return &model{
		sess:         sess,
		client:       client,
		feed:         feed,
		input:        input,
		viewport:     viewport.New(80, 20),
		groupName:    groupName,
		groupInvited: map[string]bool{},
	}
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m *model) Init() tea.Cmd {
	m.rebuildConvs()
	return tea.Batch(textinput.Blink, tick())
}

// rebuildConvs rederives the sidebar from the directory, keeping the current
// selection stable by key.
func (m *model) rebuildConvs() {
	var selectedKey string
	if m.selected >= 0 && m.selected < len(m.convs) {
		selectedKey = m.convs[m.selected].key
	}

	m.convs = conversationRefs(m.sess.UserID, m.client.Directory().Members(), m.client.Directory().Groups())

	m.selected = 0
	for i, c := range m.convs {
		if c.key == selectedKey {
			m.selected = i
			break
		}
	}
}

// conversationRefs lists 1:1 entries for every team member except the user,
// followed by the groups, both alphabetically.
func conversationRefs(selfID string, members []wire.TeamMember, groups []wire.Group) []convRef {
	var refs []convRef
	for _, tm := range members {
		if tm.ID == selfID {
			continue
		}
		title := tm.DisplayName
		if tm.Role != "" {
			title += " (" + tm.Role + ")"
		}
		refs = append(refs, convRef{
			key:      chat.Key(selfID, tm.ID),
			title:    title,
			chatType: wire.ChatTypePrivate,
			id:       tm.ID,
		})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].title < refs[j].title })

	grefs := make([]convRef, 0, len(groups))
	for _, g := range groups {
		grefs = append(grefs, convRef{
			key:      chat.GroupKey(g.ID),
			title:    g.Name,
			chatType: wire.ChatTypeGroup,
			id:       g.ID,
		})
	}
	sort.Slice(grefs, func(i, j int) bool { return grefs[i].title < grefs[j].title })

	return append(refs, grefs...)
}

func (m *model) openConversation(c convRef) tea.Cmd {
	m.current = &c
	m.focus = focusInput
	m.input.Focus()

	store := m.client.Store()
	store.PrimeFromCache(context.Background(), c.key)
	store.MarkRead(c.key)
	m.refreshViewport()

	return func() tea.Msg {
		ctx := context.Background()
		var err error
		if c.chatType == wire.ChatTypeGroup {
			err = store.FetchGroupHistory(ctx, c.id)
		} else {
			err = store.FetchPrivateHistory(ctx, c.id)
		}
		if err != nil {
			return errMsg{err}
		}
		store.MarkRead(c.key)
		return refreshMsg{}
	}
}

func (m *model) sendCurrent() {
	content := strings.TrimSpace(m.input.Value())
	if content == "" || m.current == nil {
		return
	}
	m.input.SetValue("")

	store := m.client.Store()
	if m.current.chatType == wire.ChatTypeGroup {
		_, _ = store.SendGroup(m.current.id, content)
	} else {
		_, _ = store.SendPrivate(m.current.id, content)
	}
	m.refreshViewport()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// the first keypress is the user gesture that unlocks the audio cue
		if !m.primed {
			m.primed = true
			m.feed.Prime()
		}
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
		if m.focus == focusInput && m.overlay == overlayNone {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
			cmds = append(cmds, m.maybeNotifyTyping())
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()

	case refreshMsg:
		m.rebuildConvs()
		m.refreshViewport()

	case tickMsg:
		m.refreshViewport()
		return m, tick()

	case errMsg:
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	key := msg.String()

	if key == "ctrl+c" {
		return tea.Quit, true
	}

	switch m.overlay {
	case overlayNotifications:
		return m.handleNotificationsKey(key)
	case overlayNewGroup:
		return m.handleNewGroupKey(msg)
	}

	switch key {
	case "ctrl+n":
		m.overlay = overlayNotifications
		m.notifSelected = 0
		return nil, true
	case "ctrl+g":
		m.overlay = overlayNewGroup
		m.groupName.SetValue("")
		m.groupName.Focus()
		m.groupCursor = 0
		m.groupInvited = map[string]bool{}
		return nil, true
	case "esc":
		if m.focus == focusInput {
			m.focus = focusSidebar
			m.input.Blur()
			return nil, true
		}
	}

	if m.focus == focusSidebar {
		switch key {
		case "q":
			return tea.Quit, true
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
			return nil, true
		case "down", "j":
			if m.selected < len(m.convs)-1 {
				m.selected++
			}
			return nil, true
		case "enter", "l", "right":
			if m.selected >= 0 && m.selected < len(m.convs) {
				return m.openConversation(m.convs[m.selected]), true
			}
			return nil, true
		}
		return nil, true
	}

	if key == "enter" {
		m.sendCurrent()
		return nil, true
	}
	return nil, false
}

func (m *model) handleNotificationsKey(key string) (tea.Cmd, bool) {
	items := m.feed.Items()
	switch key {
	case "esc", "ctrl+n", "q":
		m.overlay = overlayNone
		return nil, true
	case "up", "k":
		if m.notifSelected > 0 {
			m.notifSelected--
		}
	case "down", "j":
		if m.notifSelected < len(items)-1 {
			m.notifSelected++
		}
	case "r":
		return func() tea.Msg {
			if err := m.feed.MarkAllRead(context.Background()); err != nil {
				return errMsg{err}
			}
			return refreshMsg{}
		}, true
	case "d":
		if m.notifSelected >= 0 && m.notifSelected < len(items) {
			id := items[m.notifSelected].ID
			return func() tea.Msg {
				if err := m.feed.Delete(context.Background(), id); err != nil {
					return errMsg{err}
				}
				return refreshMsg{}
			}, true
		}
	}
	return nil, true
}

func (m *model) handleNewGroupKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	members := m.memberCandidates()
	switch msg.String() {
	case "esc":
		m.overlay = overlayNone
		return nil, true
	case "up":
		if m.groupCursor > 0 {
			m.groupCursor--
		}
		return nil, true
	case "down":
		if m.groupCursor < len(members)-1 {
			m.groupCursor++
		}
		return nil, true
	case "tab":
		if m.groupCursor >= 0 && m.groupCursor < len(members) {
			id := members[m.groupCursor].ID
			m.groupInvited[id] = !m.groupInvited[id]
		}
		return nil, true
	case "enter":
		name := strings.TrimSpace(m.groupName.Value())
		var ids []string
		for id, in := range m.groupInvited {
			if in {
				ids = append(ids, id)
			}
		}
		if name == "" || len(ids) == 0 {
			return nil, true
		}
		sort.Strings(ids)
		ids = append(ids, m.sess.UserID)
		m.overlay = overlayNone
		return func() tea.Msg {
			if _, err := m.client.Directory().CreateGroup(context.Background(), name, ids); err != nil {
				return errMsg{err}
			}
			return refreshMsg{}
		}, true
	}
	var cmd tea.Cmd
	m.groupName, cmd = m.groupName.Update(msg)
	return cmd, true
}

func (m *model) memberCandidates() []wire.TeamMember {
	var out []wire.TeamMember
	for _, tm := range m.client.Directory().Members() {
		if tm.ID != m.sess.UserID {
			out = append(out, tm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out
}

// maybeNotifyTyping sends a TYPING frame for every keystroke that leaves the
// input non-empty; the receiver's indicator window is shorter than any
// realistic pause, so throttling would make it flicker.
func (m *model) maybeNotifyTyping() tea.Cmd {
	if m.current == nil || m.input.Value() == "" {
		return nil
	}
	c := *m.current
	return func() tea.Msg {
		m.client.NotifyTyping(c.chatType, c.key)
		return nil
	}
}

func (m *model) layout() {
	sidebarWidth := m.width / 4
	if sidebarWidth < 26 {
		sidebarWidth = 26
	}
	sidebarStyle = sidebarStyle.Width(sidebarWidth - 2).Height(m.height - 2)

	chatWidth := m.width - sidebarWidth - 4
	chatStyle = chatStyle.Width(chatWidth).Height(m.height - 2)
	m.viewport = viewport.New(chatWidth-2, m.height-8)
	m.input.Width = chatWidth - 6
	m.refreshViewport()
}

func (m *model) refreshViewport() {
	if m.current == nil {
		return
	}
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m *model) renderMessages() string {
	var b strings.Builder
	for _, msg := range m.client.Store().Messages(m.current.key) {
		style := otherStyle
		name := m.displayName(msg)
		if msg.FromUserID == m.sess.UserID {
			style = selfStyle
			name = "you"
		}
		fmt.Fprintf(&b, "%s %s: %s\n",
			mutedStyle.Render(relativeTime(msg.Timestamp, time.Now())),
			style.Render(name),
			msg.Content,
		)
	}
	return b.String()
}

func (m *model) displayName(msg wire.Message) string {
	if msg.FromDisplayName != "" {
		return msg.FromDisplayName
	}
	for _, tm := range m.client.Directory().Members() {
		if tm.ID == msg.FromUserID {
			return tm.DisplayName
		}
	}
	return msg.FromUserID
}

// relativeTime renders a compact age for the message gutter.
func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "     "
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "  now"
	case d < time.Hour:
		return fmt.Sprintf("%3dm ", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%3dh ", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}

func (m *model) View() string {
	switch m.overlay {
	case overlayNotifications:
		return m.notificationsView()
	case overlayNewGroup:
		return m.newGroupView()
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, m.sidebarView(), m.chatView())
}

func (m *model) sidebarView() string {
	var b strings.Builder

	header := m.sess.DisplayName
	if unread := m.feed.Unread(); unread > 0 {
		header += badgeStyle.Render(fmt.Sprintf("  🔔%d", unread))
	}
	b.WriteString(titleStyle.Render(header) + "\n\n")

	if len(m.convs) == 0 {
		b.WriteString(mutedStyle.Render("Nobody here yet."))
	}
	for i, c := range m.convs {
		line := m.convLine(c)
		if i == m.selected && m.focus == focusSidebar {
			b.WriteString(selectedItemStyle.Render(line) + "\n")
		} else {
			b.WriteString(itemStyle.Render(line) + "\n")
		}
	}

	b.WriteString("\n" + mutedStyle.Render("ctrl+n alerts · ctrl+g group"))

	style := sidebarStyle
	if m.focus == focusSidebar {
		style = style.BorderForeground(focusColor)
	}
	return style.Render(b.String())
}

func (m *model) convLine(c convRef) string {
	var marker string
	if c.chatType == wire.ChatTypeGroup {
		marker = "#"
	} else if m.client.Presence().IsOnline(c.id) {
		marker = "●"
	} else {
		marker = "○"
	}

	line := marker + " " + c.title
	if n := m.client.Store().Unread(c.key); n > 0 {
		line += badgeStyle.Render(fmt.Sprintf(" (%d)", n))
	}
	return line
}

func (m *model) chatView() string {
	if m.current == nil {
		return chatStyle.Render(mutedStyle.Render("\n  Select a conversation."))
	}

	header := m.current.title
	if state := m.client.ConnState(); state != transport.StateOpen {
		header = fmt.Sprintf("⟳ %s... | %s", state, m.current.title)
	}

	typingLine := ""
	if who, ok := m.client.Typing().Typist(m.current.chatType, m.current.key); ok {
		typingLine = mutedStyle.Render(m.nameForID(who) + " is typing...")
	}

	errLine := ""
	if m.err != nil {
		errLine = badgeStyle.Render(m.err.Error())
	}

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render(header),
		m.viewport.View(),
		typingLine,
		errLine,
		m.input.View(),
	)

	style := chatStyle
	if m.focus == focusInput {
		style = style.BorderForeground(focusColor)
	}
	return style.Render(content)
}

func (m *model) nameForID(id string) string {
	for _, tm := range m.client.Directory().Members() {
		if tm.ID == id {
			return tm.DisplayName
		}
	}
	return id
}

func (m *model) notificationsView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Notifications") + "\n\n")

	items := m.feed.Items()
	if len(items) == 0 {
		b.WriteString(mutedStyle.Render("Nothing yet."))
	}
	for i, n := range items {
		marker := " "
		if !n.Read {
			marker = badgeStyle.Render("●")
		}
		line := fmt.Sprintf("%s %s  %s", marker, n.Title, mutedStyle.Render(n.Category))
		if i == m.notifSelected {
			b.WriteString(selectedItemStyle.Render(line) + "\n")
		} else {
			b.WriteString(itemStyle.Render(line) + "\n")
		}
	}

	b.WriteString("\n" + mutedStyle.Render("r mark all read · d delete · esc close"))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modalStyle.Render(b.String()))
}

func (m *model) newGroupView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("New group") + "\n\n")
	b.WriteString("Name: " + m.groupName.View() + "\n\n")

	for i, tm := range m.memberCandidates() {
		check := "[ ]"
		if m.groupInvited[tm.ID] {
			check = "[x]"
		}
		line := fmt.Sprintf("%s %s", check, tm.DisplayName)
		if i == m.groupCursor {
			b.WriteString(selectedItemStyle.Render(line) + "\n")
		} else {
			b.WriteString(itemStyle.Render(line) + "\n")
		}
	}

	b.WriteString("\n" + mutedStyle.Render("tab toggle · enter create · esc cancel"))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modalStyle.Render(b.String()))
}
