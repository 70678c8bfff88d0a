package transcript

// GroupKind distinguishes render groups.
type GroupKind int

const (
	// GroupStandalone holds exactly one ordinary message.
	GroupStandalone GroupKind = iota
	// GroupDiagnostics holds a maximal run of thinking and tool_result messages.
	GroupDiagnostics
)

// Group is one render unit derived from the message list.
type Group struct {
	Kind     GroupKind
	Messages []Message
}

// Key is stable for the lifetime of the group's first message, so callers
// can remember collapse state across re-renders.
func (g Group) Key() string {
	if len(g.Messages) == 0 {
		return ""
	}
	return g.Messages[0].ID
}

// Len reports the number of messages in the group.
func (g Group) Len() int {
	return len(g.Messages)
}

// GroupMessages partitions msgs, preserving order. Empty assistant
// placeholders are omitted but still end a diagnostic run. The result depends
// only on msgs.
func GroupMessages(msgs []Message) []Group {
	var (
		groups []Group
		run    []Message
	)
	flush := func() {
		if len(run) == 0 {
			return
		}
		groups = append(groups, Group{Kind: GroupDiagnostics, Messages: run})
		run = nil
	}
	for _, m := range msgs {
		if m.IsDiagnostic() {
			run = append(run, m)
			continue
		}
		flush()
		if m.IsPlaceholder() {
			continue
		}
		groups = append(groups, Group{Kind: GroupStandalone, Messages: []Message{m}})
	}
	flush()
	return groups
}
