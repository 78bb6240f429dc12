package models

import "strings"

// LabelKind identifies one of the well-known mailbox labels, or Custom for
// anything the server reports that we don't recognize.
type LabelKind int

const (
	LabelCustom LabelKind = iota
	LabelInbox
	LabelImportant
	LabelStarred
	LabelSent
	LabelDraft
	LabelTrash
	LabelSpam
)

// Label is a normalized mailbox label. IMAP system flags and Gmail-style
// labels fold into the same closed set; unrecognized names become Custom
// with the original (trimmed, case-preserved) text.
//
// Label is comparable, so == and map keys work.
type Label struct {
	Kind LabelKind
	// Name holds the original text for Custom labels; empty otherwise.
	Name string
}

// NewLabel normalizes a raw label or flag string. Normalization is total:
// it strips one leading backslash and case-folds before matching the
// well-known names, and never fails.
func NewLabel(raw string) Label {
	trimmed := strings.TrimPrefix(raw, "\\")
	switch strings.ToUpper(trimmed) {
	case "INBOX":
		return Label{Kind: LabelInbox}
	case "IMPORTANT":
		return Label{Kind: LabelImportant}
	case "FLAGGED", "STARRED":
		return Label{Kind: LabelStarred}
	case "SENT":
		return Label{Kind: LabelSent}
	case "DRAFT":
		return Label{Kind: LabelDraft}
	case "TRASH":
		return Label{Kind: LabelTrash}
	case "SPAM":
		return Label{Kind: LabelSpam}
	default:
		return Label{Kind: LabelCustom, Name: trimmed}
	}
}

// String returns the canonical display name of the label.
func (l Label) String() string {
	switch l.Kind {
	case LabelInbox:
		return "Inbox"
	case LabelImportant:
		return "Important"
	case LabelStarred:
		return "Starred"
	case LabelSent:
		return "Sent"
	case LabelDraft:
		return "Draft"
	case LabelTrash:
		return "Trash"
	case LabelSpam:
		return "Spam"
	default:
		return l.Name
	}
}
