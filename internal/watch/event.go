package watch

import "github.com/fsnotify/fsnotify"

// Kind classifies a filesystem event.
type Kind int

// Event kinds. Only KindModify can trigger a rebuild.
const (
	KindOther Kind = iota
	KindCreate
	KindModify
	KindRemove
	KindRename
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindModify:
		return "modify"
	case KindRemove:
		return "remove"
	case KindRename:
		return "rename"
	default:
		return "other"
	}
}

// Event is a filesystem change with every path it concerns.
type Event struct {
	Kind  Kind
	Paths []string
}

// FromFSNotify translates an fsnotify event. Structural operations take
// precedence over writes so that a create+write pair is still a create.
// Chmod-only events are KindOther.
func FromFSNotify(e fsnotify.Event) Event {
	ev := Event{Paths: []string{e.Name}}

	switch {
	case e.Has(fsnotify.Create):
		ev.Kind = KindCreate
	case e.Has(fsnotify.Remove):
		ev.Kind = KindRemove
	case e.Has(fsnotify.Rename):
		ev.Kind = KindRename
	case e.Has(fsnotify.Write):
		ev.Kind = KindModify
	default:
		ev.Kind = KindOther
	}

	return ev
}
