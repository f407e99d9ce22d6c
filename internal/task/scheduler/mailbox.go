package scheduler

// mailbox holds at most one pending command. Posting replaces whatever is
// still queued; the single receiver is the owning task.
type mailbox struct {
	ch chan Command
}

func newMailbox() mailbox { return mailbox{ch: make(chan Command, 1)} }

func (m mailbox) post(c Command) {
	for {
		select {
		case m.ch <- c:
			return
		default:
		}
		select {
		case <-m.ch:
		default:
		}
	}
}

func (m mailbox) take() (Command, bool) {
	select {
	case c := <-m.ch:
		return c, true
	default:
		return 0, false
	}
}
