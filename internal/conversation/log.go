package conversation

import "sync"

// Snapshot is a consistent view of the log handed to subscribers.
type Snapshot struct {
	Messages []Message
	Loading  bool
}

// Log is an append-only, ordered message history with a loading flag.
// There is no API to remove or reorder messages.
type Log struct {
	mu          sync.RWMutex
	messages    []Message
	loading     bool
	subscribers map[int]func(Snapshot)
	nextSubID   int
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{subscribers: make(map[int]func(Snapshot))}
}

// Append adds m at the end of the history and notifies subscribers.
func (l *Log) Append(m Message) {
	l.mu.Lock()
	l.messages = append(l.messages, m)
	snap, subs := l.snapshotLocked()
	l.mu.Unlock()
	notify(subs, snap)
}

// SetLoading updates the loading flag and notifies subscribers when it changes.
func (l *Log) SetLoading(loading bool) {
	l.mu.Lock()
	if l.loading == loading {
		l.mu.Unlock()
		return
	}
	l.loading = loading
	snap, subs := l.snapshotLocked()
	l.mu.Unlock()
	notify(subs, snap)
}

// Messages returns a copy of the history in turn order.
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Message(nil), l.messages...)
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Loading reports whether an exchange is in progress.
func (l *Log) Loading() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loading
}

// Subscribe registers fn to be called after every change. Callbacks run
// synchronously on the mutating goroutine, outside the lock.
func (l *Log) Subscribe(fn func(Snapshot)) (cancel func()) {
	l.mu.Lock()
	if l.subscribers == nil {
		l.subscribers = make(map[int]func(Snapshot))
	}
	id := l.nextSubID
	l.nextSubID++
	l.subscribers[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subscribers, id)
		l.mu.Unlock()
	}
}

func (l *Log) snapshotLocked() (Snapshot, []func(Snapshot)) {
	snap := Snapshot{Messages: append([]Message(nil), l.messages...), Loading: l.loading}
	subs := make([]func(Snapshot), 0, len(l.subscribers))
	for _, fn := range l.subscribers {
		subs = append(subs, fn)
	}
	return snap, subs
}

func notify(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}
