package shared

import (
	"context"
	"fmt"

	"golang.org/x/exp/slices"
)

// Constants

// Kinds of notifications.
const (
	NotifySubjectCreated NotificationKind = iota
	NotifySubjectDeleted
	NotifyKeyModified
)

// Structs

// NotificationKind says what a Notification reports.
type NotificationKind int

// Notification reports a created or deleted subject
// or the modification of a watched key.
type Notification struct {
	Kind    NotificationKind
	Subject string
	Key     string
}

// Functions

// String returns '<subject>;<key>' for modifications
// and the plain subject otherwise.
func (n Notification) String() string {

	if n.Kind == NotifyKeyModified {
		return fmt.Sprintf("%s;%s", n.Subject, n.Key)
	}

	return n.Subject
}

// EnableNotifications switches notifications about created
// and deleted subjects on or off. Watched keys are reported
// regardless.
func (m *Manager) EnableNotifications(enable bool) {

	m.notifyLock.Lock()
	m.notifyEnabled = enable
	m.notifyLock.Unlock()
}

// WatchKey makes modifications of key on any object
// produce a notification.
func (m *Manager) WatchKey(key string) {

	m.notifyLock.Lock()
	m.watchKeys[key] = struct{}{}
	m.notifyLock.Unlock()
}

// UnwatchKey stops notifications for key.
func (m *Manager) UnwatchKey(key string) {

	m.notifyLock.Lock()
	delete(m.watchKeys, key)
	m.notifyLock.Unlock()
}

// WatchKeys returns the sorted watched keys.
func (m *Manager) WatchKeys() []string {

	m.notifyLock.Lock()
	defer m.notifyLock.Unlock()

	keys := make([]string, 0, len(m.watchKeys))
	for key := range m.watchKeys {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	return keys
}

func (m *Manager) isWatched(key string) bool {

	m.notifyLock.Lock()
	defer m.notifyLock.Unlock()

	_, watched := m.watchKeys[key]

	return watched
}

// keyModified queues or stages the notification
// for a modified watched key.
func (m *Manager) keyModified(subject string, key string, deferNotify bool) {

	n := Notification{
		Kind:    NotifyKeyModified,
		Subject: subject,
		Key:     key,
	}

	if deferNotify {
		m.notifyLock.Lock()
		m.staged = append(m.staged, n)
		m.notifyLock.Unlock()
		return
	}

	m.pushNotifications(n)
}

// subjectChanged queues a subject notification
// if those are enabled.
func (m *Manager) subjectChanged(kind NotificationKind, subject string) {

	m.notifyLock.Lock()
	enabled := m.notifyEnabled
	m.notifyLock.Unlock()

	if enabled {
		m.pushNotifications(Notification{Kind: kind, Subject: subject})
	}
}

// pushNotifications appends ns to the queue and
// wakes up a waiting consumer.
func (m *Manager) pushNotifications(ns ...Notification) {

	if len(ns) == 0 {
		return
	}

	m.notifyLock.Lock()
	m.notifications = append(m.notifications, ns...)
	m.notifyLock.Unlock()

	m.metrics.Notifications.Add(float64(len(ns)))
	m.signal()
}

// signal marks the queue as non-empty without blocking.
func (m *Manager) signal() {

	select {
	case m.notifySignal <- struct{}{}:
	default:
	}
}

// FlushNotifications moves all staged notifications
// into the queue at once.
func (m *Manager) FlushNotifications() {

	m.notifyLock.Lock()
	staged := m.staged
	m.staged = make([]Notification, 0)
	m.notifyLock.Unlock()

	m.pushNotifications(staged...)
}

// PendingNotifications returns the queue length.
func (m *Manager) PendingNotifications() int {

	m.notifyLock.Lock()
	defer m.notifyLock.Unlock()

	return len(m.notifications)
}

// NextNotification blocks until a notification is queued
// and returns it. It fails once ctx is done or the manager
// is shut down.
func (m *Manager) NextNotification(ctx context.Context) (Notification, error) {

	for {

		m.notifyLock.Lock()

		if len(m.notifications) > 0 {

			n := m.notifications[0]
			m.notifications = m.notifications[1:]
			more := len(m.notifications) > 0

			m.notifyLock.Unlock()

			// Let the next consumer continue.
			if more {
				m.signal()
			}

			return n, nil
		}

		m.notifyLock.Unlock()

		select {
		case <-m.notifySignal:
		case <-ctx.Done():
			return Notification{}, ctx.Err()
		case <-m.shutdown:
			return Notification{}, ErrShutdown
		}
	}
}
