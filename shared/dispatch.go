package shared

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/shob/wire"
	"github.com/pkg/errors"
)

// Functions

// ParseEnvMessage applies one incoming wire body. Objects
// addressed by update or broadcast reply messages are
// created if unknown; broadcast requests, deletions and
// removals of unknown subjects fail with ErrUnknownSubject.
// A rejected message changes nothing. Applied mutations are
// never broadcast again.
func (m *Manager) ParseEnvMessage(raw string) error {

	err := m.parseEnvMessage(raw)
	if err != nil {

		m.metrics.Rejected.Add(1)

		logger := log.With(m.logger, "method", "ParseEnvMessage", "err", err)
		if errors.Cause(err) == ErrAlreadyAbsent {
			level.Debug(logger).Log("msg", "deletion without effect")
		} else {
			level.Warn(logger).Log("msg", "rejected shared object message", "size", len(raw))
		}

		return err
	}

	m.metrics.Received.Add(1)

	return nil
}

func (m *Manager) parseEnvMessage(raw string) error {

	msg, err := wire.Decode(raw)
	if err != nil {
		return errors.Wrap(err, "failed to decode message")
	}

	create := msg.Command == wire.CmdUpdate || msg.Command == wire.CmdBroadcastReply

	targets, err := m.resolve(msg, create)
	if err != nil {
		return err
	}

	switch msg.Command {

	case wire.CmdUpdate, wire.CmdBroadcastReply:
		m.applyUpdate(msg, targets)
		return nil

	case wire.CmdDelete:
		return m.applyDelete(msg, targets)

	case wire.CmdBroadcastRequest:
		return m.applyBroadcastRequest(msg, targets)

	case wire.CmdRemove:
		m.applyRemove(targets)
		return nil
	}

	return errors.Wrapf(wire.ErrUnknownCommand, "command '%s'", msg.Command)
}

// resolve returns the objects addressed by each subject
// of msg, in the order of msg.Subjects. Unknown subjects
// are created if create is set and rejected otherwise.
// Nothing is created unless all subjects resolve.
func (m *Manager) resolve(msg *wire.Message, create bool) ([][]*Hash, error) {

	if prefix, ok := msg.Wildcard(); ok {

		matches := m.matchPrefix(prefix)
		if len(matches) == 0 {
			return nil, errors.Wrapf(ErrUnknownSubject, "no subject matches '%s'", msg.Subjects[0])
		}

		return [][]*Hash{matches}, nil
	}

	targets := make([][]*Hash, len(msg.Subjects))
	missing := make([]int, 0)

	for i, subject := range msg.Subjects {

		h := m.GetObject(subject, msg.Type)
		if h == nil {

			if !create {
				return nil, errors.Wrapf(ErrUnknownSubject, "%s '%s'", msg.Type, subject)
			}

			missing = append(missing, i)
			continue
		}

		targets[i] = []*Hash{h}
	}

	for _, i := range missing {

		subject := msg.Subjects[i]
		queue := m.replyQueue(subject)

		level.Info(m.logger).Log(
			"msg", "creating shared object for incoming message",
			"subject", subject,
			"type", msg.Type,
			"queue", queue,
		)

		targets[i] = []*Hash{m.createObject(subject, queue, msg.Type)}
	}

	return targets, nil
}

// applyUpdate sets all pairs on their objects. Broadcast
// replies replace the previous contents of an object.
func (m *Manager) applyUpdate(msg *wire.Message, targets [][]*Hash) {

	cleared := make(map[*Hash]struct{})
	notifications := make([]Notification, 0)

	for i, objects := range targets {

		for _, h := range objects {

			h.storeLock.Lock()

			if msg.Command == wire.CmdBroadcastReply {

				if _, done := cleared[h]; !done {
					h.clearNoLockNoBroadcast()
					cleared[h] = struct{}{}
				}
			}

			for _, p := range msg.Pairs {

				if p.Subject != wire.AllSubjects && p.Subject != i {
					continue
				}

				if h.setNoLockNoBroadcast(p.Key, p.Value) {
					notifications = append(notifications, Notification{
						Kind:    NotifyKeyModified,
						Subject: h.subject,
						Key:     p.Key,
					})
				}
			}

			h.storeLock.Unlock()
		}
	}

	m.pushNotifications(notifications...)
}

// applyDelete removes the keys of msg from all objects.
// It fails with ErrAlreadyAbsent if none was present.
func (m *Manager) applyDelete(msg *wire.Message, targets [][]*Hash) error {

	deleted := 0

	for _, objects := range targets {

		for _, h := range objects {

			h.storeLock.Lock()
			for _, key := range msg.Keys {
				if h.deleteNoLockNoBroadcast(key) {
					deleted++
				}
			}
			h.storeLock.Unlock()
		}
	}

	if deleted == 0 {
		return errors.Wrapf(ErrAlreadyAbsent, "%d keys", len(msg.Keys))
	}

	return nil
}

// applyBroadcastRequest sends the contents of all
// addressed objects to the requester.
func (m *Manager) applyBroadcastRequest(msg *wire.Message, targets [][]*Hash) error {

	var sendErr error

	for _, objects := range targets {

		for _, h := range objects {

			if err := h.BroadCastEnvString(msg.ReplyTo); err != nil && sendErr == nil {
				sendErr = err
			}
		}
	}

	return sendErr
}

// applyRemove drops all addressed objects locally.
func (m *Manager) applyRemove(targets [][]*Hash) {

	for _, objects := range targets {

		for _, h := range objects {

			if h.typ == wire.TypeQueue {
				m.DeleteSharedQueue(h.subject, false)
			} else {
				m.DeleteSharedHash(h.subject, false)
			}
		}
	}
}
